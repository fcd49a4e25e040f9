package api

import (
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/cache"
	"github.com/phrazzld/scry-pipeline/internal/content"
	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// GenerateRequest is the payload of POST /api/generate. Text, Pages or
// Document supplies the content; Document wins over Text, and Pages are
// only used when Text is empty.
type GenerateRequest struct {
	Text            string                   `json:"text"`
	Pages           []content.Page           `json:"pages,omitempty"          validate:"max=2000"`
	Document        *content.Document        `json:"document,omitempty"`
	CardType        string                   `json:"card_type,omitempty"`
	DeckHints       []string                 `json:"deck_hints,omitempty"     validate:"max=20,dive,max=100"`
	DocumentContext string                   `json:"document_context,omitempty"`
	Providers       domain.ProviderSelection `json:"providers"`
	CustomPrompts   domain.CustomPrompts     `json:"custom_prompts"`
	DesiredCount    int                      `json:"desired_count,omitempty" validate:"gte=0,lte=100"`
	ExamMode        bool                     `json:"exam_mode"`
	Difficulty      string                   `json:"difficulty,omitempty"    validate:"omitempty,oneof=easy medium hard"`
	Segmentation    string                   `json:"segmentation,omitempty"  validate:"omitempty,oneof=auto embedding llm off"`
}

// toDomain converts the payload into a pipeline request. Field validation
// is left to the pipeline so that bad input is reported on the stream.
func (r GenerateRequest) toDomain() domain.GenerationRequest {
	text := r.Text
	if strings.TrimSpace(text) == "" && len(r.Pages) > 0 {
		text = content.JoinPages(r.Pages)
	}
	return domain.GenerationRequest{
		Text:            text,
		CardType:        domain.CardType(strings.ToLower(strings.TrimSpace(r.CardType))),
		DeckHints:       r.DeckHints,
		DocumentContext: r.DocumentContext,
		Providers:       r.Providers,
		CustomPrompts:   r.CustomPrompts,
		DesiredCount:    r.DesiredCount,
		ExamMode:        r.ExamMode,
		Difficulty:      domain.Difficulty(r.Difficulty),
		SegmentMode:     domain.SegmentMode(r.Segmentation),
	}
}

// CancelResponse is returned by POST /api/runs/{id}/cancel.
type CancelResponse struct {
	RunID     string `json:"run_id"`
	Cancelled bool   `json:"cancelled"`
}

// ModelsResponse lists the models of one provider.
type ModelsResponse struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// ProvidersResponse lists the configured providers in fallback order.
type ProvidersResponse struct {
	Providers []string `json:"providers"`
}

// CacheStatsResponse reports the counters of every cache tier.
type CacheStatsResponse struct {
	Tiers map[cache.Kind]cache.KindStats `json:"tiers"`
}

// ExportRequest is the payload of POST /api/exports. Deck applies to cards
// that name none; Tags are added to every card.
type ExportRequest struct {
	RunID string              `json:"run_id,omitempty"`
	Deck  string              `json:"deck,omitempty" validate:"max=200"`
	Tags  []string            `json:"tags,omitempty" validate:"max=20,dive,required,max=100"`
	Cards []domain.ExportCard `json:"cards"          validate:"required,min=1,max=500"`
}

// ExportResponse is returned when an export task is queued.
type ExportResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Cards  int    `json:"cards"`
}
