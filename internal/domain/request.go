package domain

import (
	"fmt"
	"strings"
)

// CardType is the kind of card a request asks for.
type CardType string

// Supported card types. Mixed is only valid on a request; every generated
// candidate is either Basic or Cloze.
const (
	CardTypeBasic CardType = "basic"
	CardTypeCloze CardType = "cloze"
	CardTypeMixed CardType = "mixed"
)

// ParseCardType converts a user supplied string into a CardType.
// An empty string yields CardTypeBasic.
func ParseCardType(s string) (CardType, error) {
	switch CardType(strings.ToLower(strings.TrimSpace(s))) {
	case "", CardTypeBasic:
		return CardTypeBasic, nil
	case CardTypeCloze:
		return CardTypeCloze, nil
	case CardTypeMixed:
		return CardTypeMixed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCardType, s)
	}
}

// Difficulty tunes how demanding generated questions are.
type Difficulty string

// Difficulty levels.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// SegmentMode selects the segmentation strategy for a run.
type SegmentMode string

// Segmentation modes. SegmentModeOff skips segmentation and treats the whole
// text as one segment.
const (
	SegmentModeAuto      SegmentMode = "auto"
	SegmentModeEmbedding SegmentMode = "embedding"
	SegmentModeLLM       SegmentMode = "llm"
	SegmentModeOff       SegmentMode = "off"
)

// Role names the purpose a model is used for.
type Role string

// Model roles.
const (
	RoleGeneration Role = "generation"
	RoleAnalysis   Role = "analysis"
	RoleValidation Role = "validation"
	RoleEmbedding  Role = "embedding"
)

// ProviderSelection holds the model chosen for each role of a run.
// Zero-valued refs are filled from configured defaults.
type ProviderSelection struct {
	Generation ModelRef `json:"generation"`
	Analysis   ModelRef `json:"analysis"`
	Validation ModelRef `json:"validation"`
	Embedding  ModelRef `json:"embedding"`
}

// For returns the ref for the given role.
func (p ProviderSelection) For(role Role) ModelRef {
	switch role {
	case RoleAnalysis:
		return p.Analysis
	case RoleValidation:
		return p.Validation
	case RoleEmbedding:
		return p.Embedding
	default:
		return p.Generation
	}
}

// WithDefaults returns a copy where every empty role is taken from defaults.
func (p ProviderSelection) WithDefaults(defaults ProviderSelection) ProviderSelection {
	if p.Generation.IsZero() {
		p.Generation = defaults.Generation
	}
	if p.Analysis.IsZero() {
		p.Analysis = defaults.Analysis
	}
	if p.Validation.IsZero() {
		p.Validation = defaults.Validation
	}
	if p.Embedding.IsZero() {
		p.Embedding = defaults.Embedding
	}
	return p
}

// CustomPrompts are optional caller overrides for prompt text.
type CustomPrompts struct {
	System     string `json:"system,omitempty"`
	Generation string `json:"generation,omitempty"`
	Guidelines string `json:"guidelines,omitempty"`
}

// GenerationRequest is the immutable input of a pipeline run.
// Use NewGenerationRequest to build one; the pipeline never modifies it.
type GenerationRequest struct {
	Text            string            `json:"text"`
	CardType        CardType          `json:"card_type"`
	DeckHints       []string          `json:"deck_hints,omitempty"`
	DocumentContext string            `json:"document_context,omitempty"`
	Providers       ProviderSelection `json:"providers"`
	CustomPrompts   CustomPrompts     `json:"custom_prompts"`
	DesiredCount    int               `json:"desired_count,omitempty"`
	ExamMode        bool              `json:"exam_mode"`
	Difficulty      Difficulty        `json:"difficulty,omitempty"`
	SegmentMode     SegmentMode       `json:"segment_mode,omitempty"`
	UsedFallback    bool              `json:"used_fallback"`
}

// NewGenerationRequest copies the caller's slices and fills defaults, then
// validates the result.
func NewGenerationRequest(r GenerationRequest) (GenerationRequest, error) {
	if r.CardType == "" {
		r.CardType = CardTypeBasic
	}
	if r.Difficulty == "" {
		r.Difficulty = DifficultyMedium
	}
	if r.SegmentMode == "" {
		r.SegmentMode = SegmentModeAuto
	}
	if len(r.DeckHints) > 0 {
		hints := make([]string, 0, len(r.DeckHints))
		for _, h := range r.DeckHints {
			if h = strings.TrimSpace(h); h != "" {
				hints = append(hints, h)
			}
		}
		r.DeckHints = hints
	}
	if err := r.Validate(); err != nil {
		return GenerationRequest{}, err
	}
	return r, nil
}

// Validate checks the request fields.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyContent
	}
	switch r.CardType {
	case CardTypeBasic, CardTypeCloze, CardTypeMixed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCardType, r.CardType)
	}
	switch r.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("%w: difficulty %q", ErrValidation, r.Difficulty)
	}
	switch r.SegmentMode {
	case SegmentModeAuto, SegmentModeEmbedding, SegmentModeLLM, SegmentModeOff:
	default:
		return fmt.Errorf("%w: segment mode %q", ErrValidation, r.SegmentMode)
	}
	if r.DesiredCount < 0 {
		return fmt.Errorf("%w: desired count must be positive", ErrValidation)
	}
	return nil
}
