package quality

import (
	"context"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/llmjson"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
)

type rewrittenCard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Src   string `json:"src"`
}

type verdict struct {
	Valid  *bool  `json:"valid"`
	Reason string `json:"reason"`
}

// rewrite asks the validation model for an improved card. It reports false
// when no usable rewrite came back; the caller then rejects the candidate.
func (p *Pipeline) rewrite(ctx context.Context, req domain.GenerationRequest, segText string, c *domain.CardCandidate, issues []string) (bool, error) {
	prompt, err := p.pack.Render(prompts.Rewrite, prompts.CardData{
		Front:     c.Front,
		Back:      c.Back,
		Evidence:  c.SourceSpan,
		Segment:   segText,
		Issues:    issues,
		Checklist: p.pack.ChecklistBlock(),
	})
	if err != nil {
		return false, err
	}

	out, err := p.gateway.Complete(ctx, domain.RoleValidation, req.Providers.Validation, provider.Request{
		System:      p.pack.System,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   512,
		JSON:        true,
	})
	if err != nil {
		if isCancelled(err) {
			return false, err
		}
		p.logger.WarnContext(ctx, "rewrite failed", "error", redact.Error(err))
		return false, nil
	}

	var rc rewrittenCard
	if !llmjson.FindObject(out, &rc) || strings.TrimSpace(rc.Front) == "" || strings.TrimSpace(rc.Back) == "" {
		return false, nil
	}

	if err := c.Transition(domain.StageRewritten); err != nil {
		return false, err
	}
	c.Front = strings.TrimSpace(rc.Front)
	c.Back = strings.TrimSpace(rc.Back)
	if src := strings.TrimSpace(rc.Src); src != "" {
		c.SourceSpan = src
	}
	c.Rewrites++
	return true, nil
}

// validate runs the optional LLM verdict on an accepted card. A negative
// verdict rejects the card; a failed call keeps it.
func (p *Pipeline) validate(ctx context.Context, req domain.GenerationRequest, segText string, c *domain.CardCandidate) error {
	if !p.opts.LLMValidation {
		return nil
	}
	prompt, err := p.pack.Render(prompts.Validation, prompts.CardData{
		Front:    c.Front,
		Back:     c.Back,
		Evidence: c.SourceSpan,
		Segment:  segText,
	})
	if err != nil {
		return err
	}

	out, err := p.gateway.Complete(ctx, domain.RoleValidation, req.Providers.Validation, provider.Request{
		System:      p.pack.System,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   256,
		JSON:        true,
	})
	if err != nil {
		if isCancelled(err) {
			return err
		}
		p.logger.WarnContext(ctx, "llm validation failed, keeping card", "error", redact.Error(err))
		return nil
	}

	var v verdict
	if llmjson.FindObject(out, &v) && v.Valid != nil && !*v.Valid {
		p.logger.DebugContext(ctx, "card rejected by llm validation", "reason", v.Reason)
		return c.Reject(domain.RejectLLMValidation)
	}
	return nil
}
