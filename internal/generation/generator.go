package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
)

// DefaultFallbackExcerpt is the length in characters of the back of a
// fallback candidate.
const DefaultFallbackExcerpt = 280

// Generator defines the interface for generating card candidates from one
// segment. It serves as the boundary between the pipeline and the model.
type Generator interface {
	GenerateCards(ctx context.Context, in Input) (Output, error)
}

// Completer runs a completion with the generation role.
type Completer interface {
	Generate(ctx context.Context, ref domain.ModelRef, req provider.Request) (string, error)
}

// Input is one segment of a run.
type Input struct {
	Request      domain.GenerationRequest
	Segment      domain.TopicSegment
	SegmentIndex int
	Context      string
	// DesiredCount is this segment's share of the request's count; zero
	// lets the model decide.
	DesiredCount int
}

// Output is the result for one segment.
type Output struct {
	Candidates []domain.CardCandidate
	// Dropped counts array elements that failed the card schema.
	Dropped int
	// Degraded reports that nothing parsed and Candidates holds the single
	// fallback candidate.
	Degraded bool
}

// Options tune the stage.
type Options struct {
	FallbackExcerptChars int
	EvidenceMaxWords     int
}

// Stage implements Generator on top of the provider gateway.
type Stage struct {
	gateway Completer
	pack    *prompts.Pack
	opts    Options
	logger  *slog.Logger
}

var _ Generator = (*Stage)(nil)

// New creates a generation stage.
func New(gateway Completer, pack *prompts.Pack, opts Options, logger *slog.Logger) (*Stage, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway cannot be nil", ErrGenerationFailed)
	}
	if pack == nil {
		return nil, fmt.Errorf("%w: prompt pack cannot be nil", ErrGenerationFailed)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", ErrGenerationFailed)
	}
	if opts.FallbackExcerptChars <= 0 {
		opts.FallbackExcerptChars = DefaultFallbackExcerpt
	}
	if opts.EvidenceMaxWords <= 0 {
		opts.EvidenceMaxWords = 25
	}
	return &Stage{
		gateway: gateway,
		pack:    pack,
		opts:    opts,
		logger:  logger.With("component", "generation_stage"),
	}, nil
}

// GenerateCards generates candidates for in.Segment. Provider errors are
// returned unchanged so the caller can classify them.
func (s *Stage) GenerateCards(ctx context.Context, in Input) (Output, error) {
	segText := strings.TrimSpace(in.Segment.Text(in.Request.Text))
	if segText == "" {
		return Output{}, ErrEmptySegment
	}

	system, prompt, err := s.BuildPrompt(in)
	if err != nil {
		return Output{}, err
	}

	resp, err := s.gateway.Generate(ctx, in.Request.Providers.Generation, provider.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: 0.4,
		MaxTokens:   2048,
		JSON:        true,
	})
	if err != nil {
		return Output{}, err
	}

	cards, dropped, ok := ParseCards(resp, in.Request.CardType)
	if !ok {
		s.logger.WarnContext(ctx, "no card array in response, using fallback candidate",
			"segment", in.SegmentIndex, "response_chars", len(resp))
		return Output{Candidates: []domain.CardCandidate{s.fallback(in, segText, resp)}, Degraded: true}, nil
	}
	if dropped > 0 {
		s.logger.DebugContext(ctx, "dropped invalid card elements", "segment", in.SegmentIndex, "dropped", dropped)
	}

	for i := range cards {
		cards[i].SegmentIndex = in.SegmentIndex
		cards[i].Label = in.Segment.Label
	}
	return Output{Candidates: cards, Dropped: dropped}, nil
}

// BuildPrompt returns the system instruction and prompt for in. The
// checklist block is always part of the prompt, also with a custom
// generation template.
func (s *Stage) BuildPrompt(in Input) (string, string, error) {
	req := in.Request
	data := prompts.GenerationData{
		Segment:      strings.TrimSpace(in.Segment.Text(req.Text)),
		Context:      in.Context,
		CardType:     string(req.CardType),
		Difficulty:   string(req.Difficulty),
		DeckHints:    req.DeckHints,
		DesiredCount: in.DesiredCount,
		ExamMode:     req.ExamMode,
		Label:        string(in.Segment.Label),
		Guidelines:   req.CustomPrompts.Guidelines,
		Checklist:    s.pack.ChecklistBlock(),
	}

	var prompt string
	if custom := strings.TrimSpace(req.CustomPrompts.Generation); custom != "" {
		prompt = prompts.RenderCustom(custom, data)
		if !strings.Contains(prompt, data.Segment) {
			prompt += "\n\nSOURCE EXCERPT:\n" + data.Segment
		}
	} else {
		var err error
		prompt, err = s.pack.Render(prompts.Generation, data)
		if err != nil {
			return "", "", err
		}
	}
	if !strings.Contains(prompt, prompts.ChecklistOpen) {
		prompt = data.Checklist + "\n\n" + prompt
	}

	system := s.pack.System
	if custom := strings.TrimSpace(req.CustomPrompts.System); custom != "" {
		system = custom
	}
	return system, prompt, nil
}

// fallback builds the single degraded candidate used when a response holds
// no card array.
func (s *Stage) fallback(in Input, segText, resp string) domain.CardCandidate {
	evidence := textspan.FirstWords(segText, s.opts.EvidenceMaxWords)

	back, _ := textspan.Truncate(strings.TrimSpace(resp), s.opts.FallbackExcerptChars)
	if back == "" {
		back, _ = textspan.Truncate(segText, s.opts.FallbackExcerptChars)
	}
	front := "What is the key idea of: " + textspan.FirstWords(segText, 8) + "?"

	c := domain.NewCardCandidate(front, back, domain.CardTypeBasic, evidence)
	c.SegmentIndex = in.SegmentIndex
	c.Label = in.Segment.Label
	c.Degraded = true
	return c
}
