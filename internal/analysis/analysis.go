// Package analysis produces the short document context that is handed to
// every generation call of a run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
)

// DefaultCharBudget is the analysis input budget in characters.
const DefaultCharBudget = 12000

// Analyzer runs a completion with the analysis role.
type Analyzer interface {
	Analyze(ctx context.Context, ref domain.ModelRef, req provider.Request) (string, error)
}

// Result is the outcome of the analysis stage.
type Result struct {
	// Context is empty when the stage degraded.
	Context string

	// Truncated reports that the input exceeded the budget and its tail
	// was not analyzed.
	Truncated bool

	// Degraded reports that the provider failed and the run continues
	// without context.
	Degraded bool

	// Provided reports that the request already carried a context and no
	// model was called.
	Provided bool
}

// Stage is the analysis stage.
type Stage struct {
	gateway Analyzer
	pack    *prompts.Pack
	budget  int
	logger  *slog.Logger
}

// New creates an analysis stage. A non-positive budget uses
// DefaultCharBudget.
func New(gateway Analyzer, pack *prompts.Pack, budget int, logger *slog.Logger) (*Stage, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if pack == nil {
		return nil, fmt.Errorf("prompt pack cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	return &Stage{
		gateway: gateway,
		pack:    pack,
		budget:  budget,
		logger:  logger.With("component", "analysis_stage"),
	}, nil
}

// Run analyzes req.Text. The only error it returns is cancellation; any
// provider failure degrades to an empty context.
func (s *Stage) Run(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	if dc := strings.TrimSpace(req.DocumentContext); dc != "" {
		return Result{Context: dc, Provided: true}, nil
	}

	input, truncated := textspan.Truncate(req.Text, s.budget)
	if truncated {
		s.logger.InfoContext(ctx, "analysis input truncated",
			"budget_chars", s.budget, "kept_bytes", len(input), "total_bytes", len(req.Text))
	}

	prompt, err := s.pack.Render(prompts.Analysis, prompts.AnalysisData{Text: input, Truncated: truncated})
	if err != nil {
		return Result{}, err
	}

	out, err := s.gateway.Analyze(ctx, req.Providers.Analysis, provider.Request{
		System:      s.pack.System,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		if errors.Is(err, provider.ErrCancelled) {
			return Result{}, err
		}
		s.logger.WarnContext(ctx, "analysis failed, continuing without context",
			"model", req.Providers.Analysis.String(), "error", redact.Error(err))
		return Result{Truncated: truncated, Degraded: true}, nil
	}

	return Result{Context: cleanContext(out), Truncated: truncated}, nil
}

// cleanContext strips code fences and surrounding whitespace some models add
// to plain prose answers.
func cleanContext(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
