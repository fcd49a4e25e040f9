package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
)

// Gateway is the part of the provider gateway segmentation uses.
type Gateway interface {
	Complete(ctx context.Context, role domain.Role, ref domain.ModelRef, req provider.Request) (string, error)
	EmbedBatch(ctx context.Context, ref domain.ModelRef, texts []string) ([][]float32, error)
	CanEmbed(ref domain.ModelRef) bool
}

// Options tune the engine.
type Options struct {
	// Mode replaces a request's auto mode when set to anything else.
	Mode               domain.SegmentMode
	AutoThresholdChars int
	MergeThreshold     float64
	MinSegmentChars    int
	MaxSegments        int
}

// Result is the outcome of segmentation.
type Result struct {
	Segments []domain.TopicSegment
	// Mode is the strategy that produced Segments.
	Mode domain.SegmentMode
	// Fallback reports that every strategy failed and the text is one
	// segment.
	Fallback bool
}

// Engine segments text. It is safe for concurrent use.
type Engine struct {
	gateway Gateway
	pack    *prompts.Pack
	opts    Options
	logger  *slog.Logger
}

// New creates an engine.
func New(gateway Gateway, pack *prompts.Pack, opts Options, logger *slog.Logger) (*Engine, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if pack == nil {
		return nil, fmt.Errorf("prompt pack cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.Mode == "" {
		opts.Mode = domain.SegmentModeAuto
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = 24
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = 0.75
	}
	return &Engine{
		gateway: gateway,
		pack:    pack,
		opts:    opts,
		logger:  logger.With("component", "segmentation_engine"),
	}, nil
}

type strategy func(ctx context.Context, req domain.GenerationRequest) ([]domain.TopicSegment, error)

// Segment splits req.Text. The only error it returns is cancellation.
func (e *Engine) Segment(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	text := req.Text
	mode := req.SegmentMode
	if mode == "" || mode == domain.SegmentModeAuto {
		mode = e.opts.Mode
	}
	if mode == domain.SegmentModeOff || len(text) < e.opts.MinSegmentChars {
		return Result{Segments: domain.WholeText(text), Mode: domain.SegmentModeOff}, nil
	}

	canEmbed := e.gateway.CanEmbed(req.Providers.Embedding)
	var order []domain.SegmentMode
	switch mode {
	case domain.SegmentModeEmbedding:
		order = []domain.SegmentMode{domain.SegmentModeEmbedding, domain.SegmentModeLLM}
	case domain.SegmentModeLLM:
		order = []domain.SegmentMode{domain.SegmentModeLLM, domain.SegmentModeEmbedding}
	default:
		if canEmbed && len(text) >= e.opts.AutoThresholdChars {
			order = []domain.SegmentMode{domain.SegmentModeEmbedding, domain.SegmentModeLLM}
		} else {
			order = []domain.SegmentMode{domain.SegmentModeLLM, domain.SegmentModeEmbedding}
		}
	}

	strategies := map[domain.SegmentMode]strategy{
		domain.SegmentModeEmbedding: e.byEmbedding,
		domain.SegmentModeLLM:       e.byLLM,
	}
	for _, m := range order {
		if m == domain.SegmentModeEmbedding && !canEmbed {
			continue
		}
		segs, err := strategies[m](ctx, req)
		if err == nil {
			segs = normalize(text, segs, e.opts.MaxSegments)
		}
		if err == nil && len(segs) == 0 {
			err = ErrNoSegments
		}
		if err != nil {
			if errors.Is(err, provider.ErrCancelled) {
				return Result{}, err
			}
			e.logger.WarnContext(ctx, "segmentation strategy failed",
				"mode", m, "error", redact.Error(err))
			continue
		}
		return Result{Segments: segs, Mode: m}, nil
	}

	e.logger.WarnContext(ctx, "all segmentation strategies failed, using whole text")
	return Result{Segments: domain.WholeText(text), Mode: domain.SegmentModeOff, Fallback: true}, nil
}
