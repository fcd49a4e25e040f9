package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/analysis"
	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/generation"
	"github.com/phrazzld/scry-pipeline/internal/quality"
	"github.com/phrazzld/scry-pipeline/internal/segment"
)

// Analyzer is the analysis stage.
type Analyzer interface {
	Run(ctx context.Context, req domain.GenerationRequest) (analysis.Result, error)
}

// Segmenter is the segmentation stage.
type Segmenter interface {
	Segment(ctx context.Context, req domain.GenerationRequest) (segment.Result, error)
}

// Gate is the quality stage.
type Gate interface {
	Run(ctx context.Context, req domain.GenerationRequest, segments []domain.TopicSegment,
		candidates []domain.CardCandidate) (quality.Result, error)
}

// Stages groups the stage implementations a run uses.
type Stages struct {
	Analyzer  Analyzer
	Segmenter Segmenter
	Generator generation.Generator
	Gate      Gate
}

// Options tune the orchestrator.
type Options struct {
	// MaxConcurrency bounds concurrent segment generation within a run.
	MaxConcurrency int
	// Defaults fills the model refs a request leaves empty.
	Defaults domain.ProviderSelection
	// DefaultCardType replaces an empty card type.
	DefaultCardType domain.CardType
}

// Orchestrator runs generation requests. It is safe for concurrent use;
// runs share nothing but the stages.
type Orchestrator struct {
	stages Stages
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]*cancel.Token
	wg   sync.WaitGroup
}

// New creates an orchestrator.
func New(stages Stages, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if stages.Analyzer == nil || stages.Segmenter == nil || stages.Generator == nil || stages.Gate == nil {
		return nil, errors.New("all pipeline stages are required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	return &Orchestrator{
		stages: stages,
		opts:   opts,
		logger: logger.With("component", "pipeline_orchestrator"),
		runs:   make(map[uuid.UUID]*cancel.Token),
	}, nil
}

// Run executes req and delivers its events to handler. It returns once the
// terminal event has been delivered. A cancelled run returns ErrCancelled
// as soon as the cancelled event is out; provider calls it already issued
// finish in the background and their results are discarded.
//
// A request that fails validation never becomes a run: handler receives a
// single error event and no provider is called.
func (o *Orchestrator) Run(ctx context.Context, req domain.GenerationRequest, handler events.EventHandler) (*Outcome, error) {
	req.Providers = req.Providers.WithDefaults(o.opts.Defaults)
	if req.CardType == "" {
		req.CardType = o.opts.DefaultCardType
	}
	req, err := domain.NewGenerationRequest(req)
	if err != nil {
		info := ErrorInfo(err)
		o.logger.InfoContext(ctx, "rejected generation request", "kind", info.Kind, "error", info.Message)
		if herr := handler.HandleEvent(ctx, events.Single(info)); herr != nil {
			o.logger.WarnContext(ctx, "failed to deliver error event", "error", herr)
		}
		return nil, err
	}

	run := domain.NewPipelineRun(req)
	token := cancel.New()
	o.register(run.ID, token)

	log := o.logger.With("run_id", run.ID)
	stream := events.NewStream(run.ID, events.NewInMemoryEventEmitter(log, handler), log)
	log.InfoContext(ctx, "run started",
		"text_chars", len(req.Text),
		"card_type", req.CardType,
		"generation_model", req.Providers.Generation.String())

	type finished struct {
		out *Outcome
		err error
	}
	done := make(chan finished, 1)
	runCtx := cancel.WithToken(ctx, token)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.unregister(run.ID)
		out, err := o.execute(runCtx, run, stream, log)
		done <- finished{out, err}
	}()

	select {
	case f := <-done:
		return o.finish(ctx, run, stream, token, log, f.out, f.err)
	case <-token.Done():
	case <-ctx.Done():
		token.Cancel()
	}
	stream.Cancel(ctx, "generation cancelled")
	log.InfoContext(ctx, "run cancelled", "progress", stream.Progress())
	return nil, ErrCancelled
}

func (o *Orchestrator) finish(
	ctx context.Context,
	run *domain.PipelineRun,
	stream *events.Stream,
	token *cancel.Token,
	log *slog.Logger,
	out *Outcome,
	err error,
) (*Outcome, error) {
	switch {
	case err == nil && !token.Cancelled():
		if stream.Result(ctx, fmt.Sprintf("%d cards accepted", len(out.Cards)), out) {
			log.InfoContext(ctx, "run completed",
				"accepted", out.Stats.Accepted,
				"candidates", out.Stats.Total,
				"duration_ms", time.Since(run.StartedAt).Milliseconds())
			return out, nil
		}
		return nil, ErrCancelled
	case err == nil, errors.Is(err, cancel.ErrCancelled):
		stream.Cancel(ctx, "generation cancelled")
		log.InfoContext(ctx, "run cancelled", "progress", stream.Progress())
		return nil, ErrCancelled
	default:
		info := ErrorInfo(err)
		stream.Fail(ctx, info)
		log.ErrorContext(ctx, "run failed", "kind", info.Kind, "error", info.Message)
		return nil, err
	}
}

// Cancel sets the cancellation token of a running run. It reports whether
// the run was found.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	token, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	if token.Cancel() {
		o.logger.Info("cancellation requested", "run_id", runID)
	}
	return true
}

// Active returns the number of runs with work in flight.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Wait blocks until every run, including the background remainder of
// cancelled runs, has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

func (o *Orchestrator) register(id uuid.UUID, token *cancel.Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[id] = token
}

func (o *Orchestrator) unregister(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, id)
}
