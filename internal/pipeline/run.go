package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/generation"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/quality"
)

// Progress marks of the stage boundaries.
const (
	progressAnalysisStarted     = 5
	progressAnalysisDone        = 15
	progressSegmentationStarted = 18
	progressSegmentationDone    = 25
	progressGenerationStarted   = 30
	progressGenerationDone      = 70
	progressParsingStarted      = 75
	progressParsingDone         = 95
)

// Outcome is the payload of a run's result event.
type Outcome struct {
	RunID        string                 `json:"run_id"`
	Cards        []domain.CardCandidate `json:"cards"`
	Stats        quality.Stats          `json:"stats"`
	Segments     []domain.TopicSegment  `json:"segments"`
	SegmentMode  domain.SegmentMode     `json:"segment_mode"`
	Context      string                 `json:"context,omitempty"`
	Truncated    bool                   `json:"truncated"`
	Degraded     bool                   `json:"degraded"`
	UsedFallback bool                   `json:"used_fallback"`
	Blocked      int                    `json:"blocked_segments,omitempty"`
}

type analysisEvent struct {
	Truncated bool `json:"truncated"`
	Degraded  bool `json:"degraded"`
	Provided  bool `json:"provided"`
}

type segmentationEvent struct {
	Count    int                   `json:"count"`
	Mode     domain.SegmentMode    `json:"mode"`
	Fallback bool                  `json:"fallback"`
	Segments []domain.TopicSegment `json:"segments"`
}

type segmentEvent struct {
	Segment    int `json:"segment"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Candidates int `json:"candidates"`
}

type generationEvent struct {
	Candidates       int `json:"candidates"`
	Dropped          int `json:"dropped"`
	DegradedSegments int `json:"degraded_segments"`
	BlockedSegments  int `json:"blocked_segments"`
}

// execute runs the stages in order. Every error it returns is either a
// cancellation or fatal to the run.
func (o *Orchestrator) execute(ctx context.Context, run *domain.PipelineRun, stream *events.Stream, log *slog.Logger) (*Outcome, error) {
	req := run.Request
	out := &Outcome{RunID: run.ID.String(), UsedFallback: req.UsedFallback}

	// Analysis
	if err := o.advance(ctx, run, stream, domain.RunAnalyzing, events.AnalysisStarted, progressAnalysisStarted, "Analyzing content", nil); err != nil {
		return nil, err
	}
	ar, err := o.stages.Analyzer.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if ar.Context != "" && !ar.Provided {
		req.DocumentContext = ar.Context
	}
	out.Context, out.Truncated, out.Degraded = req.DocumentContext, ar.Truncated, ar.Degraded
	stream.Emit(ctx, events.AnalysisCompleted, progressAnalysisDone, "Analysis complete",
		analysisEvent{Truncated: ar.Truncated, Degraded: ar.Degraded, Provided: ar.Provided})

	// Segmentation
	if err := o.advance(ctx, run, stream, domain.RunSegmenting, events.SegmentationStarted, progressSegmentationStarted, "Finding topics", nil); err != nil {
		return nil, err
	}
	sr, err := o.stages.Segmenter.Segment(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(sr.Segments) == 0 {
		sr.Segments = domain.WholeText(req.Text)
	}
	out.Segments, out.SegmentMode = sr.Segments, sr.Mode
	stream.Emit(ctx, events.SegmentationCompleted, progressSegmentationDone,
		fmt.Sprintf("Found %d segments", len(sr.Segments)),
		segmentationEvent{Count: len(sr.Segments), Mode: sr.Mode, Fallback: sr.Fallback, Segments: sr.Segments})

	// Generation
	if err := o.advance(ctx, run, stream, domain.RunGenerating, events.GenerationStarted, progressGenerationStarted,
		"Generating cards", segmentEvent{Total: len(sr.Segments)}); err != nil {
		return nil, err
	}
	candidates, summary, err := o.generate(ctx, req, sr.Segments, stream, log)
	if err != nil {
		return nil, err
	}
	out.Blocked = summary.BlockedSegments
	if summary.DegradedSegments > 0 {
		out.Degraded = true
	}
	run.Candidates = candidates
	stream.Emit(ctx, events.GenerationCompleted, progressGenerationDone,
		fmt.Sprintf("Generated %d candidates", len(candidates)), summary)

	// Quality gate
	if err := o.advance(ctx, run, stream, domain.RunFiltering, events.ParsingStarted, progressParsingStarted, "Checking card quality", nil); err != nil {
		return nil, err
	}
	qr, err := o.stages.Gate.Run(ctx, req, sr.Segments, candidates)
	if err != nil {
		return nil, err
	}
	run.Candidates = qr.Candidates
	out.Cards, out.Stats = qr.Accepted, qr.Stats
	if out.Cards == nil {
		out.Cards = []domain.CardCandidate{}
	}
	stream.Emit(ctx, events.ParsingCompleted, progressParsingDone,
		fmt.Sprintf("%d of %d candidates accepted", qr.Stats.Accepted, qr.Stats.Total), qr.Stats)

	if err := cancel.Check(ctx); err != nil {
		return nil, err
	}
	run.Advance(domain.RunCompleted, 100)
	return out, nil
}

// advance checks the token, moves the run to stage and emits the stage's
// start event.
func (o *Orchestrator) advance(
	ctx context.Context,
	run *domain.PipelineRun,
	stream *events.Stream,
	stage domain.RunStage,
	typ events.Type,
	progress int,
	message string,
	data any,
) error {
	if err := cancel.Check(ctx); err != nil {
		return err
	}
	run.Advance(stage, progress)
	stream.Emit(ctx, typ, progress, message, data)
	return nil
}

// generate fans the segments out to the generator and reassembles the
// candidates in segment order. Segments refused by the provider are
// skipped; any other provider error fails the run.
func (o *Orchestrator) generate(
	ctx context.Context,
	req domain.GenerationRequest,
	segments []domain.TopicSegment,
	stream *events.Stream,
	log *slog.Logger,
) ([]domain.CardCandidate, generationEvent, error) {
	total := len(segments)
	counts := SplitCount(req.DesiredCount, segments)
	outputs := make([]generation.Output, total)
	blocked := make([]bool, total)
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			if err := cancel.Check(gctx); err != nil {
				return err
			}
			res, err := o.stages.Generator.GenerateCards(gctx, generation.Input{
				Request:      req,
				Segment:      seg,
				SegmentIndex: i,
				Context:      req.DocumentContext,
				DesiredCount: counts[i],
			})
			switch {
			case errors.Is(err, provider.ErrContentBlocked):
				log.WarnContext(gctx, "segment blocked by provider", "segment", i)
				blocked[i] = true
			case err != nil:
				return fmt.Errorf("segment %d: %w", i, err)
			default:
				outputs[i] = res
			}

			n := int(completed.Add(1))
			stream.Emit(ctx, events.GenerationProgress,
				progressGenerationStarted+(progressGenerationDone-progressGenerationStarted)*n/total,
				fmt.Sprintf("Segment %d of %d done", n, total),
				segmentEvent{Segment: i, Completed: n, Total: total, Candidates: len(res.Candidates)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, generationEvent{}, err
	}

	var summary generationEvent
	var candidates []domain.CardCandidate
	for i, res := range outputs {
		if blocked[i] {
			summary.BlockedSegments++
			continue
		}
		if res.Degraded {
			summary.DegradedSegments++
		}
		summary.Dropped += res.Dropped
		candidates = append(candidates, res.Candidates...)
	}
	if summary.BlockedSegments == total {
		return nil, summary, ErrAllSegmentsBlocked
	}
	summary.Candidates = len(candidates)
	return candidates, summary, nil
}

// SplitCount divides desired cards across segments in proportion to their
// length. Every segment gets at least one card; zero desired leaves every
// share at zero so the model decides.
func SplitCount(desired int, segments []domain.TopicSegment) []int {
	counts := make([]int, len(segments))
	if desired <= 0 || len(segments) == 0 {
		return counts
	}
	total := 0
	for _, s := range segments {
		total += s.Len()
	}
	assigned := 0
	for i, s := range segments {
		share := 1
		if total > 0 {
			share = max(1, desired*s.Len()/total)
		}
		counts[i] = share
		assigned += share
	}
	// Hand out the rounding remainder to the longest segments first.
	for assigned < desired {
		best := 0
		for i, s := range segments {
			if float64(s.Len())/float64(counts[i]+1) > float64(segments[best].Len())/float64(counts[best]+1) {
				best = i
			}
		}
		counts[best]++
		assigned++
	}
	return counts
}
