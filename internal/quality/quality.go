package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// Gateway is the part of the provider gateway the quality gate uses.
type Gateway interface {
	Complete(ctx context.Context, role domain.Role, ref domain.ModelRef, req provider.Request) (string, error)
	EmbedBatch(ctx context.Context, ref domain.ModelRef, texts []string) ([][]float32, error)
	CanEmbed(ref domain.ModelRef) bool
}

// Options are the gate thresholds.
type Options struct {
	AcceptThreshold         float64
	RewriteFloor            float64
	RelevanceThreshold      float64
	KeywordOverlapThreshold float64
	AnswerMinWords          int
	AnswerMaxWords          int
	EvidenceMinWords        int
	EvidenceMaxWords        int
	LLMValidation           bool
	// Concurrency bounds how many candidates are processed at once.
	Concurrency int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		AcceptThreshold:         0.7,
		RewriteFloor:            0.45,
		RelevanceThreshold:      0.35,
		KeywordOverlapThreshold: 0.2,
		AnswerMinWords:          10,
		AnswerMaxWords:          25,
		EvidenceMinWords:        5,
		EvidenceMaxWords:        25,
		Concurrency:             4,
	}
}

// Stats summarizes one gate run.
type Stats struct {
	Total     int                         `json:"total"`
	Accepted  int                         `json:"accepted"`
	Rewritten int                         `json:"rewritten"`
	Degraded  int                         `json:"degraded"`
	Rejected  map[domain.RejectReason]int `json:"rejected"`
}

// Result holds every candidate in its final stage, the accepted subset in
// input order and the stats.
type Result struct {
	Candidates []domain.CardCandidate
	Accepted   []domain.CardCandidate
	Stats      Stats
}

// Pipeline is the quality gate. It is safe for concurrent use.
type Pipeline struct {
	gateway Gateway
	pack    *prompts.Pack
	opts    Options
	logger  *slog.Logger

	checklist []string
	banned    []string
}

// New creates a quality gate.
func New(gateway Gateway, pack *prompts.Pack, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if pack == nil {
		return nil, fmt.Errorf("prompt pack cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.RewriteFloor >= opts.AcceptThreshold {
		return nil, fmt.Errorf("rewrite floor %.2f must be below accept threshold %.2f", opts.RewriteFloor, opts.AcceptThreshold)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	banned := make([]string, 0, len(pack.BannedPhrases))
	for _, b := range pack.BannedPhrases {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			banned = append(banned, b)
		}
	}
	return &Pipeline{
		gateway:   gateway,
		pack:      pack,
		opts:      opts,
		logger:    logger.With("component", "quality_pipeline"),
		checklist: pack.ChecklistItems(),
		banned:    banned,
	}, nil
}

// Run gates candidates. Each candidate is checked against the segment it was
// generated from. The only error returned is cancellation.
func (p *Pipeline) Run(
	ctx context.Context,
	req domain.GenerationRequest,
	segments []domain.TopicSegment,
	candidates []domain.CardCandidate,
) (Result, error) {
	out := make([]domain.CardCandidate, len(candidates))
	copy(out, candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := range out {
		g.Go(func() error {
			if err := cancel.Check(gctx); err != nil {
				return err
			}
			c := out[i]
			segText := segmentText(req.Text, segments, c.SegmentIndex)
			if err := p.process(gctx, req, segText, &c); err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Candidates: out, Stats: Stats{Total: len(out), Rejected: make(map[domain.RejectReason]int)}}
	for _, c := range out {
		if c.Rewrites > 0 {
			res.Stats.Rewritten++
		}
		if c.Degraded {
			res.Stats.Degraded++
		}
		if c.Accepted() {
			res.Accepted = append(res.Accepted, c)
			res.Stats.Accepted++
		} else {
			res.Stats.Rejected[c.RejectReason]++
		}
	}
	return res, nil
}

// segmentText returns the text of the candidate's segment, or the whole
// request text when the index is out of range.
func segmentText(text string, segments []domain.TopicSegment, idx int) string {
	if idx >= 0 && idx < len(segments) && segments[idx].Validate(len(text)) == nil {
		return segments[idx].Text(text)
	}
	return text
}

// process drives one candidate through the state machine until it is
// Validated or Rejected.
func (p *Pipeline) process(ctx context.Context, req domain.GenerationRequest, segText string, c *domain.CardCandidate) error {
	for {
		if err := c.Transition(domain.StageSourceChecked); err != nil {
			return err
		}
		if !p.checkEvidence(segText, c) {
			return c.Reject(domain.RejectEvidenceMismatch)
		}

		if err := c.Transition(domain.StageRelevanceChecked); err != nil {
			return err
		}
		relevant, err := p.checkRelevance(ctx, req, segText, c)
		if err != nil {
			return err
		}
		if !relevant {
			return c.Reject(domain.RejectRelevanceFailure)
		}

		if err := c.Transition(domain.StageScored); err != nil {
			return err
		}
		score, issues := p.Score(*c, segText)
		c.QualityScore = score

		switch {
		case score >= p.opts.AcceptThreshold:
			if err := c.Transition(domain.StageValidated); err != nil {
				return err
			}
			return p.validate(ctx, req, segText, c)
		case score >= p.opts.RewriteFloor && c.Rewrites == 0:
			ok, err := p.rewrite(ctx, req, segText, c, issues)
			if err != nil {
				return err
			}
			if !ok {
				return c.Reject(domain.RejectLowQuality)
			}
		default:
			return c.Reject(domain.RejectLowQuality)
		}
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, provider.ErrCancelled)
}
