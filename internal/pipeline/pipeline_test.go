package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-pipeline/internal/analysis"
	"github.com/phrazzld/scry-pipeline/internal/cache"
	"github.com/phrazzld/scry-pipeline/internal/content"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/gateway"
	"github.com/phrazzld/scry-pipeline/internal/generation"
	"github.com/phrazzld/scry-pipeline/internal/mocks"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/quality"
	"github.com/phrazzld/scry-pipeline/internal/segment"
)

const mitochondria = "Mitochondria are the powerhouse of the cell. They produce ATP through oxidative phosphorylation."

const mitochondriaCards = "```json\n" + `{"cards": [{
	"front": "What molecule do mitochondria produce through oxidative phosphorylation?",
	"back": "Mitochondria produce ATP through oxidative phosphorylation, supplying the energy that powers the work of the cell.",
	"src": "They produce ATP through oxidative phosphorylation."
}]}` + "\n```"

var flash = domain.ModelRef{Provider: provider.Gemini, Model: "gemini-2.0-flash"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newStack wires the real stages over a gateway backed by p.
func newStack(t *testing.T, p *mocks.MockProvider) *Orchestrator {
	t.Helper()
	logger := testLogger()
	layer, err := cache.New(cache.Options{EmbeddingEntries: 100, ResponseEntries: 100, ModelEntries: 10}, logger)
	require.NoError(t, err)
	gw, err := gateway.New([]gateway.Route{{
		Provider:    p,
		Timeout:     time.Second,
		ResponseTTL: time.Minute,
		Paid:        true,
		Models: map[domain.Role]string{
			domain.RoleGeneration: flash.Model,
			domain.RoleAnalysis:   flash.Model,
			domain.RoleValidation: flash.Model,
		},
	}}, layer, gateway.Config{Order: []string{provider.Gemini}}, logger)
	require.NoError(t, err)

	pack, err := prompts.Default()
	require.NoError(t, err)
	an, err := analysis.New(gw, pack, 0, logger)
	require.NoError(t, err)
	seg, err := segment.New(gw, pack, segment.Options{MinSegmentChars: 500}, logger)
	require.NoError(t, err)
	gen, err := generation.New(gw, pack, generation.Options{}, logger)
	require.NoError(t, err)
	gate, err := quality.New(gw, pack, quality.DefaultOptions(), logger)
	require.NoError(t, err)

	o, err := New(Stages{Analyzer: an, Segmenter: seg, Generator: gen, Gate: gate}, Options{
		MaxConcurrency: 2,
		Defaults:       domain.ProviderSelection{Generation: flash, Analysis: flash, Validation: flash},
	}, logger)
	require.NoError(t, err)
	return o
}

type stubAnalyzer struct{}

func (stubAnalyzer) Run(context.Context, domain.GenerationRequest) (analysis.Result, error) {
	return analysis.Result{Context: "biology"}, nil
}

type stubSegmenter struct {
	segments []domain.TopicSegment
}

func (s stubSegmenter) Segment(_ context.Context, req domain.GenerationRequest) (segment.Result, error) {
	if s.segments == nil {
		return segment.Result{Segments: domain.WholeText(req.Text), Mode: domain.SegmentModeOff}, nil
	}
	return segment.Result{Segments: s.segments, Mode: domain.SegmentModeLLM}, nil
}

type generatorFunc func(ctx context.Context, in generation.Input) (generation.Output, error)

func (f generatorFunc) GenerateCards(ctx context.Context, in generation.Input) (generation.Output, error) {
	return f(ctx, in)
}

type passGate struct{}

func (passGate) Run(_ context.Context, _ domain.GenerationRequest, _ []domain.TopicSegment, cands []domain.CardCandidate) (quality.Result, error) {
	return quality.Result{
		Candidates: cands,
		Accepted:   cands,
		Stats:      quality.Stats{Total: len(cands), Accepted: len(cands), Rejected: map[domain.RejectReason]int{}},
	}, nil
}

func newStubbed(t *testing.T, seg Segmenter, gen generation.Generator, concurrency int) *Orchestrator {
	t.Helper()
	o, err := New(Stages{Analyzer: stubAnalyzer{}, Segmenter: seg, Generator: gen, Gate: passGate{}}, Options{
		MaxConcurrency: concurrency,
		Defaults:       domain.ProviderSelection{Generation: flash, Analysis: flash, Validation: flash},
	}, testLogger())
	require.NoError(t, err)
	return o
}

func cardFor(in generation.Input) domain.CardCandidate {
	c := domain.NewCardCandidate("front", in.Segment.Text(in.Request.Text), domain.CardTypeBasic, "")
	c.SegmentIndex = in.SegmentIndex
	return c
}

func threeSegments(text string) []domain.TopicSegment {
	third := len(text) / 3
	return []domain.TopicSegment{
		{Start: 0, End: third, Label: domain.LabelConcept, Confidence: 1},
		{Start: third, End: 2 * third, Label: domain.LabelConcept, Confidence: 1},
		{Start: 2 * third, End: len(text), Label: domain.LabelConcept, Confidence: 1},
	}
}

func assertMonotonic(t *testing.T, evs []*events.Event) {
	t.Helper()
	for i := 1; i < len(evs); i++ {
		assert.GreaterOrEqual(t, evs[i].Progress, evs[i-1].Progress, "event %s", evs[i])
		assert.Equal(t, evs[i-1].Seq+1, evs[i].Seq)
	}
}

func terminalCount(evs []*events.Event) int {
	n := 0
	for _, e := range evs {
		if e.Type.Terminal() {
			n++
		}
	}
	return n
}

func TestNew(t *testing.T) {
	_, err := New(Stages{}, Options{}, testLogger())
	assert.Error(t, err)

	_, err = New(Stages{Analyzer: stubAnalyzer{}, Segmenter: stubSegmenter{}, Generator: generatorFunc(nil), Gate: passGate{}}, Options{}, nil)
	assert.Error(t, err)
}

func TestRun_Mitochondria(t *testing.T) {
	p := &mocks.MockProvider{
		GenerateFn: func(_ context.Context, _ string, req provider.Request) (string, error) {
			if req.JSON {
				return mitochondriaCards, nil
			}
			return "An introduction to cellular energy production.", nil
		},
	}
	o := newStack(t, p)
	rec := &events.Recorder{}

	out, err := o.Run(context.Background(), domain.GenerationRequest{Text: mitochondria, CardType: domain.CardTypeBasic}, rec)
	require.NoError(t, err)
	require.NotEmpty(t, out.Cards)

	card := out.Cards[0]
	assert.Contains(t, card.Back, "ATP")
	assert.Contains(t, mitochondria, card.SourceSpan)
	assert.Equal(t, domain.StageValidated, card.Stage)
	assert.Equal(t, 1, out.Stats.Accepted)

	assert.Equal(t, []events.Type{
		events.AnalysisStarted, events.AnalysisCompleted,
		events.SegmentationStarted, events.SegmentationCompleted,
		events.GenerationStarted, events.GenerationProgress, events.GenerationCompleted,
		events.ParsingStarted, events.ParsingCompleted,
		events.Result,
	}, rec.Types())

	evs := rec.Events()
	assertMonotonic(t, evs)
	assert.Equal(t, 1, terminalCount(evs))
	assert.Equal(t, 100, rec.Last().Progress)

	var payload Outcome
	require.NoError(t, rec.Last().UnmarshalData(&payload))
	require.Len(t, payload.Cards, 1)
	assert.Equal(t, card.Back, payload.Cards[0].Back)
	assert.Equal(t, "An introduction to cellular energy production.", payload.Context)
	assert.Equal(t, 0, o.Active())
}

func TestRun_EmptyInput(t *testing.T) {
	p := &mocks.MockProvider{Response: mitochondriaCards}
	o := newStack(t, p)
	rec := &events.Recorder{}

	out, err := o.Run(context.Background(), domain.GenerationRequest{Text: "  \n\t "}, rec)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
	assert.Nil(t, out)

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Error, evs[0].Type)
	assert.Equal(t, events.KindEmptyInput, evs[0].Error.Kind)
	assert.Equal(t, uuid.Nil, evs[0].RunID)
	assert.Equal(t, 0, p.GenerateCount())
	assert.Equal(t, 0, p.EmbedCount())
}

func TestRun_InvalidRequest(t *testing.T) {
	o := newStubbed(t, stubSegmenter{}, generatorFunc(func(context.Context, generation.Input) (generation.Output, error) {
		t.Fatal("generator must not be called")
		return generation.Output{}, nil
	}), 1)
	rec := &events.Recorder{}

	_, err := o.Run(context.Background(), domain.GenerationRequest{Text: mitochondria, CardType: "essay"}, rec)
	assert.ErrorIs(t, err, domain.ErrInvalidCardType)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, events.KindInvalidRequest, rec.Last().Error.Kind)
}

func TestRun_CancelByID(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gen := generatorFunc(func(_ context.Context, in generation.Input) (generation.Output, error) {
		once.Do(func() { close(started) })
		<-release
		return generation.Output{Candidates: []domain.CardCandidate{cardFor(in)}}, nil
	})
	o := newStubbed(t, stubSegmenter{}, gen, 1)
	rec := &events.Recorder{}

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := o.Run(context.Background(), domain.GenerationRequest{Text: mitochondria}, rec)
		done <- result{out, err}
	}()

	<-started
	runID := rec.Events()[0].RunID
	assert.Equal(t, 1, o.Active())
	assert.True(t, o.Cancel(runID))
	assert.False(t, o.Cancel(uuid.New()))

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, ErrCancelled)
		assert.Nil(t, r.out)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Equal(t, events.Cancelled, rec.Last().Type)

	// The in-flight call completes afterwards; its result is discarded.
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))

	evs := rec.Events()
	assert.Equal(t, events.Cancelled, evs[len(evs)-1].Type)
	assert.Equal(t, 1, terminalCount(evs))
	for _, e := range evs {
		assert.NotEqual(t, events.Result, e.Type)
	}
	assertMonotonic(t, evs)
	assert.Equal(t, 0, o.Active())
}

func TestRun_ContextCancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	gen := generatorFunc(func(_ context.Context, in generation.Input) (generation.Output, error) {
		close(started)
		<-release
		return generation.Output{}, nil
	})
	o := newStubbed(t, stubSegmenter{}, gen, 1)
	rec := &events.Recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := o.Run(ctx, domain.GenerationRequest{Text: mitochondria}, rec)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, events.Cancelled, rec.Last().Type)
}

func TestRun_SegmentOrderAndConcurrency(t *testing.T) {
	text := strings.Repeat("Photosynthesis converts light into chemical energy. ", 6)
	var inFlight, peak atomic.Int32
	gen := generatorFunc(func(_ context.Context, in generation.Input) (generation.Output, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Later segments finish first.
		time.Sleep(time.Duration(3-in.SegmentIndex) * 10 * time.Millisecond)
		inFlight.Add(-1)
		return generation.Output{Candidates: []domain.CardCandidate{cardFor(in)}}, nil
	})
	o := newStubbed(t, stubSegmenter{segments: threeSegments(text)}, gen, 2)
	rec := &events.Recorder{}

	out, err := o.Run(context.Background(), domain.GenerationRequest{Text: text}, rec)
	require.NoError(t, err)
	require.Len(t, out.Cards, 3)
	for i, c := range out.Cards {
		assert.Equal(t, i, c.SegmentIndex)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))

	progress := 0
	for _, e := range rec.Events() {
		if e.Type == events.GenerationProgress {
			progress++
		}
	}
	assert.Equal(t, 3, progress)
	assertMonotonic(t, rec.Events())
}

func TestRun_BlockedSegmentsSkipped(t *testing.T) {
	text := strings.Repeat("Enzymes lower the activation energy of reactions. ", 6)
	gen := generatorFunc(func(_ context.Context, in generation.Input) (generation.Output, error) {
		if in.SegmentIndex == 1 {
			return generation.Output{}, provider.ErrContentBlocked
		}
		return generation.Output{Candidates: []domain.CardCandidate{cardFor(in)}}, nil
	})
	o := newStubbed(t, stubSegmenter{segments: threeSegments(text)}, gen, 3)

	out, err := o.Run(context.Background(), domain.GenerationRequest{Text: text}, &events.Recorder{})
	require.NoError(t, err)
	assert.Len(t, out.Cards, 2)
	assert.Equal(t, 1, out.Blocked)
}

func TestRun_AllSegmentsBlocked(t *testing.T) {
	gen := generatorFunc(func(context.Context, generation.Input) (generation.Output, error) {
		return generation.Output{}, provider.ErrContentBlocked
	})
	o := newStubbed(t, stubSegmenter{}, gen, 1)
	rec := &events.Recorder{}

	_, err := o.Run(context.Background(), domain.GenerationRequest{Text: mitochondria}, rec)
	assert.ErrorIs(t, err, ErrAllSegmentsBlocked)
	assert.Equal(t, events.KindContentBlocked, rec.Last().Error.Kind)
}

func TestRun_ProviderFailureIsFatal(t *testing.T) {
	p := &mocks.MockProvider{Err: provider.ErrTimeout}
	o := newStack(t, p)
	rec := &events.Recorder{}

	_, err := o.Run(context.Background(), domain.GenerationRequest{Text: mitochondria}, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)

	last := rec.Last()
	assert.Equal(t, events.Error, last.Type)
	assert.Equal(t, events.KindProvidersExhausted, last.Error.Kind)
	assert.Equal(t, TimeoutHint, last.Error.Hint)

	// Analysis degraded instead of failing the run.
	var data analysisEvent
	for _, e := range rec.Events() {
		if e.Type == events.AnalysisCompleted {
			require.NoError(t, e.UnmarshalData(&data))
		}
	}
	assert.True(t, data.Degraded)
	assert.Equal(t, 1, terminalCount(rec.Events()))
	assertMonotonic(t, rec.Events())
}

func TestErrorInfo(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind events.ErrorKind
		hint string
	}{
		{"empty", domain.ErrEmptyContent, events.KindEmptyInput, ""},
		{"validation", domain.ErrValidation, events.KindInvalidRequest, ""},
		{"rate limited", provider.ErrRateLimited, events.KindRateLimited, "wait a moment and try again"},
		{"exhausted by timeout", errors.Join(provider.ErrAllProvidersExhausted, provider.ErrTimeout), events.KindProvidersExhausted, TimeoutHint},
		{"exhausted", provider.ErrAllProvidersExhausted, events.KindProvidersExhausted, ""},
		{"blocked", ErrAllSegmentsBlocked, events.KindContentBlocked, "select a different excerpt"},
		{"other", errors.New("boom"), events.KindInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ErrorInfo(tt.err)
			assert.Equal(t, tt.kind, info.Kind)
			assert.Equal(t, tt.hint, info.Hint)
			assert.NotEmpty(t, info.Message)
		})
	}
}

func TestSplitCount(t *testing.T) {
	segs := []domain.TopicSegment{{Start: 0, End: 100}, {Start: 100, End: 400}, {Start: 400, End: 500}}

	assert.Equal(t, []int{0, 0, 0}, SplitCount(0, segs))
	assert.Equal(t, []int{1, 1, 1}, SplitCount(2, segs))
	assert.Equal(t, []int{2, 6, 2}, SplitCount(10, segs))
	assert.Equal(t, []int{1, 4, 1}, SplitCount(6, segs))
	assert.Empty(t, SplitCount(5, nil))
}

func TestFromDocument(t *testing.T) {
	req, res := FromDocument(domain.GenerationRequest{}, &content.Document{
		FullText:  "Full text of the chapter.",
		Selection: "  Selected sentence.  ",
	})
	assert.Equal(t, "Selected sentence.", req.Text)
	assert.False(t, req.UsedFallback)
	assert.Equal(t, content.SourceSelection, res.Source)

	req, res = FromDocument(domain.GenerationRequest{}, &content.Document{FullText: "Full text of the chapter."})
	assert.Equal(t, "Full text of the chapter.", req.Text)
	assert.True(t, req.UsedFallback)
	assert.Equal(t, content.SourceFull, res.Source)

	req, res = FromDocument(domain.GenerationRequest{}, &content.Document{})
	assert.True(t, res.Empty())
	assert.Empty(t, req.Text)

	req, res = FromDocument(domain.GenerationRequest{Text: "plain"}, nil)
	assert.Equal(t, "plain", req.Text)
	assert.Equal(t, content.SourceSelection, res.Source)
}
