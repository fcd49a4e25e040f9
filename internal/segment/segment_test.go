package segment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/mocks"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	completion  string
	completeErr error
	embedErr    error
	canEmbed    bool

	completeCalls int
	embedCalls    int
}

func (f *fakeGateway) Complete(context.Context, domain.Role, domain.ModelRef, provider.Request) (string, error) {
	f.completeCalls++
	return f.completion, f.completeErr
}

func (f *fakeGateway) EmbedBatch(_ context.Context, _ domain.ModelRef, texts []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = mocks.HashEmbedding(t, 256)
	}
	return out, nil
}

func (f *fakeGateway) CanEmbed(domain.ModelRef) bool {
	return f.canEmbed
}

const osmosis = "Osmosis is the movement of water across a membrane. For example, a raisin swells in water."

const twoTopics = "Mitochondria generate cellular energy through respiration. " +
	"Cellular respiration in mitochondria generates energy molecules. " +
	"Mitochondria energy respiration supports cellular work. " +
	"Photosynthesis converts sunlight into glucose inside chloroplasts. " +
	"Chloroplasts capture sunlight during photosynthesis producing glucose. " +
	"Glucose from photosynthesis stores sunlight inside chloroplasts."

func newEngine(t *testing.T, g Gateway, opts Options) *Engine {
	t.Helper()
	pack, err := prompts.Default()
	require.NoError(t, err)
	e, err := New(g, pack, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func request(t *testing.T, text string, mode domain.SegmentMode) domain.GenerationRequest {
	t.Helper()
	req, err := domain.NewGenerationRequest(domain.GenerationRequest{
		Text:        text,
		SegmentMode: mode,
		Providers: domain.ProviderSelection{
			Analysis:  domain.ModelRef{Provider: "gemini", Model: "flash"},
			Embedding: domain.ModelRef{Provider: "gemini", Model: "embed"},
		},
	})
	require.NoError(t, err)
	return req
}

// spanJSON describes substr of text with rune offsets.
func spanJSON(t *testing.T, text, substr, label string, conf float64) map[string]any {
	t.Helper()
	idx := strings.Index(text, substr)
	require.GreaterOrEqual(t, idx, 0, substr)
	start := utf8.RuneCountInString(text[:idx])
	return map[string]any{
		"start":      start,
		"end":        start + utf8.RuneCountInString(substr),
		"label":      label,
		"text":       substr,
		"confidence": conf,
	}
}

func completion(t *testing.T, spans ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(spans)
	require.NoError(t, err)
	return "```json\n" + string(b) + "\n```"
}

func assertInvariants(t *testing.T, text string, segs []domain.TopicSegment) {
	t.Helper()
	require.NotEmpty(t, segs)
	assert.NoError(t, domain.ValidateSegments(segs, len(text)))
}

func TestSegment_OffAndShortText(t *testing.T) {
	g := &fakeGateway{canEmbed: true}
	e := newEngine(t, g, Options{MinSegmentChars: 10})

	res, err := e.Segment(context.Background(), request(t, osmosis, domain.SegmentModeOff))
	require.NoError(t, err)
	assert.Equal(t, domain.WholeText(osmosis), res.Segments)

	short := newEngine(t, g, Options{MinSegmentChars: 500})
	res, err = short.Segment(context.Background(), request(t, osmosis, domain.SegmentModeLLM))
	require.NoError(t, err)
	assert.Equal(t, domain.WholeText(osmosis), res.Segments)

	assert.Zero(t, g.completeCalls)
	assert.Zero(t, g.embedCalls)
}

func TestSegment_LLMVerifiesAndRelocatesSpans(t *testing.T) {
	first := spanJSON(t, osmosis, "Osmosis is the movement of water across a membrane.", "definition", 0.9)
	second := spanJSON(t, osmosis, "For example, a raisin swells in water.", "Example", 0.8)
	second["start"], second["end"] = 3, 20 // wrong offsets, right text
	bogus := map[string]any{"start": 0, "end": 5, "label": "concept", "text": "not in the source", "confidence": 0.99}

	g := &fakeGateway{completion: completion(t, first, second, bogus)}
	e := newEngine(t, g, Options{MinSegmentChars: 10})

	res, err := e.Segment(context.Background(), request(t, osmosis, domain.SegmentModeLLM))
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentModeLLM, res.Mode)
	assertInvariants(t, osmosis, res.Segments)
	require.Len(t, res.Segments, 2)

	assert.Equal(t, "Osmosis is the movement of water across a membrane.", res.Segments[0].Text(osmosis))
	assert.Equal(t, domain.LabelDefinition, res.Segments[0].Label)
	assert.Equal(t, "For example, a raisin swells in water.", res.Segments[1].Text(osmosis))
	assert.Equal(t, domain.LabelExample, res.Segments[1].Label)
}

func TestSegment_LLMRuneOffsets(t *testing.T) {
	text := "Café au lait mixes coffee with hot milk. Naïve readers often confuse it with a latte."
	g := &fakeGateway{completion: completion(t,
		spanJSON(t, text, "Café au lait mixes coffee with hot milk.", "definition", 0.9),
		spanJSON(t, text, "Naïve readers often confuse it with a latte.", "comparison", 0.9),
	)}
	e := newEngine(t, g, Options{MinSegmentChars: 10})

	res, err := e.Segment(context.Background(), request(t, text, domain.SegmentModeLLM))
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Café au lait mixes coffee with hot milk.", res.Segments[0].Text(text))
	assert.Equal(t, "Naïve readers often confuse it with a latte.", res.Segments[1].Text(text))
}

func TestSegment_OverlapsKeepMoreConfidentSpan(t *testing.T) {
	whole := map[string]any{"start": 0, "end": utf8.RuneCountInString(osmosis), "label": "concept", "confidence": 0.4}
	g := &fakeGateway{completion: completion(t,
		whole,
		spanJSON(t, osmosis, "For example, a raisin swells in water.", "example", 0.9),
	)}
	e := newEngine(t, g, Options{MinSegmentChars: 10})

	res, err := e.Segment(context.Background(), request(t, osmosis, domain.SegmentModeLLM))
	require.NoError(t, err)
	assertInvariants(t, osmosis, res.Segments)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Osmosis is the movement of water across a membrane.", res.Segments[0].Text(osmosis))
	assert.Equal(t, domain.LabelConcept, res.Segments[0].Label)
	assert.Equal(t, domain.LabelExample, res.Segments[1].Label)
}

func TestSegment_CapMergesSmallestNeighbours(t *testing.T) {
	text := "Alpha is first. Beta is second. Gamma is the third and much longer sentence here. Delta ends."
	g := &fakeGateway{completion: completion(t,
		spanJSON(t, text, "Alpha is first.", "concept", 0.9),
		spanJSON(t, text, "Beta is second.", "concept", 0.9),
		spanJSON(t, text, "Gamma is the third and much longer sentence here.", "example", 0.9),
		spanJSON(t, text, "Delta ends.", "concept", 0.9),
	)}
	e := newEngine(t, g, Options{MinSegmentChars: 10, MaxSegments: 2})

	res, err := e.Segment(context.Background(), request(t, text, domain.SegmentModeLLM))
	require.NoError(t, err)
	assertInvariants(t, text, res.Segments)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Alpha is first. Beta is second.", res.Segments[0].Text(text))
	assert.Equal(t, "Gamma is the third and much longer sentence here. Delta ends.", res.Segments[1].Text(text))
	assert.Equal(t, domain.LabelExample, res.Segments[1].Label)
}

func TestSegment_EmbeddingGroupsTopics(t *testing.T) {
	g := &fakeGateway{canEmbed: true}
	e := newEngine(t, g, Options{MinSegmentChars: 20, MergeThreshold: 0.3})

	res, err := e.Segment(context.Background(), request(t, twoTopics, domain.SegmentModeEmbedding))
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentModeEmbedding, res.Mode)
	assertInvariants(t, twoTopics, res.Segments)
	require.Len(t, res.Segments, 2)

	assert.True(t, strings.HasPrefix(res.Segments[0].Text(twoTopics), "Mitochondria generate"))
	assert.True(t, strings.HasSuffix(res.Segments[0].Text(twoTopics), "supports cellular work."))
	assert.True(t, strings.HasPrefix(res.Segments[1].Text(twoTopics), "Photosynthesis converts"))
	for _, s := range res.Segments {
		assert.Contains(t, domain.Labels, s.Label)
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
	assert.Zero(t, g.completeCalls)
}

func TestSegment_AutoChoosesByLengthAndEmbeddingAvailability(t *testing.T) {
	llmAnswer := completion(t, spanJSON(t, twoTopics, "Mitochondria generate cellular energy through respiration.", "concept", 0.9))

	long := &fakeGateway{canEmbed: true, completion: llmAnswer}
	res, err := newEngine(t, long, Options{AutoThresholdChars: 100, MinSegmentChars: 20, MergeThreshold: 0.3}).
		Segment(context.Background(), request(t, twoTopics, domain.SegmentModeAuto))
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentModeEmbedding, res.Mode)
	assert.Zero(t, long.completeCalls)

	noEmbed := &fakeGateway{canEmbed: false, completion: llmAnswer}
	res, err = newEngine(t, noEmbed, Options{AutoThresholdChars: 100, MinSegmentChars: 20}).
		Segment(context.Background(), request(t, twoTopics, domain.SegmentModeAuto))
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentModeLLM, res.Mode)
	assert.Zero(t, noEmbed.embedCalls)
}

func TestSegment_FallsBackToOtherModeThenWholeText(t *testing.T) {
	g := &fakeGateway{canEmbed: true, completion: "I cannot segment this."}
	e := newEngine(t, g, Options{AutoThresholdChars: 10000, MinSegmentChars: 20, MergeThreshold: 0.3})

	res, err := e.Segment(context.Background(), request(t, twoTopics, domain.SegmentModeAuto))
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentModeEmbedding, res.Mode)
	assert.Equal(t, 1, g.completeCalls)

	broken := &fakeGateway{canEmbed: true, completion: "nope", embedErr: provider.ErrUnavailable}
	res, err = newEngine(t, broken, Options{MinSegmentChars: 20}).
		Segment(context.Background(), request(t, twoTopics, domain.SegmentModeLLM))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, domain.WholeText(twoTopics), res.Segments)
}

func TestSegment_CancellationPropagates(t *testing.T) {
	g := &fakeGateway{completeErr: provider.ErrCancelled}
	e := newEngine(t, g, Options{MinSegmentChars: 10})

	_, err := e.Segment(context.Background(), request(t, osmosis, domain.SegmentModeLLM))
	assert.ErrorIs(t, err, provider.ErrCancelled)
}

func TestNormalize_DropsBlankAndOutOfRange(t *testing.T) {
	text := "abc   def"
	segs := normalize(text, []domain.TopicSegment{
		{Start: 3, End: 6, Confidence: 0.9},
		{Start: -4, End: 3, Confidence: 0.5},
		{Start: 6, End: 99, Confidence: 0.5},
		{Start: 5, End: 5, Confidence: 1},
	}, 10)
	require.Len(t, segs, 2)
	assert.Equal(t, "abc", segs[0].Text(text))
	assert.Equal(t, "def", segs[1].Text(text))
}
