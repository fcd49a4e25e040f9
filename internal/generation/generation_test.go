package generation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mitochondria = "Mitochondria are the powerhouse of the cell. They produce ATP through cellular respiration."

type fakeCompleter struct {
	resp string
	err  error
	reqs []provider.Request
}

func (f *fakeCompleter) Generate(_ context.Context, _ domain.ModelRef, req provider.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func newStage(t *testing.T, c Completer) *Stage {
	t.Helper()
	pack, err := prompts.Default()
	require.NoError(t, err)
	s, err := New(c, pack, Options{FallbackExcerptChars: 60}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func input(t *testing.T, text string, cardType domain.CardType) Input {
	t.Helper()
	req, err := domain.NewGenerationRequest(domain.GenerationRequest{Text: text, CardType: cardType})
	require.NoError(t, err)
	seg := domain.WholeText(text)[0]
	seg.Label = domain.LabelDefinition
	return Input{Request: req, Segment: seg, SegmentIndex: 2, Context: "Cell biology."}
}

func TestGenerateCards_FencedArrayWithProse(t *testing.T) {
	c := &fakeCompleter{resp: "Sure! Here are your cards:\n```json\n[" +
		`{"front":"What are mitochondria called?","back":"They are called the powerhouse of the cell because they produce most of its usable energy.","src":"Mitochondria are the powerhouse of the cell."},` +
		`{"front":"What do mitochondria produce?","back":"ATP","src":"They produce ATP"},` +
		`{"front":"Through which process is ATP made?","back":"Cellular respiration","src":"through cellular respiration"}` +
		"]\n```\nLet me know if you need more."}
	s := newStage(t, c)

	out, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeBasic))
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	require.Len(t, out.Candidates, 3)
	for _, cand := range out.Candidates {
		assert.Equal(t, domain.StageGenerated, cand.Stage)
		assert.Equal(t, domain.CardTypeBasic, cand.Type)
		assert.Equal(t, 2, cand.SegmentIndex)
		assert.Equal(t, domain.LabelDefinition, cand.Label)
	}
	assert.Equal(t, "They produce ATP", out.Candidates[1].SourceSpan)

	require.Len(t, c.reqs, 1)
	assert.True(t, c.reqs[0].JSON)
	assert.Contains(t, c.reqs[0].Prompt, prompts.ChecklistOpen)
	assert.Contains(t, c.reqs[0].Prompt, mitochondria)
	assert.Contains(t, c.reqs[0].Prompt, "Cell biology.")
}

func TestGenerateCards_CitationBeforeCards(t *testing.T) {
	c := &fakeCompleter{resp: "Based on section [2] of the text, here are the cards:\n```json\n[" +
		`{"front":"What are mitochondria called?","back":"The powerhouse of the cell"},` +
		`{"front":"What do mitochondria produce?","back":"ATP"},` +
		`{"front":"Through which process is ATP made?","back":"Cellular respiration"}` +
		"]\n```"}
	s := newStage(t, c)

	out, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeBasic))
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	assert.Zero(t, out.Dropped)
	require.Len(t, out.Candidates, 3)
	assert.Equal(t, "What do mitochondria produce?", out.Candidates[1].Front)
}

func TestGenerateCards_NoValidCardFallsBack(t *testing.T) {
	c := &fakeCompleter{resp: `[{"front":"  ","back":"A"},{"question":"Q"}]`}
	s := newStage(t, c)

	out, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeBasic))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	require.Len(t, out.Candidates, 1)
	assert.True(t, out.Candidates[0].Degraded)
}

func TestGenerateCards_DropsInvalidElements(t *testing.T) {
	c := &fakeCompleter{resp: `{"cards": [{"front":"Q1","back":"A1"},{"front":"","back":"x"},{"back":"no front"},"junk",{"front":"Q2","back":"A2","type":7}]}`}
	s := newStage(t, c)

	out, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeBasic))
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "Q1", out.Candidates[0].Front)
	assert.Equal(t, 4, out.Dropped)
}

func TestGenerateCards_FallbackCandidate(t *testing.T) {
	resp := "Mitochondria make energy for the cell and are found in most eukaryotic organisms, which is why they matter."
	c := &fakeCompleter{resp: resp}
	s := newStage(t, c)

	out, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeCloze))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	require.Len(t, out.Candidates, 1)

	cand := out.Candidates[0]
	assert.True(t, cand.Degraded)
	assert.Equal(t, domain.CardTypeBasic, cand.Type)
	assert.LessOrEqual(t, len([]rune(cand.Back)), 60)
	assert.True(t, strings.HasPrefix(resp, cand.Back))
	assert.True(t, strings.HasPrefix(mitochondria, cand.SourceSpan))
	assert.NotEmpty(t, cand.Front)
}

func TestGenerateCards_ProviderErrorPassesThrough(t *testing.T) {
	c := &fakeCompleter{err: provider.ErrRateLimited}
	s := newStage(t, c)

	_, err := s.GenerateCards(context.Background(), input(t, mitochondria, domain.CardTypeBasic))
	assert.ErrorIs(t, err, provider.ErrRateLimited)
}

func TestGenerateCards_EmptySegment(t *testing.T) {
	s := newStage(t, &fakeCompleter{})
	in := input(t, mitochondria, domain.CardTypeBasic)
	in.Segment = domain.TopicSegment{Start: 0, End: 0}

	_, err := s.GenerateCards(context.Background(), in)
	assert.ErrorIs(t, err, ErrEmptySegment)
}

func TestParseCards_CardTypes(t *testing.T) {
	resp := `[
		{"front":"The {{c1::mitochondrion}} makes ATP.","back":"mitochondrion","type":"cloze"},
		{"front":"What makes ATP?","back":"The mitochondrion","type":"cloze"},
		{"front":"What makes ATP?","back":"The mitochondrion","type":"basic"}
	]`

	tests := []struct {
		requested domain.CardType
		want      []domain.CardType
	}{
		{domain.CardTypeBasic, []domain.CardType{domain.CardTypeBasic, domain.CardTypeBasic, domain.CardTypeBasic}},
		{domain.CardTypeCloze, []domain.CardType{domain.CardTypeCloze, domain.CardTypeBasic, domain.CardTypeBasic}},
		{domain.CardTypeMixed, []domain.CardType{domain.CardTypeCloze, domain.CardTypeBasic, domain.CardTypeBasic}},
	}
	for _, tc := range tests {
		t.Run(string(tc.requested), func(t *testing.T) {
			cards, dropped, ok := ParseCards(resp, tc.requested)
			require.True(t, ok)
			assert.Zero(t, dropped)
			require.Len(t, cards, 3)
			for i, want := range tc.want {
				assert.Equal(t, want, cards[i].Type, "card %d", i)
			}
		})
	}
}

func TestBuildPrompt_CustomOverrides(t *testing.T) {
	s := newStage(t, &fakeCompleter{})
	in := input(t, mitochondria, domain.CardTypeBasic)
	in.Request.CustomPrompts = domain.CustomPrompts{
		System:     "You are a strict tutor.",
		Generation: "Make cards for a {{.Difficulty}} exam.",
		Guidelines: "Prefer numbers.",
	}

	system, prompt, err := s.BuildPrompt(in)
	require.NoError(t, err)
	assert.Equal(t, "You are a strict tutor.", system)
	assert.Contains(t, prompt, "Make cards for a medium exam.")
	assert.Contains(t, prompt, prompts.ChecklistOpen)
	assert.Contains(t, prompt, mitochondria)

	in.Request.CustomPrompts = domain.CustomPrompts{Guidelines: "Prefer numbers."}
	_, prompt, err = s.BuildPrompt(in)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Prefer numbers.")
}

func TestNew_Validation(t *testing.T) {
	pack, err := prompts.Default()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = New(nil, pack, Options{}, logger)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	_, err = New(&fakeCompleter{}, nil, Options{}, logger)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	_, err = New(&fakeCompleter{}, pack, Options{}, nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
