package analysis

import (
	"context"
	"fmt"
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

type fakeAnalyzer struct {
	out     string
	err     error
	prompts []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ domain.ModelRef, req provider.Request) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return f.out, f.err
}

func newStage(t *testing.T, a Analyzer, budget int) *Stage {
	t.Helper()
	pack, err := prompts.Default()
	require.NoError(t, err)
	s, err := New(a, pack, budget, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func request(t *testing.T, text string) domain.GenerationRequest {
	t.Helper()
	req, err := domain.NewGenerationRequest(domain.GenerationRequest{Text: text})
	require.NoError(t, err)
	return req
}

func TestRun_ReturnsContext(t *testing.T) {
	a := &fakeAnalyzer{out: "```\nNotes on cell energy.\n```"}
	s := newStage(t, a, 1000)

	res, err := s.Run(context.Background(), request(t, "Mitochondria produce ATP."))
	require.NoError(t, err)
	assert.Equal(t, Result{Context: "Notes on cell energy."}, res)
	require.Len(t, a.prompts, 1)
	assert.Contains(t, a.prompts[0], "Mitochondria produce ATP.")
}

func TestRun_TruncatesAtBudget(t *testing.T) {
	a := &fakeAnalyzer{out: "ctx"}
	s := newStage(t, a, 40)
	text := strings.Repeat("word ", 20) + "TAILMARKER"

	res, err := s.Run(context.Background(), request(t, text))
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.NotContains(t, a.prompts[0], "TAILMARKER")
}

func TestRun_ProvidedContextSkipsCall(t *testing.T) {
	a := &fakeAnalyzer{out: "unused"}
	s := newStage(t, a, 1000)
	req := request(t, "text")
	req.DocumentContext = "  Given context. "

	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Result{Context: "Given context.", Provided: true}, res)
	assert.Empty(t, a.prompts)
}

func TestRun_ProviderErrorDegrades(t *testing.T) {
	a := &fakeAnalyzer{err: fmt.Errorf("%w: down", provider.ErrAllProvidersExhausted)}
	s := newStage(t, a, 1000)

	res, err := s.Run(context.Background(), request(t, "text"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Context)
}

func TestRun_CancellationPropagates(t *testing.T) {
	a := &fakeAnalyzer{err: provider.ErrCancelled}
	s := newStage(t, a, 1000)

	_, err := s.Run(context.Background(), request(t, "text"))
	assert.ErrorIs(t, err, provider.ErrCancelled)
}
