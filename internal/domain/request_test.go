package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerationRequest(t *testing.T) {
	t.Parallel()

	t.Run("fills defaults and copies hints", func(t *testing.T) {
		hints := []string{" Biology ", "", "Cells"}
		req, err := NewGenerationRequest(GenerationRequest{Text: "Mitochondria make ATP.", DeckHints: hints})
		require.NoError(t, err)

		assert.Equal(t, CardTypeBasic, req.CardType)
		assert.Equal(t, DifficultyMedium, req.Difficulty)
		assert.Equal(t, SegmentModeAuto, req.SegmentMode)
		assert.Equal(t, []string{"Biology", "Cells"}, req.DeckHints)

		hints[0] = "changed"
		assert.Equal(t, "Biology", req.DeckHints[0])
	})

	tests := []struct {
		name    string
		req     GenerationRequest
		wantErr error
	}{
		{"empty text", GenerationRequest{Text: "  \n"}, ErrEmptyContent},
		{"bad card type", GenerationRequest{Text: "x", CardType: "essay"}, ErrInvalidCardType},
		{"bad difficulty", GenerationRequest{Text: "x", Difficulty: "brutal"}, ErrValidation},
		{"bad segment mode", GenerationRequest{Text: "x", SegmentMode: "magic"}, ErrValidation},
		{"negative count", GenerationRequest{Text: "x", DesiredCount: -1}, ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGenerationRequest(tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestParseCardType(t *testing.T) {
	t.Parallel()

	ct, err := ParseCardType("")
	require.NoError(t, err)
	assert.Equal(t, CardTypeBasic, ct)

	ct, err = ParseCardType("CLOZE")
	require.NoError(t, err)
	assert.Equal(t, CardTypeCloze, ct)

	_, err = ParseCardType("essay")
	assert.ErrorIs(t, err, ErrInvalidCardType)
}

func TestParseModelRef(t *testing.T) {
	t.Parallel()

	ref, err := ParseModelRef("Gemini/gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, ModelRef{Provider: "gemini", Model: "gemini-2.0-flash"}, ref)
	assert.Equal(t, "gemini/gemini-2.0-flash", ref.String())

	ref, err = ParseModelRef("local/library/llama3:8b")
	require.NoError(t, err)
	assert.Equal(t, "library/llama3:8b", ref.Model)

	for _, bad := range []string{"", "gemini", "/model", "gemini/"} {
		_, err := ParseModelRef(bad)
		assert.ErrorIs(t, err, ErrInvalidModelRef, bad)
	}
}

func TestProviderSelectionWithDefaults(t *testing.T) {
	t.Parallel()

	defaults := ProviderSelection{
		Generation: ModelRef{Provider: "gemini", Model: "flash"},
		Analysis:   ModelRef{Provider: "gemini", Model: "flash"},
		Embedding:  ModelRef{Provider: "gemini", Model: "embed"},
	}
	sel := ProviderSelection{Generation: ModelRef{Provider: "openai", Model: "gpt-4o-mini"}}.WithDefaults(defaults)

	assert.Equal(t, "openai/gpt-4o-mini", sel.For(RoleGeneration).String())
	assert.Equal(t, "gemini/flash", sel.For(RoleAnalysis).String())
	assert.Equal(t, "gemini/embed", sel.For(RoleEmbedding).String())
	assert.True(t, sel.For(RoleValidation).IsZero())
}
