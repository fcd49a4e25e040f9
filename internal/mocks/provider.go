package mocks

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
)

// MockProvider implements provider.Provider for testing.
type MockProvider struct {
	IDValue string

	// Custom behavior functions
	GenerateFn   func(ctx context.Context, model string, req provider.Request) (string, error)
	EmbedFn      func(ctx context.Context, model string, texts []string) ([][]float32, error)
	ListModelsFn func(ctx context.Context) ([]string, error)

	// Default response values
	Response string
	Models   []string
	Err      error

	// Call tracking for verification
	mu            sync.Mutex
	GenerateCalls []GenerateCall
	EmbedCalls    [][]string
	ListCalls     int
}

// GenerateCall records one Generate invocation.
type GenerateCall struct {
	Model   string
	Request provider.Request
}

var _ provider.Provider = (*MockProvider)(nil)

// ID implements provider.Provider.
func (m *MockProvider) ID() string {
	if m.IDValue == "" {
		return provider.Gemini
	}
	return m.IDValue
}

// Generate implements provider.Provider.
func (m *MockProvider) Generate(ctx context.Context, model string, req provider.Request) (string, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, GenerateCall{Model: model, Request: req})
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, model, req)
	}
	return m.Response, m.Err
}

// Embed implements provider.Provider. Without EmbedFn it returns
// HashEmbedding vectors.
func (m *MockProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.EmbedCalls = append(m.EmbedCalls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, model, texts)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = HashEmbedding(t, 64)
	}
	return out, nil
}

// ListModels implements provider.Provider.
func (m *MockProvider) ListModels(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.ListCalls++
	m.mu.Unlock()

	if m.ListModelsFn != nil {
		return m.ListModelsFn(ctx)
	}
	return m.Models, m.Err
}

// GenerateCount returns the number of Generate calls so far.
func (m *MockProvider) GenerateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GenerateCalls)
}

// EmbedCount returns the number of Embed calls so far.
func (m *MockProvider) EmbedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.EmbedCalls)
}

// ListCount returns the number of ListModels calls so far.
func (m *MockProvider) ListCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListCalls
}

// Prompts returns the prompts of every Generate call in call order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.GenerateCalls))
	for i, c := range m.GenerateCalls {
		out[i] = c.Request.Prompt
	}
	return out
}

// HashEmbedding is a deterministic bag-of-words embedding: every content
// word of text is hashed into one of dims buckets. Texts sharing words have
// a high cosine similarity; texts sharing none are orthogonal unless their
// words collide.
func HashEmbedding(text string, dims int) []float32 {
	v := make([]float32, dims)
	tokens := textspan.Tokens(text)
	sort.Strings(tokens)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[int(h.Sum32()%uint32(dims))]++
	}
	return v
}
