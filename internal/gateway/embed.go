package gateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/phrazzld/scry-pipeline/internal/cache"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// CanEmbed reports whether an embedding call for ref has any provider to go
// to. A zero ref means no embedding model is configured.
func (g *Gateway) CanEmbed(ref domain.ModelRef) bool {
	if ref.IsZero() {
		return false
	}
	return len(g.chain(domain.RoleEmbedding, ref)) > 0
}

// Embed returns the embedding of a single text.
func (g *Gateway) Embed(ctx context.Context, ref domain.ModelRef, text string) ([]float32, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: no embedding model selected", provider.ErrUnsupported)
	}
	return fallback(ctx, g, domain.RoleEmbedding, ref, func(ctx context.Context, t target) ([]float32, error) {
		v, _, err := g.cached(ctx, cache.KindEmbedding, embeddingKey(t, text), cache.NoExpiry,
			func(ctx context.Context) ([]byte, error) {
				vs, err := g.embedOn(ctx, t, []string{text})
				if err != nil {
					return nil, err
				}
				return encodeVector(vs[0]), nil
			})
		if err != nil {
			return nil, err
		}
		return decodeVector(v)
	})
}

// EmbedBatch returns one embedding per text, in input order. Texts already
// cached are not sent to the provider and duplicates are embedded once.
func (g *Gateway) EmbedBatch(ctx context.Context, ref domain.ModelRef, texts []string) ([][]float32, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: no embedding model selected", provider.ErrUnsupported)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return fallback(ctx, g, domain.RoleEmbedding, ref, func(ctx context.Context, t target) ([][]float32, error) {
		out := make([][]float32, len(texts))
		var missing []string
		pending := make(map[string][]int)

		for i, text := range texts {
			if v, ok := g.cache.Get(ctx, cache.KindEmbedding, embeddingKey(t, text)); ok {
				if vec, err := decodeVector(v); err == nil {
					out[i] = vec
					continue
				}
			}
			if _, queued := pending[text]; !queued {
				missing = append(missing, text)
			}
			pending[text] = append(pending[text], i)
		}
		if len(missing) == 0 {
			return out, nil
		}

		vs, err := g.embedOn(ctx, t, missing)
		if err != nil {
			return nil, err
		}
		for j, text := range missing {
			if err := g.cache.Set(ctx, cache.KindEmbedding, embeddingKey(t, text), encodeVector(vs[j]), cache.NoExpiry); err != nil {
				return nil, err
			}
			for _, i := range pending[text] {
				out[i] = vs[j]
			}
		}
		return out, nil
	})
}

func (g *Gateway) embedOn(ctx context.Context, t target, texts []string) ([][]float32, error) {
	vs, err := callWithRetry(ctx, g, t, "embed", func(ctx context.Context) ([][]float32, error) {
		return t.route.Provider.Embed(ctx, t.model, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts",
			provider.ErrMalformedResponse, t.id, len(vs), len(texts))
	}
	return vs, nil
}

func embeddingKey(t target, text string) string {
	return cache.Key("embedding", t.id, t.model, text)
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: cached vector has %d bytes", provider.ErrMalformedResponse, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func encodeModels(models []string) ([]byte, error) {
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	sorted := make([]string, 0, len(set))
	for m := range set {
		sorted = append(sorted, m)
	}
	sort.Strings(sorted)
	return json.Marshal(sorted)
}

func decodeModels(b []byte) ([]string, error) {
	var models []string
	if err := json.Unmarshal(b, &models); err != nil {
		return nil, fmt.Errorf("%w: cached model list: %v", provider.ErrMalformedResponse, err)
	}
	return models, nil
}
