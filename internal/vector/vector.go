// Package vector holds the small amount of linear algebra the pipeline needs
// for embedding comparison.
package vector

import "math"

// Normalize returns v scaled to unit L2 length. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot returns the dot product of a and b over their common length.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Cosine returns the cosine similarity of a and b, computed as the dot
// product of the L2-normalized vectors. Mismatched or empty vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	sim := Dot(Normalize(a), Normalize(b))
	return math.Max(-1, math.Min(1, sim))
}

// Centroid returns the element-wise mean of vs. All vectors must share a
// length; shorter vectors contribute zeros past their end.
func Centroid(vs ...[]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := 0
	for _, v := range vs {
		dim = max(dim, len(v))
	}
	out := make([]float32, dim)
	for _, v := range vs {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float32(len(vs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Blend returns unit(a) + weight*unit(b). A nil b leaves unit(a).
func Blend(a, b []float32, weight float64) []float32 {
	out := Normalize(a)
	if len(b) == 0 {
		return out
	}
	nb := Normalize(b)
	for i := range out {
		if i < len(nb) {
			out[i] += float32(weight * float64(nb[i]))
		}
	}
	return out
}

// Running keeps an incrementally updated centroid.
type Running struct {
	sum   []float64
	count int
}

// Add folds v into the centroid.
func (r *Running) Add(v []float32) {
	if r.sum == nil {
		r.sum = make([]float64, len(v))
	}
	for i := 0; i < len(v) && i < len(r.sum); i++ {
		r.sum[i] += float64(v[i])
	}
	r.count++
}

// Count returns the number of vectors added.
func (r *Running) Count() int {
	return r.count
}

// Value returns the current centroid.
func (r *Running) Value() []float32 {
	out := make([]float32, len(r.sum))
	if r.count == 0 {
		return out
	}
	for i, s := range r.sum {
		out[i] = float32(s / float64(r.count))
	}
	return out
}
