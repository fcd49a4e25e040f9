package segment

import (
	"context"
	"errors"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
	"github.com/phrazzld/scry-pipeline/internal/vector"
)

type group struct {
	start, end int
	centroid   vector.Running
}

// byEmbedding merges adjacent sentences while each next sentence stays
// within MergeThreshold cosine similarity of the running centroid.
func (e *Engine) byEmbedding(ctx context.Context, req domain.GenerationRequest) ([]domain.TopicSegment, error) {
	text := req.Text
	spans := textspan.Sentences(text)
	if len(spans) == 0 {
		return nil, ErrNoSegments
	}
	sentences := make([]string, len(spans))
	for i, s := range spans {
		sentences[i] = text[s.Start:s.End]
	}

	vecs, err := e.gateway.EmbedBatch(ctx, req.Providers.Embedding, sentences)
	if err != nil {
		return nil, err
	}

	var groups []*group
	var cur *group
	for i, s := range spans {
		if cur != nil {
			small := cur.end-cur.start < e.opts.MinSegmentChars
			if small || vector.Cosine(vecs[i], cur.centroid.Value()) >= e.opts.MergeThreshold {
				cur.end = s.End
				cur.centroid.Add(vecs[i])
				continue
			}
		}
		cur = &group{start: s.Start, end: s.End}
		cur.centroid.Add(vecs[i])
		groups = append(groups, cur)
	}

	// A short trailing group joins its predecessor.
	if n := len(groups); n > 1 && groups[n-1].end-groups[n-1].start < e.opts.MinSegmentChars {
		groups[n-2].end = groups[n-1].end
		groups = groups[:n-1]
	}

	labels, err := e.labelCentroids(ctx, req.Providers.Embedding)
	if err != nil {
		if errors.Is(err, provider.ErrCancelled) {
			return nil, err
		}
		e.logger.WarnContext(ctx, "label exemplars unavailable, labeling as concept", "error", redact.Error(err))
	}

	segs := make([]domain.TopicSegment, len(groups))
	for i, g := range groups {
		label, conf := nearestLabel(g.centroid.Value(), labels)
		segs[i] = domain.TopicSegment{Start: g.start, End: g.end, Label: label, Confidence: conf}
	}
	return segs, nil
}

type labelCentroid struct {
	label    domain.SegmentLabel
	centroid []float32
}

// labelCentroids embeds the exemplars of every label. The gateway caches
// embeddings, so exemplars are sent to the provider once per model.
func (e *Engine) labelCentroids(ctx context.Context, ref domain.ModelRef) ([]labelCentroid, error) {
	var texts []string
	var owners []domain.SegmentLabel
	for _, l := range domain.Labels {
		for _, ex := range e.pack.Exemplars(string(l)) {
			texts = append(texts, ex)
			owners = append(owners, l)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := e.gateway.EmbedBatch(ctx, ref, texts)
	if err != nil {
		return nil, err
	}
	byLabel := make(map[domain.SegmentLabel][][]float32)
	for i, v := range vecs {
		byLabel[owners[i]] = append(byLabel[owners[i]], v)
	}
	out := make([]labelCentroid, 0, len(byLabel))
	for _, l := range domain.Labels {
		if vs := byLabel[l]; len(vs) > 0 {
			out = append(out, labelCentroid{label: l, centroid: vector.Centroid(vs...)})
		}
	}
	return out, nil
}

// nearestLabel returns the label closest to v and the clamped similarity.
// Without exemplars every segment is a concept.
func nearestLabel(v []float32, labels []labelCentroid) (domain.SegmentLabel, float64) {
	best := domain.LabelConcept
	bestSim := 0.5
	if len(labels) == 0 {
		return best, bestSim
	}
	bestSim = -1
	for _, lc := range labels {
		if sim := vector.Cosine(v, lc.centroid); sim > bestSim {
			best, bestSim = lc.label, sim
		}
	}
	return best, clamp01(bestSim)
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
