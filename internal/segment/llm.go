package segment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/llmjson"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
)

var spanSchema = llmjson.MustCompile("segment_span.json", `{
	"type": "object",
	"properties": {
		"start": {"type": "integer", "minimum": 0},
		"end": {"type": "integer", "minimum": 0},
		"label": {"type": "string"},
		"text": {"type": "string"},
		"confidence": {"type": "number"}
	},
	"anyOf": [
		{"required": ["start", "end"]},
		{"required": ["text"]}
	]
}`)

type llmSpan struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// byLLM asks the analysis model for labeled spans and keeps the ones that
// can be verified against the text.
func (e *Engine) byLLM(ctx context.Context, req domain.GenerationRequest) ([]domain.TopicSegment, error) {
	labels := make([]string, len(domain.Labels))
	for i, l := range domain.Labels {
		labels[i] = string(l)
	}
	prompt, err := e.pack.Render(prompts.Segmentation, prompts.SegmentationData{Text: req.Text, Labels: labels})
	if err != nil {
		return nil, err
	}

	out, err := e.gateway.Complete(ctx, domain.RoleAnalysis, req.Providers.Analysis, provider.Request{
		System:      e.pack.System,
		Prompt:      prompt,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	items, ok := llmjson.FindArray(out, "segments")
	if !ok {
		return nil, fmt.Errorf("%w: no segment array in response", provider.ErrMalformedResponse)
	}

	var segs []domain.TopicSegment
	for _, raw := range items {
		if !llmjson.Valid(spanSchema, raw) {
			continue
		}
		var s llmSpan
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if seg, ok := verifySpan(req.Text, s); ok {
			segs = append(segs, seg)
		}
	}
	return segs, nil
}

// verifySpan converts a span's rune offsets to byte offsets and checks them
// against the span's text. A span whose offsets do not match is moved to the
// occurrence of its text nearest the claimed start, or dropped.
func verifySpan(text string, s llmSpan) (domain.TopicSegment, bool) {
	seg := domain.TopicSegment{
		Label:      domain.ParseSegmentLabel(s.Label),
		Confidence: clamp01(s.Confidence),
	}
	if s.Confidence == 0 {
		seg.Confidence = 0.5
	}

	start := textspan.RuneToByteOffset(text, s.Start)
	end := textspan.RuneToByteOffset(text, s.End)
	if start < end && (s.Text == "" || textspan.Normalize(text[start:end]) == textspan.Normalize(s.Text)) {
		seg.Start, seg.End = start, end
		return seg, true
	}
	if s.Text == "" {
		return seg, false
	}

	ms, me, ok := textspan.LocateNearest(text, s.Text, start)
	if !ok {
		return seg, false
	}
	seg.Start, seg.End = ms, me
	return seg, true
}
