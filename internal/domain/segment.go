package domain

import (
	"fmt"
	"sort"
	"strings"
)

// SegmentLabel is the topic kind of a segment.
type SegmentLabel string

// Segment labels.
const (
	LabelDefinition SegmentLabel = "definition"
	LabelExample    SegmentLabel = "example"
	LabelConcept    SegmentLabel = "concept"
	LabelFormula    SegmentLabel = "formula"
	LabelProcedure  SegmentLabel = "procedure"
	LabelComparison SegmentLabel = "comparison"
)

// Labels lists every label in a stable order.
var Labels = []SegmentLabel{
	LabelDefinition, LabelExample, LabelConcept,
	LabelFormula, LabelProcedure, LabelComparison,
}

// ParseSegmentLabel normalizes a label; unknown labels become Concept.
func ParseSegmentLabel(s string) SegmentLabel {
	l := SegmentLabel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Labels {
		if l == known {
			return l
		}
	}
	return LabelConcept
}

// TopicSegment is a labeled span of the request text. Start and End are byte
// offsets into the UTF-8 text with 0 <= Start < End <= len(text).
type TopicSegment struct {
	Start      int          `json:"start"`
	End        int          `json:"end"`
	Label      SegmentLabel `json:"label"`
	Confidence float64      `json:"confidence"`
}

// WholeText returns the single segment that covers all of text.
func WholeText(text string) []TopicSegment {
	if text == "" {
		return nil
	}
	return []TopicSegment{{Start: 0, End: len(text), Label: LabelConcept, Confidence: 1}}
}

// Text returns the segment's slice of src.
func (s TopicSegment) Text(src string) string {
	return src[s.Start:s.End]
}

// Len returns the segment length in bytes.
func (s TopicSegment) Len() int {
	return s.End - s.Start
}

// Validate checks the segment against a text of the given length.
func (s TopicSegment) Validate(textLen int) error {
	if s.Start < 0 || s.Start >= s.End || s.End > textLen {
		return fmt.Errorf("%w: [%d,%d) outside text of length %d", ErrInvalidSegment, s.Start, s.End, textLen)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f", ErrInvalidSegment, s.Confidence)
	}
	return nil
}

// ValidateSegments checks that segments are individually valid, sorted by
// Start and non-overlapping.
func ValidateSegments(segments []TopicSegment, textLen int) error {
	for i, s := range segments {
		if err := s.Validate(textLen); err != nil {
			return err
		}
		if i > 0 && s.Start < segments[i-1].End {
			return fmt.Errorf("%w: segment %d overlaps or precedes segment %d", ErrInvalidSegment, i, i-1)
		}
	}
	return nil
}

// SortSegments orders segments by Start, then by End.
func SortSegments(segments []TopicSegment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Start == segments[j].Start {
			return segments[i].End < segments[j].End
		}
		return segments[i].Start < segments[j].Start
	})
}
