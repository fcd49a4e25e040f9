package segment

import (
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// normalize enforces the segment invariants: every segment inside text and
// trimmed of surrounding whitespace, overlaps resolved in favour of the more
// confident segment, sorted by start and at most maxSegments long.
func normalize(text string, segs []domain.TopicSegment, maxSegments int) []domain.TopicSegment {
	var valid []domain.TopicSegment
	for _, s := range segs {
		s.Start = max(0, s.Start)
		s.End = min(len(text), s.End)
		if s.Start >= s.End {
			continue
		}
		if s, ok := trim(text, s); ok {
			valid = append(valid, s)
		}
	}

	// Most confident first; ties go to the longer and then the earlier span.
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Confidence != valid[j].Confidence {
			return valid[i].Confidence > valid[j].Confidence
		}
		if valid[i].Len() != valid[j].Len() {
			return valid[i].Len() > valid[j].Len()
		}
		return valid[i].Start < valid[j].Start
	})

	var kept []domain.TopicSegment
	for _, s := range valid {
		if clipped, ok := clip(text, s, kept); ok {
			kept = append(kept, clipped)
		}
	}
	domain.SortSegments(kept)

	for len(kept) > maxSegments && maxSegments > 0 {
		kept = mergeSmallestPair(kept)
	}
	return kept
}

// clip returns the longest part of s not covered by any kept segment.
func clip(text string, s domain.TopicSegment, kept []domain.TopicSegment) (domain.TopicSegment, bool) {
	pieces := [][2]int{{s.Start, s.End}}
	for _, k := range kept {
		var next [][2]int
		for _, p := range pieces {
			if k.End <= p[0] || k.Start >= p[1] {
				next = append(next, p)
				continue
			}
			if p[0] < k.Start {
				next = append(next, [2]int{p[0], k.Start})
			}
			if k.End < p[1] {
				next = append(next, [2]int{k.End, p[1]})
			}
		}
		pieces = next
	}

	best, found := domain.TopicSegment{}, false
	for _, p := range pieces {
		cand := s
		cand.Start, cand.End = p[0], p[1]
		cand, ok := trim(text, cand)
		if ok && (!found || cand.Len() > best.Len()) {
			best, found = cand, true
		}
	}
	return best, found
}

// trim shrinks s to exclude surrounding whitespace. It reports false when
// nothing but whitespace remains.
func trim(text string, s domain.TopicSegment) (domain.TopicSegment, bool) {
	for s.Start < s.End {
		r, size := utf8.DecodeRuneInString(text[s.Start:s.End])
		if !unicode.IsSpace(r) {
			break
		}
		s.Start += size
	}
	for s.End > s.Start {
		r, size := utf8.DecodeLastRuneInString(text[s.Start:s.End])
		if !unicode.IsSpace(r) {
			break
		}
		s.End -= size
	}
	return s, s.Start < s.End
}

// mergeSmallestPair merges the adjacent pair with the smallest combined
// length. The merged segment keeps the label of the longer part and the
// length weighted confidence of both.
func mergeSmallestPair(segs []domain.TopicSegment) []domain.TopicSegment {
	if len(segs) < 2 {
		return segs
	}
	best := 0
	for i := 1; i < len(segs)-1; i++ {
		if segs[i].Len()+segs[i+1].Len() < segs[best].Len()+segs[best+1].Len() {
			best = i
		}
	}
	a, b := segs[best], segs[best+1]
	merged := domain.TopicSegment{Start: a.Start, End: b.End, Label: a.Label}
	if b.Len() > a.Len() {
		merged.Label = b.Label
	}
	total := float64(a.Len() + b.Len())
	merged.Confidence = (a.Confidence*float64(a.Len()) + b.Confidence*float64(b.Len())) / total

	out := make([]domain.TopicSegment, 0, len(segs)-1)
	out = append(out, segs[:best]...)
	out = append(out, merged)
	return append(out, segs[best+2:]...)
}
