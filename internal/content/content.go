// Package content resolves which part of a document a run generates cards
// from: the selection, the highlights or the full text, in that order.
package content

import (
	"sort"
	"strings"
)

// Source names where resolved content came from.
type Source string

// Content sources.
const (
	SourceSelection Source = "selection"
	SourceHighlight Source = "highlight"
	SourceFull      Source = "full"
	SourceEmpty     Source = "empty"
)

// Highlight is a highlighted span of a document. Start and End order the
// highlights; Text is used as-is.
type Highlight struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Document is the editor state a run starts from.
type Document struct {
	FullText   string      `json:"full_text"`
	Selection  string      `json:"selection,omitempty"`
	Highlights []Highlight `json:"highlights,omitempty"`
}

// Resolution is the content chosen for a run.
type Resolution struct {
	Source       Source `json:"source"`
	Content      string `json:"content"`
	UsedFallback bool   `json:"used_fallback"`
}

// Empty reports whether nothing usable was found.
func (r Resolution) Empty() bool {
	return r.Source == SourceEmpty
}

// Resolve picks the narrowest non-blank content of doc. UsedFallback is set
// whenever something wider than a selection was used.
func Resolve(doc Document) Resolution {
	if strings.TrimSpace(doc.Selection) != "" {
		return Resolution{Source: SourceSelection, Content: strings.TrimSpace(doc.Selection)}
	}
	if joined := joinHighlights(doc.Highlights); joined != "" {
		return Resolution{Source: SourceHighlight, Content: joined, UsedFallback: true}
	}
	if strings.TrimSpace(doc.FullText) != "" {
		return Resolution{Source: SourceFull, Content: strings.TrimSpace(doc.FullText), UsedFallback: true}
	}
	return Resolution{Source: SourceEmpty, UsedFallback: true}
}

// joinHighlights orders highlights by position, drops blank and repeated
// ones and joins the rest with a blank line.
func joinHighlights(highlights []Highlight) string {
	if len(highlights) == 0 {
		return ""
	}
	sorted := append([]Highlight(nil), highlights...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	seen := make(map[string]bool, len(sorted))
	parts := make([]string, 0, len(sorted))
	for _, h := range sorted {
		text := strings.TrimSpace(h.Text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}
