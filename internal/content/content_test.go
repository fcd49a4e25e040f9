package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want Resolution
	}{
		{
			name: "selection wins",
			doc: Document{
				FullText:   "Full text.",
				Selection:  "  Selected part. ",
				Highlights: []Highlight{{Start: 0, End: 4, Text: "Full"}},
			},
			want: Resolution{Source: SourceSelection, Content: "Selected part."},
		},
		{
			name: "highlights in document order without duplicates",
			doc: Document{
				FullText: "ignored",
				Highlights: []Highlight{
					{Start: 40, End: 50, Text: "second"},
					{Start: 5, End: 10, Text: "first"},
					{Start: 60, End: 70, Text: "second"},
					{Start: 80, End: 81, Text: "  "},
				},
			},
			want: Resolution{Source: SourceHighlight, Content: "first\n\nsecond", UsedFallback: true},
		},
		{
			name: "blank selection falls back to full text",
			doc:  Document{FullText: "Mitochondria produce ATP.\n", Selection: "   "},
			want: Resolution{Source: SourceFull, Content: "Mitochondria produce ATP.", UsedFallback: true},
		},
		{
			name: "nothing usable",
			doc:  Document{FullText: " \n\t"},
			want: Resolution{Source: SourceEmpty, UsedFallback: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.doc)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.Source == SourceEmpty, got.Empty())
		})
	}
}

func TestJoinPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "  Chapter one.\n"},
		{Number: 2, Text: "   "},
		{Number: 3, Text: "Chapter two."},
	}
	assert.Equal(t, "Chapter one.\n\nChapter two.", JoinPages(pages))
	assert.Empty(t, JoinPages(nil))
}
