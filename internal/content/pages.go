package content

import "strings"

// Page is one page of text produced by a document extractor. Number is
// informational; pages are used in the order given.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// JoinPages concatenates the non-blank pages with a blank line between
// them. The pipeline treats the result like any other input text.
func JoinPages(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
