package sink

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// Rendered holds the HTML of a card's fields.
type Rendered struct {
	FrontHTML string
	BackHTML  string
}

// Renderer converts card fields from markdown to HTML. Raw HTML in a field
// is not passed through.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))}
}

// Render converts both sides of c.
func (r *Renderer) Render(c domain.ExportCard) (Rendered, error) {
	front, err := r.Field(c.Front)
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render front: %w", err)
	}
	back, err := r.Field(c.Back)
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render back: %w", err)
	}
	return Rendered{FrontHTML: front, BackHTML: back}, nil
}

// Field converts one field. A field that renders to a single paragraph is
// returned without the enclosing <p> element.
func (r *Renderer) Field(md string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return out, nil
}
