// Package prompts loads the prompt pack: the templates sent to the models,
// the quality checklist, the label exemplars used for segment labeling and
// the phrases the quality gate treats as meta-content.
package prompts

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	Analysis     = "analysis"
	Segmentation = "segmentation"
	Generation   = "generation"
	Rewrite      = "rewrite"
	Validation   = "validation"
)

// Checklist delimiters. The block between them is instructions for the
// model and never source material.
const (
	ChecklistOpen  = "<<<QUALITY CHECKLIST (instructions, not source material)"
	ChecklistClose = "END QUALITY CHECKLIST>>>"
)

// ErrInvalidPack is returned when a pack is missing a template or a template
// does not parse.
var ErrInvalidPack = errors.New("invalid prompt pack")

//go:embed default.yaml
var defaultPack []byte

// Pack is a parsed prompt pack. It is immutable after Load.
type Pack struct {
	Checklist      string              `yaml:"checklist"`
	System         string              `yaml:"system"`
	Analysis       string              `yaml:"analysis"`
	Segmentation   string              `yaml:"segmentation"`
	Generation     string              `yaml:"generation"`
	Rewrite        string              `yaml:"rewrite"`
	Validation     string              `yaml:"validation"`
	LabelExemplars map[string][]string `yaml:"label_exemplars"`
	BannedPhrases  []string            `yaml:"banned_phrases"`

	templates map[string]*template.Template
}

// AnalysisData feeds the analysis template.
type AnalysisData struct {
	Text      string
	Truncated bool
}

// SegmentationData feeds the segmentation template.
type SegmentationData struct {
	Text   string
	Labels []string
}

// GenerationData feeds the generation template and custom generation
// templates supplied with a request.
type GenerationData struct {
	Segment      string
	Context      string
	CardType     string
	Difficulty   string
	DeckHints    []string
	DesiredCount int
	ExamMode     bool
	Label        string
	Guidelines   string
	Checklist    string
}

// CardData feeds the rewrite and validation templates.
type CardData struct {
	Front     string
	Back      string
	Evidence  string
	Segment   string
	Issues    []string
	Checklist string
}

// Default returns the embedded pack.
func Default() (*Pack, error) {
	return Load("")
}

// Load parses the embedded pack and, when path is set, overlays the YAML
// file at path on top of it.
func Load(path string) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(defaultPack, &p); err != nil {
		return nil, fmt.Errorf("%w: embedded pack: %v", ErrInvalidPack, err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt pack %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPack, path, err)
		}
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Funcs are the template functions available to every template, including
// custom templates supplied with a request.
var Funcs = template.FuncMap{
	"join": strings.Join,
	"json": func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	},
}

func (p *Pack) compile() error {
	if strings.TrimSpace(p.Checklist) == "" {
		return fmt.Errorf("%w: checklist is empty", ErrInvalidPack)
	}
	sources := map[string]string{
		Analysis:     p.Analysis,
		Segmentation: p.Segmentation,
		Generation:   p.Generation,
		Rewrite:      p.Rewrite,
		Validation:   p.Validation,
	}
	p.templates = make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("%w: template %q is empty", ErrInvalidPack, name)
		}
		tmpl, err := template.New(name).Funcs(Funcs).Option("missingkey=error").Parse(src)
		if err != nil {
			return fmt.Errorf("%w: template %q: %v", ErrInvalidPack, name, err)
		}
		p.templates[name] = tmpl
	}
	return nil
}

// Render executes the named template with data.
func (p *Pack) Render(name string, data any) (string, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown template %q", ErrInvalidPack, name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// RenderCustom executes a caller supplied template. Text that does not parse
// or execute as a template is used literally.
func RenderCustom(src string, data any) string {
	tmpl, err := template.New("custom").Funcs(Funcs).Parse(src)
	if err != nil {
		return src
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return src
	}
	return strings.TrimSpace(b.String())
}

// ChecklistBlock returns the checklist wrapped in its delimiters.
func (p *Pack) ChecklistBlock() string {
	return ChecklistOpen + "\n" + strings.TrimSpace(p.Checklist) + "\n" + ChecklistClose
}

// ChecklistItems returns the checklist lines without list markers.
func (p *Pack) ChecklistItems() []string {
	var items []string
	for _, line := range strings.Split(p.Checklist, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// Exemplars returns the exemplar sentences of label.
func (p *Pack) Exemplars(label string) []string {
	return p.LabelExemplars[label]
}
