package domain

import (
	"fmt"
	"strings"
)

// ModelRef identifies a model on a specific provider.
// Its textual form is "provider/model", e.g. "gemini/gemini-2.0-flash".
// Model names may themselves contain slashes; only the first one separates.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ParseModelRef parses the "provider/model" form.
func ParseModelRef(s string) (ModelRef, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || provider == "" || model == "" {
		return ModelRef{}, fmt.Errorf("%w: %q", ErrInvalidModelRef, s)
	}
	return ModelRef{Provider: strings.ToLower(provider), Model: model}, nil
}

// String returns the "provider/model" form.
func (m ModelRef) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Provider + "/" + m.Model
}

// IsZero reports whether no model is selected.
func (m ModelRef) IsZero() bool {
	return m.Provider == "" && m.Model == ""
}

// MarshalText implements encoding.TextMarshaler.
func (m ModelRef) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value leaves
// the ref zero.
func (m *ModelRef) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*m = ModelRef{}
		return nil
	}
	ref, err := ParseModelRef(string(b))
	if err != nil {
		return err
	}
	*m = ref
	return nil
}
