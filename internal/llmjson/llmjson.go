// Package llmjson extracts JSON from free-form model output. Models wrap
// JSON in prose and code fences, so parsing starts at every candidate
// bracket until one decodes.
package llmjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FindArray returns the elements of the first well-formed JSON array of
// objects in text. An object holding such an array under one of
// wrapperKeys counts as that array. Arrays holding only scalars, such as a
// citation like [2] in the surrounding prose, are skipped. It reports false when no
// such array exists.
func FindArray(text string, wrapperKeys ...string) ([]json.RawMessage, bool) {
	var found []json.RawMessage
	ok := scanArrays(text, wrapperKeys, func(items []json.RawMessage) bool {
		found = items
		return true
	})
	return found, ok
}

// FindValid returns the elements that satisfy schema from the first array
// of objects in text holding at least one of them, along with the number
// of elements of that array that did not. It reports false when no array
// has a valid element.
func FindValid(text string, schema *jsonschema.Schema, wrapperKeys ...string) ([]json.RawMessage, int, bool) {
	var (
		valid   []json.RawMessage
		dropped int
	)
	ok := scanArrays(text, wrapperKeys, func(items []json.RawMessage) bool {
		valid, dropped = valid[:0], 0
		for _, raw := range items {
			if Valid(schema, raw) {
				valid = append(valid, raw)
			} else {
				dropped++
			}
		}
		return len(valid) > 0
	})
	if !ok {
		return nil, 0, false
	}
	return valid, dropped, true
}

// scanArrays calls accept with every array of objects in text, in order,
// until accept returns true. Arrays inside a rejected value are not
// visited.
func scanArrays(text string, wrapperKeys []string, accept func([]json.RawMessage) bool) bool {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '[' && c != '{' {
			continue
		}
		raw, ok := decodeAt(text, i)
		if !ok {
			continue
		}
		if items, ok := arrayOf(raw, c, wrapperKeys); ok && accept(items) {
			return true
		}
		i += len(raw) - 1
	}
	return false
}

// arrayOf unwraps raw into an array of objects, looking inside wrapperKeys
// when raw is an object.
func arrayOf(raw json.RawMessage, open byte, wrapperKeys []string) ([]json.RawMessage, bool) {
	if open == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || !holdsObjects(items) {
			return nil, false
		}
		return items, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	for _, key := range wrapperKeys {
		var items []json.RawMessage
		if v, ok := obj[key]; ok && json.Unmarshal(v, &items) == nil && holdsObjects(items) {
			return items, true
		}
	}
	return nil, false
}

// holdsObjects reports whether items is empty or has at least one object.
func holdsObjects(items []json.RawMessage) bool {
	if len(items) == 0 {
		return true
	}
	for _, item := range items {
		if item = bytes.TrimSpace(item); len(item) > 0 && item[0] == '{' {
			return true
		}
	}
	return false
}

// FindObject decodes the first well-formed JSON object in text into v.
func FindObject(text string, v any) bool {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		raw, ok := decodeAt(text, i)
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, v); err == nil {
			return true
		}
	}
	return false
}

// decodeAt decodes one JSON value starting at offset i and returns its raw
// bytes.
func decodeAt(text string, i int) (json.RawMessage, bool) {
	dec := json.NewDecoder(strings.NewReader(text[i:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	return bytes.TrimSpace(raw), true
}

// Compile compiles an inline JSON schema.
func Compile(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// MustCompile is like Compile but panics on error. It is meant for schemas
// that are package constants.
func MustCompile(name, src string) *jsonschema.Schema {
	schema, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return schema
}

// Valid reports whether raw decodes and satisfies schema.
func Valid(schema *jsonschema.Schema, raw json.RawMessage) bool {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return schema.Validate(payload) == nil
}
