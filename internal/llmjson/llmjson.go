// Package llmjson extracts and validates JSON objects embedded in model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrNoJSON is returned when the text holds no JSON object.
	ErrNoJSON = errors.New("no json object in output")
	// ErrSchema is returned when the object does not match the schema.
	ErrSchema = errors.New("output does not match schema")
)

// Decoder validates model output against a compiled JSON schema.
type Decoder struct {
	name   string
	schema *jsonschema.Schema
}

// Compile builds a decoder from a JSON schema document.
func Compile(name string, schemaJSON []byte) (*Decoder, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Decoder{name: name, schema: schema}, nil
}

// MustCompile is like Compile but panics on error. It is meant for schemas
// embedded in the binary.
func MustCompile(name string, schemaJSON []byte) *Decoder {
	d, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return d
}

// Decode finds the JSON object in text, validates it and unmarshals it into out.
func (d *Decoder) Decode(text string, out any) error {
	raw, ok := Extract(text)
	if !ok {
		return ErrNoJSON
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrNoJSON, err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w (%s): %w", ErrSchema, d.name, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w (%s): %w", ErrSchema, d.name, err)
	}
	return nil
}

// Extract returns the outermost JSON object in text, skipping any code fences
// or prose around it.
func Extract(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
