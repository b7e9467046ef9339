// Package schema holds the JSON Schema contracts exchanged with the model and
// validates model output against them.
//
// Three contracts are compiled at init time:
//
//   - [Intent]: {"intent": "tool_call"|"normal_request"}
//   - [ToolCallPlan]: {"tool_calls": [{input_text, tool_name, tool_parameters}]}
//   - [TimeConversion]: {input_text, output_text, source, targets[]}
//
// Field names and nesting are fixed; the model output must satisfy them exactly.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"time-agent/internal/domain"
)

var (
	//go:embed schemas/intent.json
	intentJSON []byte
	//go:embed schemas/tool_call_plan.json
	toolCallPlanJSON []byte
	//go:embed schemas/time_conversion.json
	timeConversionJSON []byte
)

var (
	Intent         = MustCompile("intent-response", intentJSON)
	ToolCallPlan   = MustCompile("tool-call-plan", toolCallPlanJSON)
	TimeConversion = MustCompile("time-conversion-response", timeConversionJSON)
)

// Schema is a named JSON Schema document with its compiled validator.
type Schema struct {
	name     string
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Name returns the schema name used in response formats.
func (s *Schema) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Raw returns the schema document as JSON.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}

// ResponseFormat returns the json_schema response format for this schema.
func (s *Schema) ResponseFormat() *domain.ResponseFormat {
	if s == nil {
		return nil
	}
	return &domain.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &domain.JSONSchemaFormat{
			Name:   s.name,
			Schema: s.raw,
		},
	}
}

// ParseError reports content that is not valid JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema: parse JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports a JSON document that does not satisfy the schema.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate validates an already decoded JSON value.
func (s *Schema) Validate(v any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if err := s.compiled.Validate(v); err != nil {
		return &ValidationError{Schema: s.name, Err: err}
	}
	return nil
}

// Parse decodes data and validates it. It returns a *ParseError when data is
// not JSON and a *ValidationError when it is JSON of the wrong shape; in the
// latter case the decoded value is still returned for diagnostics.
func (s *Schema) Parse(data []byte) (any, error) {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Raw: string(data), Err: err}
	}
	if err := s.Validate(v); err != nil {
		return v, err
	}
	return v, nil
}

// Decode validates data and unmarshals it into out.
func (s *Schema) Decode(data []byte, out any) error {
	if _, err := s.Parse(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("schema: decode %s: %w", s.Name(), err)
	}
	return nil
}

// Compile compiles a JSON Schema document.
func Compile(name string, raw []byte) (*Schema, error) {
	if name == "" {
		return nil, errors.New("schema: name must not be empty")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", name, err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	return &Schema{
		name:     name,
		raw:      json.RawMessage(raw),
		compiled: compiled,
	}, nil
}

// CompileMap compiles a schema given as a decoded map, e.g. tool parameters.
func CompileMap(name string, doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal %s: %w", name, err)
	}
	return Compile(name, raw)
}

// MustCompile is like Compile but panics on error. Use it for schemas defined at init time.
func MustCompile(name string, raw []byte) *Schema {
	s, err := Compile(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}
