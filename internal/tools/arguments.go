package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Reasons carried by ArgumentError.
const (
	ReasonMalformedJSON   = "malformed_json"
	ReasonNotAnObject     = "not_an_object"
	ReasonSchemaViolation = "schema_violation"
)

// Arguments is a decoded tool parameter object. Numbers are kept as json.Number.
type Arguments map[string]any

// String returns the named argument when it is a string.
func (a Arguments) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

// ArgumentError distinguishes malformed JSON from valid JSON of the wrong shape.
type ArgumentError struct {
	Reason string
	Err    error
}

func (e *ArgumentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tools: invalid arguments (%s)", e.Reason)
	}
	return fmt.Sprintf("tools: invalid arguments (%s): %v", e.Reason, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// ParseArguments decodes the JSON-encoded parameter string of a planned call.
// Blank input yields an empty object.
func ParseArguments(raw string) (Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Arguments{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ArgumentError{Reason: ReasonMalformedJSON, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &ArgumentError{Reason: ReasonMalformedJSON, Err: errors.New("trailing data after JSON value")}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ArgumentError{Reason: ReasonNotAnObject, Err: fmt.Errorf("got %s", jsonKind(v))}
	}
	return Arguments(obj), nil
}

// Encode returns the canonical JSON encoding of the arguments.
func (a Arguments) Encode() (string, error) {
	if a == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(a)); err != nil {
		return "", fmt.Errorf("tools: encode arguments: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
