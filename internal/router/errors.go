package router

import "fmt"

// ErrorKind classifies a fatal routing failure.
type ErrorKind string

const (
	// KindUnknownTool: the plan names a tool the registry does not hold.
	KindUnknownTool ErrorKind = "unknown_tool"
	// KindMalformedToolArguments: tool_parameters is not JSON, not an object,
	// or does not satisfy the tool's parameter schema.
	KindMalformedToolArguments ErrorKind = "malformed_tool_arguments"
	// KindToolFailed: the tool implementation itself returned an error.
	KindToolFailed ErrorKind = "tool_failed"
)

// Error is a fatal routing failure. Completion transport errors are never
// wrapped in an Error; they are returned as the client produced them.
type Error struct {
	Kind ErrorKind
	// Tool is the planned tool name.
	Tool string
	// Index is the position of the offending call in the plan.
	Index  int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("router: %s: tool %q (call %d)", e.Kind, e.Tool, e.Index)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
