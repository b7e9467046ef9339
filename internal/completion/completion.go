// Package completion defines the boundary between the router and chat
// completion providers.
package completion

import (
	"context"
	"errors"
	"fmt"

	"time-agent/internal/domain"
	"time-agent/internal/schema"
)

// Request normalizes the arguments of one chat completion call. Zero values
// mean "not set": a nil ResponseFormat, MaxOutputTokens <= 0, empty Tools and
// an empty ToolChoice are omitted from the provider request.
type Request struct {
	Model           string
	Messages        []domain.ChatMessage
	Temperature     float64
	ResponseFormat  *domain.ResponseFormat
	MaxOutputTokens int
	Tools           []domain.ToolDefinition
	ToolChoice      string
}

// Client creates chat completions. Implementations must honor ctx cancellation
// and must be safe for concurrent use.
type Client interface {
	Create(ctx context.Context, req Request) (*domain.Completion, error)
}

// ExtractRequest describes a structured-extraction call whose output must
// satisfy Schema.
type ExtractRequest struct {
	Model       string
	Messages    []domain.ChatMessage
	Temperature float64
	Schema      *schema.Schema
}

// Extractor performs structured extraction into out.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest, out any) error
}

// ExtractionError reports extraction output that could not be decoded into the
// requested shape.
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("completion: structured extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extract runs a structured extraction on top of a plain Client: the schema is
// sent as a json_schema response format and the returned content is validated
// and decoded into out.
func Extract(ctx context.Context, c Client, req ExtractRequest, out any) error {
	if req.Schema == nil {
		return errors.New("completion: extraction schema must not be nil")
	}
	resp, err := c.Create(ctx, Request{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		ResponseFormat: req.Schema.ResponseFormat(),
	})
	if err != nil {
		return err
	}
	raw := resp.Content()
	if err := req.Schema.Decode([]byte(raw), out); err != nil {
		return &ExtractionError{Raw: raw, Err: err}
	}
	return nil
}
