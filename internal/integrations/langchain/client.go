// Package langchain adapts any langchaingo llms.Model to the completion
// boundary, so providers without an OpenAI-compatible endpoint can back the
// router.
package langchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"time-agent/internal/completion"
	"time-agent/internal/domain"
)

// Client implements completion.Client and completion.Extractor on top of an
// llms.Model.
type Client struct {
	model llms.Model
}

func New(model llms.Model) (*Client, error) {
	if model == nil {
		return nil, errors.New("langchain: model must not be nil")
	}
	return &Client{model: model}, nil
}

// Unwrap returns the underlying llms.Model.
func (c *Client) Unwrap() llms.Model {
	return c.model
}

// Create issues one GenerateContent call. A json_schema response format is
// sent as JSON mode plus a system instruction carrying the schema, since
// langchaingo has no portable structured-output option.
func (c *Client) Create(ctx context.Context, req completion.Request) (*domain.Completion, error) {
	if req.Model == "" {
		return nil, errors.New("langchain: model must not be empty")
	}
	msgs, err := toMessageContent(req.Messages)
	if err != nil {
		return nil, err
	}

	opts := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxOutputTokens))
	}
	if req.ResponseFormat != nil {
		opts = append(opts, llms.WithJSONMode())
		if instr, err := schemaInstruction(req.ResponseFormat); err != nil {
			return nil, err
		} else if instr != "" {
			msgs = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, instr)}, msgs...)
		}
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toTools(req.Tools)))
		if req.ToolChoice != "" {
			opts = append(opts, llms.WithToolChoice(req.ToolChoice))
		}
	}

	resp, err := c.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("langchain: no choices in response")
	}
	return toCompletion(req.Model, resp), nil
}

// Extract performs structured extraction with the schema as instruction.
func (c *Client) Extract(ctx context.Context, req completion.ExtractRequest, out any) error {
	return completion.Extract(ctx, c, req, out)
}

func schemaInstruction(rf *domain.ResponseFormat) (string, error) {
	if rf.JSONSchema == nil || rf.JSONSchema.Schema == nil {
		return "Respond with a single JSON object only.", nil
	}
	raw, err := json.Marshal(rf.JSONSchema.Schema)
	if err != nil {
		return "", fmt.Errorf("langchain: marshal response schema: %w", err)
	}
	return strings.Join([]string{
		"Respond with a single JSON object only, no prose and no code fences.",
		fmt.Sprintf("The object must satisfy the JSON Schema %q:", rf.JSONSchema.Name),
		string(raw),
	}, "\n"), nil
}

func toMessageContent(in []domain.ChatMessage) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in))
	for i, m := range in {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text()))
		case domain.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Text()))
		case domain.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != nil {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: *m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, mc)
		case domain.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Text(),
				}},
			})
		default:
			return nil, fmt.Errorf("langchain: message %d has unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

func toTools(defs []domain.ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llms.Tool{
			Type: d.Type,
			Function: &llms.FunctionDefinition{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		})
	}
	return out
}

func toCompletion(model string, resp *llms.ContentResponse) *domain.Completion {
	out := &domain.Completion{
		Object:  "chat.completion",
		Model:   model,
		Choices: make([]domain.Choice, 0, len(resp.Choices)),
	}
	for i, ch := range resp.Choices {
		content := ch.Content
		msg := domain.ChatMessage{Role: domain.RoleAssistant, Content: &content}
		for _, tc := range ch.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: domain.FunctionCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments},
			})
		}
		out.Choices = append(out.Choices, domain.Choice{Index: i, Message: msg, FinishReason: ch.StopReason})
	}
	if info := resp.Choices[0].GenerationInfo; info != nil {
		out.Usage.PromptTokens = firstInt(info, "PromptTokens", "InputTokens", "input_tokens")
		out.Usage.CompletionTokens = firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens")
		out.Usage.TotalTokens = firstInt(info, "TotalTokens", "total_tokens")
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
		}
	}
	return out
}

// firstInt returns the first positive integer stored under one of keys.
// Providers disagree on key names and numeric types.
func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		var n int
		switch v := info[k].(type) {
		case int:
			n = v
		case int32:
			n = int(v)
		case int64:
			n = int(v)
		case float64:
			n = int(v)
		}
		if n > 0 {
			return n
		}
	}
	return 0
}
