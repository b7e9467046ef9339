// Package router runs one LLM exchange: it classifies the request, optionally
// plans and executes tool calls, and returns the final completion.
//
// The state machine is CLASSIFY -> TOOL_FLOW | CHAT_FLOW -> DONE. A Router
// holds no per-request state and is safe for concurrent use.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"time-agent/internal/completion"
	"time-agent/internal/domain"
	"time-agent/internal/schema"
	"time-agent/internal/tools"
)

const previewLimit = 200

// Reasons recorded when the classifier output is unusable.
const (
	ReasonInvalidJSON        = "invalid_json"
	ReasonNotAnObject        = "not_an_object"
	ReasonMissingIntentField = "missing_intent_field"
)

// Flow names the branch that produced the final completion.
type Flow string

const (
	FlowChat Flow = "chat"
	FlowTool Flow = "tool"
	// FlowChatFallback is the chat flow entered after an empty tool plan.
	FlowChatFallback Flow = "chat_fallback"
)

// Registry resolves planned tool names. *tools.Registry satisfies it.
type Registry interface {
	Lookup(name string) (*tools.Entry, bool)
	Len() int
}

// Request holds the inputs of one routing pass.
type Request struct {
	IntentMessages []domain.ChatMessage
	IntentSchema   *schema.Schema

	Messages       []domain.ChatMessage
	Model          string
	Temperature    float64
	ResponseSchema *schema.Schema

	// Tools and Registry must both be non-empty for the tool flow to run.
	Tools    []domain.ToolDefinition
	Registry Registry

	MaxOutputTokens int
}

// Classification is the outcome of the CLASSIFY step. When Defaulted is set
// the classifier output was unusable and Intent is normal_request; Reason
// says why.
type Classification struct {
	Intent    string
	Defaulted bool
	Reason    string
}

// Result is the sole output of Route.
type Result struct {
	Intent     Classification
	Completion *domain.Completion
	Flow       Flow
	// Transcript is the message sequence sent with the final completion call.
	Transcript []domain.ChatMessage
}

type Option func(*Router)

func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator overrides the tool call id source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) {
		if fn != nil {
			r.newID = fn
		}
	}
}

type Router struct {
	client    completion.Client
	extractor completion.Extractor
	log       *zap.Logger
	newID     func() string
}

// New builds a Router. The extractor is used only to plan tool calls.
func New(client completion.Client, extractor completion.Extractor, opts ...Option) (*Router, error) {
	if client == nil {
		return nil, errors.New("router: completion client must not be nil")
	}
	if extractor == nil {
		return nil, errors.New("router: extractor must not be nil")
	}
	r := &Router{
		client:    client,
		extractor: extractor,
		log:       zap.NewNop(),
		newID:     func() string { return "call_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Route runs the routing state machine. Completion errors are returned
// unmodified; unknown tools, malformed tool arguments and failing tools are
// returned as *Error. Nothing is retried.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	if len(req.IntentMessages) == 0 {
		return nil, errors.New("router: intent messages must not be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("router: chat messages must not be empty")
	}

	r.log.Info("starting routed conversation",
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("has_tools", len(req.Tools) > 0))

	intent, err := r.classify(ctx, req)
	if err != nil {
		return nil, err
	}

	needsTools := intent.Intent == domain.IntentToolCall && len(req.Tools) > 0 &&
		req.Registry != nil && req.Registry.Len() > 0
	r.log.Info("intent classified",
		zap.String("intent", intent.Intent),
		zap.Bool("defaulted", intent.Defaulted),
		zap.String("reason", intent.Reason),
		zap.Bool("needs_tools", needsTools))

	var (
		res  *domain.Completion
		flow Flow
		sent []domain.ChatMessage
	)
	if needsTools {
		res, flow, sent, err = r.toolFlow(ctx, req)
	} else {
		flow, sent = FlowChat, req.Messages
		res, err = r.finalCompletion(ctx, req, sent)
	}
	if err != nil {
		return nil, err
	}

	r.log.Info("completed routed conversation",
		zap.String("flow", string(flow)),
		zap.String("preview", Preview(res.Content())))
	return &Result{Intent: intent, Completion: res, Flow: flow, Transcript: sent}, nil
}

func (r *Router) classify(ctx context.Context, req Request) (Classification, error) {
	res, err := r.client.Create(ctx, completion.Request{
		Model:           req.Model,
		Messages:        req.IntentMessages,
		Temperature:     req.Temperature,
		ResponseFormat:  req.IntentSchema.ResponseFormat(),
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return Classification{}, err
	}
	c := Classify(res.Content())
	if c.Defaulted {
		r.log.Warn("intent classification unusable, defaulting",
			zap.String("reason", c.Reason),
			zap.String("raw", Preview(res.Content())))
	} else if c.Intent != domain.IntentToolCall && c.Intent != domain.IntentNormalRequest {
		r.log.Warn("unrecognized intent, routing to chat flow", zap.String("intent", c.Intent))
	}
	return c, nil
}

// Classify interprets classifier output. It never fails: unusable output
// defaults to normal_request. Any string intent is accepted verbatim.
func Classify(content string) Classification {
	content = strings.TrimSpace(content)
	if content == "" {
		content = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return defaulted(ReasonInvalidJSON)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return defaulted(ReasonNotAnObject)
	}
	intent, ok := obj["intent"].(string)
	if !ok {
		return defaulted(ReasonMissingIntentField)
	}
	return Classification{Intent: intent}
}

func defaulted(reason string) Classification {
	return Classification{Intent: domain.IntentNormalRequest, Defaulted: true, Reason: reason}
}

type resolvedCall struct {
	entry *tools.Entry
	args  tools.Arguments
	call  domain.ToolCall
}

func (r *Router) toolFlow(ctx context.Context, req Request) (*domain.Completion, Flow, []domain.ChatMessage, error) {
	r.log.Info("planning tool calls", zap.String("model", req.Model))

	var plan domain.ToolCallPlan
	if err := r.extractor.Extract(ctx, completion.ExtractRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Schema:      schema.ToolCallPlan,
	}, &plan); err != nil {
		return nil, "", nil, err
	}

	if len(plan.ToolCalls) == 0 {
		r.log.Info("empty tool plan, falling back to chat flow")
		res, err := r.finalCompletion(ctx, req, req.Messages)
		return res, FlowChatFallback, req.Messages, err
	}

	// Every call is resolved before any tool runs.
	resolved := make([]resolvedCall, 0, len(plan.ToolCalls))
	for i, pc := range plan.ToolCalls {
		rc, err := r.resolve(i, pc, req.Registry)
		if err != nil {
			return nil, "", nil, err
		}
		resolved = append(resolved, rc)
	}

	calls := make([]domain.ToolCall, 0, len(resolved))
	results := make([]domain.ChatMessage, 0, len(resolved))
	for i, rc := range resolved {
		r.log.Info("executing tool",
			zap.String("tool", rc.entry.Name()),
			zap.String("call_id", rc.call.ID),
			zap.String("arguments", rc.call.Function.Arguments))

		out, err := tools.Invoke(ctx, rc.entry.Impl(), rc.args)
		if err != nil {
			kind := KindToolFailed
			var argErr *tools.ArgumentError
			if errors.As(err, &argErr) {
				kind = KindMalformedToolArguments
			}
			return nil, "", nil, &Error{Kind: kind, Tool: rc.entry.Name(), Index: i, Err: err}
		}
		output := tools.Stringify(out)
		r.log.Info("tool completed",
			zap.String("tool", rc.entry.Name()),
			zap.String("preview", Preview(output)))

		calls = append(calls, rc.call)
		results = append(results, domain.ToolResultMessage(rc.call.ID, rc.entry.Name(), output))
	}

	transcript := make([]domain.ChatMessage, 0, len(req.Messages)+1+len(results))
	transcript = append(transcript, req.Messages...)
	transcript = append(transcript, domain.AssistantToolCallMessage(calls))
	transcript = append(transcript, results...)

	res, err := r.finalCompletion(ctx, req, transcript)
	return res, FlowTool, transcript, err
}

func (r *Router) resolve(i int, pc domain.ToolCallRequest, reg Registry) (resolvedCall, error) {
	entry, ok := reg.Lookup(pc.ToolName)
	if !ok {
		return resolvedCall{}, &Error{Kind: KindUnknownTool, Tool: pc.ToolName, Index: i}
	}
	args, err := tools.ParseArguments(pc.ToolParameters)
	if err != nil {
		return resolvedCall{}, malformed(i, pc.ToolName, err)
	}
	if err := entry.ValidateArguments(args); err != nil {
		return resolvedCall{}, malformed(i, pc.ToolName, err)
	}
	encoded, err := args.Encode()
	if err != nil {
		return resolvedCall{}, malformed(i, pc.ToolName, err)
	}
	return resolvedCall{
		entry: entry,
		args:  args,
		call: domain.ToolCall{
			ID:       r.newID(),
			Type:     "function",
			Function: domain.FunctionCall{Name: entry.Name(), Arguments: encoded},
		},
	}, nil
}

func malformed(i int, name string, err error) *Error {
	e := &Error{Kind: KindMalformedToolArguments, Tool: name, Index: i, Err: err}
	var argErr *tools.ArgumentError
	if errors.As(err, &argErr) {
		e.Reason = argErr.Reason
	}
	return e
}

// finalCompletion issues the chat-flow call. Tools are never offered here:
// tool execution is single-round and already finished when this runs.
func (r *Router) finalCompletion(ctx context.Context, req Request, msgs []domain.ChatMessage) (*domain.Completion, error) {
	return r.client.Create(ctx, completion.Request{
		Model:           req.Model,
		Messages:        msgs,
		Temperature:     req.Temperature,
		ResponseFormat:  req.ResponseSchema.ResponseFormat(),
		MaxOutputTokens: req.MaxOutputTokens,
	})
}

// Preview shortens s for logging.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewLimit]) + "…"
}
