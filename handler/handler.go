// Package handler exposes the time-coordination agent as an A2A JSON-RPC
// endpoint over API Gateway (Lambda), plain HTTP and NATS.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"time-agent/internal/domain"
	"time-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	agentName         = "time-coordination"
)

type UseCase interface {
	Convert(ctx context.Context, in usecase.ConvertInput) (domain.TaskResult, error)
	GetTask(ctx context.Context, id string) (domain.TaskResult, error)
}

type Handler struct {
	uc    UseCase
	log   *zap.Logger
	newID func() string
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{
		uc:    uc,
		log:   zap.NewNop(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type healthResponse struct {
	Status string `json:"status"`
	Agent  string `json:"agent"`
}

// Handle is the API Gateway proxy entry point.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := h.correlationID(headerValue(event.Headers, correlationHeader))

	if event.HTTPMethod == http.MethodGet && strings.HasSuffix(event.Path, "/health") {
		return jsonResponse(http.StatusOK, healthResponse{Status: "healthy", Agent: agentName}, correlationID), nil
	}

	status, resp := h.Process(ctx, correlationID, []byte(event.Body))
	return jsonResponse(status, resp, correlationID), nil
}

// Process handles one JSON-RPC request body and returns the HTTP status to
// report along with the response envelope. It never fails: every problem is
// described by a JSON-RPC error.
func (h *Handler) Process(ctx context.Context, correlationID string, body []byte) (int, Response) {
	log := h.log.With(zap.String("correlation_id", correlationID))

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Warn("invalid JSON-RPC body", zap.Error(err))
		return http.StatusBadRequest, errorResponse(nil, codeParseError, "Parse error", nil)
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warn("JSON-RPC body is not a request object", zap.Error(err))
		return http.StatusBadRequest, errorResponse(nil, codeInvalidRequest, "Invalid Request: body must be a JSON object", nil)
	}
	if req.JSONRPC != jsonrpcVersion || len(req.ID) == 0 {
		return http.StatusBadRequest, errorResponse(req.ID, codeInvalidRequest,
			"Invalid Request: jsonrpc must be '2.0' and id is required", nil)
	}

	log = log.With(zap.String("method", req.Method))
	switch req.Method {
	case "", methodSend:
		return h.send(ctx, log, req)
	case methodGetTask:
		return h.getTask(ctx, log, req)
	default:
		return http.StatusBadRequest, errorResponse(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

func (h *Handler) send(ctx context.Context, log *zap.Logger, req request) (int, Response) {
	var params sendParams
	if err := decodeParams(req.Params, &params); err != nil || params.Message == nil {
		return http.StatusBadRequest, errorResponse(req.ID, codeInvalidParams, "Invalid params: message is required", nil)
	}
	msg := *params.Message

	task, err := h.uc.Convert(ctx, usecase.ConvertInput{
		Message:   msg,
		ContextID: msg.ContextID,
		TaskID:    msg.TaskID,
	})
	if err != nil {
		status, rpcErr := mapUseCaseError(err)
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
		return status, Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	}
	log.Info("request completed", zap.String("task_id", task.ID), zap.String("state", task.Status.State))
	return http.StatusOK, resultResponse(req.ID, task)
}

func (h *Handler) getTask(ctx context.Context, log *zap.Logger, req request) (int, Response) {
	var params getTaskParams
	if err := decodeParams(req.Params, &params); err != nil || strings.TrimSpace(params.ID) == "" {
		return http.StatusBadRequest, errorResponse(req.ID, codeInvalidParams, "Invalid params: id is required", nil)
	}
	task, err := h.uc.GetTask(ctx, params.ID)
	if err != nil {
		status, rpcErr := mapUseCaseError(err)
		log.Warn("task lookup failed", zap.String("task_id", params.ID), zap.Error(err))
		return status, Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	}
	return http.StatusOK, resultResponse(req.ID, task)
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("handler: params missing")
	}
	return json.Unmarshal(raw, out)
}

func (h *Handler) correlationID(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return h.newID()
}

// headerValue looks a header up case-insensitively; API Gateway does not
// normalise header names.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}
