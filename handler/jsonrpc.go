package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"time-agent/internal/domain"
	"time-agent/internal/usecase"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes. codeTaskNotFound is the A2A extension code.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeTaskNotFound   = -32001
)

const (
	methodSend    = "message/send"
	methodGetTask = "tasks/get"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type sendParams struct {
	Message *domain.A2AMessage `json:"message"`
}

type getTaskParams struct {
	ID string `json:"id"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id"`
	Result  *domain.TaskResult `json:"result,omitempty"`
	Error   *RPCError          `json:"error,omitempty"`
}

type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *errorData `json:"data,omitempty"`
}

type errorData struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func resultResponse(id json.RawMessage, task domain.TaskResult) Response {
	return Response{JSONRPC: jsonrpcVersion, ID: id, Result: &task}
}

func errorResponse(id json.RawMessage, code int, message string, data *errorData) Response {
	return Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// mapUseCaseError converts err into an HTTP status and a JSON-RPC error.
func mapUseCaseError(err error) (int, *RPCError) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, &RPCError{
			Code:    codeInternalError,
			Message: "Internal error",
			Data:    &errorData{Code: string(usecase.ErrorInternal), Reason: "unexpected_error"},
		}
	}

	data := &errorData{Code: string(ue.Code), Reason: ue.Reason}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "Invalid params", Data: data}
	case usecase.ErrorTaskNotFound:
		return http.StatusNotFound, &RPCError{Code: codeTaskNotFound, Message: "Task not found", Data: data}
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, &RPCError{Code: codeInternalError, Message: "Rate limited", Data: data}
	case usecase.ErrorUpstream, usecase.ErrorUnknownTool, usecase.ErrorMalformedToolArguments:
		return http.StatusBadGateway, &RPCError{Code: codeInternalError, Message: "Upstream error", Data: data}
	default:
		return http.StatusInternalServerError, &RPCError{Code: codeInternalError, Message: "Internal error", Data: data}
	}
}
