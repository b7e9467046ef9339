package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"time-agent/internal/domain"
	"time-agent/internal/usecase"
)

type stubUseCase struct {
	out    domain.TaskResult
	err    error
	in     usecase.ConvertInput
	taskID string
	calls  int
}

func (s *stubUseCase) Convert(_ context.Context, in usecase.ConvertInput) (domain.TaskResult, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

func (s *stubUseCase) GetTask(_ context.Context, id string) (domain.TaskResult, error) {
	s.calls++
	s.taskID = id
	return s.out, s.err
}

const sendBody = `{"jsonrpc":"2.0","id":"req-1","method":"message/send","params":{"message":{"kind":"message","role":"user","messageId":"m-1","contextId":"ctx-1","taskId":"t-1","parts":[{"kind":"text","text":"3pm NY in London"}]}}}`

func completedTask() domain.TaskResult {
	return domain.TaskResult{
		ID:        "t-1",
		ContextID: "ctx-1",
		Status:    domain.TaskStatus{State: domain.TaskCompleted, Timestamp: "2025-03-14T15:00:00Z"},
		Artifacts: []domain.Artifact{{ArtifactID: "a-1", Name: "agent-output", Parts: []domain.MessagePart{{Kind: domain.PartText, Text: "7:00 PM in London"}}}},
		Kind:      "task",
	}
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/a2a/time-coordinate",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, uc UseCase) *Handler {
	t.Helper()
	h, err := NewHandler(uc)
	require.NoError(t, err)
	return h
}

// ---------------------------------------------------------------------------
// Lambda entry point
// ---------------------------------------------------------------------------

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: completedTask()}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(sendBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, "ctx-1", uc.in.ContextID)
	require.Equal(t, "t-1", uc.in.TaskID)
	require.Equal(t, "3pm NY in London", uc.in.Message.Parts[0].Text)

	out := parseBody[Response](t, resp.Body)
	require.Equal(t, "2.0", out.JSONRPC)
	require.JSONEq(t, `"req-1"`, string(out.ID))
	require.Nil(t, out.Error)
	require.NotNil(t, out.Result)
	require.Equal(t, completedTask(), *out.Result)
}

func TestHandle_Health(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/health"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"healthy","agent":"time-coordination"}`, resp.Body)
	require.Zero(t, uc.calls)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{out: completedTask()})

	event := makeEvent(sendBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

// ---------------------------------------------------------------------------
// JSON-RPC processing
// ---------------------------------------------------------------------------

func TestProcess_EnvelopeErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   int
		id     string
	}{
		{name: "not json", body: `not-json`, status: http.StatusBadRequest, code: codeParseError, id: `null`},
		{name: "array body", body: `[]`, status: http.StatusBadRequest, code: codeInvalidRequest, id: `null`},
		{name: "string body", body: `"x"`, status: http.StatusBadRequest, code: codeInvalidRequest, id: `null`},
		{name: "mistyped member", body: `{"jsonrpc":"2.0","id":1,"method":5}`, status: http.StatusBadRequest, code: codeInvalidRequest, id: `null`},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":7,"params":{}}`, status: http.StatusBadRequest, code: codeInvalidRequest, id: `7`},
		{name: "missing id", body: `{"jsonrpc":"2.0","params":{}}`, status: http.StatusBadRequest, code: codeInvalidRequest, id: `null`},
		{name: "unknown method", body: `{"jsonrpc":"2.0","id":1,"method":"tasks/cancel","params":{}}`, status: http.StatusBadRequest, code: codeMethodNotFound, id: `1`},
		{name: "no params", body: `{"jsonrpc":"2.0","id":1,"method":"message/send"}`, status: http.StatusBadRequest, code: codeInvalidParams, id: `1`},
		{name: "no message", body: `{"jsonrpc":"2.0","id":1,"params":{}}`, status: http.StatusBadRequest, code: codeInvalidParams, id: `1`},
		{name: "get without id", body: `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":" "}}`, status: http.StatusBadRequest, code: codeInvalidParams, id: `1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{}
			h := newTestHandler(t, uc)

			status, resp := h.Process(context.Background(), "corr", []byte(tc.body))
			require.Equal(t, tc.status, status)
			require.NotNil(t, resp.Error)
			require.Equal(t, tc.code, resp.Error.Code)
			require.Nil(t, resp.Result)
			require.Zero(t, uc.calls)

			b, err := json.Marshal(resp)
			require.NoError(t, err)
			out := parseBody[map[string]json.RawMessage](t, string(b))
			require.JSONEq(t, tc.id, string(out["id"]))
		})
	}
}

func TestProcess_InvalidRequestMessage(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})
	_, resp := h.Process(context.Background(), "corr", []byte(`{"id":"x"}`))
	require.Equal(t, "Invalid Request: jsonrpc must be '2.0' and id is required", resp.Error.Message)
}

func TestProcess_DefaultMethodIsSend(t *testing.T) {
	uc := &stubUseCase{out: completedTask()}
	h := newTestHandler(t, uc)

	status, resp := h.Process(context.Background(), "corr",
		[]byte(`{"jsonrpc":"2.0","id":2,"params":{"message":{"kind":"message","role":"user","parts":[{"kind":"text","text":"noon"}]}}}`))
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Result)
	require.Equal(t, 1, uc.calls)
	require.Empty(t, uc.in.ContextID)
}

func TestProcess_FailedTaskIsAResult(t *testing.T) {
	task := completedTask()
	task.Status.State = domain.TaskFailed
	h := newTestHandler(t, &stubUseCase{out: task})

	status, resp := h.Process(context.Background(), "corr", []byte(sendBody))
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
	require.Equal(t, domain.TaskFailed, resp.Result.Status.State)
}

func TestProcess_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		rpcCode int
		code    string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "text_too_long"}, status: http.StatusBadRequest, rpcCode: codeInvalidParams, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, status: http.StatusTooManyRequests, rpcCode: codeInternalError, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}, status: http.StatusBadGateway, rpcCode: codeInternalError, code: string(usecase.ErrorUpstream)},
		{name: "unknown tool", err: &usecase.Error{Code: usecase.ErrorUnknownTool, Reason: "unknown_tool"}, status: http.StatusBadGateway, rpcCode: codeInternalError, code: string(usecase.ErrorUnknownTool)},
		{name: "malformed arguments", err: &usecase.Error{Code: usecase.ErrorMalformedToolArguments, Reason: "malformed_tool_arguments"}, status: http.StatusBadGateway, rpcCode: codeInternalError, code: string(usecase.ErrorMalformedToolArguments)},
		{name: "tool failed", err: &usecase.Error{Code: usecase.ErrorToolFailed, Reason: "tool_failed"}, status: http.StatusInternalServerError, rpcCode: codeInternalError, code: string(usecase.ErrorToolFailed)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "ssm_load_error"}, status: http.StatusInternalServerError, rpcCode: codeInternalError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, rpcCode: codeInternalError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubUseCase{err: tc.err})

			status, resp := h.Process(context.Background(), "corr", []byte(sendBody))
			require.Equal(t, tc.status, status)
			require.Nil(t, resp.Result)
			require.Equal(t, tc.rpcCode, resp.Error.Code)
			require.Equal(t, tc.code, resp.Error.Data.Code)
			require.JSONEq(t, `"req-1"`, string(resp.ID))
		})
	}
}

func TestProcess_GetTask(t *testing.T) {
	uc := &stubUseCase{out: completedTask()}
	h := newTestHandler(t, uc)

	status, resp := h.Process(context.Background(), "corr", []byte(`{"jsonrpc":"2.0","id":3,"method":"tasks/get","params":{"id":"t-1"}}`))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "t-1", uc.taskID)
	require.Equal(t, "t-1", resp.Result.ID)

	uc.err = &usecase.Error{Code: usecase.ErrorTaskNotFound, Reason: "task_not_found"}
	status, resp = h.Process(context.Background(), "corr", []byte(`{"jsonrpc":"2.0","id":3,"method":"tasks/get","params":{"id":"nope"}}`))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeTaskNotFound, resp.Error.Code)
	require.Equal(t, "task_not_found", resp.Error.Data.Reason)
}

// ---------------------------------------------------------------------------
// HTTP routes
// ---------------------------------------------------------------------------

func TestRoutes(t *testing.T) {
	uc := &stubUseCase{out: completedTask()}
	srv := httptest.NewServer(newTestHandler(t, uc).Routes(5 * time.Second))
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"status":"healthy","agent":"time-coordination"}`, string(body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/a2a/time-coordinate", strings.NewReader(sendBody))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-9")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "corr-9", res.Header.Get("X-Correlation-Id"))
	out := parseBody[Response](t, string(body))
	require.Equal(t, "t-1", out.Result.ID)

	res, err = http.Post(srv.URL+"/a2a/time-coordinate", "application/json", strings.NewReader(`{"jsonrpc":"2.0"}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.NotEmpty(t, res.Header.Get("X-Correlation-Id"))

	res, err = http.Get(srv.URL + "/a2a/time-coordinate")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}
