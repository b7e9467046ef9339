package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"time-agent/internal/completion"
	"time-agent/internal/domain"
	"time-agent/internal/schema"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.groq.com/openai/v1/", "https://api.groq.com/openai/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_KeySources(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no API key source")

	_, err = NewClient(WithAPIKey("sk"), WithParamStore(&fakeGetter{}, "/time-agent"))
	require.Error(t, err)

	_, err = NewClient(WithParamStore(&fakeGetter{}, " / "))
	require.Error(t, err)

	c, err := NewClient(WithAPIKey("sk-static"))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)

	c, err = NewClient(WithParamStore(&fakeGetter{}, "/time-agent/"))
	require.NoError(t, err)
	require.Equal(t, "/time-agent/llm-api-token", c.tokenParameterName())
}

// ---------------------------------------------------------------------------
// resolveAPIKey: SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(WithParamStore(g, "/time-agent"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestResolveAPIKey_Static(t *testing.T) {
	c, err := NewClient(WithAPIKey(" sk-static "))
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey(t *testing.T) {
	key, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"token":"sk-from-json"}`}, "/p/llm-api-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)

	cases := []struct {
		name   string
		getter Getter
		param  string
		want   string
	}{
		{"missing token", &fakeGetter{val: `{"other":"value"}`}, "/p", "API token is empty"},
		{"malformed json", &fakeGetter{val: `{"broken`}, "/p", "unmarshal"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p", "ssm unavailable"},
		{"nil getter", nil, "/p", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"x"}`}, " ", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFetchAPIKey_ByPrefix(t *testing.T) {
	var gotName string
	g := &recordingGetter{val: `{"token":"sk-prefixed"}`, name: &gotName}
	key, err := FetchAPIKey(context.Background(), g, "/time-agent/")
	require.NoError(t, err)
	require.Equal(t, "sk-prefixed", key)
	require.Equal(t, "/time-agent/llm-api-token", gotName)

	_, err = FetchAPIKey(context.Background(), g, " ")
	require.ErrorContains(t, err, "prefix")
}

type recordingGetter struct {
	val  string
	name *string
}

func (r *recordingGetter) GetParameter(_ context.Context, name string) (string, error) {
	*r.name = name
	return r.val, nil
}

// ---------------------------------------------------------------------------
// Client.Create
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		WithParamStore(&fakeGetter{val: `{"token":"sk-test"}`}, "/time-agent"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1670000000,
		"model":   "gpt-mock",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(b)
}

func TestClient_Create_HappyPath(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(reqBody, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("Hello from mock")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Create(context.Background(), completion.Request{
		Model:           "gpt-mock",
		Messages:        []domain.ChatMessage{domain.UserMessage("hi")},
		Temperature:     0,
		ResponseFormat:  schema.TimeConversion.ResponseFormat(),
		MaxOutputTokens: 512,
	})
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp.Content())
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, "stop", resp.Choices[0].FinishReason)

	require.Equal(t, "gpt-mock", got["model"])
	require.Contains(t, got, "temperature")
	require.EqualValues(t, 0, got["temperature"])
	require.EqualValues(t, 512, got["max_completion_tokens"])
	require.NotContains(t, got, "tools")
	require.NotContains(t, got, "tool_choice")
	rf := got["response_format"].(map[string]any)
	require.Equal(t, "json_schema", rf["type"])
	require.Equal(t, "time-conversion-response", rf["json_schema"].(map[string]any)["name"])
}

func TestClient_Create_SendsToolsAndToolTranscript(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(reqBody, &got))
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	call := domain.ToolCall{ID: "call_1", Type: "function", Function: domain.FunctionCall{Name: "get_timezone", Arguments: `{"slack_id":"U1"}`}}
	c := newTestClient(t, srv)
	_, err := c.Create(context.Background(), completion.Request{
		Model: "gpt-mock",
		Messages: []domain.ChatMessage{
			domain.UserMessage("hi"),
			domain.AssistantToolCallMessage([]domain.ToolCall{call}),
			domain.ToolResultMessage("call_1", "get_timezone", "UTC"),
		},
		Tools: []domain.ToolDefinition{{Type: "function", Function: domain.FunctionDefinition{
			Name: "get_timezone", Parameters: map[string]any{"type": "object"},
		}}},
		ToolChoice: "auto",
	})
	require.NoError(t, err)

	require.Equal(t, "auto", got["tool_choice"])
	require.Len(t, got["tools"], 1)
	msgs := got["messages"].([]any)
	announce := msgs[1].(map[string]any)
	require.Contains(t, announce, "content")
	require.Nil(t, announce["content"])
	require.Len(t, announce["tool_calls"], 1)
	result := msgs[2].(map[string]any)
	require.Equal(t, "tool", result["role"])
	require.Equal(t, "call_1", result["tool_call_id"])
}

func TestClient_Create_StatusErrors(t *testing.T) {
	for _, code := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Create(context.Background(), completion.Request{Model: "gpt-mock"})
		srv.Close()

		var se *HTTPStatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, code, se.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Create_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Create(context.Background(), completion.Request{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Create_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Create(context.Background(), completion.Request{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Create_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(completionBody("late")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Create(context.Background(), completion.Request{Model: "gpt-mock"})
	require.Error(t, err)
}

func TestClient_Create_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"), WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Create(context.Background(), completion.Request{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Create_EmptyModel(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"))
	require.NoError(t, err)
	_, err = c.Create(context.Background(), completion.Request{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Create_KeyError(t *testing.T) {
	c, err := NewClient(WithParamStore(&fakeGetter{err: errors.New("denied")}, "/time-agent"))
	require.NoError(t, err)
	_, err = c.Create(context.Background(), completion.Request{Model: "gpt-mock"})
	require.ErrorContains(t, err, "denied")
}

// ---------------------------------------------------------------------------
// Client.Extract
// ---------------------------------------------------------------------------

func TestClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"name":"tool-call-plan"`)
		_, _ = w.Write([]byte(completionBody(`{"tool_calls":[{"input_text":"tz for U1","tool_name":"get_timezone","tool_parameters":"{\"slack_id\":\"U1\"}"}]}`)))
	}))
	defer srv.Close()

	var plan domain.ToolCallPlan
	err := newTestClient(t, srv).Extract(context.Background(), completion.ExtractRequest{
		Model:    "gpt-mock",
		Messages: []domain.ChatMessage{domain.UserMessage("tz for U1")},
		Schema:   schema.ToolCallPlan,
	}, &plan)
	require.NoError(t, err)
	require.Len(t, plan.ToolCalls, 1)
	require.Equal(t, "get_timezone", plan.ToolCalls[0].ToolName)
}

func TestClient_Extract_InvalidShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(`{"calls":[]}`)))
	}))
	defer srv.Close()

	var plan domain.ToolCallPlan
	err := newTestClient(t, srv).Extract(context.Background(), completion.ExtractRequest{
		Model:  "gpt-mock",
		Schema: schema.ToolCallPlan,
	}, &plan)
	var exErr *completion.ExtractionError
	require.ErrorAs(t, err, &exErr)
	require.Equal(t, `{"calls":[]}`, exErr.Raw)
}
