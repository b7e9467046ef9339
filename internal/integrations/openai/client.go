package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"time-agent/internal/completion"
	"time-agent/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatRequest is the request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model               string                  `json:"model"`
	Messages            []domain.ChatMessage    `json:"messages"`
	Temperature         *float64                `json:"temperature,omitempty"`
	ResponseFormat      *domain.ResponseFormat  `json:"response_format,omitempty"`
	MaxCompletionTokens int                     `json:"max_completion_tokens,omitempty"`
	Tools               []domain.ToolDefinition `json:"tools,omitempty"`
	ToolChoice          string                  `json:"tool_choice,omitempty"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for OpenAI-compatible chat completion APIs
// (OpenAI, Groq, local gateways). It implements completion.Client and
// completion.Extractor.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	staticKey   string
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the bearer token directly.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithParamStore reads the bearer token from <prefix>/llm-api-token on first
// use. The parameter holds {"token": "..."}.
func WithParamStore(g Getter, prefix string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

// NewClient creates a Client. Exactly one key source must be configured:
// WithAPIKey, or WithParamStore with a non-empty prefix.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.staticKey != "" && c.getter != nil:
		return nil, errors.New("openai: configure either an API key or a parameter store, not both")
	case c.staticKey != "":
	case c.getter == nil:
		return nil, errors.New("openai: no API key source configured")
	case c.paramPrefix == "":
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	return c, nil
}

// resolveAPIKey returns the static key, or fetches it from SSM on the first
// call and returns the cached result for the rest of the process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.staticKey != "" {
		return c.staticKey, nil
	}
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return tokenParameterName(c.paramPrefix)
}

func tokenParameterName(prefix string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/llm-api-token"
}

// FetchAPIKey reads the bearer token stored under <prefix>/llm-api-token for
// callers that talk to the same provider through another client.
func FetchAPIKey(ctx context.Context, g Getter, prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", errors.New("openai: parameter prefix must not be empty")
	}
	return fetchAPIKeyFromParamStore(ctx, g, tokenParameterName(prefix))
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Create issues one chat completion call.
func (c *Client) Create(ctx context.Context, in completion.Request) (*domain.Completion, error) {
	if in.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	temp := in.Temperature
	payload := chatRequest{
		Model:          in.Model,
		Messages:       in.Messages,
		Temperature:    &temp,
		ResponseFormat: in.ResponseFormat,
		Tools:          in.Tools,
	}
	if in.MaxOutputTokens > 0 {
		payload.MaxCompletionTokens = in.MaxOutputTokens
	}
	if len(in.Tools) > 0 {
		payload.ToolChoice = in.ToolChoice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	var out domain.Completion
	if decErr := json.Unmarshal(raw, &out); decErr != nil {
		return nil, fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}
	return &out, nil
}

// Extract performs structured extraction through a json_schema response format.
func (c *Client) Extract(ctx context.Context, req completion.ExtractRequest, out any) error {
	return completion.Extract(ctx, c, req, out)
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
