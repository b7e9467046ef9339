// Package paramstore reads agent settings and secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type cached struct {
	value   string
	expires time.Time
}

// Client wraps an AWS SSM API for parameter retrieval. Values are decrypted
// and cached per name for the configured TTL; a zero TTL disables caching.
type Client struct {
	api ssmAPI
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

type Option func(*Client)

// WithCacheTTL keeps fetched values for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.ttl = ttl
	}
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api, now: time.Now, cache: make(map[string]cached)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Join builds a parameter name below prefix, e.g. Join("/time-agent/", "llm-model").
func Join(prefix, name string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	if v, ok := c.lookup(name); ok {
		return v, nil
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	c.store(name, *out.Parameter.Value)
	return *out.Parameter.Value, nil
}

// GetOptional is GetParameter that maps a missing parameter to fallback.
func (c *Client) GetOptional(ctx context.Context, name, fallback string) (string, error) {
	v, err := c.GetParameter(ctx, name)
	var notFound interface{ ErrorCode() string }
	if errors.As(err, &notFound) && notFound.ErrorCode() == "ParameterNotFound" {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *Client) lookup(name string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[name]
	if !ok || !c.now().Before(e.expires) {
		return "", false
	}
	return e.value, true
}

func (c *Client) store(name, value string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]cached)
	}
	c.cache[name] = cached{value: value, expires: c.now().Add(c.ttl)}
}
