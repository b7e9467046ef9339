// Package tools holds the closed set of tools the model may call, the
// registry that binds them to implementations, and the execution adapter.
package tools

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"time-agent/internal/domain"
	"time-agent/internal/schema"
)

// Kind tags a supported tool. The set is closed: only kinds listed here can be
// registered, and each must have an entry in the catalogue.
type Kind string

const (
	KindGetTimezone Kind = "get_timezone"
)

var knownKinds = map[Kind]bool{
	KindGetTimezone: true,
}

// ParseKind maps a free-form tool name to its Kind.
func ParseKind(name string) (Kind, bool) {
	k := Kind(name)
	return k, knownKinds[k]
}

//go:embed catalog.yaml
var catalogYAML []byte

// Impl is a tool implementation; it must also implement Tool or AsyncTool.
type Impl interface {
	Kind() Kind
}

// Tool completes synchronously.
type Tool interface {
	Impl
	Call(ctx context.Context, args Arguments) (any, error)
}

// AsyncTool completes later by sending exactly one Result on the returned channel.
type AsyncTool interface {
	Impl
	Start(ctx context.Context, args Arguments) <-chan Result
}

type Result struct {
	Value any
	Err   error
}

type funcTool struct {
	kind Kind
	fn   func(ctx context.Context, args Arguments) (any, error)
}

func (f funcTool) Kind() Kind { return f.kind }

func (f funcTool) Call(ctx context.Context, args Arguments) (any, error) { return f.fn(ctx, args) }

// NewFunc adapts a plain function into a Tool.
func NewFunc(kind Kind, fn func(ctx context.Context, args Arguments) (any, error)) Tool {
	return funcTool{kind: kind, fn: fn}
}

type asyncFuncTool struct {
	kind Kind
	fn   func(ctx context.Context, args Arguments) <-chan Result
}

func (f asyncFuncTool) Kind() Kind { return f.kind }

func (f asyncFuncTool) Start(ctx context.Context, args Arguments) <-chan Result {
	return f.fn(ctx, args)
}

// NewAsyncFunc adapts a function that completes asynchronously into an AsyncTool.
func NewAsyncFunc(kind Kind, fn func(ctx context.Context, args Arguments) <-chan Result) AsyncTool {
	return asyncFuncTool{kind: kind, fn: fn}
}

// Entry is a registered tool: its definition, parameter schema and implementation.
type Entry struct {
	kind       Kind
	definition domain.ToolDefinition
	params     *schema.Schema
	impl       Impl
}

func (e *Entry) Kind() Kind { return e.kind }

func (e *Entry) Name() string { return string(e.kind) }

func (e *Entry) Definition() domain.ToolDefinition { return e.definition }

func (e *Entry) Impl() Impl { return e.impl }

// ValidateArguments checks args against the tool's parameter schema.
func (e *Entry) ValidateArguments(args Arguments) error {
	if err := e.params.Validate(map[string]any(args)); err != nil {
		return &ArgumentError{Reason: ReasonSchemaViolation, Err: err}
	}
	return nil
}

// Registry maps tool names to entries. Register every tool before sharing the
// registry; after that it is read-only and safe for concurrent use.
type Registry struct {
	catalog map[Kind]domain.ToolDefinition
	entries map[Kind]*Entry
	order   []Kind
}

type catalogFile struct {
	Tools []struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Parameters  map[string]any `yaml:"parameters"`
	} `yaml:"tools"`
}

// LoadCatalog parses a YAML tool catalogue. Every entry must name a known Kind.
func LoadCatalog(data []byte) (map[Kind]domain.ToolDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tools: parse catalog: %w", err)
	}
	out := make(map[Kind]domain.ToolDefinition, len(file.Tools))
	for _, t := range file.Tools {
		kind, ok := ParseKind(t.Name)
		if !ok {
			return nil, fmt.Errorf("tools: catalog names unsupported tool %q", t.Name)
		}
		if _, dup := out[kind]; dup {
			return nil, fmt.Errorf("tools: catalog lists %q twice", t.Name)
		}
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[kind] = domain.ToolDefinition{
			Type: "function",
			Function: domain.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out, nil
}

// NewRegistry builds a registry from the embedded catalogue and registers impls.
func NewRegistry(impls ...Impl) (*Registry, error) {
	catalog, err := LoadCatalog(catalogYAML)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		catalog: catalog,
		entries: make(map[Kind]*Entry, len(catalog)),
	}
	for _, impl := range impls {
		if err := r.Register(impl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds an implementation to its catalogue entry.
func (r *Registry) Register(impl Impl) error {
	if impl == nil {
		return errors.New("tools: implementation must not be nil")
	}
	switch impl.(type) {
	case Tool, AsyncTool:
	default:
		return fmt.Errorf("tools: %s implements neither Tool nor AsyncTool", impl.Kind())
	}
	kind := impl.Kind()
	def, ok := r.catalog[kind]
	if !ok {
		return fmt.Errorf("tools: no catalog entry for %q", kind)
	}
	if _, dup := r.entries[kind]; dup {
		return fmt.Errorf("tools: %q already registered", kind)
	}
	params, err := schema.CompileMap(string(kind)+"-parameters", def.Function.Parameters)
	if err != nil {
		return fmt.Errorf("tools: %s parameters: %w", kind, err)
	}
	r.entries[kind] = &Entry{kind: kind, definition: def, params: params, impl: impl}
	r.order = append(r.order, kind)
	return nil
}

// Lookup resolves a tool name as planned by the model.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	if r == nil {
		return nil, false
	}
	kind, ok := ParseKind(name)
	if !ok {
		return nil, false
	}
	e, ok := r.entries[kind]
	return e, ok
}

// Definitions returns the definitions of the registered tools in registration order.
func (r *Registry) Definitions() []domain.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, k := range r.order {
		defs = append(defs, r.entries[k].definition)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.order))
	for _, k := range r.order {
		names = append(names, string(k))
	}
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
