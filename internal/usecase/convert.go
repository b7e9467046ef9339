package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"time-agent/internal/completion"
	"time-agent/internal/domain"
	"time-agent/internal/router"
	"time-agent/internal/schema"
	"time-agent/internal/tools"
)

const (
	defaultMaxText = 1000

	msgNoText         = "No text supplied for time interpretation."
	msgParseFailed    = "Failed to parse time conversion response."
	msgInvalidPayload = "Invalid time conversion received from model."
)

// DefaultTargets are used when a request names no target timezones.
var DefaultTargets = []string{"America/New_York", "Europe/London", "Asia/Dubai"}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Router interface {
	Route(ctx context.Context, req router.Request) (*router.Result, error)
}

type TaskStore interface {
	SaveTask(ctx context.Context, task domain.TaskResult) error
	GetTask(ctx context.Context, id string) (domain.TaskResult, bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Settings are the static knobs of ConvertService.
type Settings struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	DefaultTimezone string
	DefaultTargets  []string
	MaxTextLength   int
}

type ConvertService struct {
	router   Router
	registry *tools.Registry
	tasks    TaskStore
	params   ParamGetter
	prefix   string
	settings Settings
	log      *zap.Logger
	now      func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

type Option func(*ConvertService)

func WithLogger(l *zap.Logger) Option {
	return func(s *ConvertService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTaskStore persists every produced task and enables GetTask.
func WithTaskStore(ts TaskStore) Option {
	return func(s *ConvertService) {
		s.tasks = ts
	}
}

// WithParamStore reads the model name from <prefix>/config/llm_model on first
// use, overriding Settings.Model.
func WithParamStore(p ParamGetter, prefix string) Option {
	return func(s *ConvertService) {
		s.params = p
		s.prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ConvertService) {
		if now != nil {
			s.now = now
		}
	}
}

type ConvertInput struct {
	Message   domain.A2AMessage
	ContextID string
	TaskID    string
}

func NewConvertService(r Router, reg *tools.Registry, settings Settings, opts ...Option) (*ConvertService, error) {
	if r == nil {
		return nil, errors.New("usecase: router must not be nil")
	}
	if reg == nil {
		return nil, errors.New("usecase: tool registry must not be nil")
	}
	if settings.DefaultTimezone == "" {
		settings.DefaultTimezone = "UTC"
	}
	if _, err := time.LoadLocation(settings.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("usecase: default timezone: %w", err)
	}
	if len(settings.DefaultTargets) == 0 {
		settings.DefaultTargets = DefaultTargets
	}
	if settings.MaxTextLength <= 0 {
		settings.MaxTextLength = defaultMaxText
	}
	s := &ConvertService{
		router:   r,
		registry: reg,
		settings: settings,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.params != nil && s.prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if s.params == nil && strings.TrimSpace(settings.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	return s, nil
}

// Convert interprets the time expression in in.Message. Problems with the
// model's final answer yield a failed task result, not an error; errors are
// reserved for invalid input, upstream failures and tool routing failures.
func (s *ConvertService) Convert(ctx context.Context, in ConvertInput) (domain.TaskResult, error) {
	expression := extractText(in.Message)
	if expression == "" {
		s.log.Warn("no text content in message")
		return s.finish(ctx, buildErrorResult(in.Message, msgNoText, in.ContextID, in.TaskID, nil, s.now())), nil
	}
	if utf8.RuneCountInString(expression) > s.settings.MaxTextLength {
		return domain.TaskResult{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}

	model, err := s.resolveModel(ctx)
	if err != nil {
		return domain.TaskResult{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	source, targets := s.resolveZones(in.Message.Metadata)
	s.log.Debug("resolved timezones", zap.String("source_timezone", source), zap.Strings("target_timezones", targets))

	defs := s.registry.Definitions()
	messages, err := buildInterpretationMessages(promptContext{
		expression:     expression,
		sourceTimezone: source,
		targets:        targets,
		referenceTime:  s.now(),
		tools:          defs,
	})
	if err != nil {
		return domain.TaskResult{}, newError(ErrorInternal, "prompt_build_error", err)
	}

	res, err := s.router.Route(ctx, router.Request{
		IntentMessages:  buildIntentMessages(expression),
		IntentSchema:    schema.Intent,
		Messages:        messages,
		Model:           model,
		Temperature:     s.settings.Temperature,
		ResponseSchema:  schema.TimeConversion,
		Tools:           defs,
		Registry:        s.registry,
		MaxOutputTokens: s.settings.MaxOutputTokens,
	})
	if err != nil {
		return domain.TaskResult{}, mapRouteError(err)
	}
	s.log.Info("routed response completed",
		zap.String("intent", res.Intent.Intent),
		zap.Bool("intent_defaulted", res.Intent.Defaulted),
		zap.String("flow", string(res.Flow)))

	content := res.Completion.Content()
	s.log.Debug("received final content", zap.String("preview", router.Preview(content)))

	parsed, err := schema.TimeConversion.Parse([]byte(content))
	var parseErr *schema.ParseError
	if errors.As(err, &parseErr) {
		s.log.Error("failed to decode model JSON response", zap.Error(err))
		return s.finish(ctx, buildErrorResult(in.Message, msgParseFailed, in.ContextID, in.TaskID,
			map[string]any{"error": err.Error(), "raw": content}, s.now())), nil
	}
	if err != nil {
		s.log.Error("model response failed validation", zap.Error(err))
		return s.finish(ctx, buildErrorResult(in.Message, msgInvalidPayload, in.ContextID, in.TaskID,
			map[string]any{"error": err.Error(), "raw": parsed}, s.now())), nil
	}

	var conv domain.TimeConversion
	if err := schema.TimeConversion.Decode([]byte(content), &conv); err != nil {
		return s.finish(ctx, buildErrorResult(in.Message, msgInvalidPayload, in.ContextID, in.TaskID,
			map[string]any{"error": err.Error(), "raw": parsed}, s.now())), nil
	}

	zones := make([]string, 0, len(conv.Targets))
	for _, t := range conv.Targets {
		zones = append(zones, t.Timezone)
	}
	s.log.Info("built time conversion result", zap.Strings("targets", zones))

	return s.finish(ctx, buildTaskResult(in.Message, domain.TaskCompleted, in.ContextID, in.TaskID, taskParts{
		texts: []string{conv.OutputText},
		data:  []map[string]any{{"time_conversion": conv}},
	}, s.now())), nil
}

// GetTask returns a task saved by an earlier Convert call.
func (s *ConvertService) GetTask(ctx context.Context, id string) (domain.TaskResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.TaskResult{}, newError(ErrorInvalidInput, "empty_task_id", nil)
	}
	if s.tasks == nil {
		return domain.TaskResult{}, newError(ErrorInvalidInput, "task_store_disabled", nil)
	}
	task, ok, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return domain.TaskResult{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if !ok {
		return domain.TaskResult{}, newError(ErrorTaskNotFound, "task_not_found", nil)
	}
	return task, nil
}

func (s *ConvertService) finish(ctx context.Context, task domain.TaskResult) domain.TaskResult {
	if s.tasks == nil {
		return task
	}
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		s.log.Warn("failed to persist task", zap.String("task_id", task.ID), zap.Error(err))
	}
	return task
}

func (s *ConvertService) resolveModel(ctx context.Context) (string, error) {
	if s.params == nil {
		return s.settings.Model, nil
	}
	s.cacheMu.RLock()
	if s.cacheLoaded {
		defer s.cacheMu.RUnlock()
		return s.model, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.model, nil
	}
	model, err := s.params.GetParameter(ctx, s.prefix+"/config/llm_model")
	if err != nil {
		return "", fmt.Errorf("usecase: load llm model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("usecase: llm model parameter is empty")
	}
	s.model = model
	s.cacheLoaded = true
	return model, nil
}

// resolveZones applies the source_timezone and target_timezones metadata
// overrides. Unknown zones are dropped with a warning.
func (s *ConvertService) resolveZones(meta map[string]any) (string, []string) {
	source := s.settings.DefaultTimezone
	if v, ok := meta["source_timezone"].(string); ok && strings.TrimSpace(v) != "" {
		if zone, ok := validZone(v); ok {
			source = zone
		} else {
			s.log.Warn("ignoring invalid source timezone", zap.String("timezone", v))
		}
	}

	var requested []string
	switch v := meta["target_timezones"].(type) {
	case []string:
		requested = v
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok {
				requested = append(requested, str)
			}
		}
	case string:
		requested = strings.Split(v, ",")
	}

	targets := make([]string, 0, len(requested))
	for _, r := range requested {
		if strings.TrimSpace(r) == "" {
			continue
		}
		zone, ok := validZone(r)
		if !ok {
			s.log.Warn("ignoring invalid target timezone", zap.String("timezone", r))
			continue
		}
		targets = append(targets, zone)
	}
	if len(targets) == 0 {
		targets = append([]string(nil), s.settings.DefaultTargets...)
	}
	return source, targets
}

func validZone(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "", false
	}
	return name, true
}

func mapRouteError(err error) *Error {
	var rerr *router.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case router.KindUnknownTool:
			return newError(ErrorUnknownTool, "unknown_tool", err)
		case router.KindMalformedToolArguments:
			return newError(ErrorMalformedToolArguments, "malformed_tool_arguments", err)
		default:
			return newError(ErrorToolFailed, "tool_failed", err)
		}
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, "llm_rate_limited", err)
	}
	var exErr *completion.ExtractionError
	if errors.As(err, &exErr) {
		return newError(ErrorUpstream, "llm_malformed_plan", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorUpstream, "llm_timeout", err)
	}
	return newError(ErrorUpstream, "llm_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
