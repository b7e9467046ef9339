// Package config loads the agent settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderOpenAI    = "openai"
	ProviderLangchain = "langchain"
)

type Config struct {
	AppName  string
	Port     int
	LogLevel string

	DefaultTimezone string
	DefaultTargets  []string
	MaxTextLength   int

	LLMProvider        string
	LLMBaseURL         string
	LLMModel           string
	LLMAPIKey          string
	LLMTimeout         time.Duration
	LLMTemperature     float64
	LLMMaxOutputTokens int

	// ParamPrefix, when set, makes SSM the source of the API key and model.
	ParamPrefix string

	ProfileTable string
	TaskTable    string
	ProfileCSV   string
	RedisURL     string
	RedisTTL     time.Duration

	NatsURL         string
	NatsSubject     string
	NatsMaxInFlight int

	RequestTimeout time.Duration
}

var defaults = map[string]any{
	"APP_NAME":              "time-agent",
	"PORT":                  5001,
	"LOG_LEVEL":             "info",
	"DEFAULT_TIMEZONE":      "UTC",
	"DEFAULT_TARGETS":       "America/New_York,Europe/London,Asia/Dubai",
	"MAX_TEXT_LENGTH":       1000,
	"LLM_PROVIDER":          ProviderOpenAI,
	"LLM_BASE_URL":          "https://api.groq.com/openai/v1",
	"LLM_MODEL":             "openai/gpt-oss-20b",
	"LLM_TIMEOUT":           "30s",
	"LLM_TEMPERATURE":       0.2,
	"LLM_MAX_OUTPUT_TOKENS": 0,
	"REDIS_TTL":             "10m",
	"NATS_URL":              "nats://localhost:4222",
	"NATS_SUBJECT":          "a2a.time-coordinate",
	"NATS_MAX_IN_FLIGHT":    32,
	"REQUEST_TIMEOUT":       "60s",
}

// Load reads an optional .env file (explicit paths or ./.env) and then the
// process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		AppName:            v.GetString("APP_NAME"),
		Port:               v.GetInt("PORT"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		DefaultTimezone:    v.GetString("DEFAULT_TIMEZONE"),
		DefaultTargets:     splitList(v.GetString("DEFAULT_TARGETS")),
		MaxTextLength:      v.GetInt("MAX_TEXT_LENGTH"),
		LLMProvider:        strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMBaseURL:         v.GetString("LLM_BASE_URL"),
		LLMModel:           strings.TrimSpace(v.GetString("LLM_MODEL")),
		LLMAPIKey:          v.GetString("LLM_API_KEY"),
		LLMTimeout:         v.GetDuration("LLM_TIMEOUT"),
		LLMTemperature:     v.GetFloat64("LLM_TEMPERATURE"),
		LLMMaxOutputTokens: v.GetInt("LLM_MAX_OUTPUT_TOKENS"),
		ParamPrefix:        strings.TrimSpace(v.GetString("PARAM_PREFIX")),
		ProfileTable:       v.GetString("PROFILE_TABLE"),
		TaskTable:          v.GetString("TASK_TABLE"),
		ProfileCSV:         v.GetString("PROFILE_CSV"),
		RedisURL:           v.GetString("REDIS_URL"),
		RedisTTL:           v.GetDuration("REDIS_TTL"),
		NatsURL:            v.GetString("NATS_URL"),
		NatsSubject:        v.GetString("NATS_SUBJECT"),
		NatsMaxInFlight:    v.GetInt("NATS_MAX_IN_FLIGHT"),
		RequestTimeout:     v.GetDuration("REQUEST_TIMEOUT"),
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderLangchain:
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.LLMModel == "" && c.ParamPrefix == "" {
		return errors.New("config: LLM_MODEL must not be empty")
	}
	if c.LLMTimeout <= 0 {
		return errors.New("config: LLM_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: REQUEST_TIMEOUT must be positive")
	}
	if c.RedisURL != "" && c.RedisTTL <= 0 {
		return errors.New("config: REDIS_TTL must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	if c.MaxTextLength <= 0 {
		return errors.New("config: MAX_TEXT_LENGTH must be positive")
	}
	if c.NatsMaxInFlight < 0 {
		return errors.New("config: NATS_MAX_IN_FLIGHT must not be negative")
	}
	if c.LLMMaxOutputTokens < 0 {
		return errors.New("config: LLM_MAX_OUTPUT_TOKENS must not be negative")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("config: DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
