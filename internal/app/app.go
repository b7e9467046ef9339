// Package app wires the agent from its configuration. It is shared by the
// Lambda entry point and the timeagent CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"time-agent/handler"
	"time-agent/internal/completion"
	"time-agent/internal/config"
	"time-agent/internal/integrations/langchain"
	"time-agent/internal/integrations/openai"
	"time-agent/internal/integrations/paramstore"
	"time-agent/internal/repository"
	"time-agent/internal/router"
	"time-agent/internal/tools"
	"time-agent/internal/usecase"
)

const paramCacheTTL = 5 * time.Minute

type llmClient interface {
	completion.Client
	completion.Extractor
}

type App struct {
	Handler  *handler.Handler
	Service  *usecase.ConvertService
	Profiles repository.ProfileLookup
	// ProfileStore is set when PROFILE_TABLE is configured.
	ProfileStore *repository.Client

	closers []func() error
}

// NewLogger builds a production logger, or a development logger for "debug".
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("app: log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

// Build constructs every component named by cfg. AWS configuration is only
// loaded when SSM or DynamoDB are in use.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{}

	var awsCfg *aws.Config
	if cfg.ParamPrefix != "" || cfg.ProfileTable != "" || cfg.TaskTable != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &loaded
	}

	// ---- Parameter store ----
	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		p, err := paramstore.New(awsssm.NewFromConfig(*awsCfg), paramstore.WithCacheTTL(paramCacheTTL))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		params = p
	}

	// ---- Completion client ----
	client, err := newLLMClient(ctx, cfg, params)
	if err != nil {
		return nil, err
	}

	// ---- Profile directory ----
	var dynamo *awsdynamodb.Client
	if awsCfg != nil {
		dynamo = awsdynamodb.NewFromConfig(*awsCfg)
	}
	profiles, err := a.buildProfiles(ctx, cfg, dynamo, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Profiles = profiles

	tz, err := tools.NewTimezoneTool(profiles)
	if err != nil {
		a.Close()
		return nil, err
	}
	registry, err := tools.NewRegistry(tz)
	if err != nil {
		a.Close()
		return nil, err
	}

	// ---- Router and use case ----
	rt, err := router.New(client, client, router.WithLogger(log.Named("router")))
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []usecase.Option{usecase.WithLogger(log.Named("usecase"))}
	if cfg.TaskTable != "" {
		tasks, err := repository.New(dynamo, cfg.TaskTable)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: create task store: %w", err)
		}
		opts = append(opts, usecase.WithTaskStore(tasks))
	}
	if params != nil {
		opts = append(opts, usecase.WithParamStore(params, cfg.ParamPrefix))
	}
	svc, err := usecase.NewConvertService(rt, registry, usecase.Settings{
		Model:           cfg.LLMModel,
		Temperature:     cfg.LLMTemperature,
		MaxOutputTokens: cfg.LLMMaxOutputTokens,
		DefaultTimezone: cfg.DefaultTimezone,
		DefaultTargets:  cfg.DefaultTargets,
		MaxTextLength:   cfg.MaxTextLength,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create convert service: %w", err)
	}
	a.Service = svc

	h, err := handler.NewHandler(svc, handler.WithLogger(log.Named("handler")))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Handler = h

	log.Info("agent wired",
		zap.String("provider", cfg.LLMProvider),
		zap.Bool("param_store", params != nil),
		zap.Bool("task_store", cfg.TaskTable != ""),
		zap.Bool("profile_table", cfg.ProfileTable != ""),
		zap.Bool("profile_cache", cfg.RedisURL != ""))
	return a, nil
}

// buildProfiles chains the seed table, the optional CSV directory and the
// optional DynamoDB table. Redis, when configured, fronts DynamoDB only.
func (a *App) buildProfiles(ctx context.Context, cfg *config.Config, dynamo *awsdynamodb.Client, log *zap.Logger) (repository.ProfileLookup, error) {
	chain := repository.ChainProfiles{repository.NewStaticProfiles(repository.SeedProfiles...)}

	if cfg.ProfileCSV != "" {
		rows, err := repository.LoadProfilesCSV(cfg.ProfileCSV)
		if err != nil {
			return nil, fmt.Errorf("app: load profile CSV: %w", err)
		}
		log.Info("loaded profile directory", zap.String("path", cfg.ProfileCSV), zap.Int("profiles", len(rows)))
		chain = append(chain, repository.NewHandleProfiles(rows...))
	}

	if cfg.ProfileTable != "" {
		store, err := repository.New(dynamo, cfg.ProfileTable)
		if err != nil {
			return nil, fmt.Errorf("app: create profile store: %w", err)
		}
		a.ProfileStore = store

		var lookup repository.ProfileLookup = store
		if cfg.RedisURL != "" {
			rdb, err := repository.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("app: connect to redis: %w", err)
			}
			a.closers = append(a.closers, rdb.Close)
			cached, err := repository.NewCachedProfiles(rdb, store, cfg.RedisTTL, log.Named("profile_cache"))
			if err != nil {
				return nil, err
			}
			lookup = cached
		}
		chain = append(chain, lookup)
	} else if cfg.RedisURL != "" {
		log.Warn("REDIS_URL set without PROFILE_TABLE; profile cache disabled")
	}
	return chain, nil
}

func newLLMClient(ctx context.Context, cfg *config.Config, params *paramstore.Client) (llmClient, error) {
	httpClient := &http.Client{Timeout: cfg.LLMTimeout}

	baseURL := cfg.LLMBaseURL
	if params != nil {
		v, err := params.GetOptional(ctx, paramstore.Join(cfg.ParamPrefix, "config/llm_base_url"), baseURL)
		if err != nil {
			return nil, fmt.Errorf("app: load base URL: %w", err)
		}
		baseURL = v
	}

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithBaseURL(baseURL), openai.WithHTTPClient(httpClient)}
		if cfg.LLMAPIKey != "" || params == nil {
			opts = append(opts, openai.WithAPIKey(cfg.LLMAPIKey))
		} else {
			opts = append(opts, openai.WithParamStore(params, cfg.ParamPrefix))
		}
		c, err := openai.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create OpenAI client: %w", err)
		}
		return c, nil

	case config.ProviderLangchain:
		key := cfg.LLMAPIKey
		if key == "" && params != nil {
			k, err := openai.FetchAPIKey(ctx, params, cfg.ParamPrefix)
			if err != nil {
				return nil, fmt.Errorf("app: load API key: %w", err)
			}
			key = k
		}
		if key == "" {
			return nil, errors.New("app: LLM_API_KEY or PARAM_PREFIX is required")
		}
		llm, err := lcopenai.New(
			lcopenai.WithToken(key),
			lcopenai.WithBaseURL(baseURL),
			lcopenai.WithModel(cfg.LLMModel),
			lcopenai.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("app: create langchain model: %w", err)
		}
		return langchain.New(llm)
	}
	return nil, fmt.Errorf("app: unknown provider %q", cfg.LLMProvider)
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
