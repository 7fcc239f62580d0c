package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/agent/fast"
	"github.com/malbeclabs/askdata/pkg/agent/react"
	"github.com/malbeclabs/askdata/pkg/classifier"
	"github.com/malbeclabs/askdata/pkg/gateway"
	"github.com/malbeclabs/askdata/pkg/insights"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
	"github.com/malbeclabs/askdata/pkg/schema"
)

const schemaLoadAttempts = 5

// app is the wired question pipeline shared by the commands.
type app struct {
	log        *slog.Logger
	opts       *options
	gateway    *gateway.Gateway
	schema     *schema.Cache
	classifier *classifier.Classifier
	query      *handlers.QueryHandler
	profile    *profile.Profile

	closers []func()
}

func newApp(ctx context.Context, log *slog.Logger, opts *options) (*app, error) {
	a := &app{log: log, opts: opts}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if err := a.openGateway(ctx); err != nil {
		return nil, err
	}

	intro, err := schema.NewIntrospector(schema.IntrospectorConfig{Logger: log, Querier: a.gateway})
	if err != nil {
		return nil, fmt.Errorf("failed to create schema introspector: %w", err)
	}
	a.schema, err = schema.New(schema.Config{Logger: log, Source: intro})
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	a.gateway.SetTableSource(a.schema)

	if a.profile, err = opts.loadProfile(); err != nil {
		return nil, err
	}
	p, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	completer, toolClient, err := a.models()
	if err != nil {
		return nil, err
	}

	a.classifier = classifier.New(classifier.Config{
		CannedQuestions: a.profile.CannedQuestions,
		EntityKeywords:  a.profile.Entities,
	})

	fastAgent, err := fast.New(fast.Config{
		Logger:  log,
		LLM:     completer,
		Gateway: a.gateway,
		Schema:  a.schema,
		Prompts: p,
		Profile: a.profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fast agent: %w", err)
	}
	reactAgent, err := react.New(react.Config{
		Logger:   log,
		LLM:      toolClient,
		Gateway:  a.gateway,
		Schema:   a.schema,
		Prompts:  p,
		Profile:  a.profile,
		MaxSteps: opts.maxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create react agent: %w", err)
	}
	gen, err := insights.New(insights.Config{
		Logger:  log,
		LLM:     completer,
		Prompts: p,
		Profile: a.profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create insights generator: %w", err)
	}

	a.query, err = handlers.NewQueryHandler(handlers.QueryConfig{
		Logger:      log,
		Classifier:  a.classifier,
		Fast:        fastAgent,
		Full:        reactAgent,
		Insights:    gen,
		DatabaseURL: opts.databaseURL,
		APIKey:      opts.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query handler: %w", err)
	}
	ready = true
	return a, nil
}

func (a *app) openGateway(ctx context.Context) error {
	cfg := gateway.Config{Logger: a.log, MaxRows: a.opts.maxRows}
	if a.opts.databaseURL == "" {
		a.log.Warn("database URL not set, questions will be answered with configuration guidance")
	} else {
		db, backend, err := gateway.Open(ctx, a.opts.databaseURL, gateway.PoolConfig{})
		if err != nil {
			return err
		}
		cfg.DB, cfg.Backend = db, backend
		a.log.Info("using database", "backend", backend, "url", gateway.RedactDSN(a.opts.databaseURL))
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	a.gateway = gw
	a.closers = append(a.closers, func() {
		if err := gw.Close(); err != nil {
			a.log.Error("failed to close database", "error", err)
		}
	})
	return nil
}

// models returns the completion chain (API, retry, cache) and the tool-use client.
func (a *app) models() (llm.Completer, react.LLMClient, error) {
	if a.opts.apiKey == "" {
		a.log.Warn("ANTHROPIC_API_KEY not set, questions will be answered with configuration guidance")
		return llm.Unconfigured{}, react.Unconfigured{}, nil
	}

	client := llm.NewClient(a.opts.apiKey)
	model := anthropic.Model(a.opts.model)

	base, err := llm.NewAnthropic(llm.AnthropicConfig{Logger: a.log, Client: client, Model: model})
	if err != nil {
		return nil, nil, err
	}
	retrying, err := llm.NewRetrying(llm.RetryConfig{Logger: a.log, Next: base, MaxAttempts: a.opts.llmMaxAttempts})
	if err != nil {
		return nil, nil, err
	}
	caching, err := llm.NewCaching(llm.CacheConfig{Logger: a.log, Next: retrying, Namespace: a.opts.model})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, caching.Close)

	a.log.Info("using model", "model", model, "maxAttempts", a.opts.llmMaxAttempts)
	return caching, react.NewAnthropicClient(client, model, 0), nil
}

// loadSchema populates the schema cache, retrying while the database comes up. A
// failure is logged and left to the live fallback and the admin refresh endpoint.
func (a *app) loadSchema(ctx context.Context) {
	if !a.gateway.Configured() {
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	attempt := 0
	snap, err := backoff.Retry(ctx, func() (*schema.Snapshot, error) {
		attempt++
		if attempt > 1 {
			a.log.Warn("schema: retrying initial load", "attempt", attempt)
		}
		return a.schema.Refresh(ctx)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(schemaLoadAttempts))
	if err != nil {
		a.log.Error("schema: initial load failed", "error", err, "attempts", attempt)
		return
	}
	a.log.Info("schema: loaded", "tables", len(snap.Tables), "sizeKB", snap.SizeKB())
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
