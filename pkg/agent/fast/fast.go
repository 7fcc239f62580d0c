package fast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
)

const defaultMaxTokens = 1024

// Gateway validates and runs generated SQL. *gateway.Gateway satisfies it.
type Gateway interface {
	Sanitize(query string) (string, error)
	Execute(ctx context.Context, query string) (*chart.Table, error)
	MaxRows() int
	Configured() bool
}

// SchemaSource supplies the schema text for prompts. *schema.Cache satisfies it.
type SchemaSource interface {
	Text(ctx context.Context) (string, error)
}

type Config struct {
	Logger    *slog.Logger
	LLM       llm.Completer
	Gateway   Gateway
	Schema    SchemaSource
	Prompts   *prompts.Prompts
	Profile   *profile.Profile
	Clock     clockwork.Clock
	MaxTokens int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.Gateway == nil {
		return errors.New("gateway is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema source is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts are required")
	}
	if cfg.Profile == nil {
		return errors.New("profile is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return nil
}

// Agent answers a question with one SQL generation call and one execution.
type Agent struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate fast agent config: %w", err)
	}
	return &Agent{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Agent) Run(ctx context.Context, question string) agent.Outcome {
	start := a.cfg.Clock.Now()
	outcome := a.run(ctx, question)
	outcome.ExecutionTimeMs = a.cfg.Clock.Since(start).Milliseconds()
	if outcome.Failed() {
		a.log.Info("fast: question failed", "kind", outcome.ErrorKind, "error", outcome.Error, "durationMs", outcome.ExecutionTimeMs)
	} else {
		a.log.Info("fast: question answered", "rows", outcome.Results.RowCount(), "durationMs", outcome.ExecutionTimeMs)
	}
	return outcome
}

func (a *Agent) run(ctx context.Context, question string) agent.Outcome {
	if !a.cfg.Gateway.Configured() {
		return agent.Failure("", fmt.Errorf("%w: database URL is missing, set DATABASE_URL", agent.ErrNotConfigured))
	}

	schemaText, err := a.cfg.Schema.Text(ctx)
	if err != nil {
		return agent.Failure("", err)
	}

	system := prompts.Render(a.cfg.Prompts.Fast, agent.PromptVars(a.cfg.Profile, schemaText, a.cfg.Gateway.MaxRows()))
	reply, err := a.cfg.LLM.Complete(ctx, system, question,
		llm.WithOperation("fast_sql"),
		llm.WithMaxTokens(a.cfg.MaxTokens),
		llm.WithTemperature(0),
		llm.WithCache(),
	)
	if err != nil {
		return agent.Failure("", err)
	}

	sqlQuery := agent.ExtractSQL(reply)
	a.log.Debug("fast: generated sql", "sql", sqlQuery)

	sanitized, err := a.cfg.Gateway.Sanitize(sqlQuery)
	if err != nil {
		return agent.Failure(sqlQuery, err)
	}
	results, err := a.cfg.Gateway.Execute(ctx, sanitized)
	if err != nil {
		return agent.Failure(sanitized, err)
	}
	return agent.Outcome{SQLQuery: sanitized, Results: results}
}
