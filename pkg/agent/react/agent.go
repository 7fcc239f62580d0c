package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/metrics"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
	"github.com/malbeclabs/askdata/pkg/schema"
)

const (
	DefaultMaxSteps = 8

	defaultObservationRows = 20
)

type (
	State = agent.State
	Step  = agent.Step
)

var ErrStepLimitExceeded = agent.ErrStepLimitExceeded

// Gateway validates and runs SQL. *gateway.Gateway satisfies it.
type Gateway interface {
	Sanitize(query string) (string, error)
	Execute(ctx context.Context, query string) (*chart.Table, error)
	MaxRows() int
	Configured() bool
}

// SchemaSource supplies table metadata. *schema.Cache satisfies it.
type SchemaSource interface {
	Tables(ctx context.Context) ([]schema.Table, error)
}

// Config is the configuration for the Agent.
type Config struct {
	Logger          *slog.Logger
	LLM             LLMClient
	Gateway         Gateway
	Schema          SchemaSource
	Prompts         *prompts.Prompts
	Profile         *profile.Profile
	Clock           clockwork.Clock
	MaxSteps        int
	ObservationRows int
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
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxSteps <= 0 {
		return errors.New("max steps must be greater than 0")
	}
	if cfg.ObservationRows <= 0 {
		cfg.ObservationRows = defaultObservationRows
	}
	return nil
}

// Agent answers questions with a Thinking / Action / Observation loop driven by
// model tool calls.
type Agent struct {
	log   *slog.Logger
	cfg   Config
	tools []Tool
}

func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate react agent config: %w", err)
	}
	tools, err := Tools()
	if err != nil {
		return nil, err
	}
	return &Agent{log: cfg.Logger, cfg: cfg, tools: tools}, nil
}

// run holds the state of one question.
type run struct {
	a        *Agent
	tables   []schema.Table
	system   string
	msgs     []Message
	trace    []Step
	lastSQL  string
	lastRows *chart.Table
}

func (a *Agent) Run(ctx context.Context, question string) agent.Outcome {
	start := a.cfg.Clock.Now()
	r := &run{a: a}
	outcome := r.execute(ctx, question)
	outcome.Trace = r.trace
	outcome.ExecutionTimeMs = a.cfg.Clock.Since(start).Milliseconds()
	if outcome.Failed() {
		a.log.Info("react: question failed", "kind", outcome.ErrorKind, "error", outcome.Error, "steps", len(r.trace), "durationMs", outcome.ExecutionTimeMs)
	} else {
		a.log.Info("react: question answered", "rows", outcome.Results.RowCount(), "steps", len(r.trace), "durationMs", outcome.ExecutionTimeMs)
	}
	return outcome
}

func (r *run) execute(ctx context.Context, question string) agent.Outcome {
	a := r.a
	if !a.cfg.Gateway.Configured() {
		return agent.Failure("", fmt.Errorf("%w: database URL is missing, set DATABASE_URL", agent.ErrNotConfigured))
	}

	tables, err := a.cfg.Schema.Tables(ctx)
	if err != nil {
		return agent.Failure("", err)
	}
	r.tables = tables

	vars := agent.PromptVars(a.cfg.Profile, schema.Summary(tables), a.cfg.Gateway.MaxRows())
	vars[prompts.MaxSteps] = strconv.Itoa(a.cfg.MaxSteps)
	r.system = prompts.Render(a.cfg.Prompts.ReAct, vars)
	r.msgs = []Message{a.cfg.LLM.CreateUserMessage(question)}

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return agent.Failure(r.lastSQL, err)
		}
		if step > a.cfg.MaxSteps {
			r.record(Step{State: agent.StateStepLimitExceeded, Error: ErrStepLimitExceeded.Error()})
			a.log.Warn("react: step limit exceeded", "maxSteps", a.cfg.MaxSteps)
			return agent.Failure(r.lastSQL, ErrStepLimitExceeded)
		}

		a.log.Info("react: starting step", "step", step, "maxSteps", a.cfg.MaxSteps)
		outcome, done := r.think(ctx)
		if done {
			return outcome
		}
	}
}

// think runs one Thinking state and the action it selects. It reports done with
// the final outcome when the question is answered or the run must stop.
func (r *run) think(ctx context.Context) (agent.Outcome, bool) {
	a := r.a
	start := a.cfg.Clock.Now()
	resp, err := a.cfg.LLM.Call(ctx, r.system, r.msgs, a.tools)
	if err != nil {
		r.record(Step{State: agent.StateThinking, Error: err.Error(), DurationMs: a.cfg.Clock.Since(start).Milliseconds()})
		return agent.Failure(r.lastSQL, err), true
	}
	r.msgs = append(r.msgs, resp.ToMessage())

	var thought strings.Builder
	var toolUses []ToolUse
	for _, blk := range resp.Content() {
		if text, ok := blk.AsText(); ok {
			thought.WriteString(text)
		}
		if id, name, input, ok := blk.AsToolUse(); ok {
			toolUses = append(toolUses, ToolUse{ID: id, Name: name, Input: input})
		}
	}
	r.record(Step{State: agent.StateThinking, Thought: strings.TrimSpace(thought.String()), DurationMs: a.cfg.Clock.Since(start).Milliseconds()})

	if len(toolUses) == 0 {
		a.log.Info("react: no tool call, nudging model")
		r.msgs = append(r.msgs, a.cfg.LLM.CreateUserMessage(a.cfg.Prompts.ReActNudge))
		return agent.Outcome{}, false
	}

	// The first tool use decides the transition. Every tool use still needs a
	// result in the next message.
	tu := toolUses[0]
	results := make([]ToolResult, 0, len(toolUses))
	var obs ToolResult
	switch tu.Name {
	case toolExecuteSQL:
		obs = r.actionSQL(ctx, tu)
	case toolDescribeTables:
		obs = r.actionSchemaLookup(tu)
	case toolFinish:
		outcome, ok, res := r.finish(ctx, tu)
		if ok {
			return outcome, true
		}
		obs = res
	default:
		obs = ToolResult{ID: tu.ID, Content: fmt.Sprintf("Error: unknown tool %q", tu.Name), IsError: true}
		r.record(Step{State: agent.StateObservation, Error: obs.Content})
	}
	if err := ctx.Err(); err != nil {
		return agent.Failure(r.lastSQL, err), true
	}

	results = append(results, obs)
	for _, extra := range toolUses[1:] {
		results = append(results, ToolResult{ID: extra.ID, Content: "Skipped: call one tool at a time.", IsError: true})
	}
	r.msgs = append(r.msgs, a.cfg.LLM.ConvertToolResults(results)...)
	return agent.Outcome{}, false
}

func (r *run) actionSQL(ctx context.Context, tu ToolUse) ToolResult {
	var in ExecuteSQLInput
	if err := json.Unmarshal(tu.Input, &in); err != nil || strings.TrimSpace(in.SQL) == "" {
		return r.observeError(tu.ID, agent.StateActionSQL, "", "execute_sql requires a non-empty sql argument")
	}

	start := r.a.cfg.Clock.Now()
	sanitized, table, err := r.runSQL(ctx, in.SQL)
	r.record(Step{State: agent.StateActionSQL, SQL: sanitized, DurationMs: r.a.cfg.Clock.Since(start).Milliseconds()})
	if err != nil {
		_, msg := agent.Classify(err)
		return r.observeError(tu.ID, agent.StateObservation, sanitized, msg)
	}

	content := fmt.Sprintf("%d rows.\n\n%s", table.RowCount(), table.Head(r.a.cfg.ObservationRows).Markdown())
	if table.RowCount() > r.a.cfg.ObservationRows {
		content += fmt.Sprintf("\n(showing the first %d rows)", r.a.cfg.ObservationRows)
	}
	r.record(Step{State: agent.StateObservation, SQL: sanitized, Observation: content, RowCount: table.RowCount()})
	return ToolResult{ID: tu.ID, Content: content}
}

func (r *run) actionSchemaLookup(tu ToolUse) ToolResult {
	var in DescribeTablesInput
	if err := json.Unmarshal(tu.Input, &in); err != nil || len(in.Tables) == 0 {
		return r.observeError(tu.ID, agent.StateActionSchemaLookup, "", "describe_tables requires a non-empty tables argument")
	}
	r.record(Step{State: agent.StateActionSchemaLookup, Tables: in.Tables})

	text, unknown := schema.Describe(r.tables, in.Tables)
	if len(unknown) > 0 {
		text += fmt.Sprintf("\nUnknown tables: %s. Available tables: %s\n", strings.Join(unknown, ", "), strings.Join(schema.Names(r.tables), ", "))
	}
	text = strings.TrimSpace(text)
	r.record(Step{State: agent.StateObservation, Tables: in.Tables, Observation: text})
	return ToolResult{ID: tu.ID, Content: text, IsError: len(unknown) == len(in.Tables)}
}

// finish executes the final SQL. A failing query becomes an observation and the
// loop continues.
func (r *run) finish(ctx context.Context, tu ToolUse) (agent.Outcome, bool, ToolResult) {
	var in FinishInput
	if err := json.Unmarshal(tu.Input, &in); err != nil || strings.TrimSpace(in.SQL) == "" {
		return agent.Outcome{}, false, r.observeError(tu.ID, agent.StateFinish, "", "finish requires a non-empty sql argument")
	}

	start := r.a.cfg.Clock.Now()
	sanitized, table, err := r.runSQL(ctx, in.SQL)
	if err != nil {
		r.record(Step{State: agent.StateFinish, SQL: sanitized, Thought: in.Summary, DurationMs: r.a.cfg.Clock.Since(start).Milliseconds()})
		_, msg := agent.Classify(err)
		if ctx.Err() != nil {
			return agent.Failure(sanitized, ctx.Err()), true, ToolResult{}
		}
		return agent.Outcome{}, false, r.observeError(tu.ID, agent.StateObservation, sanitized, msg)
	}
	r.record(Step{
		State:      agent.StateFinish,
		SQL:        sanitized,
		Thought:    in.Summary,
		RowCount:   table.RowCount(),
		DurationMs: r.a.cfg.Clock.Since(start).Milliseconds(),
	})
	return agent.Outcome{SQLQuery: sanitized, Results: table}, true, ToolResult{}
}

// runSQL sanitizes and executes query, reusing the previous result when the
// sanitized statement is unchanged.
func (r *run) runSQL(ctx context.Context, query string) (string, *chart.Table, error) {
	query = agent.ExtractSQL(query)
	sanitized, err := r.a.cfg.Gateway.Sanitize(query)
	if err != nil {
		return query, nil, err
	}
	if sanitized == r.lastSQL && r.lastRows != nil {
		r.a.log.Debug("react: reusing previous result", "sql", sanitized)
		return sanitized, r.lastRows, nil
	}
	table, err := r.a.cfg.Gateway.Execute(ctx, sanitized)
	if err != nil {
		return sanitized, nil, err
	}
	r.lastSQL, r.lastRows = sanitized, table
	return sanitized, table, nil
}

func (r *run) observeError(id string, state State, sql, msg string) ToolResult {
	r.record(Step{State: state, SQL: sql, Error: msg})
	return ToolResult{ID: id, Content: "Error: " + msg, IsError: true}
}

func (r *run) record(s Step) {
	s.Index = len(r.trace)
	r.trace = append(r.trace, s)
	metrics.AgentStepsTotal.WithLabelValues(string(s.State)).Inc()
}
