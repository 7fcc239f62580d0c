package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
)

// Mode selects the verbosity of generated insights.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModePro   Mode = "pro"
)

// ParseMode parses a response mode. The empty string means quick.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeQuick:
		return ModeQuick, nil
	case ModePro:
		return ModePro, nil
	}
	return "", fmt.Errorf("invalid responseMode %q: must be %q or %q", s, ModeQuick, ModePro)
}

const (
	DefaultQuickRows      = 10
	DefaultProRows        = 50
	DefaultQuickMaxTokens = 512
	DefaultProMaxTokens   = 2048

	insightsTemperature = 0.3
)

const emptyResultMarkdown = `**No results found**

The query ran successfully but returned no rows for this question. Try:

- Widening the date range or removing a time filter
- Relaxing filters on status, region or segment
- Checking the spelling of names, carriers or locations
- Asking about a related metric that has data`

type Config struct {
	Logger         *slog.Logger
	LLM            llm.Completer
	Prompts        *prompts.Prompts
	Profile        *profile.Profile
	QuickRows      int
	ProRows        int
	QuickMaxTokens int64
	ProMaxTokens   int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts are required")
	}
	if cfg.Profile == nil {
		return errors.New("profile is required")
	}
	if cfg.QuickRows <= 0 {
		cfg.QuickRows = DefaultQuickRows
	}
	if cfg.ProRows <= 0 {
		cfg.ProRows = DefaultProRows
	}
	if cfg.QuickMaxTokens <= 0 {
		cfg.QuickMaxTokens = DefaultQuickMaxTokens
	}
	if cfg.ProMaxTokens <= 0 {
		cfg.ProMaxTokens = DefaultProMaxTokens
	}
	return nil
}

// Generator narrates query results as markdown. It never returns an error: every
// failure degrades to a deterministic message.
type Generator struct {
	log *slog.Logger
	cfg Config

	vars map[string]string
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate insights config: %w", err)
	}
	return &Generator{
		log: cfg.Logger,
		cfg: cfg,
		vars: map[string]string{
			prompts.DisplayName: cfg.Profile.DisplayName,
			prompts.Context:     strings.TrimSpace(cfg.Profile.Context),
		},
	}, nil
}

// Generate returns insights for results in the requested mode.
func (g *Generator) Generate(ctx context.Context, question, sqlQuery string, results *chart.Table, mode Mode) string {
	if results.RowCount() == 0 {
		return emptyResultMarkdown
	}
	if mode == ModePro {
		return g.pro(ctx, question, sqlQuery, results)
	}
	return g.quick(ctx, question, sqlQuery, results)
}

func (g *Generator) quick(ctx context.Context, question, sqlQuery string, results *chart.Table) string {
	system := prompts.Render(g.cfg.Prompts.Quick, g.vars)
	reply, err := g.cfg.LLM.Complete(ctx, system, userMessage(question, sqlQuery, results, g.cfg.QuickRows),
		llm.WithOperation("insights_quick"),
		llm.WithMaxTokens(g.cfg.QuickMaxTokens),
		llm.WithTemperature(insightsTemperature),
		llm.WithCache(),
	)
	if err != nil {
		g.log.Warn("insights: quick generation failed", "error", err)
		return fallbackMessage(results.RowCount())
	}
	return ensureBold(strings.TrimSpace(reply))
}

func (g *Generator) pro(ctx context.Context, question, sqlQuery string, results *chart.Table) string {
	system := prompts.Render(g.cfg.Prompts.Pro, g.vars)
	user := userMessage(question, sqlQuery, results, g.cfg.ProRows)
	opts := []llm.Option{
		llm.WithOperation("insights_pro"),
		llm.WithMaxTokens(g.cfg.ProMaxTokens),
		llm.WithTemperature(insightsTemperature),
		llm.WithCache(),
	}

	reply, err := g.cfg.LLM.Complete(ctx, system, user, opts...)
	if err != nil {
		g.log.Warn("insights: pro generation failed", "error", err)
		return fallbackMessage(results.RowCount())
	}
	reply = strings.TrimSpace(reply)
	problems := validateReport(reply)
	if len(problems) == 0 {
		return reply
	}

	g.log.Info("insights: pro report failed validation, regenerating", "problems", problems)
	note := prompts.Render(g.cfg.Prompts.ProRetry, map[string]string{prompts.Problems: strings.Join(problems, "; ")})
	retryUser := user + "\n\nPrevious report:\n\n" + reply + "\n\n" + note
	opts[0] = llm.WithOperation("insights_pro_retry")
	reply, err = g.cfg.LLM.Complete(ctx, system, retryUser, opts...)
	if err == nil {
		reply = strings.TrimSpace(reply)
		if problems = validateReport(reply); len(problems) == 0 {
			return reply
		}
		g.log.Warn("insights: regenerated pro report still invalid, using skeleton", "problems", problems)
	} else {
		g.log.Warn("insights: pro regeneration failed, using skeleton", "error", err)
	}
	return skeletonReport(question, results)
}

func userMessage(question, sqlQuery string, results *chart.Table, maxRows int) string {
	var sb strings.Builder
	sb.WriteString("Question: " + question + "\n\n")
	sb.WriteString("SQL:\n" + sqlQuery + "\n\n")
	total := results.RowCount()
	shown := min(total, maxRows)
	if shown < total {
		fmt.Fprintf(&sb, "Results (%d rows, first %d shown):\n\n", total, shown)
	} else {
		fmt.Fprintf(&sb, "Results (%d rows):\n\n", total)
	}
	sb.WriteString(results.Head(maxRows).Markdown())
	return sb.String()
}

func fallbackMessage(rows int) string {
	noun := "rows"
	if rows == 1 {
		noun = "row"
	}
	return fmt.Sprintf("I found %s %s for your question, but could not write a summary right now. "+
		"The results are shown below. Try Pro mode for a detailed analysis, or export to Excel to explore the data further.",
		humanize.Comma(int64(rows)), noun)
}

var (
	boldRe   = regexp.MustCompile(`\*\*[^*\n]+\*\*`)
	metricRe = regexp.MustCompile(`[$€£]\d[\d,]*(?:\.\d+)?|\d[\d,]*(?:\.\d+)?%`)
	numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// ensureBold bolds the first amount or percentage of a reply that has no bold span,
// or its first number when there is neither.
func ensureBold(text string) string {
	if boldRe.MatchString(text) {
		return text
	}
	loc := metricRe.FindStringIndex(text)
	if loc == nil {
		loc = numberRe.FindStringIndex(text)
	}
	if loc == nil {
		return text
	}
	return text[:loc[0]] + "**" + text[loc[0]:loc[1]] + "**" + text[loc[1]:]
}
