package insights

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/llm/llmtest"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, model llm.Completer) *Generator {
	t.Helper()
	p, err := prompts.Load()
	require.NoError(t, err)
	prof, err := profile.Load("shipsticks")
	require.NoError(t, err)
	g, err := New(Config{
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		LLM:     model,
		Prompts: p,
		Profile: prof,
	})
	require.NoError(t, err)
	return g
}

func customersTable(n int) *chart.Table {
	t := &chart.Table{Columns: []string{"customer_id", "customer_name", "total_revenue"}}
	for i := range n {
		t.Rows = append(t.Rows, []chart.Cell{
			chart.Number(float64(i + 1)),
			chart.Text(fmt.Sprintf("Customer %02d", i+1)),
			chart.Number(float64(1000 * (n - i))),
		})
	}
	return t
}

func validReport() string {
	var sb strings.Builder
	for _, section := range ReportSections {
		sb.WriteString(section + "\n")
		sb.WriteString(strings.Repeat("Revenue grew across every segment this quarter. ", 8) + "\n\n")
	}
	return sb.String()
}

func TestAskData_Insights_ParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeQuick, "quick": ModeQuick, "PRO": ModePro, " pro ": ModePro} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("verbose")
	require.ErrorContains(t, err, "invalid responseMode")
}

func TestAskData_Insights_EmptyResultSkipsModel(t *testing.T) {
	t.Parallel()

	model := llmtest.New()
	g := newTestGenerator(t, model)

	empty := &chart.Table{Columns: []string{"customer_name", "total_revenue"}}
	for _, mode := range []Mode{ModeQuick, ModePro} {
		out := g.Generate(t.Context(), "Top customers in Antarctica", "SELECT 1", empty, mode)
		assert.Equal(t, emptyResultMarkdown, out)
	}
	assert.Equal(t, 0, model.CallCount())
}

func TestAskData_Insights_Quick(t *testing.T) {
	t.Parallel()

	t.Run("bolds a metric when the model did not", func(t *testing.T) {
		t.Parallel()
		model := llmtest.Texts("Customer 01 leads with $12,000 in revenue, ahead of Customer 02 at $11,000. Focus retention on the top accounts.")
		g := newTestGenerator(t, model)

		out := g.Generate(t.Context(), "Top customers by revenue", "SELECT ...", customersTable(12), ModeQuick)
		assert.True(t, strings.HasPrefix(out, "Customer 01 leads with **$12,000** in revenue"), out)
		assert.Equal(t, 1, strings.Count(out, "**")/2)

		calls := model.CallsFor("insights_quick")
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].System, "Ship Sticks")
		assert.Contains(t, calls[0].User, "Results (12 rows, first 10 shown)")
		assert.Contains(t, calls[0].User, "Customer 10")
		assert.NotContains(t, calls[0].User, "Customer 11")
		assert.True(t, calls[0].Options.Cacheable)
	})

	t.Run("keeps existing bold", func(t *testing.T) {
		t.Parallel()
		reply := "Revenue reached **$78,000** across 12 customers."
		g := newTestGenerator(t, llmtest.Texts(reply))
		assert.Equal(t, reply, g.Generate(t.Context(), "q", "SELECT 1", customersTable(12), ModeQuick))
	})

	t.Run("falls back on model failure", func(t *testing.T) {
		t.Parallel()
		model := llmtest.New(llmtest.Reply{Err: errors.New("anthropic API error: 529 overloaded")})
		g := newTestGenerator(t, model)

		out := g.Generate(t.Context(), "q", "SELECT 1", customersTable(12), ModeQuick)
		assert.Contains(t, out, "I found 12 rows")
		assert.Contains(t, out, "Pro mode")
		assert.Contains(t, out, "Excel")
		assert.NotContains(t, out, "529")
	})
}

func TestAskData_Insights_Pro(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid report", func(t *testing.T) {
		t.Parallel()
		model := llmtest.Texts(validReport())
		g := newTestGenerator(t, model)

		out := g.Generate(t.Context(), "q", "SELECT 1", customersTable(60), ModePro)
		assert.Empty(t, validateReport(out))
		require.Equal(t, 1, model.CallCount())
		call := model.Calls()[0]
		assert.Equal(t, "insights_pro", call.Options.Operation)
		assert.Contains(t, call.User, "Results (60 rows, first 50 shown)")
		assert.Contains(t, call.System, "## Financial Impact")
	})

	t.Run("regenerates once", func(t *testing.T) {
		t.Parallel()
		model := llmtest.Texts("## Key Findings\nToo short.", validReport())
		g := newTestGenerator(t, model)

		out := g.Generate(t.Context(), "q", "SELECT 1", customersTable(5), ModePro)
		assert.Equal(t, strings.TrimSpace(validReport()), out)
		retries := model.CallsFor("insights_pro_retry")
		require.Len(t, retries, 1)
		assert.Contains(t, retries[0].User, "Previous report:")
		assert.Contains(t, retries[0].User, `missing section "## Financial Impact"`)
		assert.Contains(t, retries[0].User, "minimum 200")
	})

	t.Run("falls back to a skeleton", func(t *testing.T) {
		t.Parallel()
		model := llmtest.Texts("Short answer.", "Still short.")
		g := newTestGenerator(t, model)

		out := g.Generate(t.Context(), "Top customers", "SELECT 1", customersTable(4), ModePro)
		assert.Equal(t, 2, model.CallCount())
		for _, section := range ReportSections {
			assert.Contains(t, out, section+"\n")
		}
		assert.Contains(t, out, "**4 rows**")
		assert.Contains(t, out, "Total Revenue: total **$10,000.00**, average $2,500.00")
		assert.Contains(t, out, "peaks at $4,000.00 (Customer 01) and is lowest at $1,000.00 (Customer 04)")
		assert.NotContains(t, out, "Customer ID")
		assert.Contains(t, out, "3. ")
	})
}

func TestAskData_Insights_ValidateReport(t *testing.T) {
	t.Parallel()

	assert.Empty(t, validateReport(validReport()))

	problems := validateReport("## key findings\n" + strings.Repeat("word ", 250))
	assert.Equal(t, []string{
		`missing section "## Financial Impact"`,
		`missing section "## Risk Areas & Opportunities"`,
		`missing section "## Actionable Recommendations"`,
	}, problems)
}

func TestAskData_Insights_GenerateError(t *testing.T) {
	t.Parallel()

	model := llmtest.New()
	g := newTestGenerator(t, model)

	tests := []struct {
		name   string
		errMsg string
		want   []string
	}{
		{"missing database", "database URL is missing, set DATABASE_URL", []string{"**Database Not Configured**"}},
		{"missing model", "model provider not configured: set ANTHROPIC_API_KEY", []string{"**Database Not Configured**"}},
		{"write rejected", "write or administrative operations are not allowed (DELETE)", []string{"**Read-Only Access**"}},
		{"readonly transaction", "cannot execute INSERT in a read-only transaction", []string{"**Read-Only Access**"}},
		{"missing relation", `relation "orders" does not exist`, []string{"**Table or Column Not Found**", "- Carriers, routes and transit times"}},
		{"unknown table", "unknown table payments_v2", []string{"**Table or Column Not Found**"}},
		{"syntax", `syntax error at or near "FORM"`, []string{"**Query Syntax Issue**"}},
		{"step limit", "could not determine an answer within the step budget", []string{"processing limit", "- Show me top 5 customers by revenue"}},
		{"request timeout", "request timed out", []string{"**Query Took Too Long**", "Narrow the date range"}},
		{"statement timeout", "canceling statement due to statement timeout", []string{"**Query Took Too Long**"}},
		{"mysql execution time", "Query execution was interrupted, maximum statement execution time exceeded", []string{"**Query Took Too Long**"}},
		{"other", "connection reset by peer", []string{"**Something Went Wrong**", "- Which routes have the highest late delivery rate?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := g.GenerateError("q", "SELECT 1", tt.errMsg)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
	assert.Equal(t, 0, model.CallCount())
}
