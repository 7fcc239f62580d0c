package fast

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/gateway/gatewaytest"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/llm/llmtest"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSchema string

func (s staticSchema) Text(context.Context) (string, error) { return string(s), nil }

const testSchema = "customers:\n  - customer_name (VARCHAR)\n  - total_revenue (DOUBLE)\n"

func newTestAgent(t *testing.T, model llm.Completer, gw Gateway, clock clockwork.Clock) *Agent {
	t.Helper()
	p, err := prompts.Load()
	require.NoError(t, err)
	prof, err := profile.Load("shipsticks")
	require.NoError(t, err)
	a, err := New(Config{
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		LLM:     model,
		Gateway: gw,
		Schema:  staticSchema(testSchema),
		Prompts: p,
		Profile: prof,
		Clock:   clock,
	})
	require.NoError(t, err)
	return a
}

func TestAskData_Fast_Run(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New(t, gatewaytest.ShipSticks...)

	t.Run("answers with results", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		model := llmtest.New()
		model.Route = func(llmtest.Call) llmtest.Reply {
			clock.Advance(1500 * time.Millisecond)
			return llmtest.Reply{Text: "```sql\nSELECT customer_name, total_revenue FROM customers ORDER BY total_revenue DESC LIMIT 5;\n```"}
		}
		a := newTestAgent(t, model, gw, clock)

		out := a.Run(t.Context(), "Show me top 5 customers by revenue")
		require.True(t, out.WellFormed())
		require.False(t, out.Failed(), out.Error)
		assert.Equal(t, "SELECT customer_name, total_revenue FROM customers ORDER BY total_revenue DESC LIMIT 5", out.SQLQuery)
		assert.Equal(t, 5, out.Results.RowCount())
		assert.Equal(t, "Acme Golf", out.Results.Rows[0][0].String())
		assert.Equal(t, int64(1500), out.ExecutionTimeMs)
		assert.Nil(t, out.Trace)

		calls := model.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "Show me top 5 customers by revenue", calls[0].User)
		assert.Contains(t, calls[0].System, testSchema)
		assert.Contains(t, calls[0].System, "Ship Sticks")
		assert.Contains(t, calls[0].System, "no greater than 1000")
		assert.Equal(t, "fast_sql", calls[0].Options.Operation)
		assert.True(t, calls[0].Options.Cacheable)
	})

	t.Run("appends row ceiling", func(t *testing.T) {
		t.Parallel()
		a := newTestAgent(t, llmtest.Texts("SELECT segment, count(*) AS customer_count FROM customers GROUP BY segment"), gw, clockwork.NewFakeClock())
		out := a.Run(t.Context(), "How many customers per segment?")
		require.False(t, out.Failed(), out.Error)
		assert.Equal(t, "SELECT segment, count(*) AS customer_count FROM customers GROUP BY segment LIMIT 1000", out.SQLQuery)
		assert.Equal(t, 2, out.Results.RowCount())
	})

	t.Run("write is rejected", func(t *testing.T) {
		t.Parallel()
		a := newTestAgent(t, llmtest.Texts("DELETE FROM customers"), gw, clockwork.NewFakeClock())
		out := a.Run(t.Context(), "remove all customers")
		require.True(t, out.WellFormed())
		assert.Equal(t, agent.KindValidation, out.ErrorKind)
		assert.Equal(t, "DELETE FROM customers", out.SQLQuery)
		assert.Nil(t, out.Results)

		check := newTestAgent(t, llmtest.Texts("SELECT count(*) AS n FROM customers"), gw, clockwork.NewFakeClock())
		after := check.Run(t.Context(), "count customers")
		require.False(t, after.Failed(), after.Error)
		assert.Equal(t, 6.0, after.Results.Rows[0][0].Float())
	})

	t.Run("unknown table", func(t *testing.T) {
		t.Parallel()
		a := newTestAgent(t, llmtest.Texts("SELECT * FROM claims"), gw, clockwork.NewFakeClock())
		out := a.Run(t.Context(), "How many claims were filed?")
		require.True(t, out.WellFormed())
		assert.Equal(t, agent.KindSchemaMismatch, out.ErrorKind)
		assert.Contains(t, out.Error, "does not exist")
		assert.Equal(t, "SELECT * FROM claims LIMIT 1000", out.SQLQuery)
	})

	t.Run("model not configured", func(t *testing.T) {
		t.Parallel()
		a := newTestAgent(t, llm.Unconfigured{}, gw, clockwork.NewFakeClock())
		out := a.Run(t.Context(), "Show me top 5 customers by revenue")
		assert.Equal(t, agent.KindConfiguration, out.ErrorKind)
		assert.Contains(t, out.Error, "ANTHROPIC_API_KEY")
		assert.Empty(t, out.SQLQuery)
	})
}

func TestAskData_Fast_DatabaseNotConfigured(t *testing.T) {
	t.Parallel()

	model := llmtest.Texts("SELECT 1")
	a := newTestAgent(t, model, gatewaytest.Unconfigured(t), clockwork.NewFakeClock())

	out := a.Run(t.Context(), "Show me top 5 customers by revenue")
	require.True(t, out.WellFormed())
	assert.Equal(t, agent.KindConfiguration, out.ErrorKind)
	assert.Contains(t, out.Error, "DATABASE_URL")
	assert.Zero(t, model.CallCount(), "no model call without a database")
}
