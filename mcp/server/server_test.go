package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/classifier"
	"github.com/malbeclabs/askdata/pkg/schema"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAnswerer struct {
	requests chan handlers.QueryRequest
}

func (f *fakeAnswerer) Answer(_ context.Context, req handlers.QueryRequest) (handlers.QueryResponse, int) {
	f.requests <- req
	sql := "SELECT customer_name, total_revenue FROM customers ORDER BY total_revenue DESC LIMIT 2"
	return handlers.QueryResponse{
		Success:  true,
		Response: "Acme Golf leads with **$5,000.50**.",
		SQLQuery: &sql,
		QueryResults: &chart.Table{
			Columns: []string{"customer_name", "total_revenue"},
			Rows: [][]chart.Cell{
				{chart.Text("Acme Golf"), chart.Number(5000.5)},
				{chart.Text("Birdie Club"), chart.Number(4200)},
			},
		},
		ChartData: &chart.Data{Type: chart.TypePie},
		Metadata:  &handlers.QueryMetadata{Complexity: classifier.Simple, UsedFastPath: true},
	}, http.StatusOK
}

type staticTables []schema.Table

func (s staticTables) Tables(context.Context) ([]schema.Table, error) { return s, nil }

var testTables = staticTables{
	{Name: "customers", Columns: []schema.Column{{Name: "customer_id", Type: "INTEGER"}, {Name: "customer_name", Type: "VARCHAR"}}},
	{Name: "shipments", Columns: []schema.Column{{Name: "shipment_id", Type: "INTEGER"}}},
}

type bearerTransport struct {
	token string
}

func (b bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func newTestServer(t *testing.T, answerer Answerer, tokens ...string) *httptest.Server {
	t.Helper()
	s, err := New(Config{
		Logger:        testLogger(t),
		Answerer:      answerer,
		Classifier:    classifier.New(classifier.Config{CannedQuestions: []string{"Show me top 5 customers by revenue"}}),
		Schema:        testTables,
		Version:       "test",
		AllowedTokens: tokens,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, endpoint, token string) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "askdata-test", Version: "test"}, nil)
	httpClient := &http.Client{}
	if token != "" {
		httpClient.Transport = bearerTransport{token: token}
	}
	session, err := client.Connect(t.Context(), &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: httpClient}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	res, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	if !res.IsError {
		require.NoError(t, json.Unmarshal([]byte(text.Text), &out), text.Text)
	}
	return out, res
}

func TestAskData_MCP_Server_ListTools(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)})
	session := connect(t, srv.URL, "")

	res, err := session.ListTools(t.Context(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, len(res.Tools))
	for i, tool := range res.Tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{"ask", "classify", "schema"}, names)
}

func TestAskData_MCP_Server_Ask(t *testing.T) {
	t.Parallel()

	answerer := &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)}
	srv := newTestServer(t, answerer)
	session := connect(t, srv.URL, "")

	out, res := callTool[AskOutput](t, session, "ask", map[string]any{"question": "  Show me top 5 customers by revenue ", "responseMode": "pro"})
	require.False(t, res.IsError)
	assert.True(t, out.Success)
	assert.Contains(t, out.SQL, "ORDER BY total_revenue DESC")
	assert.Equal(t, []string{"customer_name", "total_revenue"}, out.Columns)
	assert.Equal(t, [][]string{{"Acme Golf", "5000.5"}, {"Birdie Club", "4200"}}, out.Rows)
	assert.Equal(t, 2, out.RowCount)
	assert.Equal(t, "pie", out.ChartType)
	assert.Equal(t, "simple", out.Complexity)
	assert.True(t, out.UsedFastPath)

	req := <-answerer.requests
	assert.Equal(t, "Show me top 5 customers by revenue", req.Question)
	assert.Equal(t, "pro", req.ResponseMode)
}

func TestAskData_MCP_Server_AskRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	answerer := &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)}
	srv := newTestServer(t, answerer)
	session := connect(t, srv.URL, "")

	_, res := callTool[AskOutput](t, session, "ask", map[string]any{"question": "top customers", "responseMode": "verbose"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "invalid responseMode")
	assert.Empty(t, answerer.requests)
}

func TestAskData_MCP_Server_Classify(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)})
	session := connect(t, srv.URL, "")

	out, res := callTool[classifier.Result](t, session, "classify", map[string]any{
		"question": "Why are routes X and Y failing and what should we do, considering seasonality and carrier performance?",
	})
	require.False(t, res.IsError)
	assert.Equal(t, classifier.Complex, out.Complexity)
	assert.False(t, out.UseFastPath)

	out, _ = callTool[classifier.Result](t, session, "classify", map[string]any{"question": "Show me top 5 customers by revenue"})
	assert.True(t, out.UseFastPath)
	assert.InDelta(t, 0.95, out.Confidence, 1e-9)
}

func TestAskData_MCP_Server_Schema(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)})
	session := connect(t, srv.URL, "")

	out, _ := callTool[SchemaOutput](t, session, "schema", map[string]any{})
	assert.Equal(t, []string{"customers", "shipments"}, out.Tables)
	assert.Contains(t, out.Text, "- customers: customer_id, customer_name")

	out, _ = callTool[SchemaOutput](t, session, "schema", map[string]any{"tables": []string{"Customers", "orders"}})
	assert.Contains(t, out.Text, "customer_name")
	assert.NotContains(t, out.Text, "shipment_id")
	assert.Equal(t, []string{"orders"}, out.Unknown)
}

func TestAskData_MCP_Server_Auth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeAnswerer{requests: make(chan handlers.QueryRequest, 1)}, "t0ken")

	for _, tt := range []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer  "},
		{"invalid token", "Bearer nope"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
		})
	}

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		session := connect(t, srv.URL, "t0ken")
		out, _ := callTool[SchemaOutput](t, session, "schema", map[string]any{})
		assert.Len(t, out.Tables, 2)
	})

	t.Run("healthz is open", func(t *testing.T) {
		t.Parallel()
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
