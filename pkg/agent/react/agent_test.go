package react

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/gateway/gatewaytest"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
	"github.com/malbeclabs/askdata/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GenericMessage is a provider-neutral message used by the mock client.
type GenericMessage struct {
	Role    string
	Content string
}

func (m GenericMessage) ToParam() any { return m }

// mockLLMClient replays scripted responses and records what it was sent.
type mockLLMClient struct {
	mu        sync.Mutex
	responses []mockResponse
	callIndex int
	systems   []string
	history   [][]Message
	onCall    func(n int)
}

type mockResponse struct {
	text      string
	toolCalls []mockToolCall
}

type mockToolCall struct {
	id    string
	name  string
	input map[string]any
}

func (m *mockLLMClient) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.systems = append(m.systems, system)
	m.history = append(m.history, append([]Message(nil), messages...))
	n := m.callIndex
	m.callIndex++
	if m.onCall != nil {
		m.onCall(n)
	}
	if n >= len(m.responses) {
		return &mockLLMResponse{}, nil
	}
	resp := m.responses[n]
	return &mockLLMResponse{text: resp.text, toolCalls: resp.toolCalls}, nil
}

func (m *mockLLMClient) ConvertToolResults(results []ToolResult) []Message {
	msgs := make([]Message, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, GenericMessage{Role: "tool", Content: r.Content})
	}
	return msgs
}

func (m *mockLLMClient) CreateUserMessage(content string) Message {
	return GenericMessage{Role: "user", Content: content}
}

func (m *mockLLMClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIndex
}

// lastMessages returns the conversation sent on the final call.
func (m *mockLLMClient) lastMessages() []GenericMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil
	}
	var out []GenericMessage
	for _, msg := range m.history[len(m.history)-1] {
		out = append(out, msg.(GenericMessage))
	}
	return out
}

type mockLLMResponse struct {
	text      string
	toolCalls []mockToolCall
}

func (r *mockLLMResponse) Content() []ContentBlock {
	var blocks []ContentBlock
	if r.text != "" {
		blocks = append(blocks, &mockTextBlock{text: r.text})
	}
	for _, tc := range r.toolCalls {
		blocks = append(blocks, &mockToolUseBlock{id: tc.id, name: tc.name, input: tc.input})
	}
	return blocks
}

func (r *mockLLMResponse) ToMessage() Message {
	return GenericMessage{Role: "assistant", Content: r.text}
}

type mockTextBlock struct {
	text string
}

func (b *mockTextBlock) AsText() (string, bool) {
	return b.text, true
}

func (b *mockTextBlock) AsToolUse() (string, string, []byte, bool) {
	return "", "", nil, false
}

type mockToolUseBlock struct {
	id    string
	name  string
	input map[string]any
}

func (b *mockToolUseBlock) AsText() (string, bool) {
	return "", false
}

func (b *mockToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	inputBytes, _ := json.Marshal(b.input)
	return b.id, b.name, inputBytes, true
}

// countingGateway counts executions on top of a real gateway.
type countingGateway struct {
	Gateway
	executions atomic.Int32
}

func (g *countingGateway) Execute(ctx context.Context, query string) (*chart.Table, error) {
	g.executions.Add(1)
	return g.Gateway.Execute(ctx, query)
}

type staticTables []schema.Table

func (s staticTables) Tables(context.Context) ([]schema.Table, error) { return s, nil }

var testTables = staticTables{
	{Name: "customers", Columns: []schema.Column{
		{Name: "customer_id", Type: "INTEGER"},
		{Name: "customer_name", Type: "VARCHAR"},
		{Name: "segment", Type: "VARCHAR", SampleValues: []string{"enterprise", "smb"}},
		{Name: "total_revenue", Type: "DOUBLE"},
	}},
	{Name: "shipments", Columns: []schema.Column{
		{Name: "shipment_id", Type: "INTEGER"},
		{Name: "carrier_id", Type: "INTEGER"},
	}},
}

func newTestAgent(t *testing.T, llm LLMClient, gw Gateway, maxSteps int) *Agent {
	t.Helper()
	p, err := prompts.Load()
	require.NoError(t, err)
	prof, err := profile.Load("shipsticks")
	require.NoError(t, err)
	a, err := New(Config{
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		LLM:      llm,
		Gateway:  gw,
		Schema:   testTables,
		Prompts:  p,
		Profile:  prof,
		MaxSteps: maxSteps,
	})
	require.NoError(t, err)
	return a
}

func states(trace []Step) []State {
	out := make([]State, len(trace))
	for i, s := range trace {
		out[i] = s.State
	}
	return out
}

const segmentSQL = "SELECT segment, COUNT(*) AS customers FROM customers GROUP BY segment ORDER BY segment"

func TestAskData_ReAct_DescribeExecuteFinish(t *testing.T) {
	t.Parallel()

	gw := &countingGateway{Gateway: gatewaytest.New(t, gatewaytest.ShipSticks...)}
	llm := &mockLLMClient{responses: []mockResponse{
		{
			text:      "I need the customer columns.",
			toolCalls: []mockToolCall{{id: "1", name: toolDescribeTables, input: map[string]any{"tables": []string{"customers", "orders"}}}},
		},
		{
			toolCalls: []mockToolCall{{id: "2", name: toolExecuteSQL, input: map[string]any{"sql": segmentSQL}}},
		},
		{
			text:      "That answers it.",
			toolCalls: []mockToolCall{{id: "3", name: toolFinish, input: map[string]any{"sql": segmentSQL + ";", "summary": "customers per segment"}}},
		},
	}}
	a := newTestAgent(t, llm, gw, 0)

	out := a.Run(t.Context(), "How many customers are in each segment?")
	require.True(t, out.WellFormed())
	require.False(t, out.Failed(), out.Error)
	assert.Equal(t, segmentSQL+" LIMIT 1000", out.SQLQuery)
	require.Equal(t, 2, out.Results.RowCount())
	assert.Equal(t, "enterprise", out.Results.Rows[0][0].String())
	assert.Equal(t, "2", out.Results.Rows[0][1].String())
	assert.Equal(t, int32(1), gw.executions.Load(), "finish reuses the identical previous result")

	assert.Equal(t, []State{
		agent.StateThinking,
		agent.StateActionSchemaLookup,
		agent.StateObservation,
		agent.StateThinking,
		agent.StateActionSQL,
		agent.StateObservation,
		agent.StateThinking,
		agent.StateFinish,
	}, states(out.Trace))
	for i, step := range out.Trace {
		assert.Equal(t, i, step.Index)
	}
	assert.Equal(t, "I need the customer columns.", out.Trace[0].Thought)
	assert.Contains(t, out.Trace[2].Observation, "segment (VARCHAR) values: enterprise, smb")
	assert.Contains(t, out.Trace[2].Observation, "Unknown tables: orders")
	assert.Equal(t, 2, out.Trace[5].RowCount)
	assert.Contains(t, out.Trace[5].Observation, "| enterprise | 2 |")
	assert.Equal(t, "customers per segment", out.Trace[7].Thought)

	require.Equal(t, 3, llm.calls())
	assert.Contains(t, llm.systems[0], "- customers: customer_id, customer_name, segment, total_revenue")
	assert.Contains(t, llm.systems[0], "Ship Sticks")
	assert.NotContains(t, llm.systems[0], "{{")
}

func TestAskData_ReAct_StepLimit(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New(t, gatewaytest.ShipSticks...)
	var responses []mockResponse
	for i := range 5 {
		responses = append(responses, mockResponse{
			toolCalls: []mockToolCall{{id: string(rune('a' + i)), name: toolExecuteSQL, input: map[string]any{"sql": "SELECT COUNT(*) FROM shipments"}}},
		})
	}
	llm := &mockLLMClient{responses: responses}
	a := newTestAgent(t, llm, gw, 3)

	out := a.Run(t.Context(), "Which carrier is best?")
	require.True(t, out.WellFormed())
	assert.Equal(t, agent.KindStepLimit, out.ErrorKind)
	assert.Equal(t, ErrStepLimitExceeded.Error(), out.Error)
	assert.Equal(t, "SELECT COUNT(*) FROM shipments LIMIT 1000", out.SQLQuery)
	assert.Nil(t, out.Results)
	assert.Equal(t, 3, llm.calls())
	require.NotEmpty(t, out.Trace)
	assert.Equal(t, agent.StateStepLimitExceeded, out.Trace[len(out.Trace)-1].State)
}

func TestAskData_ReAct_FinishFailureIsObserved(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New(t, gatewaytest.ShipSticks...)
	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: toolFinish, input: map[string]any{"sql": "DELETE FROM customers"}}}},
		{toolCalls: []mockToolCall{{id: "2", name: toolFinish, input: map[string]any{"sql": "SELECT revenue FROM customers"}}}},
		{toolCalls: []mockToolCall{{id: "3", name: toolFinish, input: map[string]any{"sql": "SELECT SUM(total_revenue) AS revenue FROM customers"}}}},
	}}
	a := newTestAgent(t, llm, gw, 0)

	out := a.Run(t.Context(), "What is total revenue?")
	require.False(t, out.Failed(), out.Error)
	assert.Equal(t, 1, out.Results.RowCount())
	assert.Equal(t, 3, llm.calls())

	msgs := llm.lastMessages()
	var toolMsgs []string
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m.Content)
		}
	}
	require.Len(t, toolMsgs, 2)
	for _, m := range toolMsgs {
		assert.True(t, strings.HasPrefix(m, "Error: "), m)
	}
	assert.Contains(t, toolMsgs[1], "revenue")

	errored := 0
	for _, step := range out.Trace {
		if step.Error != "" {
			errored++
		}
	}
	assert.Equal(t, 2, errored)
}

func TestAskData_ReAct_NudgesOnPlainText(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New(t, gatewaytest.ShipSticks...)
	llm := &mockLLMClient{responses: []mockResponse{
		{text: "The answer is probably UPS."},
		{toolCalls: []mockToolCall{
			{id: "1", name: toolFinish, input: map[string]any{"sql": "SELECT carrier_name FROM carriers"}},
			{id: "2", name: toolExecuteSQL, input: map[string]any{"sql": "SELECT 1"}},
		}},
	}}
	a := newTestAgent(t, llm, gw, 0)

	out := a.Run(t.Context(), "List carriers")
	require.False(t, out.Failed(), out.Error)
	assert.Equal(t, 3, out.Results.RowCount())

	msgs := llm.lastMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, a.cfg.Prompts.ReActNudge, msgs[2].Content)
	assert.Equal(t, []State{agent.StateThinking, agent.StateThinking, agent.StateFinish}, states(out.Trace))
}

func TestAskData_ReAct_Cancellation(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.New(t, gatewaytest.ShipSticks...)
	ctx, cancel := context.WithCancel(t.Context())
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: toolExecuteSQL, input: map[string]any{"sql": "SELECT 1"}}}},
			{toolCalls: []mockToolCall{{id: "2", name: toolExecuteSQL, input: map[string]any{"sql": "SELECT 2"}}}},
		},
		onCall: func(n int) {
			if n == 0 {
				cancel()
			}
		},
	}
	a := newTestAgent(t, llm, gw, 0)

	out := a.Run(ctx, "anything")
	require.True(t, out.WellFormed())
	assert.Equal(t, agent.KindCanceled, out.ErrorKind)
	assert.Equal(t, 1, llm.calls())
}

func TestAskData_ReAct_DatabaseNotConfigured(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{}
	a := newTestAgent(t, llm, gatewaytest.Unconfigured(t), 0)

	out := a.Run(t.Context(), "anything")
	assert.Equal(t, agent.KindConfiguration, out.ErrorKind)
	assert.Contains(t, out.Error, "DATABASE_URL")
	assert.Equal(t, 0, llm.calls())
}

func TestAskData_ReAct_AnthropicClient(t *testing.T) {
	t.Parallel()

	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastBody.Store(body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_1", "name": toolExecuteSQL, "input": map[string]any{"sql": "SELECT 1"}},
			},
			"stop_reason":   "tool_use",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewAnthropicClient(anthropic.NewClient(option.WithAPIKey("sk-test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0)), "", 0)
	tools, err := Tools()
	require.NoError(t, err)

	resp, err := client.Call(t.Context(), "system prompt", []Message{client.CreateUserMessage("hi")}, tools)
	require.NoError(t, err)

	blocks := resp.Content()
	require.Len(t, blocks, 2)
	text, ok := blocks[0].AsText()
	require.True(t, ok)
	assert.Equal(t, "Checking.", text)
	id, name, input, ok := blocks[1].AsToolUse()
	require.True(t, ok)
	assert.Equal(t, "toolu_1", id)
	assert.Equal(t, toolExecuteSQL, name)
	assert.JSONEq(t, `{"sql":"SELECT 1"}`, string(input))

	body := lastBody.Load().(map[string]any)
	assert.InDelta(t, 2048, body["max_tokens"], 0)
	assert.InDelta(t, 0, body["temperature"], 0)
	system := body["system"].([]any)[0].(map[string]any)
	assert.Equal(t, "system prompt", system["text"])
	assert.Equal(t, map[string]any{"type": "ephemeral"}, system["cache_control"])

	sent := body["tools"].([]any)
	require.Len(t, sent, 3)
	required := map[string]any{}
	for _, raw := range sent {
		tool := raw.(map[string]any)
		required[tool["name"].(string)] = tool["input_schema"].(map[string]any)["required"]
	}
	assert.Equal(t, []any{"sql"}, required[toolExecuteSQL])
	assert.Equal(t, []any{"tables"}, required[toolDescribeTables])
	assert.Equal(t, []any{"sql"}, required[toolFinish])

	msgs := client.ConvertToolResults([]ToolResult{{ID: "toolu_1", Content: "1 rows."}})
	require.Len(t, msgs, 1)
	param := msgs[0].ToParam().(anthropic.MessageParam)
	assert.Equal(t, anthropic.MessageParamRoleUser, param.Role)
}
