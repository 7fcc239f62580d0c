package react

import (
	"context"
	"fmt"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/malbeclabs/askdata/pkg/metrics"
)

const (
	defaultModel           = anthropic.Model("claude-sonnet-4-5")
	defaultMaxOutputTokens = 2048
)

// AnthropicClient implements LLMClient for Anthropic.
type AnthropicClient struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
}

// NewAnthropicClient creates a new Anthropic LLM client.
func NewAnthropicClient(client anthropic.Client, model anthropic.Model, maxOutputTokens int64) *AnthropicClient {
	if model == "" {
		model = defaultModel
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	return &AnthropicClient{
		client:          client,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

// Call sends messages to Anthropic and returns a response.
func (a *AnthropicClient) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	anthropicMsgs := make([]anthropic.MessageParam, len(messages))
	for i, msg := range messages {
		param, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("expected anthropic.MessageParam, got %T", msg.ToParam())
		}
		anthropicMsgs[i] = param
	}

	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxOutputTokens,
		Messages:    anthropicMsgs,
		Tools:       toAnthropicTools(tools),
		Temperature: anthropic.Float(0),
	}
	if system != "" {
		// The system prompt carries the schema summary and repeats on every step.
		params.System = []anthropic.TextBlockParam{
			{
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	metrics.LLMCallDuration.WithLabelValues("react_step").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("react_step", "error").Inc()
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	metrics.LLMCallsTotal.WithLabelValues("react_step", "ok").Inc()

	return anthropicResponse{resp: resp}, nil
}

// ConvertToolResults converts tool results to a single Anthropic user message.
func (a *AnthropicClient) ConvertToolResults(results []ToolResult) []Message {
	toolResults := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, result := range results {
		toolResults = append(toolResults, anthropic.NewToolResultBlock(result.ID, result.Content, result.IsError))
	}
	return []Message{AnthropicMessage{Msg: anthropic.NewUserMessage(toolResults...)}}
}

// CreateUserMessage creates a user message in Anthropic format.
func (a *AnthropicClient) CreateUserMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewUserMessage(anthropic.NewTextBlock(content))}
}

// AnthropicMessage wraps Anthropic's MessageParam to implement Message.
type AnthropicMessage struct {
	Msg anthropic.MessageParam
}

func (m AnthropicMessage) ToParam() any {
	return m.Msg
}

type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, len(r.resp.Content))
	for i, blk := range r.resp.Content {
		blocks[i] = anthropicContentBlock{blk}
	}
	return blocks
}

func (r anthropicResponse) ToMessage() Message {
	return AnthropicMessage{Msg: r.resp.ToParam()}
}

type anthropicContentBlock struct {
	blk anthropic.ContentBlockUnion
}

func (b anthropicContentBlock) AsText() (string, bool) {
	if b.blk.Type != "text" || b.blk.Text == "" {
		return "", false
	}
	return b.blk.Text, true
}

func (b anthropicContentBlock) AsToolUse() (string, string, []byte, bool) {
	if b.blk.Type != "tool_use" {
		return "", "", nil, false
	}
	tu := b.blk.AsToolUse()
	if tu.ID == "" || tu.Name == "" {
		return "", "", nil, false
	}
	return tu.ID, tu.Name, tu.Input, true
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   requiredFields(t.InputSchema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

// requiredFields accepts both []string and the []any produced by decoding JSON.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
