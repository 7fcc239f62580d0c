package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/malbeclabs/askdata/pkg/metrics"
)

const (
	DefaultModel     = anthropic.Model("claude-sonnet-4-5")
	DefaultMaxTokens = 2048
)

// NewClient builds an Anthropic API client. SDK-level retries are disabled; callers
// that want retries wrap the completer in Retrying.
func NewClient(apiKey string, opts ...option.RequestOption) anthropic.Client {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	return anthropic.NewClient(append(base, opts...)...)
}

type AnthropicConfig struct {
	Logger    *slog.Logger
	Client    anthropic.Client
	Model     anthropic.Model
	MaxTokens int64
}

func (cfg *AnthropicConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return nil
}

// Anthropic implements Completer using the Anthropic Messages API.
type Anthropic struct {
	log *slog.Logger
	cfg AnthropicConfig
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate anthropic config: %w", err)
	}
	return &Anthropic{log: cfg.Logger, cfg: cfg}, nil
}

func (c *Anthropic) Model() anthropic.Model {
	return c.cfg.Model
}

// Complete sends a prompt to Claude and returns the response text.
func (c *Anthropic) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	o := ApplyOptions(opts)
	maxTokens := c.cfg.MaxTokens
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(*o.Temperature)
	}

	start := time.Now()
	c.log.Debug("llm: anthropic call starting", "operation", o.Operation, "model", c.cfg.Model, "maxTokens", maxTokens, "userPromptLen", len(user))

	msg, err := c.cfg.Client.Messages.New(ctx, params)
	duration := time.Since(start)
	metrics.LLMCallDuration.WithLabelValues(o.Operation).Observe(duration.Seconds())
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(o.Operation, "error").Inc()
		c.log.Warn("llm: anthropic call failed", "operation", o.Operation, "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	metrics.LLMCallsTotal.WithLabelValues(o.Operation, "ok").Inc()
	c.log.Debug("llm: anthropic call completed", "operation", o.Operation, "duration", duration, "stopReason", msg.StopReason,
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
