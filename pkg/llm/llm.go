package llm

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("no text content in response")

// Completer sends a system and user prompt to a model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string, opts ...Option) (string, error)
}

// CallOptions are the per-call settings collected from Options.
type CallOptions struct {
	Operation   string
	MaxTokens   int64
	Temperature *float64
	Cacheable   bool
}

type Option func(*CallOptions)

// WithOperation labels the call in logs and metrics.
func WithOperation(op string) Option {
	return func(o *CallOptions) { o.Operation = op }
}

func WithMaxTokens(n int64) Option {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithCache marks the reply as safe to reuse for identical prompts.
func WithCache() Option {
	return func(o *CallOptions) { o.Cacheable = true }
}

func ApplyOptions(opts []Option) CallOptions {
	o := CallOptions{Operation: "complete"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("model provider not configured: set ANTHROPIC_API_KEY")

// Unconfigured is the Completer used when no API key is available.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, string, string, ...Option) (string, error) {
	return "", ErrNotConfigured
}
