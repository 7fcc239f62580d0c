package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 1
	MaxAttemptsCap     = 2

	defaultInitialInterval = 500 * time.Millisecond
)

type RetryConfig struct {
	Logger          *slog.Logger
	Next            Completer
	MaxAttempts     int
	InitialInterval time.Duration
}

func (cfg *RetryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Next == nil {
		return errors.New("next completer is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts > MaxAttemptsCap {
		cfg.MaxAttempts = MaxAttemptsCap
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	return nil
}

// Retrying retries transient model failures with exponential backoff, up to
// MaxAttempts total calls.
type Retrying struct {
	log *slog.Logger
	cfg RetryConfig
}

func NewRetrying(cfg RetryConfig) (*Retrying, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate retry config: %w", err)
	}
	return &Retrying{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Retrying) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	if r.cfg.MaxAttempts == 1 {
		return r.cfg.Next.Complete(ctx, system, user, opts...)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			r.log.Warn("llm: retrying model call", "attempt", attempt, "operation", ApplyOptions(opts).Operation)
		}
		out, err := r.cfg.Next.Complete(ctx, system, user, opts...)
		if err != nil && !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(r.cfg.MaxAttempts)))
}

// IsAPIError reports whether err came back from the model provider's API.
func IsAPIError(err error) bool {
	var apiErr *anthropic.Error
	return errors.As(err, &apiErr)
}

// IsTransient reports whether err is worth retrying: rate limits, server errors
// and network failures.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
