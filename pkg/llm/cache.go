package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/malbeclabs/askdata/pkg/metrics"
)

const DefaultCacheTTL = 10 * time.Minute

type CacheConfig struct {
	Logger *slog.Logger
	Next   Completer
	// Namespace separates entries of different models sharing a process.
	Namespace string
	TTL       time.Duration
	MaxCost   int64
}

func (cfg *CacheConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Next == nil {
		return errors.New("next completer is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 32 << 20
	}
	return nil
}

// Caching reuses replies for calls made WithCache and identical prompts. The cost of
// an entry is its length in bytes.
type Caching struct {
	log   *slog.Logger
	cfg   CacheConfig
	cache *ristretto.Cache
}

func NewCaching(cfg CacheConfig) (*Caching, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate completion cache config: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion cache: %w", err)
	}
	return &Caching{log: cfg.Logger, cfg: cfg, cache: cache}, nil
}

func (c *Caching) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	o := ApplyOptions(opts)
	if !o.Cacheable {
		return c.cfg.Next.Complete(ctx, system, user, opts...)
	}

	key := c.key(o.Operation, system, user)
	if val, ok := c.cache.Get(key); ok {
		if out, ok := val.(string); ok {
			metrics.LLMCacheTotal.WithLabelValues("hit").Inc()
			c.log.Debug("llm: completion cache hit", "operation", o.Operation)
			return out, nil
		}
	}
	metrics.LLMCacheTotal.WithLabelValues("miss").Inc()

	out, err := c.cfg.Next.Complete(ctx, system, user, opts...)
	if err != nil {
		return "", err
	}
	c.cache.SetWithTTL(key, out, int64(len(out))+1, c.cfg.TTL)
	c.cache.Wait()
	return out, nil
}

func (c *Caching) Close() {
	c.cache.Close()
}

func (c *Caching) key(operation, system, user string) string {
	h := sha256.New()
	for _, part := range []string{c.cfg.Namespace, operation, system, user} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
