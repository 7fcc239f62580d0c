package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdata/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLiveTTL        = time.Minute
	DefaultRefreshTimeout = 5 * time.Minute

	refreshKey = "refresh"
	liveKey    = "live"
)

// Source produces the current table metadata. *Introspector satisfies it.
type Source interface {
	Introspect(ctx context.Context) ([]Table, error)
}

// Snapshot is an immutable view of the schema. A refresh replaces it wholesale.
type Snapshot struct {
	TableNames     map[string]struct{}
	FullSchema     string
	Tables         []Table
	LastUpdated    time.Time
	PreviousUpdate time.Time
}

func newSnapshot(tables []Table, now, previous time.Time) *Snapshot {
	names := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		names[strings.ToLower(t.Name)] = struct{}{}
	}
	return &Snapshot{
		TableNames:     names,
		FullSchema:     Format(tables),
		Tables:         tables,
		LastUpdated:    now,
		PreviousUpdate: previous,
	}
}

// SizeKB is the size of the formatted schema in kilobytes, to one decimal place.
func (s *Snapshot) SizeKB() float64 {
	return math.Round(float64(len(s.FullSchema))/1024*10) / 10
}

type Config struct {
	Logger  *slog.Logger
	Source  Source
	Clock   clockwork.Clock
	LiveTTL time.Duration
	// RefreshTimeout bounds one shared introspection. Callers that give up early do
	// not cancel it for the others.
	RefreshTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.LiveTTL <= 0 {
		cfg.LiveTTL = DefaultLiveTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	return nil
}

// Cache holds the process-wide schema snapshot. Reads are lock-free; refreshes are
// serialized so concurrent callers share one introspection.
type Cache struct {
	log *slog.Logger
	cfg Config

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	live    *ttlcache.Cache[string, []Table]
}

func New(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema cache config: %w", err)
	}
	return &Cache{
		log: cfg.Logger,
		cfg: cfg,
		live: ttlcache.New(
			ttlcache.WithTTL[string, []Table](cfg.LiveTTL),
			ttlcache.WithDisableTouchOnHit[string, []Table](),
		),
	}, nil
}

// Snapshot returns the current snapshot, or nil when the cache has not been populated.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Cache) Populated() bool {
	return c.current.Load() != nil
}

// TableNames returns the lowercase table names of the current snapshot, or nil when
// the cache is empty.
func (c *Cache) TableNames() map[string]struct{} {
	if s := c.current.Load(); s != nil {
		return s.TableNames
	}
	return nil
}

// Refresh introspects the database and atomically replaces the snapshot. On failure
// the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, shared, err := c.do(ctx, refreshKey, func(ctx context.Context) (any, error) {
		start := c.cfg.Clock.Now()
		tables, err := c.cfg.Source.Introspect(ctx)
		if err != nil {
			metrics.SchemaRefreshesTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		var previous time.Time
		if old := c.current.Load(); old != nil {
			previous = old.LastUpdated
		}
		snap := newSnapshot(tables, c.cfg.Clock.Now(), previous)
		c.current.Store(snap)
		c.live.DeleteAll()

		metrics.SchemaRefreshesTotal.WithLabelValues("ok").Inc()
		metrics.SchemaTables.Set(float64(len(tables)))
		c.log.Info("schema: cache refreshed", "tables", len(tables), "sizeKB", snap.SizeKB(), "duration", c.cfg.Clock.Since(start))
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh schema: %w", err)
	}
	if shared {
		c.log.Debug("schema: joined in-flight refresh")
	}
	return v.(*Snapshot), nil
}

// Tables returns the cached table metadata, falling back to a short-lived memo of
// live introspection when the cache is empty.
func (c *Cache) Tables(ctx context.Context) ([]Table, error) {
	if s := c.current.Load(); s != nil {
		return s.Tables, nil
	}
	if item := c.live.Get(liveKey); item != nil {
		return item.Value(), nil
	}

	v, _, err := c.do(ctx, liveKey, func(ctx context.Context) (any, error) {
		c.log.Info("schema: cache empty, introspecting live")
		tables, err := c.cfg.Source.Introspect(ctx)
		if err != nil {
			return nil, err
		}
		c.live.Set(liveKey, tables, ttlcache.DefaultTTL)
		return tables, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}
	return v.([]Table), nil
}

// do runs fn once per key for all concurrent callers. fn gets a context detached from
// any single caller, and each caller stops waiting when its own ctx is done.
func (c *Cache) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
		defer cancel()
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Text returns the formatted schema used in prompts.
func (c *Cache) Text(ctx context.Context) (string, error) {
	if s := c.current.Load(); s != nil {
		return s.FullSchema, nil
	}
	tables, err := c.Tables(ctx)
	if err != nil {
		return "", err
	}
	return Format(tables), nil
}
