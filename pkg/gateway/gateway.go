package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/metrics"
)

const (
	DefaultAcquireTimeout = 5 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
)

// DB is the pool the gateway executes against. *sql.DB satisfies it.
type DB interface {
	Conn(ctx context.Context) (*sql.Conn, error)
	Close() error
}

// TableSource provides the lowercase names of the tables queries may reference.
type TableSource interface {
	TableNames() map[string]struct{}
}

type Config struct {
	Logger *slog.Logger
	// DB may be nil, in which case every execution fails with a configuration error.
	DB             DB
	Backend        Backend
	MaxRows        int
	AcquireTimeout time.Duration
	QueryTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB != nil && cfg.Backend == "" {
		return errors.New("backend is required when a database is configured")
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return nil
}

// Gateway sanitizes model-generated SQL and executes it over a read-only pool.
type Gateway struct {
	log    *slog.Logger
	cfg    Config
	tables atomic.Pointer[TableSource]
}

func New(cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate gateway config: %w", err)
	}
	return &Gateway{log: cfg.Logger, cfg: cfg}, nil
}

// SetTableSource installs the table allow-list used by Sanitize.
func (g *Gateway) SetTableSource(ts TableSource) {
	g.tables.Store(&ts)
}

func (g *Gateway) Backend() Backend {
	return g.cfg.Backend
}

func (g *Gateway) MaxRows() int {
	return g.cfg.MaxRows
}

func (g *Gateway) Configured() bool {
	return g.cfg.DB != nil
}

// Sanitize validates a statement against the current table allow-list and enforces the row limit.
func (g *Gateway) Sanitize(query string) (string, error) {
	opts := SanitizeOptions{MaxRows: g.cfg.MaxRows}
	if ts := g.tables.Load(); ts != nil && *ts != nil {
		opts.AllowedTables = (*ts).TableNames()
	}
	return Sanitize(query, opts)
}

// Execute sanitizes and runs a generated statement. Errors are *ValidationError or
// *QueryExecutionError.
func (g *Gateway) Execute(ctx context.Context, query string) (*chart.Table, error) {
	sanitized, err := g.Sanitize(query)
	if err != nil {
		metrics.GatewayQueriesTotal.WithLabelValues(string(g.cfg.Backend), "rejected").Inc()
		g.log.Info("gateway: statement rejected", "error", err)
		return nil, err
	}
	return g.run(ctx, g.cfg.MaxRows, sanitized)
}

// Query runs a trusted internal statement, such as schema introspection, without
// sanitization but still inside the read-only pool.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (*chart.Table, error) {
	return g.run(ctx, 0, query, args...)
}

func (g *Gateway) Close() error {
	if g.cfg.DB == nil {
		return nil
	}
	return g.cfg.DB.Close()
}

func (g *Gateway) run(ctx context.Context, maxRows int, query string, args ...any) (*chart.Table, error) {
	backend := string(g.cfg.Backend)
	start := time.Now()
	table, err := g.query(ctx, maxRows, query, args...)
	metrics.GatewayQueryDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		qe := classifyError(err)
		metrics.GatewayQueriesTotal.WithLabelValues(backend, string(qe.Kind)).Inc()
		g.log.Warn("gateway: query failed", "kind", qe.Kind, "retryable", qe.Retryable, "error", qe.Message)
		return nil, qe
	}
	metrics.GatewayQueriesTotal.WithLabelValues(backend, "ok").Inc()
	g.log.Debug("gateway: query completed", "rows", table.RowCount(), "duration", time.Since(start))
	return table, nil
}

func (g *Gateway) query(ctx context.Context, maxRows int, query string, args ...any) (*chart.Table, error) {
	if g.cfg.DB == nil {
		return nil, ErrNoDatabase
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, g.cfg.AcquireTimeout)
	conn, err := g.cfg.DB.Conn(acquireCtx)
	cancelAcquire()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &QueryExecutionError{
				Kind:      KindUnavailable,
				Message:   "database connection pool exhausted, try again shortly",
				Retryable: true,
				Err:       err,
			}
		}
		return nil, err
	}
	defer conn.Close()

	queryCtx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	g.log.Debug("gateway: executing query", "backend", g.cfg.Backend, "sql", compact(query))

	var rows *sql.Rows
	if g.cfg.Backend.supportsReadOnlyTx() {
		tx, err := conn.BeginTx(queryCtx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, err
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(queryCtx, query, args...)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err = conn.QueryContext(queryCtx, query, args...)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	table, err := scanTable(rows, maxRows)
	if err != nil {
		return nil, err
	}
	if maxRows > 0 && table.RowCount() == maxRows {
		g.log.Debug("gateway: row ceiling reached", "maxRows", maxRows)
	}
	return table, nil
}

// scanTable reads rows into a table, stopping after maxRows rows when maxRows is positive.
func scanTable(rows *sql.Rows, maxRows int) (*chart.Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	table := &chart.Table{
		Columns: chart.UniqueColumns(columns),
		Rows:    make([][]chart.Cell, 0),
	}
	for rows.Next() {
		if maxRows > 0 && len(table.Rows) >= maxRows {
			break
		}
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]chart.Cell, len(columns))
		for i, v := range values {
			row[i] = chart.CellFromValue(v)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
