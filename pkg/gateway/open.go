package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Backend string

const (
	BackendDuckDB     Backend = "duckdb"
	BackendPostgres   Backend = "postgres"
	BackendClickHouse Backend = "clickhouse"
	BackendMySQL      Backend = "mysql"
	BackendSQLite     Backend = "sqlite"
)

// supportsReadOnlyTx reports whether the driver accepts sql.TxOptions{ReadOnly: true}.
func (b Backend) supportsReadOnlyTx() bool {
	return b == BackendPostgres || b == BackendMySQL
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *PoolConfig) setDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 30 * time.Minute
	}
}

// ParseBackend returns the backend selected by the DSN scheme.
func ParseBackend(dsn string) (Backend, error) {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", fmt.Errorf("database URL must start with a scheme (duckdb://, postgres://, clickhouse://, mysql://, sqlite://)")
	}
	switch strings.ToLower(scheme) {
	case "duckdb":
		return BackendDuckDB, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "clickhouse":
		return BackendClickHouse, nil
	case "mysql":
		return BackendMySQL, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	}
	return "", fmt.Errorf("unsupported database scheme %q", scheme)
}

// Open opens a read-only connection pool for dsn. It does not connect; the first
// query does.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, Backend, error) {
	backend, err := ParseBackend(dsn)
	if err != nil {
		return nil, "", err
	}
	pool.setDefaults()

	var db *sql.DB
	switch backend {
	case BackendDuckDB:
		db, err = openDuckDB(dsn)
	case BackendPostgres:
		db, err = openPostgres(dsn)
	case BackendClickHouse:
		db, err = openClickHouse(dsn)
	case BackendMySQL:
		db, err = openMySQL(dsn)
	case BackendSQLite:
		db, err = openSQLite(dsn)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s database %s: %w", backend, RedactDSN(dsn), err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return db, backend, nil
}

func openDuckDB(dsn string) (*sql.DB, error) {
	path, params, _ := strings.Cut(dsn[strings.Index(dsn, "://")+3:], "?")
	if path == "" || path == ":memory:" {
		return sql.Open("duckdb", "")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for database: %w", err)
	}
	q, err := url.ParseQuery(params)
	if err != nil {
		return nil, fmt.Errorf("invalid duckdb parameters: %w", err)
	}
	q.Set("access_mode", "READ_ONLY")
	return sql.Open("duckdb", abs+"?"+q.Encode())
}

func openPostgres(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.RuntimeParams["application_name"] = "askdata"
	return stdlib.OpenDB(*cfg), nil
}

func openClickHouse(dsn string) (*sql.DB, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.Settings == nil {
		opts.Settings = clickhouse.Settings{}
	}
	// 2 keeps the session read-only while still allowing per-query settings.
	opts.Settings["readonly"] = 2
	return clickhouse.OpenDB(opts), nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = values[0]
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	path := dsn[strings.Index(dsn, "://")+3:]
	path, _, _ = strings.Cut(path, "?")
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	return sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
}

// RedactDSN replaces any password in dsn so it can be logged.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return SanitizeMessage(dsn)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
	}
	q := u.Query()
	for key := range q {
		if strings.EqualFold(key, "password") {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
