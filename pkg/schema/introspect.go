package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/gateway"
)

const (
	// DefaultSamplePoolSize bounds concurrent sample-value queries.
	DefaultSamplePoolSize = 4

	maxSampleValues   = 15
	sampleProbeLimit  = 20
	maxDefinitionSize = 500
)

// Querier runs trusted introspection statements. *gateway.Gateway satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*chart.Table, error)
	Backend() gateway.Backend
}

type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	SampleValues []string `json:"sampleValues,omitempty"`
}

type Table struct {
	Name       string   `json:"name"`
	IsView     bool     `json:"isView,omitempty"`
	Definition string   `json:"definition,omitempty"`
	Columns    []Column `json:"columns"`
}

type IntrospectorConfig struct {
	Logger         *slog.Logger
	Querier        Querier
	SamplePoolSize int
}

func (cfg *IntrospectorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Querier == nil {
		return errors.New("querier is required")
	}
	if cfg.SamplePoolSize <= 0 {
		cfg.SamplePoolSize = DefaultSamplePoolSize
	}
	return nil
}

// Introspector reads table columns, view definitions and categorical sample values
// from the configured backend.
type Introspector struct {
	log *slog.Logger
	cfg IntrospectorConfig

	samplePool pond.ResultPool[[]string]
}

func NewIntrospector(cfg IntrospectorConfig) (*Introspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate introspector config: %w", err)
	}
	return &Introspector{
		log:        cfg.Logger,
		cfg:        cfg,
		samplePool: pond.NewResultPool[[]string](cfg.SamplePoolSize),
	}, nil
}

// Introspect returns every user table and view, ordered by name.
func (i *Introspector) Introspect(ctx context.Context) ([]Table, error) {
	q := queriesFor(i.cfg.Querier.Backend())

	columns, err := i.cfg.Querier.Query(ctx, q.columns)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	views, err := i.cfg.Querier.Query(ctx, q.views)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch views: %w", err)
	}

	tables := buildTables(columns, views)
	i.enrichWithSampleValues(ctx, tables)
	return tables, nil
}

func buildTables(columns, views *chart.Table) []Table {
	viewDefs := make(map[string]string, len(views.Rows))
	for _, row := range views.Rows {
		if len(row) < 2 {
			continue
		}
		viewDefs[row[0].String()] = compactDefinition(row[1].String())
	}

	byName := make(map[string]*Table)
	var order []string
	for _, row := range columns.Rows {
		if len(row) < 3 {
			continue
		}
		name := row[0].String()
		t, ok := byName[name]
		if !ok {
			t = &Table{Name: name}
			if def, isView := viewDefs[name]; isView {
				t.IsView = true
				t.Definition = def
			}
			byName[name] = t
			order = append(order, name)
		}
		t.Columns = append(t.Columns, Column{Name: row[1].String(), Type: row[2].String()})
	}

	sort.Strings(order)
	tables := make([]Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byName[name])
	}
	return tables
}

type sampleTarget struct {
	table  int
	column int
}

// enrichWithSampleValues fetches distinct values for low-cardinality text columns.
// Failures only drop the samples for the affected column.
func (i *Introspector) enrichWithSampleValues(ctx context.Context, tables []Table) {
	var targets []sampleTarget
	for ti := range tables {
		if tables[ti].IsView {
			continue
		}
		for ci, col := range tables[ti].Columns {
			if isCategoricalType(col.Type) && !shouldSkipColumn(col.Name) {
				targets = append(targets, sampleTarget{table: ti, column: ci})
			}
		}
	}
	if len(targets) == 0 {
		return
	}

	backend := i.cfg.Querier.Backend()
	group := i.samplePool.NewGroupContext(ctx)
	for _, target := range targets {
		table := tables[target.table].Name
		column := tables[target.table].Columns[target.column].Name
		group.Submit(func() []string {
			samples, err := i.fetchColumnSamples(ctx, backend, table, column)
			if err != nil {
				i.log.Debug("schema: failed to fetch sample values", "table", table, "column", column, "error", err)
				return nil
			}
			return samples
		})
	}

	results, err := group.Wait()
	if err != nil {
		i.log.Warn("schema: sample value collection interrupted", "error", err)
		return
	}
	for n, samples := range results {
		if len(samples) == 0 || len(samples) > maxSampleValues {
			continue
		}
		target := targets[n]
		tables[target.table].Columns[target.column].SampleValues = samples
	}
}

func (i *Introspector) fetchColumnSamples(ctx context.Context, backend gateway.Backend, table, column string) ([]string, error) {
	col := quoteIdent(backend, column)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL AND %s != '' LIMIT %d",
		col, quoteIdent(backend, table), col, col, sampleProbeLimit)

	result, err := i.cfg.Querier.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	samples := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		if s := row[0].String(); s != "" {
			samples = append(samples, s)
		}
	}
	sort.Strings(samples)
	return samples, nil
}

// isCategoricalType reports whether values of the column type are worth sampling.
func isCategoricalType(colType string) bool {
	t := strings.ToLower(colType)
	if strings.Contains(t, "enum") {
		return true
	}
	if strings.Contains(t, "lowcardinality") && strings.Contains(t, "string") {
		return true
	}
	switch t {
	case "string", "nullable(string)", "varchar", "text", "character varying":
		return true
	}
	return strings.HasPrefix(t, "varchar(") || strings.HasPrefix(t, "character varying(")
}

// shouldSkipColumn reports whether a column is likely high-cardinality.
func shouldSkipColumn(colName string) bool {
	name := strings.ToLower(colName)
	skipSuffixes := []string{"_id", "_key", "_code", "_at", "_time", "_timestamp", "_date", "_hash", "_email", "_phone", "_address", "_url"}
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	skipPrefixes := []string{"id_", "uuid_"}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	skipExact := []string{"id", "uuid", "name", "email", "phone", "description", "comment", "notes", "message", "error", "reason"}
	for _, exact := range skipExact {
		if name == exact {
			return true
		}
	}
	return false
}

func quoteIdent(backend gateway.Backend, ident string) string {
	switch backend {
	case gateway.BackendMySQL, gateway.BackendClickHouse:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

func compactDefinition(def string) string {
	def = strings.Join(strings.Fields(def), " ")
	def = strings.TrimSuffix(def, ";")
	if len(def) > maxDefinitionSize {
		def = def[:maxDefinitionSize] + "..."
	}
	return def
}

type introspectionQueries struct {
	columns string
	views   string
}

// queriesFor returns the column listing (table, column, type ordered by table and
// position) and the view listing (name, definition) for a backend.
func queriesFor(backend gateway.Backend) introspectionQueries {
	switch backend {
	case gateway.BackendPostgres:
		return introspectionQueries{
			columns: `
				SELECT table_name, column_name, data_type
				FROM information_schema.columns
				WHERE table_schema = current_schema()
				ORDER BY table_name, ordinal_position`,
			views: `
				SELECT table_name, view_definition
				FROM information_schema.views
				WHERE table_schema = current_schema()`,
		}
	case gateway.BackendMySQL:
		return introspectionQueries{
			columns: `
				SELECT table_name, column_name, column_type
				FROM information_schema.columns
				WHERE table_schema = DATABASE()
				ORDER BY table_name, ordinal_position`,
			views: `
				SELECT table_name, view_definition
				FROM information_schema.views
				WHERE table_schema = DATABASE()`,
		}
	case gateway.BackendClickHouse:
		return introspectionQueries{
			columns: `
				SELECT table, name, type
				FROM system.columns
				WHERE database = currentDatabase()
				  AND table NOT LIKE 'stg_%'
				ORDER BY table, position`,
			views: `
				SELECT name, as_select
				FROM system.tables
				WHERE database = currentDatabase()
				  AND engine = 'View'
				  AND name NOT LIKE 'stg_%'`,
		}
	case gateway.BackendSQLite:
		return introspectionQueries{
			columns: `
				SELECT m.name, p.name, p.type
				FROM sqlite_master m
				JOIN pragma_table_info(m.name) p
				WHERE m.type IN ('table', 'view')
				  AND m.name NOT LIKE 'sqlite_%'
				ORDER BY m.name, p.cid`,
			views: `
				SELECT name, sql
				FROM sqlite_master
				WHERE type = 'view'`,
		}
	default:
		return introspectionQueries{
			columns: `
				SELECT table_name, column_name, data_type
				FROM information_schema.columns
				WHERE table_schema = current_schema()
				ORDER BY table_name, ordinal_position`,
			views: `
				SELECT view_name, sql
				FROM duckdb_views()
				WHERE NOT internal AND schema_name = current_schema()`,
		}
	}
}
