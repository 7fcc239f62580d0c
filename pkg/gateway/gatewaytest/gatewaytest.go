// Package gatewaytest builds in-memory DuckDB gateways seeded with sample data.
package gatewaytest

import (
	"log/slog"
	"os"
	"testing"

	"github.com/malbeclabs/askdata/pkg/gateway"
	"github.com/stretchr/testify/require"
)

// ShipSticks creates customers, carriers and shipments tables.
var ShipSticks = []string{
	`CREATE TABLE customers (
		customer_id INTEGER,
		customer_name VARCHAR,
		segment VARCHAR,
		total_revenue DOUBLE,
		signup_date DATE
	)`,
	`INSERT INTO customers VALUES
		(1, 'Acme Golf', 'enterprise', 5000.5, DATE '2024-01-05'),
		(2, 'Birdie Club', 'enterprise', 4200, DATE '2024-02-11'),
		(3, 'Caddie Co', 'smb', 3900, DATE '2024-03-02'),
		(4, 'Divot Partners', 'smb', 2500, DATE '2024-04-18'),
		(5, 'Eagle Travel', 'smb', 1800, DATE '2024-05-20'),
		(6, 'Fairway Tours', 'smb', 950, DATE '2024-06-01')`,
	`CREATE TABLE carriers (carrier_id INTEGER, carrier_name VARCHAR)`,
	`INSERT INTO carriers VALUES (1, 'UPS'), (2, 'FedEx'), (3, 'DHL')`,
	`CREATE TABLE shipments (
		shipment_id INTEGER,
		customer_id INTEGER,
		carrier_id INTEGER,
		service_level VARCHAR,
		ship_date DATE,
		transit_days INTEGER,
		shipping_cost DOUBLE
	)`,
	`INSERT INTO shipments VALUES
		(1, 1, 1, 'ground', DATE '2024-03-01', 4, 89.0),
		(2, 1, 2, 'express', DATE '2024-03-05', 2, 149.0),
		(3, 2, 1, 'ground', DATE '2024-04-02', 5, 92.5),
		(4, 3, 3, 'express', DATE '2024-04-10', 2, 155.0),
		(5, 4, 2, 'ground', DATE '2024-05-12', 3, 88.0),
		(6, 5, 1, 'ground', DATE '2024-06-20', 6, 95.0)`,
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// New returns a gateway over an in-memory DuckDB database after running stmts.
// The gateway is closed when the test ends.
func New(t testing.TB, stmts ...string) *gateway.Gateway {
	t.Helper()
	db, backend, err := gateway.Open(t.Context(), "duckdb://", gateway.PoolConfig{})
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := db.ExecContext(t.Context(), stmt)
		require.NoError(t, err)
	}
	g, err := gateway.New(gateway.Config{Logger: logger(), DB: db, Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// Unconfigured returns a gateway with no database.
func Unconfigured(t testing.TB) *gateway.Gateway {
	t.Helper()
	g, err := gateway.New(gateway.Config{Logger: logger()})
	require.NoError(t, err)
	return g
}
