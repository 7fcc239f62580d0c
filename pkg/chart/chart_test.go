package chart

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func row(vals ...any) []Cell {
	out := make([]Cell, len(vals))
	for i, v := range vals {
		out[i] = CellFromValue(v)
	}
	return out
}

func TestAskData_Chart_IsChartable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		columns []string
		rows    [][]Cell
		want    bool
	}{
		{
			name:    "single column",
			columns: []string{"revenue"},
			rows:    [][]Cell{row(10)},
			want:    false,
		},
		{
			name:    "no rows",
			columns: []string{"carrier", "shipments"},
			rows:    nil,
			want:    false,
		},
		{
			name:    "label and number",
			columns: []string{"carrier", "shipments"},
			rows:    [][]Cell{row("UPS", 10)},
			want:    true,
		},
		{
			name:    "numeric text counts",
			columns: []string{"carrier", "revenue"},
			rows:    [][]Cell{row("UPS", "$1,200.50")},
			want:    true,
		},
		{
			name:    "no numeric values",
			columns: []string{"carrier", "status"},
			rows:    [][]Cell{row("UPS", "late")},
			want:    false,
		},
		{
			name:    "nulls only",
			columns: []string{"carrier", "revenue"},
			rows:    [][]Cell{row("UPS", nil)},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsChartable(tt.columns, tt.rows))
		})
	}
}

func TestAskData_Chart_Generate(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when not chartable", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, GenerateWithLogger(testLogger(t), []string{"a"}, [][]Cell{row(1)}))
	})

	t.Run("date column selects line", func(t *testing.T) {
		t.Parallel()
		data := GenerateWithLogger(testLogger(t), []string{"order_month", "orders"}, [][]Cell{
			row("2024-01", 10),
			row("2024-02", 12),
		})
		require.NotNil(t, data)
		assert.Equal(t, TypeLine, data.Type)
	})

	t.Run("two columns under ten rows selects pie", func(t *testing.T) {
		t.Parallel()
		data := GenerateWithLogger(testLogger(t), []string{"carrier", "shipments"}, [][]Cell{
			row("UPS", 10),
			row("FedEx", 7),
		})
		require.NotNil(t, data)
		assert.Equal(t, TypePie, data.Type)
		assert.Equal(t, []string{"UPS", "FedEx"}, data.Labels)
		assert.Equal(t, "Shipments by Carrier", data.Title)
	})

	t.Run("ten rows selects bar", func(t *testing.T) {
		t.Parallel()
		var rows [][]Cell
		for i := 0; i < 10; i++ {
			rows = append(rows, row("carrier", i))
		}
		data := GenerateWithLogger(testLogger(t), []string{"carrier", "shipments"}, rows)
		require.NotNil(t, data)
		assert.Equal(t, TypeBar, data.Type)
	})

	t.Run("prefers text label column after an id column", func(t *testing.T) {
		t.Parallel()
		data := GenerateWithLogger(testLogger(t), []string{"customer_id", "customer_name", "total_revenue"}, [][]Cell{
			row(1, "Acme Golf", 5000),
			row(2, "Birdie Club", 4200),
		})
		require.NotNil(t, data)
		assert.Equal(t, TypeBar, data.Type)
		assert.Equal(t, []string{"Acme Golf", "Birdie Club"}, data.Labels)
		require.Len(t, data.Datasets, 1)
		assert.Equal(t, "Total Revenue", data.Datasets[0].Label)
		assert.Equal(t, []float64{5000, 4200}, data.Datasets[0].Data)
	})

	t.Run("same metric class charts every numeric column", func(t *testing.T) {
		t.Parallel()
		data := GenerateWithLogger(testLogger(t), []string{"carrier", "gross_revenue", "net_revenue"}, [][]Cell{
			row("UPS", 100, 80),
			row("DHL", 90, 70),
		})
		require.NotNil(t, data)
		require.Len(t, data.Datasets, 2)
		assert.Equal(t, "Gross Revenue", data.Datasets[0].Label)
		assert.Equal(t, "Net Revenue", data.Datasets[1].Label)
		assert.Equal(t, "Carrier overview", data.Title)
	})

	t.Run("mixed metric classes keep only the first numeric column", func(t *testing.T) {
		t.Parallel()
		data := GenerateWithLogger(testLogger(t), []string{"month", "revenue", "signups"}, [][]Cell{
			row("2024-01", "$1,000", 12),
			row("2024-02", "$1,500", 18),
			row("2024-03", "n/a", 9),
		})
		require.NotNil(t, data)
		assert.Equal(t, TypeLine, data.Type)
		require.Len(t, data.Datasets, 1)
		assert.Equal(t, "Revenue", data.Datasets[0].Label)
		assert.Equal(t, []float64{1000, 1500, 0}, data.Datasets[0].Data)
	})

	t.Run("truncates long labels", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("x", 45)
		data := GenerateWithLogger(testLogger(t), []string{"course", "bags"}, [][]Cell{row(long, 3)})
		require.NotNil(t, data)
		assert.Equal(t, strings.Repeat("x", 27)+"...", data.Labels[0])
		assert.Len(t, []rune(data.Labels[0]), 30)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		columns := []string{"route_name", "shipments", "late_shipments"}
		rows := [][]Cell{
			row("Orlando to Pebble Beach and back again via Dallas", "1,204", 33),
			row("Scottsdale to Pinehurst", 801, nil),
			row(nil, 12.5, "4"),
		}
		first := GenerateWithLogger(testLogger(t), columns, rows)
		second := GenerateWithLogger(testLogger(t), columns, rows)
		require.NotNil(t, first)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("chart output differs between calls (-first +second):\n%s", diff)
		}
		assert.Equal(t, "Unknown", first.Labels[2])
	})
}

func TestAskData_Chart_ClassifyMetric(t *testing.T) {
	t.Parallel()

	tests := map[string]MetricClass{
		"revenue":         MetricCurrency,
		"total_revenue":   MetricCurrency,
		"avgOrderValue":   MetricCurrency,
		"conversion_rate": MetricPercentage,
		"on_time_pct":     MetricPercentage,
		"share_%":         MetricPercentage,
		"signups":         MetricCount,
		"order_count":     MetricCount,
		"transit_days":    MetricOther,
	}
	for column, want := range tests {
		assert.Equal(t, want, ClassifyMetric(column), column)
	}
}

func TestAskData_Chart_FriendlyColumnName(t *testing.T) {
	t.Parallel()

	t.Run("dictionary and fallback", func(t *testing.T) {
		t.Parallel()
		tests := map[string]string{
			"customer_ltv":      "Customer Lifetime Value",
			"avg_order_value":   "Average Order Value",
			"avgOrderValue":     "Average Order Value",
			"num_orders":        "Number of Orders",
			"total_qty_sold":    "Total Quantity Sold",
			"shipment_roi_pct":  "Shipment ROI Percent",
			"yoy_growth":        "Year over Year Growth",
			"carrierID":         "Carrier ID",
			"top-10-courses":    "Top 10 Courses",
			"id":                "ID",
			"":                  "",
			"cost_per_shipment": "Cost per Shipment",
		}
		for in, want := range tests {
			assert.Equal(t, want, FriendlyColumnName(in), in)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		inputs := []string{
			"customer_ltv", "avg_transit_days", "weight_lbs", "batch_size_bbl", "yoy_growth",
			"mtd_revenue", "carrierID", "McDonaldScore", "USA_sales", "q1_total", "cost_per_shipment",
			"The Big Course", "Revenue per Customer",
		}
		for _, v := range friendlyNames {
			inputs = append(inputs, v)
		}
		for _, v := range abbreviations {
			inputs = append(inputs, v)
		}
		for _, in := range inputs {
			once := FriendlyColumnName(in)
			assert.Equal(t, once, FriendlyColumnName(once), "input %q", in)
		}
	})
}

func TestAskData_Chart_Cell(t *testing.T) {
	t.Parallel()

	t.Run("coercion", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1200.5, Text("$1,200.50").Float())
		assert.Equal(t, 12.5, Text(" 12.5% ").Float())
		assert.Equal(t, 0.0, Text("n/a").Float())
		assert.Equal(t, 1.0, Bool(true).Float())
		assert.Equal(t, 0.0, Null().Float())
		assert.True(t, Text("€300").Numeric())
		assert.False(t, Text("Pinehurst").Numeric())
		assert.False(t, Date(time.Now()).Numeric())
	})

	t.Run("from driver values", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, KindNull, CellFromValue(nil).Kind())
		assert.Equal(t, KindNumber, CellFromValue(int64(3)).Kind())
		assert.Equal(t, KindText, CellFromValue([]byte("abc")).Kind())
		assert.Equal(t, KindBool, CellFromValue(true).Kind())
		assert.Equal(t, KindDate, CellFromValue(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).Kind())
		assert.Equal(t, "2024-01-02", CellFromValue(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).String())
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		table := Table{
			Columns: []string{"a", "b", "c", "d"},
			Rows:    [][]Cell{{Null(), Number(1.5), Text("x"), Bool(false)}},
		}
		data, err := json.Marshal(table)
		require.NoError(t, err)
		assert.JSONEq(t, `{"columns":["a","b","c","d"],"rows":[[null,1.5,"x",false]]}`, string(data))

		var decoded Table
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.NoError(t, decoded.Validate())
		assert.Equal(t, table.Rows[0][1].Float(), decoded.Rows[0][1].Float())
		assert.True(t, decoded.Rows[0][0].IsNull())
	})
}

func TestAskData_Chart_NonFiniteNumbers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cell Cell
	}{
		{name: "nan", cell: Number(math.NaN())},
		{name: "positive infinity", cell: Number(math.Inf(1))},
		{name: "negative infinity", cell: Number(math.Inf(-1))},
		{name: "nan text", cell: Text("NaN")},
		{name: "infinity text", cell: Text("+Inf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, 0.0, tt.cell.Float())
			assert.False(t, tt.cell.Numeric())
			data, err := json.Marshal(tt.cell)
			require.NoError(t, err)
			if tt.cell.Kind() == KindNumber {
				assert.Equal(t, "null", string(data))
			}
		})
	}

	t.Run("chart data stays encodable", func(t *testing.T) {
		t.Parallel()
		columns := []string{"carrier", "revenue"}
		rows := [][]Cell{
			{Text("UPS"), Number(100)},
			{Text("FedEx"), Number(math.NaN())},
			{Text("DHL"), Number(math.Inf(1))},
		}
		got := GenerateWithLogger(testLogger(t), columns, rows)
		require.NotNil(t, got)
		require.Len(t, got.Datasets, 1)
		assert.Equal(t, []float64{100, 0, 0}, got.Datasets[0].Data)

		_, err := json.Marshal(got)
		require.NoError(t, err)
		_, err = json.Marshal(Table{Columns: columns, Rows: rows})
		require.NoError(t, err)
	})
}

func TestAskData_Chart_Table(t *testing.T) {
	t.Parallel()

	t.Run("validate rejects misaligned rows", func(t *testing.T) {
		t.Parallel()
		table := Table{Columns: []string{"a", "b"}, Rows: [][]Cell{{Number(1)}}}
		require.Error(t, table.Validate())
	})

	t.Run("unique columns", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"id", "id_2", "name", "id_3"}, UniqueColumns([]string{"id", "id", "name", "id"}))
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()
		table := Table{Columns: []string{"carrier", "n"}, Rows: [][]Cell{row("UPS", 3), row("a|b", nil)}}
		md := table.Markdown()
		assert.Contains(t, md, "| carrier | n |")
		assert.Contains(t, md, "| UPS | 3 |")
		assert.Contains(t, md, `| a\|b | NULL |`)
	})
}
