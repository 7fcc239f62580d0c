package chart

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

type Type string

const (
	TypeBar  Type = "bar"
	TypeLine Type = "line"
	TypePie  Type = "pie"
)

const maxLabelLength = 30

// Data is chart-ready data derived from a query result.
type Data struct {
	Type     Type      `json:"type"`
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
	Title    string    `json:"title"`
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// MetricClass groups numeric columns by unit so incompatible units are not plotted together.
type MetricClass string

const (
	MetricCurrency   MetricClass = "currency"
	MetricPercentage MetricClass = "percentage"
	MetricCount      MetricClass = "count"
	MetricOther      MetricClass = "other"
)

var dateKeywords = []string{"date", "month", "year", "week", "day", "time", "period"}

var (
	percentageKeywords = []string{"percent", "percentage", "pct", "rate", "ratio", "share"}
	currencyKeywords   = []string{"revenue", "cost", "costs", "price", "amount", "sales", "spend", "profit", "value", "fee", "fees", "margin", "ltv", "budget", "income", "usd", "dollars"}
	countKeywords      = []string{"count", "number", "num", "qty", "quantity", "total", "orders", "units", "volume", "signups", "users", "customers", "shipments", "tickets", "claims", "batches"}
)

// IsChartable reports whether a result has a label column and at least one numeric column.
func IsChartable(columns []string, rows [][]Cell) bool {
	if len(columns) < 2 || len(rows) < 1 {
		return false
	}
	label := labelColumn(columns, rows)
	return len(numericColumns(columns, rows, label)) > 0
}

// Generate derives chart data from a query result, or returns nil when the result is not chartable.
func Generate(columns []string, rows [][]Cell) *Data {
	return GenerateWithLogger(slog.Default(), columns, rows)
}

// GenerateWithLogger is Generate with the metric-selection decision logged to log.
func GenerateWithLogger(log *slog.Logger, columns []string, rows [][]Cell) *Data {
	if !IsChartable(columns, rows) {
		return nil
	}

	label := labelColumn(columns, rows)
	metrics := numericColumns(columns, rows, label)

	classes := make([]MetricClass, len(metrics))
	mixed := false
	for i, idx := range metrics {
		classes[i] = ClassifyMetric(columns[idx])
		if classes[i] != classes[0] {
			mixed = true
		}
	}
	if mixed {
		if log != nil {
			names := make([]string, len(metrics))
			kinds := make([]string, len(metrics))
			for i, idx := range metrics {
				names[i] = columns[idx]
				kinds[i] = string(classes[i])
			}
			log.Info("chart: mixed metric types, charting first numeric column only",
				"columns", strings.Join(names, ","), "types", strings.Join(kinds, ","), "kept", columns[metrics[0]])
		}
		metrics = metrics[:1]
	}

	labels := make([]string, len(rows))
	for i, row := range rows {
		labels[i] = truncateLabel(labelText(row[label]))
	}

	datasets := make([]Dataset, len(metrics))
	for i, idx := range metrics {
		data := make([]float64, len(rows))
		for r, row := range rows {
			data[r] = row[idx].Float()
		}
		datasets[i] = Dataset{Label: FriendlyColumnName(columns[idx]), Data: data}
	}

	return &Data{
		Type:     selectType(columns, rows),
		Labels:   labels,
		Datasets: datasets,
		Title:    chartTitle(FriendlyColumnName(columns[label]), datasets),
	}
}

// ClassifyMetric classifies a numeric column by the unit its name implies.
func ClassifyMetric(column string) MetricClass {
	lower := strings.ToLower(column)
	if strings.Contains(lower, "%") {
		return MetricPercentage
	}
	if strings.Contains(lower, "$") {
		return MetricCurrency
	}
	tokens := nameTokens(column)
	for i, t := range tokens {
		tokens[i] = strings.ToLower(t)
	}
	switch {
	case hasAnyToken(tokens, percentageKeywords):
		return MetricPercentage
	case hasAnyToken(tokens, currencyKeywords):
		return MetricCurrency
	case hasAnyToken(tokens, countKeywords):
		return MetricCount
	default:
		return MetricOther
	}
}

func selectType(columns []string, rows [][]Cell) Type {
	for _, c := range columns {
		lower := strings.ToLower(c)
		for _, kw := range dateKeywords {
			if strings.Contains(lower, kw) {
				return TypeLine
			}
		}
	}
	if len(rows) < 10 && len(columns) == 2 {
		return TypePie
	}
	return TypeBar
}

// labelColumn picks column 0, unless there are more than two columns and a later
// column holds genuinely non-numeric text (e.g. a name column after an ID column).
func labelColumn(columns []string, rows [][]Cell) int {
	if len(columns) <= 2 {
		return 0
	}
	for i := 1; i < len(columns); i++ {
		if hasNonNumericText(rows, i) {
			return i
		}
	}
	return 0
}

func hasNonNumericText(rows [][]Cell, col int) bool {
	for _, row := range rows {
		c := row[col]
		if c.Kind() == KindText && strings.TrimSpace(c.String()) != "" && !c.Numeric() {
			return true
		}
	}
	return false
}

// numericColumns returns the numeric-bearing columns other than the label. Identifier
// columns are only plotted when nothing else is numeric.
func numericColumns(columns []string, rows [][]Cell, label int) []int {
	var out, ids []int
	for i := range columns {
		if i == label {
			continue
		}
		for _, row := range rows {
			if row[i].Numeric() {
				if isIdentifier(columns[i]) {
					ids = append(ids, i)
				} else {
					out = append(out, i)
				}
				break
			}
		}
	}
	if len(out) == 0 {
		return ids
	}
	return out
}

func isIdentifier(column string) bool {
	lower := strings.ToLower(column)
	if lower == "id" || strings.HasSuffix(lower, "_id") {
		return true
	}
	return len(column) > 2 && (strings.HasSuffix(column, "Id") || strings.HasSuffix(column, "ID"))
}

func labelText(c Cell) string {
	if c.IsNull() {
		return "Unknown"
	}
	return c.String()
}

func truncateLabel(s string) string {
	if utf8.RuneCountInString(s) <= maxLabelLength {
		return s
	}
	r := []rune(s)
	return string(r[:maxLabelLength-3]) + "..."
}

func chartTitle(label string, datasets []Dataset) string {
	if len(datasets) == 1 {
		return datasets[0].Label + " by " + label
	}
	return label + " overview"
}

func hasAnyToken(tokens []string, keywords []string) bool {
	for _, t := range tokens {
		for _, kw := range keywords {
			if t == kw {
				return true
			}
		}
	}
	return false
}
