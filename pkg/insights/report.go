package insights

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/malbeclabs/askdata/pkg/chart"
)

const minReportWords = 200

// ReportSections are the headers every pro report carries, in order.
var ReportSections = []string{
	"## Key Findings",
	"## Financial Impact",
	"## Risk Areas & Opportunities",
	"## Actionable Recommendations",
}

// validateReport returns what a pro report is missing. An empty result means the
// report is acceptable.
func validateReport(text string) []string {
	headers := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			headers[strings.ToLower(strings.Join(strings.Fields(line), " "))] = struct{}{}
		}
	}

	var problems []string
	for _, section := range ReportSections {
		if _, ok := headers[strings.ToLower(section)]; !ok {
			problems = append(problems, fmt.Sprintf("missing section %q", section))
		}
	}
	if n := len(strings.Fields(text)); n < minReportWords {
		problems = append(problems, fmt.Sprintf("only %d words (minimum %d)", n, minReportWords))
	}
	return problems
}

type columnStats struct {
	name   string
	class  chart.MetricClass
	count  int
	sum    float64
	min    float64
	max    float64
	minRow int
	maxRow int
}

func (s columnStats) avg() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// numericStats computes statistics for every column holding at least one numeric
// cell, skipping identifier columns.
func numericStats(results *chart.Table) []columnStats {
	var out []columnStats
	for col, name := range results.Columns {
		if isIdentifier(name) {
			continue
		}
		s := columnStats{name: name, class: chart.ClassifyMetric(name), min: math.Inf(1), max: math.Inf(-1)}
		for r, row := range results.Rows {
			if col >= len(row) || !row[col].Numeric() {
				continue
			}
			v := row[col].Float()
			s.count++
			s.sum += v
			if v < s.min {
				s.min, s.minRow = v, r
			}
			if v > s.max {
				s.max, s.maxRow = v, r
			}
		}
		if s.count > 0 {
			out = append(out, s)
		}
	}
	return out
}

func isIdentifier(column string) bool {
	lower := strings.ToLower(column)
	return lower == "id" || strings.HasSuffix(lower, "_id")
}

// labelColumn is the first column holding text, or -1.
func labelColumn(results *chart.Table) int {
	for col := range results.Columns {
		for _, row := range results.Rows {
			if col < len(row) && !row[col].IsNull() && !row[col].Numeric() {
				return col
			}
		}
	}
	return -1
}

func formatValue(v float64, class chart.MetricClass) string {
	switch class {
	case chart.MetricCurrency:
		return "$" + humanize.FormatFloat("#,###.##", v)
	case chart.MetricPercentage:
		return humanize.CommafWithDigits(v, 1) + "%"
	default:
		return humanize.CommafWithDigits(v, 2)
	}
}

// skeletonReport builds the four-section report from column statistics when the
// model cannot produce a valid one.
func skeletonReport(question string, results *chart.Table) string {
	stats := numericStats(results)
	label := labelColumn(results)
	rows := results.RowCount()

	rowLabel := func(r int) string {
		if label < 0 {
			return fmt.Sprintf("row %d", r+1)
		}
		return results.Rows[r][label].String()
	}

	var sb strings.Builder
	sb.WriteString(ReportSections[0] + "\n")
	fmt.Fprintf(&sb, "- The analysis of %q covers **%s rows** across %d columns.\n", question, humanize.Comma(int64(rows)), len(results.Columns))
	for _, s := range stats {
		fmt.Fprintf(&sb, "- %s: total **%s**, average %s, ranging from %s to %s.\n",
			chart.FriendlyColumnName(s.name), formatValue(s.sum, s.class), formatValue(s.avg(), s.class),
			formatValue(s.min, s.class), formatValue(s.max, s.class))
	}
	if len(stats) == 0 {
		sb.WriteString("- The results contain no numeric measures; review the table below for the details.\n")
	}

	sb.WriteString("\n" + ReportSections[1] + "\n")
	financial := 0
	for _, s := range stats {
		if s.class != chart.MetricCurrency {
			continue
		}
		financial++
		fmt.Fprintf(&sb, "- %s sums to **%s**, or %s per row on average.\n",
			chart.FriendlyColumnName(s.name), formatValue(s.sum, s.class), formatValue(s.avg(), s.class))
	}
	if financial == 0 {
		sb.WriteString("- These results carry no currency measures, so financial impact should be estimated by joining them with revenue or cost data.\n")
	}

	sb.WriteString("\n" + ReportSections[2] + "\n")
	for _, s := range stats {
		if s.min == s.max {
			fmt.Fprintf(&sb, "- %s is flat at %s across all rows.\n", chart.FriendlyColumnName(s.name), formatValue(s.max, s.class))
			continue
		}
		fmt.Fprintf(&sb, "- %s peaks at %s (%s) and is lowest at %s (%s); the gap of %s marks where to look first.\n",
			chart.FriendlyColumnName(s.name),
			formatValue(s.max, s.class), rowLabel(s.maxRow),
			formatValue(s.min, s.class), rowLabel(s.minRow),
			formatValue(s.max-s.min, s.class))
	}
	if len(stats) == 0 {
		sb.WriteString("- No numeric spread is available to rank risks; compare these records against a prior period.\n")
	}

	sb.WriteString("\n" + ReportSections[3] + "\n")
	if len(stats) > 0 {
		top := stats[0]
		fmt.Fprintf(&sb, "1. Review the top performer by %s (%s) and document what drives its result.\n",
			strings.ToLower(chart.FriendlyColumnName(top.name)), rowLabel(top.maxRow))
		fmt.Fprintf(&sb, "2. Investigate the weakest entry (%s) and set a target to close the gap toward the average of %s.\n",
			rowLabel(top.minRow), formatValue(top.avg(), top.class))
	} else {
		sb.WriteString("1. Add a measurable metric such as cost, revenue or volume to the question.\n")
		sb.WriteString("2. Narrow the question to a single period or segment to surface differences.\n")
	}
	sb.WriteString("3. Re-run this analysis on a regular schedule and track the same measures over time.\n")
	sb.WriteString("\n_This report was assembled from summary statistics because a detailed narrative could not be generated._\n")
	return sb.String()
}
