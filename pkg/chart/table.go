package chart

import (
	"fmt"
	"strings"
)

// Table is a tabular query result. Every row holds exactly len(Columns) cells.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// Validate checks that column names are unique and every row is aligned to the columns.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Head returns a table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	if n >= len(t.Rows) {
		return t
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Markdown renders the table as a markdown table, used when embedding results in prompts.
func (t *Table) Markdown() string {
	var sb strings.Builder
	sb.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(t.Columns)) + "\n")
	for _, row := range t.Rows {
		vals := make([]string, len(row))
		for i, c := range row {
			s := c.String()
			if c.IsNull() {
				s = "NULL"
			}
			vals[i] = strings.ReplaceAll(s, "|", "\\|")
		}
		sb.WriteString("| " + strings.Join(vals, " | ") + " |\n")
	}
	return sb.String()
}

// UniqueColumns makes column names unique by suffixing repeats with _2, _3, ...
func UniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	used := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		used[c] = struct{}{}
	}
	for i, c := range columns {
		seen[c]++
		if seen[c] == 1 {
			out[i] = c
			continue
		}
		n := seen[c]
		name := fmt.Sprintf("%s_%d", c, n)
		for {
			if _, ok := used[name]; !ok {
				break
			}
			n++
			name = fmt.Sprintf("%s_%d", c, n)
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}
