package schema

import (
	"strings"
)

// Format renders tables as the plain-text schema given to the model:
//
//	customers:
//	  - customer_id (INTEGER)
//	  - segment (VARCHAR) values: enterprise, smb
//
//	top_customers (VIEW):
//	  - customer_id (INTEGER)
//	  Definition: SELECT ...
func Format(tables []Table) string {
	var sb strings.Builder
	for n, t := range tables {
		if n > 0 {
			sb.WriteString("\n")
		}
		writeTable(&sb, t)
	}
	return sb.String()
}

func writeTable(sb *strings.Builder, t Table) {
	if t.IsView {
		sb.WriteString(t.Name + " (VIEW):\n")
	} else {
		sb.WriteString(t.Name + ":\n")
	}
	for _, col := range t.Columns {
		if len(col.SampleValues) > 0 {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ") values: " + strings.Join(col.SampleValues, ", ") + "\n")
		} else {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ")\n")
		}
	}
	if t.IsView && t.Definition != "" {
		sb.WriteString("  Definition: " + t.Definition + "\n")
	}
}

// Describe renders the requested tables, matched case-insensitively, and reports the
// names that matched nothing.
func Describe(tables []Table, names []string) (string, []string) {
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Name)] = t
	}

	var found []Table
	var unknown []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if i := strings.LastIndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		t, ok := byName[key]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		found = append(found, t)
	}
	return Format(found), unknown
}

// Names returns the table names in order.
func Names(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

// Summary lists each table with its column names on one line, for prompts that
// look up column details on demand.
func Summary(tables []Table) string {
	var sb strings.Builder
	for _, t := range tables {
		sb.WriteString("- " + t.Name)
		if t.IsView {
			sb.WriteString(" (view)")
		}
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		sb.WriteString(": " + strings.Join(cols, ", ") + "\n")
	}
	return sb.String()
}
