package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxRows is the row ceiling applied when a statement carries no LIMIT.
const DefaultMaxRows = 1000

// SanitizeOptions controls statement validation.
type SanitizeOptions struct {
	// MaxRows is injected as LIMIT when missing and caps larger limits.
	MaxRows int
	// AllowedTables holds lowercase table names. Table references are not checked when empty.
	AllowedTables map[string]struct{}
}

var fenceRe = regexp.MustCompile("(?s)```(?:[a-zA-Z]*[ \\t]*\\r?\\n)?(.*?)```")

var forbiddenKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
	"TRUNCATE": {}, "GRANT": {}, "REVOKE": {}, "MERGE": {}, "REPLACE": {}, "COPY": {},
	"ATTACH": {}, "DETACH": {}, "PRAGMA": {}, "CALL": {}, "EXEC": {}, "EXECUTE": {},
	"VACUUM": {}, "INSTALL": {}, "LOAD": {}, "SET": {}, "RESET": {}, "LOCK": {},
	"COMMENT": {}, "INTO": {}, "EXPORT": {}, "IMPORT": {}, "CHECKPOINT": {},
}

// forbiddenFunctions read files, reach the network or stall the connection.
var forbiddenFunctions = map[string]struct{}{
	"pg_sleep": {}, "pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"pg_stat_file": {}, "lo_import": {}, "lo_export": {}, "dblink": {}, "load_file": {},
	"read_csv": {}, "read_csv_auto": {}, "read_parquet": {}, "parquet_scan": {},
	"read_json": {}, "read_json_auto": {}, "read_ndjson": {}, "read_text": {}, "read_blob": {},
	"glob": {}, "sqlite_scan": {}, "postgres_scan": {}, "mysql_scan": {}, "iceberg_scan": {},
	"delta_scan": {}, "url": {}, "s3": {}, "file": {}, "hdfs": {}, "remote": {},
	"remotesecure": {}, "cluster": {}, "mysql": {}, "postgresql": {}, "input": {},
	"sleep": {}, "sleepeachrow": {}, "system": {},
}

var safeTableFunctions = map[string]struct{}{
	"generate_series": {}, "unnest": {}, "range": {}, "numbers": {}, "generate_subscripts": {},
}

var systemSchemas = map[string]struct{}{
	"information_schema": {}, "pg_catalog": {}, "performance_schema": {}, "mysql": {},
	"sys": {}, "system": {}, "sqlite_master": {}, "sqlite_schema": {}, "sqlite_temp_master": {},
}

// FROM inside these functions is part of the call syntax, not a table clause.
var fromFunctions = map[string]struct{}{
	"EXTRACT": {}, "SUBSTRING": {}, "TRIM": {}, "OVERLAY": {}, "POSITION": {},
}

var aliasStopWords = map[string]struct{}{
	"WHERE": {}, "JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {}, "CROSS": {},
	"OUTER": {}, "NATURAL": {}, "ON": {}, "USING": {}, "GROUP": {}, "ORDER": {}, "LIMIT": {},
	"OFFSET": {}, "HAVING": {}, "WINDOW": {}, "UNION": {}, "INTERSECT": {}, "EXCEPT": {},
	"QUALIFY": {}, "FETCH": {}, "SAMPLE": {}, "TABLESAMPLE": {}, "PREWHERE": {}, "FINAL": {},
	"SETTINGS": {}, "FORMAT": {}, "LATERAL": {}, "ASOF": {}, "POSITIONAL": {}, "ANTI": {},
	"SEMI": {}, "ARRAY": {}, "GLOBAL": {}, "ANY": {}, "ALL": {}, "FOR": {},
}

// Sanitize validates a generated statement and returns it ready to execute: fences and
// trailing semicolons removed, row limit enforced. Rejections are *ValidationError.
func Sanitize(query string, opts SanitizeOptions) (string, error) {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	query = StripFences(query)
	if query == "" {
		return "", &ValidationError{Reason: "empty query"}
	}

	toks, err := tokenize(query)
	if err != nil {
		return "", err
	}
	for len(toks) > 0 && toks[len(toks)-1].isPunct(';') {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return "", &ValidationError{Reason: "empty query"}
	}
	// Drop trailing comments and semicolons so an appended LIMIT is not commented out.
	query = query[:toks[len(toks)-1].end]

	for _, t := range toks {
		if t.isPunct(';') {
			return "", &ValidationError{Reason: "multiple statements are not allowed"}
		}
	}

	if err := checkLeadingKeyword(toks); err != nil {
		return "", err
	}
	if err := checkForbidden(toks); err != nil {
		return "", err
	}

	v := &tableValidator{allowed: opts.AllowedTables, ctes: cteNames(toks)}
	if err := v.check(toks); err != nil {
		return "", err
	}

	return applyLimit(query, toks, maxRows)
}

// StripFences removes markdown code fences and trailing semicolons.
func StripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

func checkLeadingKeyword(toks []token) error {
	for _, t := range toks {
		if t.isPunct('(') {
			continue
		}
		if t.is("SELECT") || t.is("WITH") {
			return nil
		}
		break
	}
	return &ValidationError{Reason: "only SELECT queries are allowed"}
}

func checkForbidden(toks []token) error {
	for i, t := range toks {
		if t.kind != tokWord {
			continue
		}
		if i > 0 && toks[i-1].isPunct('.') {
			continue
		}
		next := func(off int) token {
			if i+off < len(toks) {
				return toks[i+off]
			}
			return token{}
		}
		if next(1).isPunct('(') {
			if _, ok := forbiddenFunctions[strings.ToLower(t.text)]; ok {
				return &ValidationError{Reason: fmt.Sprintf("function %s is not allowed", t.text)}
			}
		}
		upper := strings.ToUpper(t.text)
		if _, ok := forbiddenKeywords[upper]; !ok {
			continue
		}
		switch upper {
		case "REPLACE":
			// replace(str, from, to) is a string function.
			if next(1).isPunct('(') {
				continue
			}
		case "COMMENT":
			if !next(1).is("ON") {
				continue
			}
		}
		return &ValidationError{Reason: fmt.Sprintf("write or administrative operations are not allowed (%s)", upper)}
	}
	return nil
}

// cteNames returns the lowercase names declared in WITH clauses.
func cteNames(toks []token) map[string]struct{} {
	names := make(map[string]struct{})
	for i := 1; i < len(toks); i++ {
		prev := toks[i-1]
		if !(prev.is("WITH") || prev.is("RECURSIVE") || prev.isPunct(',')) || !toks[i].isName() {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].isPunct('(') {
			j = matchParen(toks, j) + 1
		}
		if j >= len(toks) || !toks[j].is("AS") {
			continue
		}
		k := j + 1
		for k < len(toks) && (toks[k].is("NOT") || toks[k].is("MATERIALIZED")) {
			k++
		}
		if k < len(toks) && toks[k].isPunct('(') {
			names[strings.ToLower(toks[i].text)] = struct{}{}
		}
	}
	return names
}

type tableValidator struct {
	allowed map[string]struct{}
	ctes    map[string]struct{}
}

func (v *tableValidator) check(toks []token) error {
	for i, t := range toks {
		switch {
		case t.is("JOIN"):
			if err := v.checkRefs(toks, i+1, false); err != nil {
				return err
			}
		case t.is("FROM"):
			if fromIsOperator(toks, i) {
				continue
			}
			if err := v.checkRefs(toks, i+1, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// fromIsOperator reports whether FROM at i belongs to IS [NOT] DISTINCT FROM or a
// function such as EXTRACT(... FROM ...).
func fromIsOperator(toks []token, i int) bool {
	if i >= 2 && toks[i-1].is("DISTINCT") && (toks[i-2].is("IS") || toks[i-2].is("NOT")) {
		return true
	}
	if toks[i].depth == 0 {
		return false
	}
	for j := i - 1; j >= 0; j-- {
		if toks[j].isPunct('(') && toks[j].depth == toks[i].depth-1 {
			if j == 0 || toks[j-1].kind != tokWord {
				return false
			}
			_, ok := fromFunctions[strings.ToUpper(toks[j-1].text)]
			return ok
		}
	}
	return false
}

// checkRefs validates the table references starting at i. When list is set, comma
// separated references are followed.
func (v *tableValidator) checkRefs(toks []token, i int, list bool) error {
	for i < len(toks) {
		t := toks[i]
		switch {
		case t.is("LATERAL"), t.is("ONLY"):
			i++
			continue
		case t.isPunct('('):
			// Subqueries are validated through their own FROM clauses.
			i = matchParen(toks, i) + 1
		case t.isName():
			name, next := qualifiedName(toks, i)
			if next < len(toks) && toks[next].isPunct('(') {
				fn := strings.ToLower(lastSegment(name))
				if _, ok := safeTableFunctions[fn]; !ok {
					return &ValidationError{Reason: fmt.Sprintf("table function %s is not allowed", name)}
				}
				i = matchParen(toks, next) + 1
			} else {
				if err := v.checkTable(name); err != nil {
					return err
				}
				i = next
			}
		default:
			return nil
		}
		i = skipAlias(toks, i)
		if list && i < len(toks) && toks[i].isPunct(',') {
			i++
			continue
		}
		return nil
	}
	return nil
}

func (v *tableValidator) checkTable(name string) error {
	parts := strings.Split(strings.ToLower(name), ".")
	last := parts[len(parts)-1]
	for _, p := range parts {
		if _, ok := systemSchemas[p]; ok {
			return &ValidationError{Reason: fmt.Sprintf("access to system catalog %s is not allowed", name)}
		}
	}
	if strings.HasPrefix(last, "pg_") || strings.HasPrefix(last, "sqlite_") || strings.HasPrefix(last, "duckdb_") {
		return &ValidationError{Reason: fmt.Sprintf("access to system catalog %s is not allowed", name)}
	}
	if _, ok := v.ctes[last]; ok && len(parts) == 1 {
		return nil
	}
	if len(v.allowed) == 0 {
		return nil
	}
	if _, ok := v.allowed[last]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown table %s", name)}
	}
	return nil
}

func qualifiedName(toks []token, i int) (string, int) {
	parts := []string{toks[i].text}
	j := i + 1
	for j+1 < len(toks) && toks[j].isPunct('.') && toks[j+1].isName() {
		parts = append(parts, toks[j+1].text)
		j += 2
	}
	return strings.Join(parts, "."), j
}

func lastSegment(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func skipAlias(toks []token, i int) int {
	if i < len(toks) && toks[i].is("AS") {
		i++
	}
	if i < len(toks) && toks[i].isName() {
		if _, stop := aliasStopWords[strings.ToUpper(toks[i].text)]; stop && toks[i].kind == tokWord {
			return i
		}
		i++
		if i < len(toks) && toks[i].isPunct('(') {
			i = matchParen(toks, i) + 1
		}
	}
	return i
}

func applyLimit(query string, toks []token, maxRows int) (string, error) {
	ceiling := strconv.Itoa(maxRows)
	replace := func(t token) string {
		return query[:t.start] + ceiling + query[t.end:]
	}

	limitIdx := -1
	for i, t := range toks {
		if t.depth == 0 && t.is("LIMIT") {
			limitIdx = i
		}
	}
	if limitIdx < 0 {
		for i, t := range toks {
			if t.depth != 0 || !t.is("FETCH") || i+2 >= len(toks) {
				continue
			}
			if (toks[i+1].is("FIRST") || toks[i+1].is("NEXT")) && toks[i+2].kind == tokNumber {
				if exceeds(toks[i+2].text, maxRows) {
					return replace(toks[i+2]), nil
				}
				return query, nil
			}
		}
		return query + " LIMIT " + ceiling, nil
	}

	if limitIdx+1 >= len(toks) {
		return "", &ValidationError{Reason: "LIMIT requires a row count"}
	}
	count := toks[limitIdx+1]
	if count.is("ALL") {
		return replace(count), nil
	}
	if count.kind != tokNumber {
		return "", &ValidationError{Reason: "LIMIT must be a literal row count"}
	}
	// MySQL form: LIMIT offset, count.
	if limitIdx+3 < len(toks) && toks[limitIdx+2].isPunct(',') && toks[limitIdx+3].kind == tokNumber {
		count = toks[limitIdx+3]
	}
	if exceeds(count.text, maxRows) {
		return replace(count), nil
	}
	return query, nil
}

func exceeds(number string, maxRows int) bool {
	n, err := strconv.ParseFloat(number, 64)
	return err != nil || n > float64(maxRows)
}
