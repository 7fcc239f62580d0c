package gateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// MaxErrorMessageLength caps driver error text surfaced to callers.
const MaxErrorMessageLength = 200

// ValidationError is returned when a statement is rejected before execution.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + e.Reason
}

type ErrorKind string

const (
	KindSyntax         ErrorKind = "syntax"
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindPermission     ErrorKind = "permission"
	KindConfiguration  ErrorKind = "configuration"
	KindUnavailable    ErrorKind = "unavailable"
	KindTimeout        ErrorKind = "timeout"
	KindCanceled       ErrorKind = "canceled"
	KindOther          ErrorKind = "other"
)

// QueryExecutionError is a classified driver failure. Message is sanitized and safe to
// show to end users.
type QueryExecutionError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *QueryExecutionError) Error() string {
	return e.Message
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// ErrNoDatabase is returned when the gateway has no database configured.
var ErrNoDatabase = errors.New("no database configured: set DATABASE_URL")

var (
	uriCredentialsRe = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^:@/\s]*):[^@/\s]+@`)
	passwordPairRe   = regexp.MustCompile(`(?i)(password|passwd|pwd)=('[^']*'|"[^"]*"|[^\s;&]+)`)
)

// SanitizeMessage redacts credentials, collapses whitespace and truncates driver error text.
func SanitizeMessage(msg string) string {
	msg = uriCredentialsRe.ReplaceAllString(msg, "${1}:REDACTED@")
	msg = passwordPairRe.ReplaceAllString(msg, "${1}=REDACTED")
	msg = strings.Join(strings.Fields(msg), " ")
	if utf8.RuneCountInString(msg) > MaxErrorMessageLength {
		r := []rune(msg)
		msg = string(r[:MaxErrorMessageLength-3]) + "..."
	}
	return msg
}

// classifyError maps a driver error to a QueryExecutionError.
func classifyError(err error) *QueryExecutionError {
	var qe *QueryExecutionError
	if errors.As(err, &qe) {
		return qe
	}
	kind, retryable := classify(err)
	return &QueryExecutionError{
		Kind:      kind,
		Message:   SanitizeMessage(err.Error()),
		Retryable: retryable,
		Err:       err,
	}
}

func classify(err error) (ErrorKind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, true
	case errors.Is(err, context.Canceled):
		return KindCanceled, false
	case errors.Is(err, ErrNoDatabase):
		return KindConfiguration, false
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return KindUnavailable, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return classifyClickHouseCode(chErr.Code)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQLNumber(myErr.Number)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindUnavailable, true
	}

	return classifyMessage(err.Error())
}

func classifySQLState(code string) (ErrorKind, bool) {
	switch {
	case code == "42601":
		return KindSyntax, false
	case code == "42P01", code == "42703", code == "42883", code == "3F000":
		return KindSchemaMismatch, false
	case code == "42501", code == "25006":
		return KindPermission, false
	case code == "57014":
		return KindTimeout, true
	case code == "53300", strings.HasPrefix(code, "08"), code == "57P03":
		return KindUnavailable, true
	case code == "28P01", code == "28000", code == "3D000":
		return KindConfiguration, false
	}
	return KindOther, false
}

func classifyClickHouseCode(code int32) (ErrorKind, bool) {
	switch code {
	case 62:
		return KindSyntax, false
	case 60, 47, 81, 16:
		return KindSchemaMismatch, false
	case 164, 497:
		return KindPermission, false
	case 159:
		return KindTimeout, true
	case 202, 209, 210:
		return KindUnavailable, true
	case 516:
		return KindConfiguration, false
	}
	return KindOther, false
}

func classifyMySQLNumber(n uint16) (ErrorKind, bool) {
	switch n {
	case 1064:
		return KindSyntax, false
	case 1146, 1054, 1049:
		return KindSchemaMismatch, false
	case 1142, 1044, 1290, 1792:
		return KindPermission, false
	case 3024:
		return KindTimeout, true
	case 1040, 1203:
		return KindUnavailable, true
	case 1045:
		return KindConfiguration, false
	}
	return KindOther, false
}

// classifyMessage is the fallback for drivers without structured error codes (DuckDB, SQLite).
func classifyMessage(msg string) (ErrorKind, bool) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "parser error"):
		return KindSyntax, false
	case strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "no such table"),
		strings.Contains(lower, "no such column"),
		strings.Contains(lower, "catalog error"),
		strings.Contains(lower, "binder error"),
		strings.Contains(lower, "not found in from clause"):
		return KindSchemaMismatch, false
	case strings.Contains(lower, "read-only"),
		strings.Contains(lower, "readonly"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "attempt to write"):
		return KindPermission, false
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return KindTimeout, true
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "too many connections"):
		return KindUnavailable, true
	}
	return KindOther, false
}
