package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/gateway"
	"github.com/malbeclabs/askdata/pkg/llm"
	"github.com/malbeclabs/askdata/pkg/profile"
	"github.com/malbeclabs/askdata/pkg/prompts"
)

var (
	// ErrNotConfigured marks a request that cannot run because the database or the
	// model provider is missing.
	ErrNotConfigured = errors.New("not configured")

	ErrStepLimitExceeded = errors.New("could not determine an answer within the step budget")
)

type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindConfiguration  ErrorKind = "configuration"
	KindValidation     ErrorKind = "validation"
	KindSyntax         ErrorKind = "syntax"
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindPermission     ErrorKind = "permission"
	KindUnavailable    ErrorKind = "unavailable"
	KindTimeout        ErrorKind = "timeout"
	KindCanceled       ErrorKind = "canceled"
	KindStepLimit      ErrorKind = "step_limit"
	KindModel          ErrorKind = "model"
	KindOther          ErrorKind = "other"
)

// Outcome is the result of running an agent. Exactly one of Results and Error is set.
type Outcome struct {
	SQLQuery        string       `json:"sqlQuery,omitempty"`
	Results         *chart.Table `json:"results,omitempty"`
	Error           string       `json:"error,omitempty"`
	ErrorKind       ErrorKind    `json:"errorKind,omitempty"`
	Trace           []Step       `json:"trace,omitempty"`
	ExecutionTimeMs int64        `json:"executionTimeMs"`
}

// WellFormed reports whether exactly one of Results and Error is set.
func (o Outcome) WellFormed() bool {
	return (o.Results != nil) != (o.Error != "")
}

func (o Outcome) Failed() bool {
	return o.Error != ""
}

// Runner answers a question with SQL results.
type Runner interface {
	Run(ctx context.Context, question string) Outcome
}

// Failure builds an error outcome for err.
func Failure(sqlQuery string, err error) Outcome {
	kind, msg := Classify(err)
	return Outcome{SQLQuery: sqlQuery, Error: msg, ErrorKind: kind}
}

// Classify maps an error to its kind and a client-safe message.
func Classify(err error) (ErrorKind, string) {
	var verr *gateway.ValidationError
	var qerr *gateway.QueryExecutionError
	switch {
	case err == nil:
		return KindNone, ""
	case errors.As(err, &verr):
		return KindValidation, gateway.SanitizeMessage(verr.Error())
	case errors.As(err, &qerr):
		return kindFromGateway(qerr.Kind), gateway.SanitizeMessage(qerr.Message)
	case errors.Is(err, ErrStepLimitExceeded):
		return KindStepLimit, ErrStepLimitExceeded.Error()
	case errors.Is(err, llm.ErrNotConfigured):
		return KindConfiguration, llm.ErrNotConfigured.Error()
	case errors.Is(err, gateway.ErrNoDatabase):
		return KindConfiguration, gateway.ErrNoDatabase.Error()
	case errors.Is(err, ErrNotConfigured):
		return KindConfiguration, gateway.SanitizeMessage(err.Error())
	case errors.Is(err, context.Canceled):
		return KindCanceled, "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, "request timed out"
	case llm.IsAPIError(err) || errors.Is(err, llm.ErrEmptyResponse):
		if llm.IsTransient(err) {
			return KindUnavailable, "the language model is temporarily unavailable, try again shortly"
		}
		return KindModel, gateway.SanitizeMessage(err.Error())
	default:
		return KindOther, gateway.SanitizeMessage(err.Error())
	}
}

func kindFromGateway(k gateway.ErrorKind) ErrorKind {
	switch k {
	case gateway.KindSyntax:
		return KindSyntax
	case gateway.KindSchemaMismatch:
		return KindSchemaMismatch
	case gateway.KindPermission:
		return KindPermission
	case gateway.KindConfiguration:
		return KindConfiguration
	case gateway.KindUnavailable:
		return KindUnavailable
	case gateway.KindTimeout:
		return KindTimeout
	case gateway.KindCanceled:
		return KindCanceled
	default:
		return KindOther
	}
}

// PromptVars returns the placeholder values shared by the agent prompts.
func PromptVars(p *profile.Profile, schemaText string, maxRows int) map[string]string {
	vars := map[string]string{
		prompts.Schema:  schemaText,
		prompts.MaxRows: strconv.Itoa(maxRows),
	}
	if p != nil {
		vars[prompts.DisplayName] = p.DisplayName
		vars[prompts.Context] = strings.TrimSpace(p.Context)
	}
	return vars
}
