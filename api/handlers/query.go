package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/chart"
	"github.com/malbeclabs/askdata/pkg/classifier"
	"github.com/malbeclabs/askdata/pkg/gateway"
	"github.com/malbeclabs/askdata/pkg/insights"
	"github.com/malbeclabs/askdata/pkg/metrics"
)

const (
	MaxQuestionLength = 2000
	maxRequestBody    = 64 << 10

	unexpectedStateMessage = "**Something Went Wrong**\n\n" +
		"The request could not be completed. Please try again, or rephrase the question."
)

type QueryRequest struct {
	Question     string `json:"question"`
	ResponseMode string `json:"responseMode,omitempty"`
	IncludeTrace bool   `json:"includeTrace,omitempty"`
}

type QueryMetadata struct {
	Complexity      classifier.Complexity `json:"complexity"`
	UsedFastPath    bool                  `json:"usedFastPath"`
	Confidence      float64               `json:"confidence"`
	ExecutionTimeMs int64                 `json:"executionTimeMs"`
	Reason          string                `json:"reason"`
}

type QueryResponse struct {
	Success      bool           `json:"success"`
	Response     string         `json:"response"`
	SQLQuery     *string        `json:"sqlQuery"`
	QueryResults *chart.Table   `json:"queryResults"`
	ChartData    *chart.Data    `json:"chartData"`
	Error        *string        `json:"error"`
	Metadata     *QueryMetadata `json:"metadata,omitempty"`
	Trace        []agent.Step   `json:"trace,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
}

// RequestError is a malformed query request. It maps to HTTP 400.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return e.Reason
}

// Insights narrates results and failures. *insights.Generator satisfies it.
type Insights interface {
	Generate(ctx context.Context, question, sqlQuery string, results *chart.Table, mode insights.Mode) string
	GenerateError(question, sqlQuery, errMsg string) string
}

type QueryConfig struct {
	Logger     *slog.Logger
	Classifier *classifier.Classifier
	Fast       agent.Runner
	Full       agent.Runner
	Insights   Insights
	Clock      clockwork.Clock
	// DatabaseURL and APIKey are only inspected for shape by GET /query.
	DatabaseURL string
	APIKey      string
}

func (cfg *QueryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Classifier == nil {
		return errors.New("classifier is required")
	}
	if cfg.Fast == nil {
		return errors.New("fast agent is required")
	}
	if cfg.Full == nil {
		return errors.New("full agent is required")
	}
	if cfg.Insights == nil {
		return errors.New("insights generator is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// QueryHandler answers natural-language questions: classify, run the selected agent,
// chart and narrate the results.
type QueryHandler struct {
	log    *slog.Logger
	cfg    QueryConfig
	status ConfigStatus
}

func NewQueryHandler(cfg QueryConfig) (*QueryHandler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate query handler config: %w", err)
	}
	return &QueryHandler{
		log:    cfg.Logger,
		cfg:    cfg,
		status: NewConfigStatus(cfg.DatabaseURL, cfg.APIKey),
	}, nil
}

// Ask handles POST /query.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	log := h.log.With("requestID", requestID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("query: panic while answering", "panic", rec)
			msg := "internal error"
			writeJSON(w, http.StatusInternalServerError, QueryResponse{
				Response:  unexpectedStateMessage,
				Error:     &msg,
				RequestID: requestID,
			})
		}
	}()

	req, err := DecodeQueryRequest(r.Body)
	if err != nil {
		log.Info("query: rejected request", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":  false,
			"error":    err.Error(),
			"response": fmt.Sprintf("Please ask a question about your data in at most %d characters.", MaxQuestionLength),
		})
		return
	}

	resp, status := h.Answer(r.Context(), req)
	resp.RequestID = requestID
	writeJSON(w, status, resp)
}

// Status handles GET /query.
func (h *QueryHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status)
}

// DecodeQueryRequest reads and validates a query request body.
func DecodeQueryRequest(body io.Reader) (QueryRequest, error) {
	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return req, &RequestError{Reason: fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)}
		}
		return req, &RequestError{Reason: "invalid request body"}
	}
	return req, req.Validate()
}

func (req *QueryRequest) Validate() error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return &RequestError{Reason: "question is required"}
	}
	if utf8.RuneCountInString(req.Question) > MaxQuestionLength {
		return &RequestError{Reason: fmt.Sprintf("question must be at most %d characters", MaxQuestionLength)}
	}
	if _, err := insights.ParseMode(req.ResponseMode); err != nil {
		return &RequestError{Reason: err.Error()}
	}
	return nil
}

// Answer runs the pipeline for a validated request and returns the response with
// its HTTP status.
func (h *QueryHandler) Answer(ctx context.Context, req QueryRequest) (QueryResponse, int) {
	start := h.cfg.Clock.Now()
	mode, _ := insights.ParseMode(req.ResponseMode)

	cls := h.cfg.Classifier.Classify(req.Question)
	runner, path := h.cfg.Full, "react"
	if cls.UseFastPath {
		runner, path = h.cfg.Fast, "fast"
	}
	h.log.Info("query: classified", "complexity", cls.Complexity, "score", cls.Score, "path", path, "reason", cls.Reason)

	outcome := runner.Run(ctx, req.Question)

	resp := QueryResponse{
		Metadata: &QueryMetadata{
			Complexity:   cls.Complexity,
			UsedFastPath: cls.UseFastPath,
			Confidence:   cls.Confidence,
			Reason:       cls.Reason,
		},
	}
	if outcome.SQLQuery != "" {
		resp.SQLQuery = &outcome.SQLQuery
	}
	if req.IncludeTrace {
		resp.Trace = outcome.Trace
	}

	status := http.StatusOK
	result := "ok"
	switch {
	case !outcome.WellFormed():
		h.log.Error("query: agent returned neither results nor an error", "path", path)
		msg := "unexpected agent state"
		resp.Error = &msg
		resp.Response = unexpectedStateMessage
		status, result = http.StatusInternalServerError, "unexpected"
	case outcome.Failed():
		msg := gateway.SanitizeMessage(outcome.Error)
		resp.Error = &msg
		resp.Response = h.cfg.Insights.GenerateError(req.Question, outcome.SQLQuery, msg)
		result = string(outcome.ErrorKind)
		if outcome.ErrorKind == agent.KindUnavailable {
			status = http.StatusInternalServerError
		}
	default:
		resp.Success = true
		resp.QueryResults = outcome.Results
		if outcome.Results.RowCount() > 0 && chart.IsChartable(outcome.Results.Columns, outcome.Results.Rows) {
			resp.ChartData = chart.GenerateWithLogger(h.log, outcome.Results.Columns, outcome.Results.Rows)
		}
		resp.Response = h.cfg.Insights.Generate(ctx, req.Question, outcome.SQLQuery, outcome.Results, mode)
	}

	elapsed := h.cfg.Clock.Since(start)
	resp.Metadata.ExecutionTimeMs = elapsed.Milliseconds()
	metrics.QueriesTotal.WithLabelValues(path, string(cls.Complexity), result).Inc()
	metrics.QueryDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	h.log.Info("query: answered", "path", path, "success", resp.Success, "result", result, "durationMs", resp.Metadata.ExecutionTimeMs)
	return resp, status
}

// writeJSON encodes v before writing the header so an unencodable value turns
// into a 500 envelope instead of an empty body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("http: failed to encode response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(encodeFailure)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

var encodeFailure = func() QueryResponse {
	msg := "failed to encode response"
	return QueryResponse{Response: unexpectedStateMessage, Error: &msg}
}()
