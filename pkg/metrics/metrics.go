package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_queries_total",
			Help: "Total number of answered questions by execution path, complexity and outcome",
		},
		[]string{"path", "complexity", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_query_duration_seconds",
			Help:    "End-to-end duration of answering a question",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"path"},
	)

	AgentStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_agent_steps_total",
			Help: "Total number of ReAct agent steps by state",
		},
		[]string{"state"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_llm_calls_total",
			Help: "Total number of model calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_llm_call_duration_seconds",
			Help:    "Duration of model calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"operation"},
	)

	LLMCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_llm_cache_total",
			Help: "Completion cache lookups by result",
		},
		[]string{"result"},
	)

	GatewayQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_gateway_queries_total",
			Help: "Total number of SQL statements handled by the gateway by backend and status",
		},
		[]string{"backend", "status"},
	)

	GatewayQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_gateway_query_duration_seconds",
			Help:    "Duration of SQL execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	SchemaRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_schema_refreshes_total",
			Help: "Total number of schema cache refreshes by status",
		},
		[]string{"status"},
	)

	SchemaTables = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdata_schema_tables",
			Help: "Number of tables in the current schema snapshot",
		},
	)

	MCPToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	MCPToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_mcp_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"tool"},
	)

	MCPAuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_mcp_auth_failures_total",
			Help: "Total number of rejected MCP requests by reason",
		},
		[]string{"reason"},
	)
)
