package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute labels requests that no route handled, so raw paths never become labels.
const unmatchedRoute = "unmatched"

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "askdata_api_build_info",
			Help: "Build information of the askdata API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_api_http_requests_total",
			Help: "Total number of HTTP requests by route and status class",
		},
		[]string{"method", "route", "code"},
	)

	// Buckets span the fast path (about a second) up to the multi-step agent's write timeout.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"route", "code"},
	)

	HTTPResponseBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_api_http_response_bytes",
			Help:    "Size of HTTP response bodies in bytes; query responses grow with result rows",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdata_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	AdminAuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_api_admin_auth_failures_total",
			Help: "Total number of rejected admin requests by reason",
		},
		[]string{"reason"},
	)
)

// Middleware records HTTP metrics labelled by route pattern. It works in front of a
// chi router or an http.ServeMux.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		code := statusClass(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		HTTPRequestDuration.WithLabelValues(route, code).Observe(time.Since(start).Seconds())
		HTTPResponseBytes.WithLabelValues(route).Observe(float64(ww.BytesWritten()))
	})
}

// routeLabel returns the matched chi route pattern, else the ServeMux pattern.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return unmatchedRoute
}

func statusClass(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status/100) + "xx"
}
