package handlers

import (
	"net/http"
)

// Readiness reports what /readyz depends on.
type Readiness interface {
	Populated() bool
}

// Configurable reports whether a database is configured. *gateway.Gateway
// satisfies it.
type Configurable interface {
	Configured() bool
}

type Health struct {
	Schema  Readiness
	Gateway Configurable
}

// Healthz handles GET /healthz.
func (h *Health) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. The service is ready once a database is configured
// and the schema cache holds a snapshot.
func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"database": h.Gateway != nil && h.Gateway.Configured(),
		"schema":   h.Schema != nil && h.Schema.Populated(),
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}
