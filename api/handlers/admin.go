package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/malbeclabs/askdata/api/metrics"
	"github.com/malbeclabs/askdata/pkg/gateway"
	"github.com/malbeclabs/askdata/pkg/schema"
)

// SchemaCache is the schema cache as seen by the admin endpoints. *schema.Cache
// satisfies it.
type SchemaCache interface {
	Refresh(ctx context.Context) (*schema.Snapshot, error)
	Snapshot() *schema.Snapshot
}

type AdminConfig struct {
	Logger *slog.Logger
	Schema SchemaCache
	// Tokens are the accepted bearer tokens. With none, admin routes are disabled.
	Tokens []string
}

func (cfg *AdminConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema cache is required")
	}
	var tokens []string
	for _, t := range cfg.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	cfg.Tokens = tokens
	return nil
}

type AdminHandler struct {
	log *slog.Logger
	cfg AdminConfig
}

func NewAdminHandler(cfg AdminConfig) (*AdminHandler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate admin handler config: %w", err)
	}
	if len(cfg.Tokens) == 0 {
		cfg.Logger.Warn("admin: no admin tokens configured, admin endpoints are disabled")
	}
	return &AdminHandler{log: cfg.Logger, cfg: cfg}, nil
}

// CacheInfo describes a schema snapshot.
type CacheInfo struct {
	Tables         int        `json:"tables"`
	SizeKB         float64    `json:"sizeKB"`
	LastUpdated    time.Time  `json:"lastUpdated"`
	PreviousUpdate *time.Time `json:"previousUpdate"`
}

func cacheInfo(s *schema.Snapshot) CacheInfo {
	info := CacheInfo{
		Tables:      len(s.Tables),
		SizeKB:      s.SizeKB(),
		LastUpdated: s.LastUpdated,
	}
	if !s.PreviousUpdate.IsZero() {
		prev := s.PreviousUpdate
		info.PreviousUpdate = &prev
	}
	return info
}

// RequireToken rejects requests without a configured bearer token.
func (h *AdminHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.cfg.Tokens) == 0 {
			metrics.AdminAuthFailuresTotal.WithLabelValues("disabled").Inc()
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "admin endpoints disabled"})
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			metrics.AdminAuthFailuresTotal.WithLabelValues("missing").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer realm="askdata-admin"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "missing bearer token"})
			return
		}
		if !h.validToken(token) {
			metrics.AdminAuthFailuresTotal.WithLabelValues("invalid").Inc()
			h.log.Warn("admin: rejected invalid token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validToken compares against every configured token so timing does not reveal
// which one matched.
func (h *AdminHandler) validToken(token string) bool {
	match := 0
	for _, t := range h.cfg.Tokens {
		match |= subtle.ConstantTimeCompare([]byte(token), []byte(t))
	}
	return match == 1
}

// RefreshSchema handles POST /admin/schema/refresh.
func (h *AdminHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cfg.Schema.Refresh(r.Context())
	if err != nil {
		h.log.Error("admin: schema refresh failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   gateway.SanitizeMessage(err.Error()),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cache": cacheInfo(snap)})
}

// SchemaStatus handles GET /admin/schema/refresh.
func (h *AdminHandler) SchemaStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.cfg.Schema.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cached": false})
		return
	}
	info := cacheInfo(snap)
	writeJSON(w, http.StatusOK, map[string]any{
		"cached":         true,
		"tables":         info.Tables,
		"sizeKB":         info.SizeKB,
		"lastUpdated":    info.LastUpdated,
		"previousUpdate": info.PreviousUpdate,
	})
}
