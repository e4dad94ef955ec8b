package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/session"
)

const healthCheckTimeout = 5 * time.Second

// Version information, injected at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// HealthHandler serves health, liveness, and version endpoints.
type HealthHandler struct {
	database  *db.DB
	store     *session.Store
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a health handler. database may be nil when the
// daemon runs without persistence.
func NewHealthHandler(database *db.DB, store *session.Store, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		store:     store,
		logger:    logger.WithComponent("health"),
		startTime: time.Now(),
	}
}

// Liveness handles GET /liveness: process is up, nothing else checked.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Health handles GET /health: liveness plus a database ping and session
// registry counters. Degraded dependencies yield 503 with detail.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Error("Database health check failed", "error", err)
			checks["database"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "disabled"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":          overall,
		"checks":          checks,
		"active_sessions": h.store.Count(),
		"uptime":          time.Since(h.startTime).String(),
		"timestamp":       time.Now().UTC(),
	})
}

// Version handles GET /version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
	})
}
