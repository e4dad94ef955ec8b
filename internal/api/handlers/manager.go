package handlers

import (
	"net/http"
	"time"

	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/runner"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Manager wires all handler groups and their shared dependencies. The server
// routes through it so route setup stays declarative.
type Manager struct {
	scan      *ScanHandler
	sessions  *SessionHandler
	stream    *StreamHandler
	websocket *WebSocketHandler
	health    *HealthHandler
	metrics   *metrics.Registry
}

// New creates a manager with all handler groups initialized.
func New(service *runner.Service, store *session.Store, database *db.DB,
	repo *db.ScanRecordRepository, keepAlive time.Duration,
	logger *logging.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		scan:      NewScanHandler(service, repo, store, logger),
		sessions:  NewSessionHandler(store, logger),
		stream:    NewStreamHandler(store, keepAlive, logger, reg),
		websocket: NewWebSocketHandler(store, keepAlive, logger, reg),
		health:    NewHealthHandler(database, store, logger),
		metrics:   reg,
	}
}

// CreateScan handles POST /scans.
func (m *Manager) CreateScan(w http.ResponseWriter, r *http.Request) { m.scan.CreateScan(w, r) }

// ListScans handles GET /scans.
func (m *Manager) ListScans(w http.ResponseWriter, r *http.Request) { m.scan.ListScans(w, r) }

// GetScan handles GET /scans/{id}.
func (m *Manager) GetScan(w http.ResponseWriter, r *http.Request) { m.scan.GetScan(w, r) }

// DeleteScan handles DELETE /scans/{id}.
func (m *Manager) DeleteScan(w http.ResponseWriter, r *http.Request) { m.scan.DeleteScan(w, r) }

// ListSessions handles GET /sessions.
func (m *Manager) ListSessions(w http.ResponseWriter, r *http.Request) { m.sessions.ListSessions(w, r) }

// GetSession handles GET /sessions/{id}.
func (m *Manager) GetSession(w http.ResponseWriter, r *http.Request) { m.sessions.GetSession(w, r) }

// StreamScan handles GET /scans/{id}/stream (SSE).
func (m *Manager) StreamScan(w http.ResponseWriter, r *http.Request) { m.stream.Stream(w, r) }

// StreamScanWS handles GET /scans/{id}/ws (websocket).
func (m *Manager) StreamScanWS(w http.ResponseWriter, r *http.Request) { m.websocket.Stream(w, r) }

// Liveness handles GET /liveness.
func (m *Manager) Liveness(w http.ResponseWriter, r *http.Request) { m.health.Liveness(w, r) }

// Health handles GET /health.
func (m *Manager) Health(w http.ResponseWriter, r *http.Request) { m.health.Health(w, r) }

// Version handles GET /version.
func (m *Manager) Version(w http.ResponseWriter, r *http.Request) { m.health.Version(w, r) }

// Metrics exposes the Prometheus registry.
func (m *Manager) Metrics() http.Handler {
	if m.metrics == nil {
		return http.NotFoundHandler()
	}
	return m.metrics.Handler()
}
