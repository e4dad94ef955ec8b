package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/session"
)

// SessionSummary is the list-view shape of a live session. Logs and results
// are deliberately omitted; clients fetch those via the session detail or the
// stream.
type SessionSummary struct {
	ID        string `json:"id"`
	Target    string `json:"target"`
	Profile   string `json:"profile"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	LogLines  int    `json:"log_lines"`
}

// SessionHandler serves the live session registry endpoints.
type SessionHandler struct {
	store  *session.Store
	logger *logging.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store *session.Store, logger *logging.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: logger.WithComponent("session_handler"),
	}
}

// ListSessions handles GET /sessions: every session the caller owns that is
// still resident in the registry, newest first.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	snapshots := h.store.SessionsForOwner(ownerID)

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	summaries := make([]SessionSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		summaries = append(summaries, SessionSummary{
			ID:        snap.ID,
			Target:    snap.Target,
			Profile:   snap.Profile,
			Status:    string(snap.Status),
			CreatedAt: snap.CreatedAt.Format(time.RFC3339),
			LogLines:  len(snap.Logs),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

// GetSession handles GET /sessions/{id}: the full snapshot including buffered
// logs and, for terminal sessions, the result or error message.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookupOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// lookupOwned resolves {id} against the live registry and enforces ownership.
func (h *SessionHandler) lookupOwned(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), errors.CodeValidation)
		return session.Snapshot{}, false
	}

	snap, found := h.store.GetSession(id.String())
	if !found {
		writeError(w, r, http.StatusNotFound, "session not found", errors.CodeSessionNotFound)
		return session.Snapshot{}, false
	}

	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID != "" && snap.OwnerID != ownerID {
		writeError(w, r, http.StatusForbidden, "session belongs to another owner", errors.CodePermission)
		return session.Snapshot{}, false
	}
	return snap, true
}
