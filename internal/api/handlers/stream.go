package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Streaming constants.
const (
	// eventChannelBuffer absorbs bursts between store fan-out and the
	// writer loop. The store must never block, so a full channel drops
	// the client instead.
	eventChannelBuffer = 256

	defaultKeepAliveInterval = 25 * time.Second
)

// streamFrame is the JSON payload carried in every stream event, over SSE
// and websocket alike.
type streamFrame struct {
	SessionID string           `json:"session_id"`
	Status    string           `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Result    *scanning.Result `json:"result,omitempty"`
}

// frameFor maps a session event to its wire payload. Log and error frames
// both carry their text under "message".
func frameFor(event session.Event) streamFrame {
	frame := streamFrame{SessionID: event.SessionID}
	switch event.Kind {
	case session.EventLog:
		frame.Message = event.Message
	case session.EventStatus:
		frame.Status = string(event.Status)
	case session.EventDone:
		frame.Status = string(event.Status)
		frame.Result = event.Result
	case session.EventError:
		frame.Status = string(event.Status)
		frame.Message = event.Message
	}
	return frame
}

// StreamHandler serves the SSE live-stream endpoint for scan sessions.
type StreamHandler struct {
	store     *session.Store
	keepAlive time.Duration
	logger    *logging.Logger
	metrics   *metrics.Registry
}

// NewStreamHandler creates a stream handler. reg may be nil.
func NewStreamHandler(store *session.Store, keepAlive time.Duration,
	logger *logging.Logger, reg *metrics.Registry) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAliveInterval
	}
	return &StreamHandler{
		store:     store,
		keepAlive: keepAlive,
		logger:    logger.WithComponent("stream"),
		metrics:   reg,
	}
}

// Stream handles GET /scans/{id}/stream. Existence and ownership are checked
// before the response is committed to the event stream content type, so a
// missing session is a plain 404 and someone else's session a plain 403.
//
// The connected client first receives a "connected" frame, then a replay of
// every buffered log line, then live events. Replay and subscription happen
// atomically in the store, so no line is ever missed or duplicated across
// the hand-off. The connection closes from the server side right after the
// terminal "done" or "error" frame.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), errors.CodeValidation)
		return
	}
	sessionID := id.String()

	snap, found := h.store.GetSession(sessionID)
	if !found {
		writeError(w, r, http.StatusNotFound, "session not found", errors.CodeSessionNotFound)
		return
	}
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID != "" && snap.OwnerID != ownerID {
		writeError(w, r, http.StatusForbidden, "session belongs to another owner", errors.CodePermission)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported", errors.CodeUnknown)
		return
	}

	// Streaming connections outlive the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan session.Event, eventChannelBuffer)
	snap, subs, found := h.store.Attach(sessionID, func(event session.Event) {
		select {
		case events <- event:
		default:
			// Writer fell too far behind; the terminal event will
			// still close the session server-side eventually.
		}
	})
	if !found {
		// Evicted between the pre-check and attach.
		writeSSE(w, "error", streamFrame{SessionID: sessionID, Message: "session evicted"})
		flusher.Flush()
		return
	}
	defer h.store.Detach(subs)

	if h.metrics != nil {
		h.metrics.AddStreamClient("sse", 1)
		defer h.metrics.AddStreamClient("sse", -1)
	}
	h.logger.Info("Stream client connected", "session_id", sessionID, "owner_id", ownerID)

	writeSSE(w, "connected", streamFrame{SessionID: sessionID, Status: string(snap.Status)})
	for _, line := range snap.Logs {
		writeSSE(w, "log", streamFrame{SessionID: sessionID, Message: line})
	}
	flusher.Flush()

	// A session that was already terminal when the client connected gets
	// its closing frame straight from the snapshot.
	if snap.Status.Terminal() {
		h.writeTerminalFromSnapshot(w, snap)
		flusher.Flush()
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("Stream client disconnected", "session_id", sessionID)
			return
		case <-keepAlive.C:
			// SSE comment line; keeps proxies from idling the connection out.
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event := <-events:
			writeSSE(w, string(event.Kind), frameFor(event))
			flusher.Flush()
			if event.Kind == session.EventDone || event.Kind == session.EventError {
				return
			}
		}
	}
}

// writeTerminalFromSnapshot emits the closing frame for a session that
// finished before the client attached.
func (h *StreamHandler) writeTerminalFromSnapshot(w http.ResponseWriter, snap session.Snapshot) {
	if snap.Status == session.StatusDone {
		writeSSE(w, "done", streamFrame{
			SessionID: snap.ID,
			Status:    string(snap.Status),
			Result:    snap.Result,
		})
		return
	}
	writeSSE(w, "error", streamFrame{
		SessionID: snap.ID,
		Status:    string(snap.Status),
		Message:   snap.ErrorMessage,
	})
}

// writeSSE writes one server-sent event frame: an event line, a data line
// with the JSON payload, and the blank separator line.
func writeSSE(w http.ResponseWriter, kind string, frame streamFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload)
}
