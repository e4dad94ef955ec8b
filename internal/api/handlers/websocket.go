package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Websocket timing constants.
const (
	wsWriteTimeout = 10 * time.Second
	wsCloseTimeout = time.Second
)

// wsMessage is the envelope for websocket stream messages. It mirrors the
// SSE framing: the event kind plus the same JSON payload.
type wsMessage struct {
	Event string      `json:"event"`
	Data  streamFrame `json:"data"`
}

// WebSocketHandler serves the websocket live-stream transport. It delivers
// the same event sequence as the SSE endpoint for clients that prefer a
// bidirectional socket.
type WebSocketHandler struct {
	store     *session.Store
	upgrader  websocket.Upgrader
	keepAlive time.Duration
	logger    *logging.Logger
	metrics   *metrics.Registry
}

// NewWebSocketHandler creates a websocket handler. reg may be nil.
func NewWebSocketHandler(store *session.Store, keepAlive time.Duration,
	logger *logging.Logger, reg *metrics.Registry) *WebSocketHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAliveInterval
	}
	return &WebSocketHandler{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				// Auth is the bearer token, not the origin.
				return true
			},
		},
		keepAlive: keepAlive,
		logger:    logger.WithComponent("websocket"),
		metrics:   reg,
	}
}

// Stream handles GET /scans/{id}/ws. Pre-checks happen before the upgrade so
// rejected clients get plain HTTP statuses; after the upgrade the connection
// follows the connected/replay/live/terminal sequence and closes server-side
// on the terminal event.
func (h *WebSocketHandler) Stream(w http.ResponseWriter, r *http.Request) {
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

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	events := make(chan session.Event, eventChannelBuffer)
	snap, subs, found := h.store.Attach(sessionID, func(event session.Event) {
		select {
		case events <- event:
		default:
		}
	})
	if !found {
		_ = h.send(conn, "error", streamFrame{SessionID: sessionID, Message: "session evicted"})
		return
	}
	defer h.store.Detach(subs)

	if h.metrics != nil {
		h.metrics.AddStreamClient("websocket", 1)
		defer h.metrics.AddStreamClient("websocket", -1)
	}
	h.logger.Info("Websocket client connected", "session_id", sessionID, "owner_id", ownerID)

	// Drain client frames so pings and close frames get processed; any
	// read error tears the connection down.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, "connected", streamFrame{SessionID: sessionID, Status: string(snap.Status)}); err != nil {
		return
	}
	for _, line := range snap.Logs {
		if err := h.send(conn, "log", streamFrame{SessionID: sessionID, Message: line}); err != nil {
			return
		}
	}

	if snap.Status.Terminal() {
		h.sendTerminalFromSnapshot(conn, snap)
		h.closeGracefully(conn)
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("Websocket client disconnected", "session_id", sessionID)
			return
		case <-keepAlive.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event := <-events:
			if err := h.send(conn, string(event.Kind), frameFor(event)); err != nil {
				return
			}
			if event.Kind == session.EventDone || event.Kind == session.EventError {
				h.closeGracefully(conn)
				return
			}
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, kind string, frame streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(wsMessage{Event: kind, Data: frame})
}

func (h *WebSocketHandler) sendTerminalFromSnapshot(conn *websocket.Conn, snap session.Snapshot) {
	if snap.Status == session.StatusDone {
		_ = h.send(conn, "done", streamFrame{
			SessionID: snap.ID,
			Status:    string(snap.Status),
			Result:    snap.Result,
		})
		return
	}
	_ = h.send(conn, "error", streamFrame{
		SessionID: snap.ID,
		Status:    string(snap.Status),
		Message:   snap.ErrorMessage,
	})
}

func (h *WebSocketHandler) closeGracefully(conn *websocket.Conn) {
	deadline := time.Now().Add(wsCloseTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
