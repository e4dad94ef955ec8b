package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

// withOwner injects the authenticated owner the way the auth middleware does.
func withOwner(ownerID string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.OwnerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newStreamRouter(store *session.Store, ownerID string) *mux.Router {
	handler := NewStreamHandler(store, time.Minute, logging.NewDefault(), nil)
	router := mux.NewRouter()
	router.Use(withOwner(ownerID))
	router.HandleFunc("/scans/{id}/stream", handler.Stream).Methods("GET")
	return router
}

const streamSessionID = "0d1f9c75-0f3a-4b44-bb1e-0f6e8f1a2b3c"

func TestStreamUnknownSessionIs404(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	router := newStreamRouter(store, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/"+streamSessionID+"/stream", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"),
		"pre-check failures are plain JSON, not event streams")
}

func TestStreamForeignSessionIs403(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession(streamSessionID, "10.0.0.1", "quick", "bob")
	router := newStreamRouter(store, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/"+streamSessionID+"/stream", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "event:", "no stream frame before the rejection")
}

func TestStreamMalformedIDIs400(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	router := newStreamRouter(store, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/not-a-uuid/stream", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamTerminalSessionReplaysAndCloses(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession(streamSessionID, "10.0.0.1", "quick", "alice")
	store.AddLog(streamSessionID, "line one")
	store.AddLog(streamSessionID, "line two")
	store.CompleteScan(streamSessionID, &scanning.Result{
		Stats: scanning.HostStats{Up: 1, Total: 1},
	})
	router := newStreamRouter(store, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/"+streamSessionID+"/stream", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "connected", events[0].kind)
	assert.Equal(t, "log", events[1].kind)
	assert.Equal(t, "line one", events[1].frame.Message)
	assert.Equal(t, "log", events[2].kind)
	assert.Equal(t, "line two", events[2].frame.Message)
	assert.Equal(t, "done", events[3].kind)
	require.NotNil(t, events[3].frame.Result)
	assert.Equal(t, 1, events[3].frame.Result.Stats.Up)
}

func TestStreamLiveEvents(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession(streamSessionID, "10.0.0.1", "quick", "alice")
	store.AddLog(streamSessionID, "buffered")
	router := newStreamRouter(store, "alice")

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/scans/" + streamSessionID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, streamFrame) {
		t.Helper()
		var kind string
		var frame streamFrame
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal(
					[]byte(strings.TrimPrefix(line, "data: ")), &frame))
			case line == "" && kind != "":
				return kind, frame
			}
		}
	}

	kind, frame := readEvent()
	assert.Equal(t, "connected", kind)
	assert.Equal(t, "starting", frame.Status)

	kind, frame = readEvent()
	assert.Equal(t, "log", kind)
	assert.Equal(t, "buffered", frame.Message, "log text travels under the message key")

	// Live events after the replay.
	store.UpdateStatus(streamSessionID, session.StatusRunning)
	kind, frame = readEvent()
	assert.Equal(t, "status", kind)
	assert.Equal(t, "running", frame.Status)

	store.AddLog(streamSessionID, "live line")
	kind, frame = readEvent()
	assert.Equal(t, "log", kind)
	assert.Equal(t, "live line", frame.Message)

	store.FailScan(streamSessionID, "scanner tool not installed or not executable")
	kind, frame = readEvent()
	assert.Equal(t, "error", kind)
	assert.Equal(t, "scanner tool not installed or not executable", frame.Message)

	// Server closes right after the terminal frame.
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}

type sseEvent struct {
	kind  string
	frame streamFrame
}

// parseSSE splits a recorded SSE body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			current.kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal(
				[]byte(strings.TrimPrefix(line, "data: ")), &current.frame))
		case line == "" && current.kind != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}
