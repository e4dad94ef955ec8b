// Package session implements the in-memory registry for live scan sessions.
// It is the single owner of all session state: the process runner, the
// finalizer and the streaming handlers only ever hold a session id and call
// into the Store's mutation and read API. Every mutation and its listener
// fan-out happen under one lock, so subscribers observe events in exactly
// the order mutations were applied.
package session

import (
	"time"

	"github.com/scanwatch/scanwatch/internal/scanning"
)

// Status represents the lifecycle state of a scan session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// EventKind identifies the type of a session event.
type EventKind string

const (
	EventLog    EventKind = "log"
	EventStatus EventKind = "status"
	EventDone   EventKind = "done"
	EventError  EventKind = "error"
)

// Kinds lists all event kinds a streaming subscriber attaches to.
var Kinds = []EventKind{EventLog, EventStatus, EventDone, EventError}

// Event is the fan-out unit delivered to subscribers. Exactly the fields
// matching the kind are populated: Message for log/error, Status for status,
// Result for done.
type Event struct {
	Kind      EventKind
	SessionID string
	Status    Status
	Message   string
	Result    *scanning.Result
}

// scanSession is the store-owned session record. It is never handed out;
// reads go through Snapshot copies.
type scanSession struct {
	id        string
	target    string
	profile   string
	ownerID   string
	status    Status
	createdAt time.Time

	// logs is a ring buffer capped at the store's maxLogLines; the oldest
	// line is dropped once the cap is reached.
	logs []string

	resultBuf    []byte
	result       *scanning.Result
	errorMessage string
}

// Snapshot is a read-only copy of a session's state at a point in time.
type Snapshot struct {
	ID           string           `json:"id"`
	Target       string           `json:"target"`
	Profile      string           `json:"profile"`
	OwnerID      string           `json:"owner_id"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	Logs         []string         `json:"logs"`
	Result       *scanning.Result `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

func (s *scanSession) snapshot() Snapshot {
	logs := make([]string, len(s.logs))
	copy(logs, s.logs)
	return Snapshot{
		ID:           s.id,
		Target:       s.target,
		Profile:      s.profile,
		OwnerID:      s.ownerID,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		Logs:         logs,
		Result:       s.result,
		ErrorMessage: s.errorMessage,
	}
}
