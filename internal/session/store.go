package session

import (
	"sync"
	"time"

	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/scanning"
)

// Default resource bounds. MaxResultBytes caps the raw XML accumulator so a
// misbehaving subprocess cannot grow memory without bound.
const (
	DefaultMaxLogLines    = 200
	DefaultMaxResultBytes = 16 << 20
)

// Options configures a Store.
type Options struct {
	MaxLogLines    int
	MaxResultBytes int
}

// Subscription is the handle returned by Subscribe; it is required for an
// exact Unsubscribe so repeated connects cannot leak listeners.
type Subscription struct {
	id        uint64
	sessionID string
	kind      EventKind
	fn        func(Event)
}

// Kind returns the event kind this subscription listens for.
func (s *Subscription) Kind() EventKind {
	return s.kind
}

// Store is the process-wide registry of scan sessions. One instance is
// constructed at startup and handed to every collaborator; tests construct
// their own.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*scanSession
	listeners map[string]map[EventKind][]*Subscription
	nextSubID uint64

	maxLogLines    int
	maxResultBytes int

	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewStore creates a session store. logger and reg may be nil in tests.
func NewStore(opts Options, logger *logging.Logger, reg *metrics.Registry) *Store {
	if opts.MaxLogLines <= 0 {
		opts.MaxLogLines = DefaultMaxLogLines
	}
	if opts.MaxResultBytes <= 0 {
		opts.MaxResultBytes = DefaultMaxResultBytes
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		sessions:       make(map[string]*scanSession),
		listeners:      make(map[string]map[EventKind][]*Subscription),
		maxLogLines:    opts.MaxLogLines,
		maxResultBytes: opts.MaxResultBytes,
		logger:         logger.WithComponent("session"),
		metrics:        reg,
	}
}

// CreateSession registers a new session in status "starting" and emits the
// initial status event. If the id already exists the call is a no-op that
// returns the existing session; callers guarantee uniqueness upstream.
func (s *Store) CreateSession(id, target, profile, ownerID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		s.logger.Warn("Session already exists, returning existing", "session_id", id)
		return existing.snapshot()
	}

	sess := &scanSession{
		id:        id,
		target:    target,
		profile:   profile,
		ownerID:   ownerID,
		status:    StatusStarting,
		createdAt: time.Now().UTC(),
	}
	s.sessions[id] = sess
	s.updateSessionGauge()

	s.emit(Event{Kind: EventStatus, SessionID: id, Status: StatusStarting})
	return sess.snapshot()
}

// UpdateStatus sets a session's status and emits a status event. Unknown ids
// are a no-op. A terminal session never moves back to a non-terminal status;
// such calls are logged and ignored (CompleteScan/FailScan handle the
// tolerated terminal overwrite case).
func (s *Store) UpdateStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.status.Terminal() && !status.Terminal() {
		s.logger.Warn("Refusing backward status transition",
			"session_id", id, "from", sess.status, "to", status)
		return
	}

	sess.status = status
	s.emit(Event{Kind: EventStatus, SessionID: id, Status: status})
}

// AddLog appends a log line, evicting the oldest line when the ring buffer
// is at capacity, and emits a log event carrying exactly the new line.
func (s *Store) AddLog(id, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	if len(sess.logs) >= s.maxLogLines {
		sess.logs = sess.logs[1:]
		if s.metrics != nil {
			s.metrics.IncrementLogLinesDropped()
		}
	}
	sess.logs = append(sess.logs, line)

	s.emit(Event{Kind: EventLog, SessionID: id, Message: line})
}

// AppendResultBuffer accumulates a chunk of the subprocess's structured
// output. No event is emitted; only logs are streamed live. Returns false
// once the buffer cap is exceeded so the runner can fail the scan.
func (s *Store) AppendResultBuffer(id string, chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return true
	}
	if len(sess.resultBuf)+len(chunk) > s.maxResultBytes {
		return false
	}
	sess.resultBuf = append(sess.resultBuf, chunk...)
	return true
}

// ResultBuffer returns a copy of the accumulated raw output.
func (s *Store) ResultBuffer(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	buf := make([]byte, len(sess.resultBuf))
	copy(buf, sess.resultBuf)
	return buf
}

// CompleteScan moves a session to "done" with its parsed result and emits a
// done event carrying the full result. Completing an already-terminal
// session overwrites the terminal fields and re-emits; this tolerates a
// double-invoked finalizer without masking it silently.
func (s *Store) CompleteScan(id string, result *scanning.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.status.Terminal() {
		s.logger.Warn("Completing an already-terminal session",
			"session_id", id, "previous_status", sess.status)
	}

	sess.status = StatusDone
	sess.result = result
	sess.errorMessage = ""

	s.emit(Event{Kind: EventDone, SessionID: id, Status: StatusDone, Result: result})
}

// FailScan moves a session to "error" with a message and emits an error
// event. Failing an already-terminal session overwrites and re-emits, with
// a warning, same as CompleteScan.
func (s *Store) FailScan(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.status.Terminal() {
		s.logger.Warn("Failing an already-terminal session",
			"session_id", id, "previous_status", sess.status)
	}

	sess.status = StatusError
	sess.errorMessage = message
	sess.result = nil

	s.emit(Event{Kind: EventError, SessionID: id, Status: StatusError, Message: message})
}

// GetSession returns a read-only snapshot of a session.
func (s *Store) GetSession(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// SessionsForOwner returns snapshots of every session owned by ownerID.
func (s *Store) SessionsForOwner(ownerID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Snapshot
	for _, sess := range s.sessions {
		if sess.ownerID == ownerID {
			out = append(out, sess.snapshot())
		}
	}
	return out
}

// Count returns the number of resident sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RemoveSession deletes a session and its listener lists. Streaming handlers
// have already closed on the terminal event by the time the reaper calls
// this; dropping any stragglers here prevents a slow leak.
func (s *Store) RemoveSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	delete(s.listeners, id)
	s.updateSessionGauge()
}

// Subscribe registers a callback for one event kind on one session and
// returns the handle needed to unsubscribe. Callbacks run synchronously
// under the store lock, in subscription order, so they must not block and
// must not call back into the store.
func (s *Store) Subscribe(id string, kind EventKind, fn func(Event)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked(id, kind, fn)
}

func (s *Store) subscribeLocked(id string, kind EventKind, fn func(Event)) *Subscription {
	s.nextSubID++
	sub := &Subscription{id: s.nextSubID, sessionID: id, kind: kind, fn: fn}

	byKind, ok := s.listeners[id]
	if !ok {
		byKind = make(map[EventKind][]*Subscription)
		s.listeners[id] = byKind
	}
	byKind[kind] = append(byKind[kind], sub)
	return sub
}

// Unsubscribe removes a subscription. Unknown handles are a no-op.
func (s *Store) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.listeners[sub.sessionID]
	if !ok {
		return
	}
	subs := byKind[sub.kind]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			byKind[sub.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Attach atomically snapshots a session and subscribes fn to all event
// kinds. Because both happen under one lock acquisition, a subscriber that
// replays the snapshot's logs and then consumes live events sees every line
// exactly once, in order, with no gap between replay and live delivery.
func (s *Store) Attach(id string, fn func(Event)) (Snapshot, []*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, nil, false
	}

	subs := make([]*Subscription, 0, len(Kinds))
	for _, kind := range Kinds {
		subs = append(subs, s.subscribeLocked(id, kind, fn))
	}
	return sess.snapshot(), subs, true
}

// Detach unsubscribes every handle returned by Attach.
func (s *Store) Detach(subs []*Subscription) {
	for _, sub := range subs {
		s.Unsubscribe(sub)
	}
}

// emit delivers an event to every listener registered for its kind, in
// subscription order. Callers hold s.mu, which makes the mutation and its
// notification atomic with respect to all other store operations.
func (s *Store) emit(event Event) {
	if s.metrics != nil {
		s.metrics.IncrementEventsEmitted(string(event.Kind))
	}
	byKind, ok := s.listeners[event.SessionID]
	if !ok {
		return
	}
	for _, sub := range byKind[event.Kind] {
		sub.fn(event)
	}
}

// evictExpired removes terminal sessions created before the cutoff and
// returns how many were evicted. Non-terminal sessions never age out.
func (s *Store) evictExpired(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.status.Terminal() && sess.createdAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.listeners, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.updateSessionGauge()
	}
	return evicted
}

func (s *Store) updateSessionGauge() {
	if s.metrics != nil {
		s.metrics.SetActiveSessions(len(s.sessions))
	}
}
