package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/scanning"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	return NewStore(opts, nil, nil)
}

func TestCreateSession(t *testing.T) {
	store := newTestStore(t, Options{})

	snap := store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, "10.0.0.1", snap.Target)
	assert.Equal(t, "quick", snap.Profile)
	assert.Equal(t, "alice", snap.OwnerID)
	assert.Equal(t, StatusStarting, snap.Status)
	assert.Empty(t, snap.Logs)
	assert.Equal(t, 1, store.Count())
}

func TestCreateSessionDuplicateIsNoOp(t *testing.T) {
	store := newTestStore(t, Options{})

	store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	store.UpdateStatus("s1", StatusRunning)

	snap := store.CreateSession("s1", "10.0.0.2", "deep", "bob")
	assert.Equal(t, "10.0.0.1", snap.Target, "existing session must not be replaced")
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 1, store.Count())
}

func TestLogRingBuffer(t *testing.T) {
	store := newTestStore(t, Options{MaxLogLines: 200})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	for i := 1; i <= 250; i++ {
		store.AddLog("s1", fmt.Sprintf("line %d", i))
	}

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	require.Len(t, snap.Logs, 200)
	assert.Equal(t, "line 51", snap.Logs[0])
	assert.Equal(t, "line 250", snap.Logs[199])
}

func TestUpdateStatusRefusesBackwardTransition(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	store.CompleteScan("s1", &scanning.Result{})
	store.UpdateStatus("s1", StatusRunning)

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, StatusDone, snap.Status, "terminal session must not move back to running")
}

func TestUpdateStatusUnknownSessionIsNoOp(t *testing.T) {
	store := newTestStore(t, Options{})
	store.UpdateStatus("missing", StatusRunning)
	assert.Equal(t, 0, store.Count())
}

func TestCompleteScanSetsResult(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	store.UpdateStatus("s1", StatusRunning)

	result := &scanning.Result{Stats: scanning.HostStats{Up: 1, Total: 1}}
	store.CompleteScan("s1", result)

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, StatusDone, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 1, snap.Result.Stats.Up)
	assert.Empty(t, snap.ErrorMessage)
}

func TestFailScanSetsMessage(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	store.FailScan("s1", "scanner tool not installed or not executable")

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "scanner tool not installed or not executable", snap.ErrorMessage)
	assert.Nil(t, snap.Result)
}

func TestTerminalOverwriteIsTolerated(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	store.CompleteScan("s1", &scanning.Result{})
	store.FailScan("s1", "late failure")

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "late failure", snap.ErrorMessage)
}

func TestAppendResultBufferCap(t *testing.T) {
	store := newTestStore(t, Options{MaxResultBytes: 10})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	assert.True(t, store.AppendResultBuffer("s1", []byte("12345")))
	assert.True(t, store.AppendResultBuffer("s1", []byte("12345")))
	assert.False(t, store.AppendResultBuffer("s1", []byte("x")), "chunk past the cap must be refused")

	assert.Equal(t, []byte("1234512345"), store.ResultBuffer("s1"))
}

func TestSubscribersSeeIdenticalSequences(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	var first, second []Event
	record := func(dst *[]Event) func(Event) {
		return func(e Event) { *dst = append(*dst, e) }
	}
	_, subsA, ok := store.Attach("s1", record(&first))
	require.True(t, ok)
	_, subsB, ok := store.Attach("s1", record(&second))
	require.True(t, ok)
	defer store.Detach(subsA)
	defer store.Detach(subsB)

	store.UpdateStatus("s1", StatusRunning)
	store.AddLog("s1", "one")
	store.AddLog("s1", "two")
	store.CompleteScan("s1", &scanning.Result{})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Kind, second[i].Kind)
		assert.Equal(t, first[i].Message, second[i].Message)
		assert.Equal(t, first[i].Status, second[i].Status)
	}
	require.Len(t, first, 4)
	assert.Equal(t, EventStatus, first[0].Kind)
	assert.Equal(t, EventLog, first[1].Kind)
	assert.Equal(t, EventLog, first[2].Kind)
	assert.Equal(t, EventDone, first[3].Kind)
}

func TestAttachReplayHasNoGap(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	store.AddLog("s1", "before-1")
	store.AddLog("s1", "before-2")

	var live []string
	snap, subs, ok := store.Attach("s1", func(e Event) {
		if e.Kind == EventLog {
			live = append(live, e.Message)
		}
	})
	require.True(t, ok)
	defer store.Detach(subs)

	store.AddLog("s1", "after-1")

	// Replay from the snapshot plus live events covers every line exactly
	// once, in order.
	var seen []string
	seen = append(seen, snap.Logs...)
	seen = append(seen, live...)
	assert.Equal(t, []string{"before-1", "before-2", "after-1"}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	count := 0
	sub := store.Subscribe("s1", EventLog, func(Event) { count++ })

	store.AddLog("s1", "one")
	store.Unsubscribe(sub)
	store.AddLog("s1", "two")

	assert.Equal(t, 1, count)
}

func TestSessionsForOwner(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	store.CreateSession("s2", "10.0.0.2", "quick", "bob")
	store.CreateSession("s3", "10.0.0.3", "deep", "alice")

	snaps := store.SessionsForOwner("alice")
	assert.Len(t, snaps, 2)
	assert.Empty(t, store.SessionsForOwner("carol"))
}

func TestRemoveSessionDropsListeners(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("s1", "10.0.0.1", "quick", "alice")

	count := 0
	store.Subscribe("s1", EventLog, func(Event) { count++ })
	store.RemoveSession("s1")

	store.CreateSession("s1", "10.0.0.1", "quick", "alice")
	store.AddLog("s1", "one")
	assert.Equal(t, 0, count, "listeners must not survive session removal")
}

func TestEvictExpired(t *testing.T) {
	store := newTestStore(t, Options{})
	store.CreateSession("old-done", "10.0.0.1", "quick", "alice")
	store.CompleteScan("old-done", &scanning.Result{})
	store.CreateSession("old-live", "10.0.0.2", "quick", "alice")
	store.UpdateStatus("old-live", StatusRunning)

	// Both sessions were just created; a cutoff in the future makes them
	// "old", but only the terminal one may go.
	evicted := store.evictExpired(time.Now().UTC().Add(time.Minute))
	assert.Equal(t, 1, evicted)

	_, ok := store.GetSession("old-done")
	assert.False(t, ok)
	_, ok = store.GetSession("old-live")
	assert.True(t, ok, "non-terminal sessions never age out")
}
