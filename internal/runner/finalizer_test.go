package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/session"
)

const finalizerReport = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" version="7.94">
<host>
<status state="up" reason="user-set"/>
<address addr="192.168.1.10" addrtype="ipv4"/>
<ports>
<port protocol="tcp" portid="22">
<state state="open" reason="syn-ack"/>
<service name="ssh"/>
</port>
</ports>
</host>
<runstats>
<finished time="1724572815" elapsed="3.5" exit="success"/>
<hosts up="1" down="0" total="1"/>
</runstats>
</nmaprun>`

func newFinalizedSession(t *testing.T) (*session.Store, *Finalizer, uuid.UUID) {
	t.Helper()
	store := session.NewStore(session.Options{}, nil, nil)
	id := uuid.New()
	store.CreateSession(id.String(), "192.168.1.10", "quick", "alice")
	store.UpdateStatus(id.String(), session.StatusRunning)
	return store, NewFinalizer(store, nil, nil, nil), id
}

func TestFinalizeParseableOutputCompletes(t *testing.T) {
	store, finalizer, id := newFinalizedSession(t)
	store.AppendResultBuffer(id.String(), []byte(finalizerReport))

	finalizer.Finalize(context.Background(), id, testScanConfig(), nil, time.Second)

	snap, ok := store.GetSession(id.String())
	require.True(t, ok)
	assert.Equal(t, session.StatusDone, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 1, snap.Result.Stats.Up)
	assert.Equal(t, 1, snap.Result.OpenPortCount())
}

func TestFinalizeUnparseableOutputFails(t *testing.T) {
	store, finalizer, id := newFinalizedSession(t)
	store.AppendResultBuffer(id.String(), []byte("segmentation fault"))

	finalizer.Finalize(context.Background(), id, testScanConfig(), nil, time.Second)

	snap, ok := store.GetSession(id.String())
	require.True(t, ok)
	assert.Equal(t, session.StatusError, snap.Status)
	assert.Equal(t, "scan produced no usable output", snap.ErrorMessage,
		"raw output never reaches clients")
}

func TestFinalizeEmptyOutputFails(t *testing.T) {
	store, finalizer, id := newFinalizedSession(t)

	finalizer.Finalize(context.Background(), id, testScanConfig(), nil, time.Second)

	snap, ok := store.GetSession(id.String())
	require.True(t, ok)
	assert.Equal(t, session.StatusError, snap.Status)
}

func TestFinalizeRunnerErrorUsesItsMessage(t *testing.T) {
	store, finalizer, id := newFinalizedSession(t)

	runErr := errors.ErrScannerNotInstalled(nil)
	finalizer.Finalize(context.Background(), id, testScanConfig(), runErr, time.Second)

	snap, ok := store.GetSession(id.String())
	require.True(t, ok)
	assert.Equal(t, session.StatusError, snap.Status)
	assert.Equal(t, "scanner tool not installed or not executable", snap.ErrorMessage)
}

func TestFinalizeTimeoutMentionsConfiguredDuration(t *testing.T) {
	store, finalizer, id := newFinalizedSession(t)

	runErr := errors.ErrScanTimeout("192.168.1.10", "5s")
	finalizer.Finalize(context.Background(), id, testScanConfig(), runErr, 6*time.Second)

	snap, ok := store.GetSession(id.String())
	require.True(t, ok)
	assert.Equal(t, session.StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "5s")
}
