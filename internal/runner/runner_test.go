package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

// writeFakeScanner drops an executable shell script that stands in for the
// scanner binary.
func writeFakeScanner(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-scanner")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testScanConfig() scanning.Config {
	return scanning.Config{
		Target:        "192.168.1.10",
		Profile:       scanning.ProfileQuick,
		HostTimeout:   5 * time.Second,
		StatsInterval: time.Second,
	}
}

func TestRunCapturesBothStreams(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	scanner := writeFakeScanner(t, `
echo "progress 1" >&2
echo "progress 2" >&2
echo "  " >&2
echo "progress 3" >&2
echo '<nmaprun version="7.94"></nmaprun>'
exit 0
`)
	r := New(scanner, time.Second, store, nil, nil)

	exitCode, err := r.Run(context.Background(), "s1", testScanConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)

	snap, ok := store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, session.StatusRunning, snap.Status,
		"runner marks the session running; terminal state is the finalizer's job")
	assert.Equal(t, []string{"progress 1", "progress 2", "progress 3"}, snap.Logs,
		"blank stderr lines are dropped")
	assert.Contains(t, string(store.ResultBuffer("s1")), "<nmaprun")
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	scanner := writeFakeScanner(t, `
echo '<nmaprun version="7.94"></nmaprun>'
exit 1
`)
	r := New(scanner, time.Second, store, nil, nil)

	exitCode, err := r.Run(context.Background(), "s1", testScanConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode)
}

func TestRunScannerNotInstalled(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	r := New(filepath.Join(t.TempDir(), "does-not-exist"), time.Second, store, nil, nil)

	_, err := r.Run(context.Background(), "s1", testScanConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeScannerNotInstalled))
	assert.Contains(t, err.Error(), "not installed")
}

func TestRunTimeoutKillsSubprocess(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	scanner := writeFakeScanner(t, `sleep 30`)
	r := New(scanner, 100*time.Millisecond, store, nil, nil)

	cfg := testScanConfig()
	cfg.HostTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := r.Run(context.Background(), "s1", cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout))
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 10*time.Second, "subprocess must be killed, not awaited")
}

func TestRunOutputCapFailsScan(t *testing.T) {
	store := session.NewStore(session.Options{MaxResultBytes: 64}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	scanner := writeFakeScanner(t, `
i=0
while [ $i -lt 1000 ]; do
  echo "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
  i=$((i+1))
done
`)
	r := New(scanner, time.Second, store, nil, nil)

	_, err := r.Run(context.Background(), "s1", testScanConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOutputTooLarge))
}

func TestRunCanceledContext(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	store.CreateSession("s1", "192.168.1.10", "quick", "alice")

	scanner := writeFakeScanner(t, `sleep 30`)
	r := New(scanner, time.Second, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "s1", testScanConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
}
