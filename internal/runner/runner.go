// Package runner owns the scanner subprocess lifecycle for scan sessions.
// It spawns the external tool with a builder-produced argument array, pumps
// its two output streams into the session store, enforces the hard timeout,
// and finalizes the session against the persisted record once the process
// exits.
package runner

import (
	"bufio"
	"context"
	stderrors "errors"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

const (
	// resultReadBuffer is the chunk size for draining the structured
	// output stream.
	resultReadBuffer = 32 * 1024

	// maxLogLineLength guards the stderr line scanner against pathological
	// output.
	maxLogLineLength = 64 * 1024
)

// Runner spawns one scanner subprocess per session. At most one live
// subprocess exists per session; processes are never pooled or reused.
type Runner struct {
	scannerPath string
	killGrace   time.Duration
	store       *session.Store
	logger      *logging.Logger
	metrics     *metrics.Registry
}

// New creates a runner. logger and reg may be nil in tests.
func New(scannerPath string, killGrace time.Duration,
	store *session.Store, logger *logging.Logger, reg *metrics.Registry) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		scannerPath: scannerPath,
		killGrace:   killGrace,
		store:       store,
		logger:      logger.WithComponent("runner"),
		metrics:     reg,
	}
}

// Run executes the scanner for one session and blocks until the subprocess
// exits. The structured-result stream (stdout) is appended chunk-by-chunk to
// the session's result buffer; the progress stream (stderr) is split into
// trimmed non-empty lines and appended to the session log.
//
// The returned exit code is valid only when err is nil. A nonzero exit is
// not itself an error: some scans exit nonzero on partial failure while
// still emitting a usable report, so the caller inspects the parsed output
// to decide success. Errors carry a distinguishing code: SCANNER_NOT_INSTALLED
// for a missing or non-executable binary, TIMEOUT when the hard deadline
// (host timeout plus the kill grace period) expired, OUTPUT_TOO_LARGE when
// the result buffer cap was hit.
func (r *Runner) Run(ctx context.Context, sessionID string, cfg scanning.Config) (int, error) {
	args, err := scanning.BuildArgs(cfg)
	if err != nil {
		return 0, errors.WrapScanError(errors.CodeValidation, "invalid scan configuration", err)
	}

	deadline := cfg.HostTimeout + r.killGrace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// The argument array is passed verbatim to the spawn primitive. No
	// element is ever concatenated into a shell command line, so target
	// content cannot inject flags or commands.
	cmd := exec.CommandContext(runCtx, r.scannerPath, args...)
	// After the kill, stop waiting on pipes that surviving grandchildren
	// may still hold open.
	cmd.WaitDelay = r.killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, errors.WrapScanError(errors.CodeSpawnFailed, "failed to attach stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, errors.WrapScanError(errors.CodeSpawnFailed, "failed to attach stderr", err)
	}

	r.logger.Info("Spawning scanner",
		"session_id", sessionID, "scanner", r.scannerPath, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		if isNotInstalled(err) {
			return 0, errors.ErrScannerNotInstalled(err)
		}
		return 0, errors.WrapScanError(errors.CodeSpawnFailed, "failed to spawn scanner", err)
	}

	r.store.UpdateStatus(sessionID, session.StatusRunning)

	overflow := false
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, resultReadBuffer)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				if !r.store.AppendResultBuffer(sessionID, buf[:n]) {
					overflow = true
					cancel()
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLogLineLength)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			r.store.AddLog(sessionID, line)
		}
	}()

	// Both pumps must drain before Wait closes the pipes.
	wg.Wait()
	waitErr := cmd.Wait()

	if overflow {
		return 0, errors.NewScanErrorWithTarget(errors.CodeOutputTooLarge,
			"scanner output exceeded the result buffer limit", cfg.Target)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return 0, errors.ErrScanTimeout(cfg.Target, cfg.HostTimeout.String())
	}
	if ctx.Err() == context.Canceled {
		return 0, errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if stderrors.As(waitErr, &exitErr) {
			// Nonzero exit with whatever output was produced; the
			// finalizer decides based on the report.
			return exitErr.ExitCode(), nil
		}
		return 0, errors.WrapScanError(errors.CodeScanFailed, "scanner wait failed", waitErr)
	}
	return 0, nil
}

// isNotInstalled reports whether a spawn failure means the scanner binary is
// missing or not executable.
func isNotInstalled(err error) bool {
	return stderrors.Is(err, exec.ErrNotFound) ||
		stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, fs.ErrPermission)
}
