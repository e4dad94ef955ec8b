package runner

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Finalizer settles a finished scan: it parses the accumulated output,
// persists the outcome to the scan record, and moves the in-memory session
// to its terminal state so streaming clients get their closing event.
type Finalizer struct {
	store   *session.Store
	repo    *db.ScanRecordRepository
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewFinalizer creates a finalizer. repo, logger, and reg may be nil in tests;
// with a nil repo the outcome is kept in memory only.
func NewFinalizer(store *session.Store, repo *db.ScanRecordRepository,
	logger *logging.Logger, reg *metrics.Registry) *Finalizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Finalizer{
		store:   store,
		repo:    repo,
		logger:  logger.WithComponent("finalizer"),
		metrics: reg,
	}
}

// Finalize is called exactly once per scan, after the runner returns. A nil
// runErr means the subprocess exited (possibly nonzero) and the buffered
// output decides the outcome: a parseable report completes the session, an
// unparseable one fails it. The raw output is never forwarded to clients;
// on parse failure it is summarized into the server log and clients get a
// stable message.
func (f *Finalizer) Finalize(ctx context.Context, id uuid.UUID,
	cfg scanning.Config, runErr error, elapsed time.Duration) {
	sessionID := id.String()
	profile := string(cfg.Profile)

	if f.metrics != nil {
		f.metrics.RecordScanDuration(profile, elapsed)
	}

	if runErr != nil {
		f.logger.ErrorScan("Scan failed", cfg.Target, runErr, "session_id", sessionID)
		f.fail(ctx, id, profile, failureMessage(runErr), runErr)
		return
	}

	raw := f.store.ResultBuffer(sessionID)
	result, err := scanning.Parse(raw)
	if err != nil {
		f.logger.ErrorScan("Scan output unparseable", cfg.Target, err,
			"session_id", sessionID, "output_bytes", len(raw))
		f.fail(ctx, id, profile, "scan produced no usable output", errors.ErrParseFailed(err))
		return
	}

	summary, hosts, err := encodeOutcome(result)
	if err != nil {
		f.logger.ErrorScan("Failed to encode scan result", cfg.Target, err,
			"session_id", sessionID)
		f.fail(ctx, id, profile, "failed to encode scan result", err)
		return
	}

	if f.repo != nil {
		if err := f.repo.Complete(ctx, id, summary, hosts); err != nil {
			// The in-memory session still completes so connected clients
			// get their result; the durable record stays behind.
			f.logger.ErrorDatabase("Failed to persist scan result", err,
				"session_id", sessionID)
		}
	}

	f.store.CompleteScan(sessionID, result)
	if f.metrics != nil {
		f.metrics.IncrementScansTotal(profile, db.ScanStatusDone)
	}
	f.logger.InfoScan("Scan completed", cfg.Target,
		"session_id", sessionID,
		"hosts_up", result.Stats.Up,
		"open_ports", result.OpenPortCount(),
		"elapsed", elapsed)
}

func (f *Finalizer) fail(ctx context.Context, id uuid.UUID, profile, message string, cause error) {
	sessionID := id.String()

	if f.metrics != nil {
		f.metrics.IncrementScansTotal(profile, db.ScanStatusError)
		f.metrics.IncrementScanErrors(string(errors.GetCode(cause)))
	}
	if f.repo != nil {
		if err := f.repo.Fail(ctx, id, message); err != nil {
			f.logger.ErrorDatabase("Failed to persist scan failure", err,
				"session_id", sessionID)
		}
	}
	f.store.FailScan(sessionID, message)
}

// failureMessage extracts the client-facing message from a runner error. Scan
// errors carry a message written for operators (scanner missing, timeout with
// the configured duration); anything else is rendered as-is.
func failureMessage(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Message
	}
	return err.Error()
}

// encodeOutcome renders the parsed result into the two JSONB columns of the
// scan record.
func encodeOutcome(result *scanning.Result) (db.JSONB, db.JSONB, error) {
	summary := db.ScanSummary{
		HostsUp:     result.Stats.Up,
		HostsDown:   result.Stats.Down,
		HostsTotal:  result.Stats.Total,
		OpenPorts:   result.OpenPortCount(),
		DurationSec: result.Elapsed,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, err
	}
	hostsJSON, err := json.Marshal(result.Hosts)
	if err != nil {
		return nil, nil, err
	}
	return db.JSONB(summaryJSON), db.JSONB(hostsJSON), nil
}
