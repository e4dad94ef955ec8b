package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
)

// Reaper periodically evicts terminal sessions older than the retention
// window to bound registry memory. A plain sweep is enough here; session
// volume is bounded by concurrent human operators.
type Reaper struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	cron      *cron.Cron
	logger    *logging.Logger
	metrics   *metrics.Registry
}

// NewReaper creates a reaper for the given store. logger and reg may be nil
// in tests.
func NewReaper(store *Store, retention, interval time.Duration,
	logger *logging.Logger, reg *metrics.Registry) *Reaper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reaper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.WithComponent("reaper"),
		metrics:   reg,
	}
}

// Start schedules the sweep on the configured interval.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, r.Sweep); err != nil {
		return fmt.Errorf("failed to schedule reaper sweep: %w", err)
	}
	r.cron.Start()
	r.logger.Info("Session reaper started",
		"interval", r.interval, "retention", r.retention)
	return nil
}

// Stop halts the sweep schedule. A sweep already in flight finishes.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep evicts every terminal session older than the retention window.
// Exported so tests and operators can trigger a sweep directly.
func (r *Reaper) Sweep() {
	cutoff := time.Now().UTC().Add(-r.retention)
	evicted := r.store.evictExpired(cutoff)
	if evicted > 0 {
		r.logger.Info("Evicted expired sessions", "count", evicted)
		if r.metrics != nil {
			r.metrics.IncrementSessionsReaped(evicted)
		}
	}
}
