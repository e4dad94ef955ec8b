package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanwatch/scanwatch/internal/config"
	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Service ties session creation, the subprocess runner, and the finalizer
// into the one operation the API exposes: start a scan. Each accepted scan
// gets a fresh session id, a durable record, and a detached goroutine that
// owns the subprocess until finalization.
type Service struct {
	scanCfg   config.ScanningConfig
	store     *session.Store
	runner    *Runner
	finalizer *Finalizer
	repo      *db.ScanRecordRepository
	resolver  scanning.Resolver
	logger    *logging.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates the scan orchestration service. repo may be nil in
// tests; resolver may be nil to use the system resolver.
func NewService(scanCfg config.ScanningConfig, store *session.Store,
	runner *Runner, finalizer *Finalizer, repo *db.ScanRecordRepository,
	resolver scanning.Resolver, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		scanCfg:   scanCfg,
		store:     store,
		runner:    runner,
		finalizer: finalizer,
		repo:      repo,
		resolver:  resolver,
		logger:    logger.WithComponent("scan_service"),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// StartScan validates the request, creates the durable record and the live
// session, and launches the scan goroutine. It returns the session id as
// soon as the scan is accepted; progress and outcome arrive through the
// session's event stream. An empty profile falls back to the configured
// default.
func (s *Service) StartScan(ctx context.Context, ownerID, target string,
	profile scanning.Profile) (string, error) {
	if profile == "" {
		profile = scanning.Profile(s.scanCfg.DefaultProfile)
	}
	if !profile.Valid() {
		return "", errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("unknown scan profile: %s", profile))
	}
	if err := scanning.ValidateTarget(target, s.resolver); err != nil {
		invalid := errors.ErrInvalidTarget(target)
		invalid.Cause = err
		return "", invalid
	}

	id := uuid.New()
	if s.repo != nil {
		record := &db.ScanRecord{
			ID:      id,
			OwnerID: ownerID,
			Target:  target,
			Profile: string(profile),
			Status:  db.ScanStatusStarting,
		}
		if err := s.repo.Create(ctx, record); err != nil {
			return "", err
		}
	}

	s.store.CreateSession(id.String(), target, string(profile), ownerID)

	scanConfig := scanning.Config{
		Target:        target,
		Profile:       profile,
		HostTimeout:   s.scanCfg.ScanTimeout,
		StatsInterval: s.scanCfg.StatsInterval,
	}

	s.logger.InfoScan("Scan accepted", target,
		"session_id", id.String(), "profile", profile, "owner_id", ownerID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(id, scanConfig)
	}()

	return id.String(), nil
}

// execute runs one scan end to end on the service's base context, so an
// in-flight scan outlives the HTTP request that started it and dies only on
// daemon shutdown.
func (s *Service) execute(id uuid.UUID, cfg scanning.Config) {
	ctx := s.baseCtx

	if s.repo != nil {
		if err := s.repo.UpdateStatus(ctx, id, db.ScanStatusRunning); err != nil {
			s.logger.ErrorDatabase("Failed to mark scan record running", err,
				"session_id", id.String())
		}
	}

	start := time.Now()
	_, runErr := s.runner.Run(ctx, id.String(), cfg)
	s.finalizer.Finalize(ctx, id, cfg, runErr, time.Since(start))
}

// Stop cancels all in-flight scans and waits for their finalizers, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
