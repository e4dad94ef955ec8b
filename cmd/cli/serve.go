package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanwatch/scanwatch/internal/api"
	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/runner"
	"github.com/scanwatch/scanwatch/internal/session"
)

const (
	databaseConnectTimeout = 10 * time.Second
	scanDrainTimeout       = 30 * time.Second
)

var serveWithoutDB bool

// serveCmd runs the daemon in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanwatch daemon",
	Long: `Run the scanwatch daemon: the HTTP API, the session registry and
reaper, and the scan subprocess runner. The process runs in the foreground
until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithoutDB, "without-db", false,
		"run without persistence; finished scans live only until reaped")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		database *db.DB
		repo     *db.ScanRecordRepository
	)
	if !serveWithoutDB {
		connectCtx, cancel := context.WithTimeout(ctx, databaseConnectTimeout)
		database, err = db.Connect(connectCtx, &cfg.Database)
		cancel()
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		repo = db.NewScanRecordRepository(database)
	}

	reg := metrics.NewRegistry()

	store := session.NewStore(session.Options{
		MaxLogLines: cfg.Sessions.MaxLogLines,
	}, logger, reg)

	reaper := session.NewReaper(store, cfg.Sessions.RetentionWindow,
		cfg.Sessions.SweepInterval, logger, reg)
	if err := reaper.Start(); err != nil {
		return fmt.Errorf("failed to start session reaper: %w", err)
	}
	defer reaper.Stop()

	scanRunner := runner.New(cfg.Scanning.ScannerPath, cfg.Scanning.KillGracePeriod,
		store, logger, reg)
	finalizer := runner.NewFinalizer(store, repo, logger, reg)
	service := runner.NewService(cfg.Scanning, store, scanRunner, finalizer,
		repo, nil, logger)

	server := api.New(cfg, service, store, database, repo, logger, reg)

	logger.Info("Scanwatch daemon starting",
		"version", getVersion(),
		"address", server.Address(),
		"scanner", cfg.Scanning.ScannerPath,
		"persistence", !serveWithoutDB)

	err = server.Start(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), scanDrainTimeout)
	defer cancel()
	if stopErr := service.Stop(drainCtx); stopErr != nil {
		logger.Warn("Scans did not drain before shutdown deadline", "error", stopErr)
	}

	return err
}
