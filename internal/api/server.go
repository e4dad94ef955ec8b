// Package api provides the HTTP server for scanwatch: scan creation and
// record endpoints, the live session registry, and the SSE and websocket
// streaming transports.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/scanwatch/scanwatch/internal/api/handlers"
	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/auth"
	"github.com/scanwatch/scanwatch/internal/config"
	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
	"github.com/scanwatch/scanwatch/internal/runner"
	"github.com/scanwatch/scanwatch/internal/session"
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	handlers   *handlers.Manager
	logger     *logging.Logger
}

// New creates an API server over the assembled collaborators. database and
// repo may be nil when the daemon runs without persistence.
func New(cfg *config.Config, service *runner.Service, store *session.Store,
	database *db.DB, repo *db.ScanRecordRepository,
	logger *logging.Logger, reg *metrics.Registry) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	apiLogger := logger.WithComponent("api")

	server := &Server{
		router: mux.NewRouter(),
		config: cfg,
		handlers: handlers.New(service, store, database, repo,
			cfg.Sessions.KeepAliveInterval, logger, reg),
		logger: apiLogger,
	}

	server.setupMiddleware(reg)
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:      server.router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return server
}

// setupMiddleware configures the middleware chain. Order matters: request
// ids first so every later log line carries one, recovery before anything
// that can panic, auth last so rejections are logged and counted.
func (s *Server) setupMiddleware(reg *metrics.Registry) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger, reg))

	if s.config.API.EnableCORS {
		corsOptions := gorillahandlers.AllowedOrigins(s.config.API.CORSOrigins)
		corsHeaders := gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization"})
		corsMethods := gorillahandlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"})
		s.router.Use(gorillahandlers.CORS(corsOptions, corsHeaders, corsMethods))
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Unauthenticated operational endpoints.
	s.router.HandleFunc("/api/v1/liveness", s.handlers.Liveness).Methods("GET")
	s.router.HandleFunc("/api/v1/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/api/v1/version", s.handlers.Version).Methods("GET")
	s.router.Handle("/metrics", s.handlers.Metrics()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.config.API.AuthEnabled {
		api.Use(middleware.Auth(s.authenticator(), s.logger))
	}

	api.HandleFunc("/scans", s.handlers.CreateScan).Methods("POST")
	api.HandleFunc("/scans", s.handlers.ListScans).Methods("GET")
	api.HandleFunc("/scans/{id}", s.handlers.GetScan).Methods("GET")
	api.HandleFunc("/scans/{id}", s.handlers.DeleteScan).Methods("DELETE")
	api.HandleFunc("/scans/{id}/stream", s.handlers.StreamScan).Methods("GET")
	api.HandleFunc("/scans/{id}/ws", s.handlers.StreamScanWS).Methods("GET")
	api.HandleFunc("/sessions", s.handlers.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handlers.GetSession).Methods("GET")
}

// authenticator builds the credential set from config.
func (s *Server) authenticator() *auth.Authenticator {
	credentials := make([]auth.Credential, 0, len(s.config.API.APIKeys))
	for _, ref := range s.config.API.APIKeys {
		credentials = append(credentials, auth.Credential{
			Key:     ref.Key,
			OwnerID: ref.OwnerID,
		})
	}
	return auth.NewAuthenticator(credentials)
}

// Start runs the server until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"auth_enabled", s.config.API.AuthEnabled)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	timeout := s.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

// Router returns the configured router, used by tests to drive the full
// middleware and handler chain without a listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the server listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}
