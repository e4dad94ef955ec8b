package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/config"
	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/runner"
	"github.com/scanwatch/scanwatch/internal/session"
)

func newScanRouter(t *testing.T, ownerID string, repo *db.ScanRecordRepository,
	store *session.Store) *mux.Router {
	t.Helper()
	if store == nil {
		store = session.NewStore(session.Options{}, nil, nil)
	}

	scanCfg := config.ScanningConfig{
		ScannerPath:     "/nonexistent/scanner",
		DefaultProfile:  "standard",
		ScanTimeout:     time.Second,
		KillGracePeriod: time.Second,
		StatsInterval:   time.Second,
	}
	logger := logging.NewDefault()
	scanRunner := runner.New(scanCfg.ScannerPath, scanCfg.KillGracePeriod, store, logger, nil)
	finalizer := runner.NewFinalizer(store, repo, logger, nil)
	service := runner.NewService(scanCfg, store, scanRunner, finalizer, repo, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Stop(ctx)
	})

	handler := NewScanHandler(service, repo, store, logger)
	router := mux.NewRouter()
	router.Use(withOwner(ownerID))
	router.HandleFunc("/scans", handler.CreateScan).Methods("POST")
	router.HandleFunc("/scans", handler.ListScans).Methods("GET")
	router.HandleFunc("/scans/{id}", handler.GetScan).Methods("GET")
	router.HandleFunc("/scans/{id}", handler.DeleteScan).Methods("DELETE")
	return router
}

func newMockRepo(t *testing.T) (*db.ScanRecordRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return db.NewScanRecordRepository(&db.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}), mock
}

func TestCreateScanAccepted(t *testing.T) {
	store := session.NewStore(session.Options{}, nil, nil)
	router := newScanRouter(t, "alice", nil, store)

	body := strings.NewReader(`{"target": "192.168.1.10", "profile": "quick"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/scans", body))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "session_id")
	assert.Contains(t, rec.Body.String(), "/stream")
	assert.Equal(t, 1, store.Count(), "session registered before the response")
}

func TestCreateScanRejectsFlagInjection(t *testing.T) {
	router := newScanRouter(t, "alice", nil, nil)

	body := strings.NewReader(`{"target": "-oN /tmp/pwn"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/scans", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScanRejectsUnknownProfile(t *testing.T) {
	router := newScanRouter(t, "alice", nil, nil)

	body := strings.NewReader(`{"target": "192.168.1.10", "profile": "stealth"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/scans", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScanRejectsMalformedBody(t *testing.T) {
	router := newScanRouter(t, "alice", nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/scans", strings.NewReader("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScanForeignOwnerIs403(t *testing.T) {
	repo, mock := newMockRepo(t)
	router := newScanRouter(t, "alice", repo, nil)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "target", "profile", "status",
		"summary", "hosts", "error_message", "created_at", "started_at", "completed_at",
	}).AddRow(id, "bob", "10.0.0.1", "quick", db.ScanStatusDone,
		nil, nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(`SELECT \* FROM scans`).WillReturnRows(rows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/"+id.String(), nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetScanMissingIs404(t *testing.T) {
	repo, mock := newMockRepo(t)
	router := newScanRouter(t, "alice", repo, nil)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM scans`).WillReturnError(sql.ErrNoRows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/scans/"+id.String(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteScanRemovesRecordAndTerminalSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	store := session.NewStore(session.Options{}, nil, nil)
	router := newScanRouter(t, "alice", repo, store)
	id := uuid.New()

	store.CreateSession(id.String(), "10.0.0.1", "quick", "alice")
	store.FailScan(id.String(), "boom")

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "target", "profile", "status",
		"summary", "hosts", "error_message", "created_at", "started_at", "completed_at",
	}).AddRow(id, "alice", "10.0.0.1", "quick", db.ScanStatusError,
		nil, nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(`SELECT \* FROM scans`).WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM scans`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/scans/"+id.String(), nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, store.Count(), "terminal session removed with its record")
}
