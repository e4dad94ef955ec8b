package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/db"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/runner"
	"github.com/scanwatch/scanwatch/internal/scanning"
	"github.com/scanwatch/scanwatch/internal/session"
)

const maxRequestBodyBytes = 64 * 1024

// CreateScanRequest is the request body for POST /scans.
type CreateScanRequest struct {
	Target  string `json:"target" validate:"required,max=253"`
	Profile string `json:"profile" validate:"omitempty,oneof=quick standard deep"`
}

// CreateScanResponse is returned when a scan is accepted.
type CreateScanResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// ScanHandler serves the scan record endpoints and scan creation.
type ScanHandler struct {
	service  *runner.Service
	repo     *db.ScanRecordRepository
	store    *session.Store
	logger   *logging.Logger
	validate *validator.Validate
}

// NewScanHandler creates a scan handler.
func NewScanHandler(service *runner.Service, repo *db.ScanRecordRepository,
	store *session.Store, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		service:  service,
		repo:     repo,
		store:    store,
		logger:   logger.WithComponent("scan_handler"),
		validate: validator.New(),
	}
}

// CreateScan handles POST /scans. The scan is accepted, not awaited: the
// response carries the session id and the stream URL where progress arrives.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", errors.CodeValidation)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), errors.CodeValidation)
		return
	}

	ownerID := middleware.OwnerIDFromContext(r.Context())
	sessionID, err := h.service.StartScan(r.Context(), ownerID, req.Target,
		scanning.Profile(req.Profile))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateScanResponse{
		SessionID: sessionID,
		Status:    string(session.StatusStarting),
		StreamURL: fmt.Sprintf("/api/v1/scans/%s/stream", sessionID),
	})
}

// ListScans handles GET /scans with pagination, scoped to the caller.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	params := parsePagination(r)

	records, err := h.repo.ListByOwner(r.Context(), ownerID, params.Offset, params.PageSize)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	total, err := h.repo.CountByOwner(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	response := PaginatedResponse{Data: records}
	response.Pagination.Page = params.Page
	response.Pagination.PageSize = params.PageSize
	response.Pagination.TotalItems = total
	response.Pagination.TotalPages = int((total + int64(params.PageSize) - 1) / int64(params.PageSize))
	writeJSON(w, http.StatusOK, response)
}

// GetScan handles GET /scans/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadOwnedRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// DeleteScan handles DELETE /scans/{id}. The durable record goes away
// immediately; a still-resident terminal session is removed with it, while a
// live session is left for the scan to finish and the reaper to collect.
func (h *ScanHandler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadOwnedRecord(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), record.ID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if snap, found := h.store.GetSession(record.ID.String()); found && snap.Status.Terminal() {
		h.store.RemoveSession(record.ID.String())
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedRecord resolves {id}, fetches the record, and enforces ownership.
// A record owned by someone else yields 403, matching the stream endpoint.
func (h *ScanHandler) loadOwnedRecord(w http.ResponseWriter, r *http.Request) (*db.ScanRecord, bool) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), errors.CodeValidation)
		return nil, false
	}

	record, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return nil, false
	}

	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID != "" && record.OwnerID != ownerID {
		writeError(w, r, http.StatusForbidden, "scan belongs to another owner", errors.CodePermission)
		return nil, false
	}
	return record, true
}
