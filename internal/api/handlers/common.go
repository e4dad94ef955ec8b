// Package handlers provides HTTP request handlers for the scanwatch API.
// This file contains common utilities shared across all handlers.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/scanwatch/scanwatch/internal/api/middleware"
	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
)

// Pagination bounds.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams holds pagination parameters.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a standardized error response.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string, code errors.ErrorCode) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      string(code),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

// writeDomainError maps a typed domain error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	code := errors.GetCode(err)
	var status int
	switch code {
	case errors.CodeNotFound, errors.CodeSessionNotFound:
		status = http.StatusNotFound
	case errors.CodeConflict, errors.CodeSessionExists:
		status = http.StatusConflict
	case errors.CodeValidation, errors.CodeTargetInvalid:
		status = http.StatusBadRequest
	case errors.CodePermission:
		status = http.StatusForbidden
	case errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err,
			"method", r.Method, "path", r.URL.Path)
		writeError(w, r, status, "internal server error", code)
		return
	}
	writeError(w, r, status, err.Error(), code)
}

// extractUUIDFromPath extracts the {id} route variable as a UUID.
func extractUUIDFromPath(r *http.Request) (uuid.UUID, error) {
	idStr, ok := mux.Vars(r)["id"]
	if !ok {
		return uuid.Nil, fmt.Errorf("id not provided")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id format")
	}
	return id, nil
}

// parsePagination extracts pagination parameters from query string.
func parsePagination(r *http.Request) PaginationParams {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	pageSize := defaultPageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}
