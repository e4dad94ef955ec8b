// Package errors provides structured error handling for scanwatch operations.
// It defines error codes and typed errors so callers can distinguish actionable
// failures (scanner missing, timeout, parse failure) from generic ones.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Scan execution errors.
	CodeScannerNotInstalled ErrorCode = "SCANNER_NOT_INSTALLED"
	CodeSpawnFailed         ErrorCode = "SPAWN_FAILED"
	CodeScanFailed          ErrorCode = "SCAN_FAILED"
	CodeParseFailed         ErrorCode = "PARSE_FAILED"
	CodeOutputTooLarge      ErrorCode = "OUTPUT_TOO_LARGE"
	CodeTargetInvalid       ErrorCode = "TARGET_INVALID"

	// Session errors.
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionExists   ErrorCode = "SESSION_EXISTS"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeConflict           ErrorCode = "CONFLICT"
)

// ScanError represents an error that occurred while running or finalizing a scan.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// WithOperation records the repository operation that failed.
func (e *DatabaseError) WithOperation(op string) *DatabaseError {
	e.Operation = op
	return e
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsNotFound reports whether an error indicates a missing record or session.
func IsNotFound(err error) bool {
	code := GetCode(err)
	return code == CodeNotFound || code == CodeSessionNotFound
}

// ErrScannerNotInstalled creates the error surfaced when the nmap binary
// cannot be found or executed. The UI shows this verbatim so operators know
// the fix is installing the tool, not retrying the scan.
func ErrScannerNotInstalled(err error) *ScanError {
	return WrapScanError(CodeScannerNotInstalled,
		"scanner tool not installed or not executable", err)
}

// ErrScanTimeout creates an error for scans killed by the runner's deadline.
func ErrScanTimeout(target, timeout string) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout,
		fmt.Sprintf("scan exceeded the configured timeout of %s", timeout), target)
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "invalid target specification", target)
}

// ErrParseFailed creates an error for unparseable scanner output.
func ErrParseFailed(err error) *ScanError {
	return WrapScanError(CodeParseFailed, "failed to parse scanner output", err)
}
