// Package errors categorizes failures of the sync engine and the HTTP API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUpstream represents loyalty feed failures
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryPersistence represents leaderboard store failures
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryConfiguration represents missing or invalid configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryValidation represents invalid request parameters
	CategoryValidation ErrorCategory = "validation"
	// CategoryConflict represents a sync already running elsewhere
	CategoryConflict ErrorCategory = "conflict"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Error codes
const (
	CodeUpstreamFetch  = "UPSTREAM_FETCH_ERROR"
	CodePersistence    = "PERSISTENCE_ERROR"
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeInvalidParam   = "INVALID_PARAMETER"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeInternal       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
	// Transient marks upstream faults worth another attempt
	Transient bool
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewUpstreamFetchError reports that the loyalty feed could not be read
func NewUpstreamFetchError(reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamFetch,
		Message:    fmt.Sprintf("failed to fetch loyalty data: %s", reason),
		Cause:      cause,
	}
}

// NewTransientUpstreamError reports a transport-level feed fault such as a
// dropped connection or an HTTP 429/5xx
func NewTransientUpstreamError(reason string, cause error) *CategorizedError {
	err := NewUpstreamFetchError(reason, cause)
	err.Transient = true
	return err
}

// NewPersistenceError reports a failed write or read against the store
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistence,
		Message:    fmt.Sprintf("persistence error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewConfigurationError reports a missing or invalid setting
func NewConfigurationError(key string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeConfiguration,
		Message:    fmt.Sprintf("invalid configuration %s: %s", key, reason),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParam,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewSyncInProgressError reports that another instance holds the sync lock
func NewSyncInProgressError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeSyncInProgress,
		Message:    "a sync is already in progress",
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize returns the first CategorizedError in err's chain, or wraps err
// as an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// HasCategory reports whether err is categorized as c
func HasCategory(err error, c ErrorCategory) bool {
	var catErr *CategorizedError
	return errors.As(err, &catErr) && catErr.Category == c
}

// IsUpstreamFetch reports whether err is an upstream fetch failure
func IsUpstreamFetch(err error) bool {
	return HasCategory(err, CategoryUpstream)
}

// IsPersistence reports whether err is a persistence failure
func IsPersistence(err error) bool {
	return HasCategory(err, CategoryPersistence)
}

// IsSyncInProgress reports whether err means another sync holds the lock
func IsSyncInProgress(err error) bool {
	return HasCategory(err, CategoryConflict)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a single feed request may be attempted again
func IsRetryable(err error) bool {
	var catErr *CategorizedError
	if !errors.As(err, &catErr) {
		return false
	}
	return catErr.Category == CategoryUpstream && catErr.Transient
}
