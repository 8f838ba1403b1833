package errors

import (
	"fmt"
	"net/http"

	"spotradar/internal/domain/entity"
	"spotradar/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.details == "" {
		return e.message
	}

	return e.message + ": " + e.details
}

// Is matches on the business error code so that copies made by WithDetails
// still satisfy errors.Is against the predefined value.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}

	return t.errorCode == e.errorCode
}

// WrapMessage wraps the error with additional context message
func (e *BaseError) WrapMessage(message string) error {
	return errors.Wrap(e, message)
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
	}
}

// Predefined error types
var (
	// Condition-related errors
	ErrInvalidCondition = NewBaseError(
		http.StatusBadRequest,
		"INVALID_CONDITION",
		"查詢條件無效",
		"",
	)

	// Lifecycle-related errors
	ErrInvalidLifecycleTransition = NewBaseError(
		http.StatusConflict,
		"INVALID_LIFECYCLE_TRANSITION",
		"雷達狀態不允許此操作",
		"",
	)

	// Provider-related errors
	ErrProviderQueryFailure = NewBaseError(
		http.StatusBadGateway,
		"PROVIDER_QUERY_FAILURE",
		"地理查詢服務失敗",
		"",
	)

	ErrDecodeFailure = NewBaseError(
		http.StatusUnprocessableEntity,
		"DECODE_FAILURE",
		"地點資料格式錯誤",
		"",
	)

	// Session-related errors
	ErrSessionNotFound = NewBaseError(
		http.StatusNotFound,
		"SESSION_NOT_FOUND",
		"找不到該雷達工作階段",
		"",
	)

	ErrSessionLimitReached = NewBaseError(
		http.StatusTooManyRequests,
		"SESSION_LIMIT_REACHED",
		"已達到最大同時雷達工作階段數量",
		"",
	)

	// Validation-related errors
	ErrValidationFailed = NewBaseError(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"輸入資料驗證失敗",
		"",
	)

	// General errors
	ErrInternalError = NewBaseError(
		http.StatusInternalServerError,
		"INTERNAL_ERROR",
		"系統內部錯誤",
		"",
	)
)

// ProviderQueryFailure is reported when the geo query provider fails for a
// specific subscription handle.
type ProviderQueryFailure struct {
	Handle entity.HandleID
	err    error
}

// NewProviderQueryFailure wraps a provider error for the given handle
func NewProviderQueryFailure(handle entity.HandleID, err error) *ProviderQueryFailure {
	return &ProviderQueryFailure{
		Handle: handle,
		err:    err,
	}
}

// Error implements the error interface
func (e *ProviderQueryFailure) Error() string {
	return fmt.Sprintf("provider query failed for handle %s: %v", e.Handle, e.err)
}

// Unwrap exposes the provider cause
func (e *ProviderQueryFailure) Unwrap() error {
	return e.err
}

// Is lets errors.Is(err, ErrProviderQueryFailure) match
func (e *ProviderQueryFailure) Is(target error) bool {
	return target == ErrProviderQueryFailure
}

// HTTPCode returns the HTTP status code
func (e *ProviderQueryFailure) HTTPCode() int {
	return ErrProviderQueryFailure.HTTPCode()
}

// ErrorCode returns the business error code
func (e *ProviderQueryFailure) ErrorCode() string {
	return ErrProviderQueryFailure.ErrorCode()
}

// Message returns the user-friendly error message
func (e *ProviderQueryFailure) Message() string {
	return ErrProviderQueryFailure.Message()
}

// Details returns detailed error information
func (e *ProviderQueryFailure) Details() string {
	if e.err == nil {
		return ""
	}

	return e.err.Error()
}

// DecodeFailure describes one raw entry that could not be turned into a render entity.
type DecodeFailure struct {
	EntryID string
	err     error
}

// NewDecodeFailure creates a per-entry decode error
func NewDecodeFailure(entryID string, err error) *DecodeFailure {
	return &DecodeFailure{
		EntryID: entryID,
		err:     err,
	}
}

// Error implements the error interface
func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode entry %q: %v", e.EntryID, e.err)
}

// Unwrap exposes the decoder cause
func (e *DecodeFailure) Unwrap() error {
	return e.err
}

// Is lets errors.Is(err, ErrDecodeFailure) match
func (e *DecodeFailure) Is(target error) bool {
	return target == ErrDecodeFailure
}
