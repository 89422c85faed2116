package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the ledger taxonomy.
var (
	ErrValidation            = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidAmount         = New("INVALID_AMOUNT", http.StatusBadRequest, "xp amount must be a positive integer")
	ErrNotFound              = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrAlreadyDecided        = New("ALREADY_DECIDED", http.StatusOK, "request already decided")
	ErrPermissionDenied      = New("PERMISSION_DENIED", http.StatusForbidden, "permission denied")
	ErrUnauthorized          = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrStoreConflict         = New("STORE_CONFLICT", http.StatusConflict, "concurrent update detected, retry the operation")
	ErrStoreUnavailable      = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "ledger store unavailable")
	ErrInternalInconsistency = New("INTERNAL_INCONSISTENCY", http.StatusInternalServerError, "ledger invariant violated")
	ErrInternal              = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss             = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// From wraps a cause using the code and status of a template error.
func From(template *Error, err error, message string) *Error {
	if template == nil {
		template = ErrInternal
	}
	if message == "" {
		message = template.Message
	}
	return Wrap(err, template.Code, template.Status, message)
}

// HasCode reports whether err carries the given taxonomy code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
