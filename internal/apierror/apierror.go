// Package apierror defines the typed errors the HTTP layer translates
// into the unified error envelope shared by all Pxl8 APIs.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error_code carried in the envelope.
type Code string

const (
	CodeInvalidArgument    Code = "invalid_argument"
	CodeTenantNotActive    Code = "tenant_not_active"
	CodeNotFound           Code = "not_found"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeInternal           Code = "internal_error"
)

// Error is an error with an envelope code and HTTP status. Quota
// exhaustion and duplicate requests are deliberately not errors: the
// former is communicated through grant amounts, the latter through the
// idempotent replay response.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the code to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeTenantNotActive:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func TenantNotActive(message string) *Error {
	return &Error{Code: CodeTenantNotActive, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func StorageUnavailable(cause error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: "ledger storage unavailable, retry with the same idempotency key", cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// FromError coerces any error into an *Error, defaulting to internal.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
