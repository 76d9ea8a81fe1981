package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel errors used to classify failures with errors.Is.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrAlreadyExists          = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrInternal               = errors.New("internal error")
	ErrConflict               = errors.New("conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStorage                = errors.New("storage failure")
)

// AppError represents a structured application error with HTTP status mapping.
// Fields names the offending input (field or id) when the error is user-fixable.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField returns the error with an additional field annotation.
func (e *AppError) WithField(field, message string) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error for a uniqueness violation on a single value.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Fields:  map[string]string{field: value},
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// DuplicateValues creates a 409 error listing every conflicting value of a field.
func DuplicateValues(field string, values []string) *AppError {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	joined := strings.Join(sorted, ", ")
	return &AppError{
		Code:    "CONFLICT",
		Message: fmt.Sprintf("duplicate %s: %s", field, joined),
		Fields:  map[string]string{field: joined},
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidField creates a 400 error naming the offending field.
func InvalidField(field, message string) *AppError {
	return InvalidInput(fmt.Sprintf("%s %s", field, message)).WithField(field, message)
}

// InvalidStateTransition creates a 400 error for a lifecycle rule violation.
func InvalidStateTransition(message string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE_TRANSITION",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidStateTransition,
	}
}

// Storage creates a 502 error for a failed blob storage operation.
func Storage(op string, err error) *AppError {
	return &AppError{
		Code:    "STORAGE_ERROR",
		Message: fmt.Sprintf("blob storage %s failed", op),
		Status:  http.StatusBadGateway,
		Err:     errors.Join(ErrStorage, err),
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidStateTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
