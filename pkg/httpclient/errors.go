package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/akshay-ctas/server/pkg/errors"
	"github.com/akshay-ctas/server/pkg/httputil"
)

const maxErrorBody = 1 << 20

// ParseResponseError reads the body of a non-2xx response and rebuilds the
// AppError the service wrote, keeping its code, fields and status. Bodies that
// are not in the standard envelope yield a plain error carrying the raw text.
// The body is consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var envelope httputil.Response
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return fromErrorResponse(resp.StatusCode, envelope.Error, serviceName)
	}

	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(body))
}

func fromErrorResponse(status int, e *httputil.ErrorResponse, serviceName string) error {
	if status >= 500 && status != http.StatusBadGateway {
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, e.Code, e.Message)
	}

	appErr := &apperrors.AppError{
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", serviceName, e.Message),
		Fields:  e.Fields,
		Status:  status,
		Err:     sentinelFor(status, e.Code),
	}
	return appErr
}

func sentinelFor(status int, code string) error {
	switch {
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusConflict && code == "ALREADY_EXISTS":
		return apperrors.ErrAlreadyExists
	case status == http.StatusConflict:
		return apperrors.ErrConflict
	case status == http.StatusBadRequest && code == "INVALID_STATE_TRANSITION":
		return apperrors.ErrInvalidStateTransition
	case status == http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case status == http.StatusBadGateway:
		return apperrors.ErrStorage
	}
	return nil
}

// IsClientError reports whether status is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
