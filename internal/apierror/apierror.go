package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrExternalCall   ErrorCode = "EXTERNAL_CALL_FAILED"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ValidationError rejects malformed input before any state mutation.
func ValidationError(message string) APIError {
	return NewAPIError(ErrInvalidInput, message, message)
}

// AuthorizationError rejects a caller lacking a role, membership or
// permission.
func AuthorizationError(message string) APIError {
	return NewAPIError(ErrUnauthorized, message, message)
}

// ConflictError rejects an operation whose preconditions do not hold yet
// (already exists, window closed, dispute open). Callers may retry once the
// state changes.
func ConflictError(message string) APIError {
	return NewAPIError(ErrConflict, message, message)
}

// NotFoundError reports a missing entity.
func NotFoundError(message string) APIError {
	return NewAPIError(ErrNotFound, message, message)
}

// ExternalCallError wraps a failed token transfer or relay call. The whole
// operation fails, leaving no partial record.
func ExternalCallError(message string, err error) APIError {
	return NewAPIError(ErrExternalCall, message, err)
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrUnauthorized:
			return http.StatusForbidden
		case ErrExternalCall:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// Is reports whether err is an APIError carrying the given code.
func Is(err error, code ErrorCode) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == code
}
