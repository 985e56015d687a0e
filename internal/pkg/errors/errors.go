// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeUpstream    = "UPSTREAM_ERROR"
	CodePersistence = "PERSISTENCE_ERROR"
)

// DetailErrorID is the detail key carrying the opaque correlation id of an
// internal failure. It survives response sanitization.
const DetailErrorID = "error_id"

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// ErrorID returns the correlation id attached to the error, if any.
func (e *AppError) ErrorID() string {
	if e.Details == nil {
		return ""
	}
	return e.Details[DetailErrorID]
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// AlreadyExistsError creates an already exists error.
func AlreadyExistsError(resource string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// Unexpected wraps err as an internal error tagged with a fresh correlation
// id. The id is the only thing about the failure a client ever sees.
func Unexpected(err error) *AppError {
	return InternalError("An unexpected error occurred. Please try again later.", err).
		WithDetail(DetailErrorID, NewErrorID())
}

// NewErrorID mints an opaque correlation id.
func NewErrorID() string {
	return "err_" + uuid.NewString()
}

// PersistenceError creates a store failure error.
func PersistenceError(message string, err error) *AppError {
	return Wrap(CodePersistence, message, err)
}

// UpstreamError creates an upstream service error.
func UpstreamError(message string, err error) *AppError {
	return Wrap(CodeUpstream, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// IsAlreadyExists checks if error is a duplicate error.
func IsAlreadyExists(err error) bool {
	return IsCode(err, CodeAlreadyExists)
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error      bool              `json:"error"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code"`
	ErrorID    string            `json:"error_id,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Path       string            `json:"path,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	resp.Error = true
	resp.StatusCode = status
	if resp.Timestamp == "" {
		resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// Client errors keep their message. Server errors only expose the code and,
// when present, the correlation id.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	path := ""
	if r != nil {
		path = r.URL.Path
	}

	if appErr, ok := As(err); ok {
		status := appErr.HTTPStatus()
		if status < http.StatusInternalServerError {
			WriteJSON(w, status, ErrorResponse{
				Code:    appErr.Code,
				Message: appErr.Message,
				Path:    path,
				Details: appErr.Details,
			})
			return
		}

		WriteJSON(w, status, ErrorResponse{
			Code:    appErr.Code,
			Message: sanitizedMessage(appErr),
			ErrorID: appErr.ErrorID(),
			Path:    path,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Code:    CodeInternal,
		Message: "An unexpected error occurred. Please try again later.",
		Path:    path,
	})
}

// WriteErrorWithStatus writes an error with a specific HTTP status code.
// 4xx messages are shown to the client; 5xx messages are sanitized.
func WriteErrorWithStatus(w http.ResponseWriter, status int, err error) {
	if appErr, ok := As(err); ok {
		msg := appErr.Message
		if status >= http.StatusInternalServerError {
			msg = sanitizedMessage(appErr)
		}
		WriteJSON(w, status, ErrorResponse{
			Code:    appErr.Code,
			Message: msg,
			ErrorID: appErr.ErrorID(),
			Details: appErr.Details,
		})
		return
	}

	if status >= 400 && status < 500 {
		WriteJSON(w, status, ErrorResponse{
			Code:    codeForStatus(status),
			Message: err.Error(),
		})
		return
	}

	WriteJSON(w, status, ErrorResponse{
		Code:    CodeInternal,
		Message: "An unexpected error occurred. Please try again later.",
	})
}

// sanitizedMessage keeps messages written for clients (Unexpected) and
// hides everything else.
func sanitizedMessage(e *AppError) string {
	if e.ErrorID() != "" {
		return e.Message
	}
	return "An unexpected error occurred. Please try again later."
}

// codeForStatus returns an error code for common HTTP status codes.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidRequest
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeAlreadyExists
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return CodeUnsupportedMedia
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		return CodeInternal
	}
}
