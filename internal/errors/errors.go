// Package errors defines the typed errors shared by the gateway services and
// the HTTP layer that renders them as problem+json responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code carried in problem responses.
type ErrorCode string

const (
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// ErrInvalidRequest marks failures caused by a malformed inbound request,
// such as a missing identifier. It is detected before any upstream call.
var ErrInvalidRequest = stderrors.New("invalid request")

// ServiceError is an error with an HTTP status and a stable code.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns the error with an extra detail field attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// UpstreamError reports a downstream service failure on a pass-through
// operation. Status and Detail are the upstream's own.
type UpstreamError struct {
	Service string
	Status  int
	Detail  string
	// Propagate keeps the upstream status on the inbound response instead of
	// collapsing it to 502.
	Propagate bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.Service, e.Status, e.Detail)
}

// HTTPStatus is the status the gateway answers with for this failure.
func (e *UpstreamError) HTTPStatus() int {
	if e.Propagate && e.Status >= 400 && e.Status < 600 {
		return e.Status
	}
	return http.StatusBadGateway
}

// Upstream builds an UpstreamError answered with 502.
func Upstream(service string, status int, detail string) *UpstreamError {
	return &UpstreamError{Service: service, Status: status, Detail: detail}
}

// UpstreamPassthrough builds an UpstreamError that keeps the upstream status.
func UpstreamPassthrough(service string, status int, detail string) *UpstreamError {
	return &UpstreamError{Service: service, Status: status, Detail: detail, Propagate: true}
}

// InvalidRequest wraps ErrInvalidRequest with a message.
func InvalidRequest(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]interface{}{"limit": limit, "window": window},
	}
}

func ServiceUnavailable(message string) *ServiceError {
	return &ServiceError{Code: CodeServiceUnavailable, Message: message, HTTPStatus: http.StatusServiceUnavailable}
}

func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// GetServiceError maps any error onto a ServiceError. It returns nil for a
// nil error. Unknown errors become INTERNAL_ERROR.
func GetServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	var ue *UpstreamError
	if stderrors.As(err, &ue) {
		return &ServiceError{
			Code:       CodeUpstreamError,
			Message:    ue.Detail,
			HTTPStatus: ue.HTTPStatus(),
			Details:    map[string]interface{}{"service": ue.Service, "upstream_status": ue.Status},
			Err:        err,
		}
	}
	if stderrors.Is(err, ErrInvalidRequest) {
		return &ServiceError{Code: CodeInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	}
	return Internal("internal server error", err)
}
