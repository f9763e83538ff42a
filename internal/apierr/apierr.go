// Package apierr defines the stable error taxonomy returned to clients and
// consulted by the background job runner when deciding whether to retry.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind is one of the nine stable, machine-readable error categories.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindAuthRequired       Kind = "auth_required"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindUpstreamError      Kind = "upstream_error"
	KindTimeout            Kind = "timeout"
	KindStoreError         Kind = "store_error"
	KindRankingUnavailable Kind = "ranking_unavailable"
	KindInternal           Kind = "internal_error"
)

var httpStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindAuthRequired:       http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindNotFound:           http.StatusNotFound,
	KindUpstreamError:      http.StatusBadGateway,
	KindTimeout:            http.StatusGatewayTimeout,
	KindStoreError:         http.StatusInternalServerError,
	KindRankingUnavailable: http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the error type returned by every public operation in this
// module. It carries enough structure for an HTTP handler to render a
// machine-readable body without re-deriving status codes.
type Error struct {
	Kind       Kind              `json:"type"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	RetryAfter float64           `json:"retry_after,omitempty"`
	UpstreamStatus int           `json:"upstream_status,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus returns the status code this kind maps to.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindUpstreamError && e.UpstreamStatus != 0 {
		return e.UpstreamStatus
	}
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ToJSON serializes the error to the `{"error": {...}}` body shape used
// throughout this service's HTTP surface.
func (e *Error) ToJSON() []byte {
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Kind,
			"message": e.Message,
		},
	}
	inner := body["error"].(map[string]interface{})
	if len(e.Details) > 0 {
		inner["details"] = e.Details
	}
	if e.RetryAfter > 0 {
		inner["retry_after"] = e.RetryAfter
	}
	b, _ := json.Marshal(body)
	return b
}

// Write sends the error as a JSON response with the correct status code.
func (e *Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_, _ = w.Write(e.ToJSON())
}

// Retryable reports whether the background job runner may retry an
// operation that failed with this error. Validation and access errors are
// never retried; transient upstream/store failures are.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindValidation, KindAuthRequired, KindNotFound:
		return false
	case KindUpstreamError, KindTimeout, KindStoreError:
		return true
	default:
		return false
	}
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(details map[string]string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Details: details}
}

func RateLimited(retryAfter float64, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

func Upstream(status int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUpstreamError, Message: fmt.Sprintf(format, args...), UpstreamStatus: status}
}

// As extracts an *Error from a generic error, returning ok=false for
// anything not produced by this package (which callers should treat as
// internal_error).
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
