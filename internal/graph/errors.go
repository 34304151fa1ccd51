package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure so callers can decide between
// retrying, surfacing, or annotating a per-item result.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindForbidden   ErrorKind = "forbidden"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient_server_error"
	KindTimeout     ErrorKind = "timeout"
	KindUnknown     ErrorKind = "unknown"
)

// APIError is a classified Microsoft Graph failure. It always carries a
// machine-distinguishable kind plus a human-readable detail string.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("graph: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("graph: %s: %s", e.Kind, e.Detail)
}

// Retryable reports whether the failure is worth retrying with backoff.
func (e *APIError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// NewNotFound returns a NotFound error with the given detail.
func NewNotFound(detail string) *APIError {
	return &APIError{Kind: KindNotFound, StatusCode: http.StatusNotFound, Detail: detail}
}

// NewTimeout returns a Timeout error with the given detail.
func NewTimeout(detail string) *APIError {
	return &APIError{Kind: KindTimeout, Detail: detail}
}

// classifyStatus maps a provider HTTP status to an APIError.
func classifyStatus(status int, detail string) *APIError {
	e := &APIError{StatusCode: status, Detail: detail}
	switch {
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		e.Kind = KindForbidden
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindUnknown
	}
	return e
}

// KindOf extracts the error kind from err, or KindUnknown when err is not
// a classified provider error.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}
