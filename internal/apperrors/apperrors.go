// Package apperrors implements the error taxonomy of spec.md §7: a small
// hierarchy of typed errors that the gateway maps to HTTP status codes and
// the `{"detail": ...}` response shape, and that the storage worker and
// aggregator use to decide retry-vs-surface.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the taxonomy buckets named in spec.md §7.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindRevoked    Kind = "revoked"
	KindForbidden  Kind = "forbidden"
	KindQuota      Kind = "quota"
	KindBackpressure Kind = "backpressure"
	KindTransient  Kind = "transient"
	KindIntegrity  Kind = "integrity"
	KindPermanent  Kind = "permanent"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// Error is the concrete type every apperrors constructor returns.
type Error struct {
	Kind       Kind
	Detail     string
	RetryAfter int // seconds; 0 means "no hint"
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status maps the error kind to the HTTP status code spec.md §6 lists.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRevoked:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindQuota:
		return http.StatusTooManyRequests
	case KindBackpressure:
		return http.StatusServiceUnavailable
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindIntegrity:
		return http.StatusInternalServerError
	case KindPermanent:
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Validation(detail string) *Error { return &Error{Kind: KindValidation, Detail: detail} }

func Unauthorized(detail string) *Error { return &Error{Kind: KindAuth, Detail: detail} }

// Revoked is the AuthError for a credential that resolved but was
// explicitly revoked, distinct from Forbidden: the credential itself is
// dead, not merely scoped away from the requested resource. Surfaced as
// 401, same as Unauthorized, and never served from the emergency cache.
func Revoked(detail string) *Error {
	return &Error{Kind: KindRevoked, Detail: detail}
}

// Forbidden is the credential-valid-but-not-authorized-for-this-resource
// AuthError: the caller proved who they are, but the target project or
// resource isn't theirs. Surfaced as 403.
func Forbidden(detail string) *Error {
	return &Error{Kind: KindForbidden, Detail: detail}
}

func RateLimited(detail string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindQuota, Detail: detail, RetryAfter: retryAfterSeconds}
}

func QuotaExceeded(detail string) *Error { return &Error{Kind: KindQuota, Detail: detail} }

func QueueFull(detail string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindBackpressure, Detail: detail, RetryAfter: retryAfterSeconds}
}

func CircuitOpen(detail string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindTransient, Detail: detail, RetryAfter: retryAfterSeconds}
}

func Transient(detail string, cause error) *Error {
	return &Error{Kind: KindTransient, Detail: detail, Cause: cause}
}

func Integrity(detail string, cause error) *Error {
	return &Error{Kind: KindIntegrity, Detail: detail, Cause: cause}
}

func Permanent(detail string, cause error) *Error {
	return &Error{Kind: KindPermanent, Detail: detail, Cause: cause}
}

func NotFound(detail string) *Error { return &Error{Kind: KindNotFound, Detail: detail} }

func Conflict(detail string) *Error { return &Error{Kind: KindConflict, Detail: detail} }

// As is a small convenience wrapper around errors.As for the common case of
// testing whether an arbitrary error is one of ours.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
