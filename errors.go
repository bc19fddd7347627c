package goIdentity

import (
	"errors"
	"net/http"
	"sort"
	"strings"
)

// Error taxonomy. Every error returned by the Engine matches exactly one of
// these with errors.Is.
var (
	// ErrUnauthenticated covers missing, invalid or expired credentials and sessions.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden covers valid identities lacking permission, or accounts that
	// must finish setup before they can use the password flow.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers absent codes, sessions and email rows.
	ErrNotFound = errors.New("not found")
	// ErrValidation is matched by [*ValidationError].
	ErrValidation = errors.New("validation failed")
	// ErrConflict is matched by [*ConflictError].
	ErrConflict = errors.New("conflict")
	// ErrUpstream covers OAuth provider and network failures.
	ErrUpstream = errors.New("upstream failure")
	// ErrInternal covers everything else, including store connectivity loss.
	ErrInternal = errors.New("internal error")
	// ErrRateLimited is returned when a throttle rejects the attempt.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError carries field level reasons that a caller can act on.
type ValidationError struct {
	Fields map[string][]string
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {reason}}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ","))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports a unique constraint lost to another writer, named by
// the human facing field ("username", "email").
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string { return e.Field + " taken" }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// opaqueError keeps the cause for server side logging while its message and
// classification stay generic.
type opaqueError struct {
	kind  error
	cause error
}

func (e *opaqueError) Error() string { return e.kind.Error() }

func (e *opaqueError) Is(target error) bool { return target == e.kind }

// Cause returns the underlying error for logging.
func (e *opaqueError) Cause() error { return e.cause }

func internalErr(cause error) error {
	return &opaqueError{kind: ErrInternal, cause: cause}
}

func upstreamErr(cause error) error {
	return &opaqueError{kind: ErrUpstream, cause: cause}
}

// Cause unwraps an opaque internal or upstream error to the logged cause.
// Other errors are returned unchanged.
func Cause(err error) error {
	var o *opaqueError
	if errors.As(err, &o) {
		return o.cause
	}
	return err
}

// StatusCode maps an Engine error to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Describe returns a client safe body for err: field reasons for validation
// and conflict errors, a generic message otherwise.
func Describe(err error) map[string][]string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Fields
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return map[string][]string{c.Field: {"taken"}}
	}
	return map[string][]string{"error": {publicMessage(err)}}
}

func publicMessage(err error) string {
	for _, kind := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrRateLimited, ErrUpstream} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ErrInternal.Error()
}
