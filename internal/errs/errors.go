// Package errs is the service-wide failure taxonomy. Every layer classifies
// its errors with a Kind so the HTTP surface can map them to statuses without
// inspecting error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindExpired
	KindRateLimited
	KindUnauthorized
	KindDependency
	KindAuthentication
	KindRegistration
)

// String returns the kind's stable wire name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindDependency:
		return "dependency_error"
	case KindAuthentication:
		return "authentication_error"
	case KindRegistration:
		return "registration_error"
	default:
		return "unknown_error"
	}
}

// Error is a classified error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Errorf creates a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without discarding it.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
