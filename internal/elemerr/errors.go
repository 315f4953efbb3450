// Package elemerr defines the daemon's error taxonomy: a small set of
// kinds that every edge (HTTP, CLI) can map to a stable status/exit code
// without inspecting error strings.
package elemerr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error into one of the daemon's seven buckets.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCycleDetected
	KindInvalidState
	KindResourceMissing
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCycleDetected:
		return "cycle_detected"
	case KindInvalidState:
		return "invalid_state"
	case KindResourceMissing:
		return "resource_missing"
	default:
		return "internal"
	}
}

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	kind    Kind
	msg     string
	cause   error
	details map[string]any
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the classification of err, defaulting to KindInternal for
// errors not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Details returns the structured detail map attached to err, if any.
func Details(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.details
	}
	return nil
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

func NotFound(kind, id string) *Error {
	return newf(KindNotFound, "%s %s not found", kind, id)
}

func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

func CycleDetected(format string, args ...any) *Error {
	return newf(KindCycleDetected, format, args...)
}

func InvalidState(format string, args ...any) *Error { return newf(KindInvalidState, format, args...) }

func ResourceMissing(format string, args ...any) *Error {
	return newf(KindResourceMissing, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	return wrapf(KindInternal, cause, format, args...)
}

// WithDetails attaches structured detail fields (e.g. {"field": "status"})
// used to populate the HTTP error body's details map.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.details = details
	return e
}

// Wrap classifies an arbitrary error under kind, preserving it as the cause.
// If err is already a tagged *Error, its kind is preserved unless kind is
// explicitly KindInternal (the common "I don't know, just wrap it" case).
func Wrap(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && kind == KindInternal {
		kind = existing.kind
	}
	return wrapf(kind, err, format, args...)
}

// Is reports whether err is (or wraps) a tagged error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the HTTP status code the API edge should
// return for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict, KindCycleDetected, KindInvalidState:
		return 409
	case KindResourceMissing:
		return 422
	default:
		return 500
	}
}

// ExitCode maps a Kind to the CLI's normative exit code table:
// 0 success, 2 invalid arguments (cobra flag parsing, not a Kind), 3
// validation, 4 not found, 5 conflict/state, 1 general error.
// CycleDetected is a specialized Validation; ResourceMissing and Internal
// fall back to the general-error code.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation, KindCycleDetected:
		return 3
	case KindNotFound:
		return 4
	case KindConflict, KindInvalidState:
		return 5
	default:
		return 1
	}
}
