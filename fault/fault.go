// Package fault defines the typed error kinds surfaced by the operations
// core. Callers map kinds to transport status codes; machine codes travel
// alongside for clients that switch on them.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindBadRequest Kind = "bad_request"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindLocked     Kind = "locked"
	KindInternal   Kind = "internal"
)

// Machine-readable codes attached to specific preconditions.
const (
	CodeJustificationRequired = "E_JUSTIFICATION_REQUIRED"
	CodeInvalidTransition     = "E_INVALID_TRANSITION"
	CodeScopeNotAllowed       = "E_SCOPE_NOT_ALLOWED"
	CodeTerminalStatus        = "E_TERMINAL_STATUS"
	CodeKitchenRequired       = "E_KITCHEN_REQUIRED"
	CodeSessionRace           = "E_SESSION_RACE"
)

// Error is the concrete error type returned by every engine operation.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on kind so sentinel comparisons work across wraps.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && (other.Code == "" || e.Code == other.Code)
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func BadRequestCode(code, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func ForbiddenCode(code, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func ConflictCode(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Locked(format string, args ...any) *Error {
	return &Error{Kind: KindLocked, Msg: fmt.Sprintf(format, args...)}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of err, if any.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HTTPStatus maps a kind to its transport status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
