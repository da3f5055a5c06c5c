// Package apierr defines the error taxonomy shared by the WebSocket
// gateway and the sibling HTTP surface.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for surface translation.
type Kind string

const (
	InvalidArgument    Kind = "InvalidArgument"
	NotFound           Kind = "NotFound"
	PermissionDenied   Kind = "PermissionDenied"
	Conflict           Kind = "Conflict"
	SpawnFailed        Kind = "SpawnFailed"
	ChildExitedNonZero Kind = "ChildExitedNonZero"
	Internal           Kind = "Internal"
)

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error from a Kind and a message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code the sibling HTTP layer
// should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case PermissionDenied:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
