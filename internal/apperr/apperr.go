// Package apperr is the error taxonomy shared by the REST and realtime surfaces.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by what the client should be told.
type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	InvalidArgument
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case InvalidArgument:
		return "invalid_argument"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error carries a Kind and a client-safe message. Err is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinels like
// ErrInvalidTransition work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

// ErrInvalidTransition is returned when a trip is not in the status a
// transition requires.
var ErrInvalidTransition = &Error{Kind: Conflict, Message: "invalid trip status transition"}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthenticatedf(msg string) *Error { return New(Unauthenticated, msg) }
func Forbiddenf(msg string) *Error       { return New(Forbidden, msg) }
func NotFoundf(msg string) *Error        { return New(NotFound, msg) }
func Invalidf(msg string) *Error         { return New(InvalidArgument, msg) }
func Conflictf(msg string) *Error        { return New(Conflict, msg) }

// Internalf wraps an unexpected failure. The message shown to clients is generic.
func Internalf(err error) *Error { return Wrap(Internal, err, "internal error") }

// KindOf returns the Kind of err, or Internal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the client-visible message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps err to a conventional status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
