// Package brokererr defines the error taxonomy used across the broker core
// and its transport: a small set of kinds, each mapped to an HTTP status and
// a loggability rule, carried by a single Error type.
package brokererr

import (
	"fmt"
	"net/http"
)

// Kind classifies an error for status-code mapping and logging policy.
type Kind string

const (
	Database             Kind = "Database"
	Internal              Kind = "Internal"
	Serialization          Kind = "Serialization"
	Authentication         Kind = "Authentication"
	Authorization          Kind = "Authorization"
	Validation             Kind = "Validation"
	NotFound               Kind = "NotFound"
	Conflict               Kind = "Conflict"
	BadRequest             Kind = "BadRequest"
	SchedulingImpossible   Kind = "SchedulingImpossible"
	Parse                  Kind = "Parse"
)

// Error is the single error type surfaced by the broker core and translated
// into a JSON envelope by the HTTP layer.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the error's kind to the HTTP status code the transport layer
// should respond with.
func (e *Error) Status() int {
	switch e.Kind {
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case Validation, BadRequest, Parse:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case SchedulingImpossible:
		return http.StatusConflict
	case Database, Internal, Serialization:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ShouldLog reports whether errors of this kind warrant a server-side log
// entry. Client-class errors (bad input, auth failures, not-found) are noise
// at info-or-above; server-class errors always get logged.
func (e *Error) ShouldLog() bool {
	switch e.Kind {
	case Database, Internal, Serialization, Conflict:
		return true
	default:
		return false
	}
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewDatabase(format string, args ...any) *Error             { return newf(Database, format, args...) }
func NewInternal(format string, args ...any) *Error             { return newf(Internal, format, args...) }
func NewSerialization(format string, args ...any) *Error        { return newf(Serialization, format, args...) }
func NewAuthentication(format string, args ...any) *Error       { return newf(Authentication, format, args...) }
func NewAuthorization(format string, args ...any) *Error        { return newf(Authorization, format, args...) }
func NewValidation(format string, args ...any) *Error           { return newf(Validation, format, args...) }
func NewNotFound(format string, args ...any) *Error             { return newf(NotFound, format, args...) }
func NewConflict(format string, args ...any) *Error             { return newf(Conflict, format, args...) }
func NewBadRequest(format string, args ...any) *Error           { return newf(BadRequest, format, args...) }
func NewSchedulingImpossible(format string, args ...any) *Error { return newf(SchedulingImpossible, format, args...) }
func NewParse(format string, args ...any) *Error                { return newf(Parse, format, args...) }

// Wrap builds an Error of the given kind carrying cause as its underlying
// error (exposed via Unwrap), with Message defaulting to cause.Error().
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// As extracts an *Error from err if present.
func As(err error) (*Error, bool) {
	be, ok := err.(*Error)
	return be, ok
}

// Envelope is the JSON shape returned to clients on error.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ToEnvelope builds the wire envelope for an error, classifying any
// non-*Error as Internal so the transport never leaks an unclassified panic
// message shape to a client.
func ToEnvelope(err error) Envelope {
	be, ok := As(err)
	if !ok {
		be = &Error{Kind: Internal, Message: err.Error()}
	}
	return Envelope{Error: EnvelopeBody{
		Type:    string(be.Kind),
		Message: be.Message,
		Status:  be.Status(),
	}}
}
