// Package httperr maps domain and infrastructure failures onto HTTP statuses.
package httperr

import (
	"errors"
	"net/http"
)

// Error is a client-visible failure. Message is safe to send on the wire;
// anything sensitive belongs in logs, wrapped underneath via %w.
type Error struct {
	Code    int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New returns an Error with an explicit status code.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause to a status code. The cause is logged, not sent.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, message)
}

func NotImplemented(message string) *Error {
	return New(http.StatusNotImplemented, message)
}

func Internal(message string, cause error) *Error {
	return Wrap(http.StatusInternalServerError, message, cause)
}

// StatusOf returns the HTTP status for err, defaulting to 500 for errors
// that carry no explicit code.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-safe message for err. Errors without an
// explicit code get a generic message so internals never leak.
func MessageOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Message
	}
	return "internal server error"
}

// IsStatus reports whether err maps to the given HTTP status.
func IsStatus(err error, code int) bool {
	return StatusOf(err) == code
}
