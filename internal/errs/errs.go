// Package errs defines the typed error envelope surfaced by the HTTP API.
// Every error carries a stable "kind:subject" code clients pattern-match on.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	BadRequest      Kind = "bad_request"
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	PaymentRequired Kind = "payment_required"
	Internal        Kind = "internal"
)

type Subject string

const (
	API      Subject = "api"
	Chat     Subject = "chat"
	Message  Subject = "message"
	Document Subject = "document"
	Vote     Subject = "vote"
	Stream   Subject = "stream"
	Database Subject = "database"
)

type Error struct {
	Kind    Kind
	Subject Subject
	Cause   string
}

func New(kind Kind, subject Subject) *Error {
	return &Error{Kind: kind, Subject: subject}
}

func Newf(kind Kind, subject Subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Cause: fmt.Sprintf(format, args...)}
}

func (e *Error) Code() string { return string(e.Kind) + ":" + string(e.Subject) }

func (e *Error) Error() string {
	if e.Cause == "" {
		return e.Code()
	}
	return e.Code() + ": " + e.Cause
}

func (e *Error) Status() int {
	switch e.Kind {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case PaymentRequired:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape of every non-2xx response body.
type Envelope struct {
	Code  string `json:"code"`
	Cause string `json:"cause,omitempty"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Code: e.Code(), Cause: e.Cause}
}

// From extracts an *Error, wrapping unknown errors as bad_request:database so
// raw driver errors never leak to clients.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: BadRequest, Subject: Database, Cause: "an unexpected database error occurred"}
}
