package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeAndStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{BadRequest, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{PaymentRequired, http.StatusPaymentRequired},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := New(tc.kind, Chat)
		if e.Status() != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.kind, tc.status, e.Status())
		}
		want := string(tc.kind) + ":chat"
		if e.Code() != want {
			t.Fatalf("expected code %q, got %q", want, e.Code())
		}
	}
}

func TestFrom_UnwrapsTypedError(t *testing.T) {
	inner := Newf(Forbidden, Vote, "Message does not belong to this chat")
	wrapped := fmt.Errorf("handling vote: %w", inner)

	e := From(wrapped)
	if e.Kind != Forbidden || e.Subject != Vote {
		t.Fatalf("expected forbidden:vote, got %s", e.Code())
	}
	if e.Envelope().Cause != "Message does not belong to this chat" {
		t.Fatalf("unexpected cause: %q", e.Envelope().Cause)
	}
}

func TestFrom_MasksUnknownErrors(t *testing.T) {
	e := From(errors.New("Error 1062: Duplicate entry"))
	if e.Code() != "bad_request:database" {
		t.Fatalf("expected bad_request:database, got %s", e.Code())
	}
	if e.Cause == "" || e.Cause == "Error 1062: Duplicate entry" {
		t.Fatalf("raw driver error must not leak: %q", e.Cause)
	}
}
