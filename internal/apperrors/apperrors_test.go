package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatus_MapsEveryKind(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Unauthorized("no"), http.StatusUnauthorized},
		{Revoked("credential revoked"), http.StatusUnauthorized},
		{Forbidden("not your project"), http.StatusForbidden},
		{RateLimited("slow down", 60), http.StatusTooManyRequests},
		{QuotaExceeded("over quota"), http.StatusTooManyRequests},
		{QueueFull("full", 5), http.StatusServiceUnavailable},
		{CircuitOpen("open", 30), http.StatusServiceUnavailable},
		{Transient("try again", nil), http.StatusServiceUnavailable},
		{Integrity("corrupt", nil), http.StatusInternalServerError},
		{Permanent("broken", nil), http.StatusInternalServerError},
		{NotFound("missing"), http.StatusNotFound},
		{Conflict("exists"), http.StatusConflict},
	}
	for _, c := range cases {
		if got := c.err.Status(); got != c.want {
			t.Errorf("%s.Status() = %d, want %d", c.err.Kind, got, c.want)
		}
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial failed")
	err := Transient("query failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestAs_MatchesWrappedAppError(t *testing.T) {
	var err error = NotFound("no such log")
	ae, ok := As(err)
	if !ok || ae.Kind != KindNotFound {
		t.Fatalf("expected a matched not-found error, got %v ok=%v", ae, ok)
	}
}

func TestAs_FailsOnPlainError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("expected no match for a plain error")
	}
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	err := Integrity("checksum mismatch", cause)
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause preserved")
	}
}
