package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestDetail_WritesBareDetailEnvelope(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/x")
	if err := Detail(c, http.StatusBadRequest, "bad input"); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body) != 1 || body["detail"] != "bad input" {
		t.Fatalf("expected only a detail field, got %+v", body)
	}
}

func TestAppError_SetsRetryAfterHeaderWhenPresent(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/ingest/single")
	err := apperrors.QueueFull("queue at capacity", 5)
	if writeErr := AppError(c, err); writeErr != nil {
		t.Fatalf("apperror: %v", writeErr)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "5" {
		t.Fatalf("expected Retry-After: 5, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestAppError_OmitsRetryAfterWhenZero(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/logs/1")
	err := apperrors.NotFound("no such log")
	if writeErr := AppError(c, err); writeErr != nil {
		t.Fatalf("apperror: %v", writeErr)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatalf("expected no Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestAppError_ForbiddenAndRevokedMapToDistinctStatuses(t *testing.T) {
	cases := []struct {
		err  *apperrors.Error
		code int
	}{
		{apperrors.Forbidden("not your project"), http.StatusForbidden},
		{apperrors.Revoked("credential revoked"), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		c, rec := newContext(http.MethodGet, "/x")
		if err := AppError(c, tc.err); err != nil {
			t.Fatalf("apperror: %v", err)
		}
		if rec.Code != tc.code {
			t.Fatalf("expected %d, got %d", tc.code, rec.Code)
		}
		var body APIError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if body.Detail != tc.err.Detail {
			t.Fatalf("expected detail %q, got %q", tc.err.Detail, body.Detail)
		}
	}
}
