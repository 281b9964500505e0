package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/ingest"
	"github.com/pulsegrid/pulsegrid/internal/response"
)

// handleIngestSingle implements POST /api/v1/ingest/single: one event, run
// through the same Front.IngestBatch path as a one-item batch.
func (s *Server) handleIngestSingle(c echo.Context) error {
	var req ingest.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return response.AppError(c, apperrors.Validation("malformed request body: "+err.Error()))
	}
	rec := credentialFrom(c)
	res, err := s.deps.Ingest.IngestBatch(c.Request().Context(), rec.ProjectID, []ingest.Request{req})
	if err != nil {
		return response.AppError(c, mustAppError(err))
	}
	return c.JSON(http.StatusAccepted, res)
}

// handleIngestBatch implements POST /api/v1/ingest/batch.
func (s *Server) handleIngestBatch(c echo.Context) error {
	var body ingest.BatchRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return response.AppError(c, apperrors.Validation("malformed request body: "+err.Error()))
	}
	rec := credentialFrom(c)
	res, err := s.deps.Ingest.IngestBatch(c.Request().Context(), rec.ProjectID, body.Events)
	if err != nil {
		return response.AppError(c, mustAppError(err))
	}
	return c.JSON(http.StatusAccepted, res)
}

// handleQueueDepth implements GET /api/v1/queue/depth, the advisory
// backpressure read spec.md §6 exposes to callers directly.
func (s *Server) handleQueueDepth(c echo.Context) error {
	rec := credentialFrom(c)
	depth, err := s.deps.Queue.Depth(c.Request().Context(), rec.ProjectID)
	if err != nil {
		return response.AppError(c, apperrors.Transient("queue depth check failed", err))
	}
	return c.JSON(http.StatusOK, map[string]int64{"depth": depth})
}

// mustAppError normalizes any error returned by an internal package into an
// *apperrors.Error the response layer knows how to render, falling back to a
// permanent 500 for anything unclassified.
func mustAppError(err error) *apperrors.Error {
	if ae, ok := apperrors.As(err); ok {
		return ae
	}
	return apperrors.Permanent("internal error", err)
}
