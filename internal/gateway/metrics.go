package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/model"
	"github.com/pulsegrid/pulsegrid/internal/response"
)

// parseTimeRange reads the "start"/"end" query params spec.md §4.5's
// error_rate/log_volume/top_errors signatures share, RFC3339-encoded. Both
// are optional; a nil bound leaves that side of the range open, matching
// original_source/services/query/query_service/services/metrics.py's
// start_time/end_time semantics.
func parseTimeRange(c echo.Context) (start, end *time.Time, appErr *apperrors.Error) {
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, apperrors.Validation("invalid start: " + err.Error())
		}
		t = t.UTC()
		start = &t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, apperrors.Validation("invalid end: " + err.Error())
		}
		t = t.UTC()
		end = &t
	}
	return start, end, nil
}

// handleErrorRate implements GET /api/v1/metrics/error-rate: 5-minute
// bucketed error/critical counts over the last 24h, read from the
// pre-aggregate cache C5 writes and trimmed to an optional start/end range.
func (s *Server) handleErrorRate(c echo.Context) error {
	rec := credentialFrom(c)
	start, end, rerr := parseTimeRange(c)
	if rerr != nil {
		return response.AppError(c, rerr)
	}
	points, err := s.deps.Metrics.ErrorRate(c.Request().Context(), rec.ProjectID, start, end)
	if err != nil {
		return response.AppError(c, apperrors.Transient("error rate read failed", err))
	}
	return c.JSON(http.StatusOK, points)
}

// handleLogVolume implements GET /api/v1/metrics/log-volume.
func (s *Server) handleLogVolume(c echo.Context) error {
	rec := credentialFrom(c)
	start, end, rerr := parseTimeRange(c)
	if rerr != nil {
		return response.AppError(c, rerr)
	}
	points, err := s.deps.Metrics.LogVolume(c.Request().Context(), rec.ProjectID, start, end)
	if err != nil {
		return response.AppError(c, apperrors.Transient("log volume read failed", err))
	}
	return c.JSON(http.StatusOK, points)
}

// handleTopErrors implements GET /api/v1/metrics/top-errors.
func (s *Server) handleTopErrors(c echo.Context) error {
	rec := credentialFrom(c)
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	start, end, rerr := parseTimeRange(c)
	if rerr != nil {
		return response.AppError(c, rerr)
	}
	status := c.QueryParam("status")
	errs, err := s.deps.Metrics.TopErrors(c.Request().Context(), rec.ProjectID, limit, start, end, status)
	if err != nil {
		return response.AppError(c, apperrors.Transient("top errors read failed", err))
	}
	return c.JSON(http.StatusOK, errs)
}

// handleUsageStats implements GET /api/v1/metrics/usage-stats.
func (s *Server) handleUsageStats(c echo.Context) error {
	rec := credentialFrom(c)
	startDate := c.QueryParam("start_date")
	endDate := c.QueryParam("end_date")
	days, err := s.deps.Metrics.UsageStats(c.Request().Context(), rec.ProjectID, startDate, endDate)
	if err != nil {
		return response.AppError(c, apperrors.Transient("usage stats read failed", err))
	}
	return c.JSON(http.StatusOK, days)
}

// handleAggregatedMetrics implements GET /api/v1/metrics/aggregated:
// project_id, metric_type, period_from, period_to are all required per
// spec.md §4.5's read contract for the persistent aggregated_metrics table.
func (s *Server) handleAggregatedMetrics(c echo.Context) error {
	rec := credentialFrom(c)
	metricType := c.QueryParam("metric_type")
	if metricType == "" {
		return response.AppError(c, apperrors.Validation("metric_type is required"))
	}
	periodFrom := c.QueryParam("period_from")
	periodTo := c.QueryParam("period_to")
	if periodFrom == "" || periodTo == "" {
		return response.AppError(c, apperrors.Validation("period_from and period_to are required"))
	}
	rows, err := s.deps.Aggregate.AggregatedMetrics(c.Request().Context(), rec.ProjectID, model.MetricType(metricType), periodFrom, periodTo)
	if err != nil {
		return response.AppError(c, apperrors.Transient("aggregated metrics read failed", err))
	}
	return c.JSON(http.StatusOK, rows)
}

// handleBottleneckMetrics implements the supplemented GET
// /api/v1/metrics/bottleneck endpoint (SPEC_FULL.md §3.5): p95/p99 endpoint
// latency ranked descending.
func (s *Server) handleBottleneckMetrics(c echo.Context) error {
	rec := credentialFrom(c)
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var periodFrom, periodTo time.Time
	if v := c.QueryParam("period_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return response.AppError(c, apperrors.Validation("invalid period_from: "+err.Error()))
		}
		periodFrom = t.UTC()
	}
	if v := c.QueryParam("period_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return response.AppError(c, apperrors.Validation("invalid period_to: "+err.Error()))
		}
		periodTo = t.UTC()
	}
	rows, err := s.deps.Metrics.BottleneckMetrics(c.Request().Context(), rec.ProjectID, periodFrom, periodTo, limit)
	if err != nil {
		return response.AppError(c, apperrors.Transient("bottleneck metrics read failed", err))
	}
	return c.JSON(http.StatusOK, rows)
}
