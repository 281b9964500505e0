package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/query"
	"github.com/pulsegrid/pulsegrid/internal/response"
)

// handleGetLog implements GET /api/v1/logs/:id.
func (s *Server) handleGetLog(c echo.Context) error {
	rec := credentialFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return response.AppError(c, apperrors.Validation("invalid log id"))
	}
	log, gerr := s.deps.Query.GetLog(c.Request().Context(), rec.ProjectID, id)
	if gerr != nil {
		return response.AppError(c, mustAppError(gerr))
	}
	return c.JSON(http.StatusOK, log)
}

// handleQueryLogs implements GET /api/v1/logs: filtered, paginated
// retrieval per spec.md §4.5.
func (s *Server) handleQueryLogs(c echo.Context) error {
	rec := credentialFrom(c)
	f, err := parseFilters(c)
	if err != nil {
		return response.AppError(c, err)
	}
	p, err := parsePagination(c)
	if err != nil {
		return response.AppError(c, err)
	}

	result, qerr := s.deps.Query.QueryLogs(c.Request().Context(), rec.ProjectID, f, p)
	if qerr != nil {
		return response.AppError(c, mustAppError(qerr))
	}
	return c.JSON(http.StatusOK, result)
}

// handleSearchLogs implements GET /api/v1/logs/search.
func (s *Server) handleSearchLogs(c echo.Context) error {
	rec := credentialFrom(c)
	queryText := c.QueryParam("q")
	if queryText == "" {
		return response.AppError(c, apperrors.Validation("query parameter q is required"))
	}
	f, err := parseFilters(c)
	if err != nil {
		return response.AppError(c, err)
	}
	p, err := parsePagination(c)
	if err != nil {
		return response.AppError(c, err)
	}

	result, qerr := s.deps.Query.SearchLogs(c.Request().Context(), rec.ProjectID, queryText, f, p)
	if qerr != nil {
		return response.AppError(c, mustAppError(qerr))
	}
	return c.JSON(http.StatusOK, result)
}

func parseFilters(c echo.Context) (query.Filters, *apperrors.Error) {
	var f query.Filters
	if v := c.QueryParam("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.Validation("invalid start_time: " + err.Error())
		}
		t = t.UTC()
		f.StartTime = &t
	}
	if v := c.QueryParam("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.Validation("invalid end_time: " + err.Error())
		}
		t = t.UTC()
		f.EndTime = &t
	}
	f.Level = c.QueryParam("level")
	f.LogType = c.QueryParam("log_type")
	f.Environment = c.QueryParam("environment")
	f.ErrorFingerprint = c.QueryParam("error_fingerprint")
	return f, nil
}

func parsePagination(c echo.Context) (query.Pagination, *apperrors.Error) {
	var p query.Pagination
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, apperrors.Validation("invalid limit")
		}
		p.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, apperrors.Validation("invalid offset")
		}
		p.Offset = n
	}
	if v := c.QueryParam("after_timestamp"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, apperrors.Validation("invalid after_timestamp: " + err.Error())
		}
		t = t.UTC()
		p.AfterTimestamp = &t
		if v := c.QueryParam("after_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return p, apperrors.Validation("invalid after_id")
			}
			p.AfterID = id
		}
	}
	return p, nil
}
