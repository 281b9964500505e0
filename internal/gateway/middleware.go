package gateway

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/identity"
	"github.com/pulsegrid/pulsegrid/internal/model"
	"github.com/pulsegrid/pulsegrid/internal/response"
)

const credentialContextKey = "pulsegrid.credential"

// authMiddleware implements spec.md §4.1/§4.2's gateway policy chain:
// extract credential, resolve it through C1, check rate limits, check daily
// quota, then dispatch. Credential extraction accepts both a bare token and
// an `Authorization: Bearer <token>` header, per
// original_source/services/gateway/gateway_service/middleware/auth.py's
// _extract_api_key (SPEC_FULL.md §3.1's supplement).
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if publicPaths[c.Request().URL.Path] {
			return next(c)
		}

		credential, err := extractCredential(c)
		if err != nil {
			return response.AppError(c, err)
		}

		rec, rerr := s.deps.Identity.Resolve(c.Request().Context(), credential)
		if rerr != nil {
			appErr, ok := apperrors.As(rerr)
			if !ok {
				appErr = apperrors.Transient("authentication failed", rerr)
			}
			return response.AppError(c, appErr)
		}

		credHash := identity.Hash(credential)
		rlRes, rlErr := s.deps.RateLimit.Check(c.Request().Context(), credHash, rec.RateLimitPerMinute, rec.RateLimitPerHour)
		if rlErr != nil {
			return response.AppError(c, apperrors.Transient("rate limit check failed", rlErr))
		}
		for k, v := range rlRes.Headers() {
			c.Response().Header().Set(k, v)
		}
		if !rlRes.Allowed {
			return response.AppError(c, apperrors.RateLimited("rate limit exceeded", rlRes.RetryAfterSec))
		}

		if !s.deps.RateLimit.CheckDailyQuota(c.Request().Context(), rec.ProjectID, rec.DailyQuota, rec.CurrentUsage) {
			return response.AppError(c, apperrors.QuotaExceeded("daily quota exceeded"))
		}

		c.Set(credentialContextKey, rec)
		return next(c)
	}
}

// extractCredential mirrors auth.py's _extract_api_key: accepts
// "Authorization: Bearer <token>" or a bare "Authorization: <token>".
func extractCredential(c echo.Context) (string, *apperrors.Error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return "", apperrors.Unauthorized("missing Authorization header")
	}
	parts := strings.Fields(header)
	switch {
	case len(parts) == 2 && strings.EqualFold(parts[0], "bearer"):
		return parts[1], nil
	case len(parts) == 1:
		return parts[0], nil
	default:
		return "", apperrors.Unauthorized("invalid Authorization header format")
	}
}

// credential fetches the CredentialRecord authMiddleware stored on this
// request. Only ever called from handlers behind authMiddleware.
func credentialFrom(c echo.Context) model.CredentialRecord {
	rec, _ := c.Get(credentialContextKey).(model.CredentialRecord)
	return rec
}
