// Package response holds the one response envelope the gateway ever
// writes for an error: spec.md §7's `{"detail": <string>}` shape, grounded
// on original_source/services/gateway/gateway_service/middleware/auth.py's
// `JSONResponse(content={"detail": ...})` pattern. Every gateway handler
// reports success by returning c.JSON directly with its own payload shape
// (spec.md never defines a wrapping success envelope) and reports failure
// through AppError, so this package carries only the error path.
package response

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
)

// APIError is the wire shape of every error response: spec.md §7's
// `{"detail": <string>}`, nothing more.
type APIError struct {
	Detail string `json:"detail"`
}

// Detail sends a JSON error response of shape {"detail": ...}.
func Detail(c echo.Context, status int, detail string) error {
	return c.JSON(status, APIError{Detail: detail})
}

// AppError renders an *apperrors.Error using its own Status()/Detail,
// setting Retry-After when the error carries one.
func AppError(c echo.Context, err *apperrors.Error) error {
	if err.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	return Detail(c, err.Status(), err.Detail)
}
