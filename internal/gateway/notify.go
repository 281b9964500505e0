package gateway

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/response"
)

// handleNotificationStream implements GET /api/v1/notifications/stream: an
// SSE connection fanned out from C2's Hub, one frame per error-level
// notification for the caller's project.
func (s *Server) handleNotificationStream(c echo.Context) error {
	rec := credentialFrom(c)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ch, unsubscribe := s.deps.Hub.Subscribe(c.Request().Context(), rec.ProjectID)
	defer unsubscribe()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			ev := sse.Event{
				Event: "error_notification",
				Data: map[string]any{
					"project_id":    n.ProjectID,
					"fingerprint":   n.Fingerprint,
					"error_type":    n.ErrorType,
					"error_message": n.ErrorMessage,
					"timestamp":     n.Timestamp,
				},
			}
			if err := sse.Encode(w, ev); err != nil {
				return response.AppError(c, apperrors.Transient("sse encode failed", err))
			}
			w.Flush()
		}
	}
}
