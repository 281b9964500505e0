package ingest

import (
	"github.com/pulsegrid/pulsegrid/internal/model"
	"github.com/pulsegrid/pulsegrid/internal/wire"
)

// toPayload converts a fully enriched LogEvent into the wire shape that
// crosses the queue boundary. Lives here (not in internal/wire) so the wire
// package stays free of a dependency on internal/model, per its own design
// note.
func toPayload(e *model.LogEvent) *wire.LogEventPayload {
	return &wire.LogEventPayload{
		ProjectID:        e.ProjectID,
		TimestampUnixMs:  e.Timestamp.UnixMilli(),
		IngestedAtUnixMs: e.IngestedAt.UnixMilli(),
		Level:            string(e.Level),
		LogType:          string(e.LogType),
		Importance:       string(e.Importance),
		Environment:      e.Environment,
		Release:          e.Release,
		Message:          e.Message,
		ErrorType:        e.ErrorType,
		ErrorMessage:     e.ErrorMessage,
		StackTrace:       e.StackTrace,
		Attributes:       e.Attributes,
		SDKVersion:       e.SDKVersion,
		Platform:         e.Platform,
		PlatformVersion:  e.PlatformVersion,
		ProcessingTimeMs: e.ProcessingTimeMs,
		ErrorFingerprint: e.ErrorFingerprint,
	}
}
