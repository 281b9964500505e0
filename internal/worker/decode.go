package worker

import (
	"time"

	"github.com/pulsegrid/pulsegrid/internal/model"
	"github.com/pulsegrid/pulsegrid/internal/wire"
)

// decodeQueueItem reverses internal/ingest's encode.go: queue bytes ->
// wire.QueueItem -> wire.LogEventPayload -> model.LogEvent. Lives here (not
// in internal/wire) for the same reason the encode side lives in
// internal/ingest: internal/wire stays free of a model dependency.
func decodeQueueItem(raw []byte) (*model.LogEvent, error) {
	item, err := wire.DecodeQueueItem(raw)
	if err != nil {
		return nil, err
	}
	p, err := wire.DecodeLogEventPayload(item.Payload)
	if err != nil {
		return nil, err
	}
	return &model.LogEvent{
		ProjectID:        p.ProjectID,
		Timestamp:        time.UnixMilli(p.TimestampUnixMs).UTC(),
		IngestedAt:       time.UnixMilli(p.IngestedAtUnixMs).UTC(),
		Level:            model.Level(p.Level),
		LogType:          model.LogType(p.LogType),
		Importance:       model.Importance(p.Importance),
		Environment:      p.Environment,
		Release:          p.Release,
		Message:          p.Message,
		ErrorType:        p.ErrorType,
		ErrorMessage:     p.ErrorMessage,
		StackTrace:       p.StackTrace,
		Attributes:       p.Attributes,
		SDKVersion:       p.SDKVersion,
		Platform:         p.Platform,
		PlatformVersion:  p.PlatformVersion,
		ProcessingTimeMs: p.ProcessingTimeMs,
		ErrorFingerprint: p.ErrorFingerprint,
	}, nil
}
