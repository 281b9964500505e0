package ingest

import (
	"context"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/model"
	"github.com/pulsegrid/pulsegrid/internal/notify"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/wire"
)

// Front is C3: validate, enrich, backpressure-check, enqueue, notify.
type Front struct {
	queue *queue.Queue
	pub   *notify.Publisher
	cfg   config.QueueConfig
	now   func() time.Time
}

func New(q *queue.Queue, pub *notify.Publisher, cfg config.QueueConfig) *Front {
	return &Front{queue: q, pub: pub, cfg: cfg, now: time.Now}
}

// IngestBatch runs every request item through validate->enrich->enqueue and
// returns a per-item Result. A single 0-length events slice or one exceeding
// MaxBatchSize is a caller error, rejected here with a validation error
// before any item is processed.
func (f *Front) IngestBatch(ctx context.Context, projectID int64, reqs []Request) (Result, error) {
	if len(reqs) == 0 {
		return Result{}, apperrors.Validation("batch must contain at least one event")
	}
	if len(reqs) > MaxBatchSize {
		return Result{}, apperrors.Validation("batch exceeds maximum of 1000 events")
	}

	depth, err := f.queue.Depth(ctx, projectID)
	if err != nil {
		return Result{}, apperrors.Transient("queue depth check failed", err)
	}
	if depth >= int64(f.cfg.DepthCeiling) {
		return Result{}, apperrors.QueueFull("queue at capacity, retry later", f.cfg.BackpressureRetryAfterSec)
	}

	res := Result{}
	for i, r := range reqs {
		event, verr := ToLogEvent(r)
		if verr != nil {
			res.Rejected++
			res.Rejections = append(res.Rejections, RejectedItem{Index: i, Reason: verr.Error()})
			continue
		}
		event.ProjectID = projectID
		f.enrich(event)

		if err := f.enqueue(ctx, event); err != nil {
			res.Rejected++
			res.Rejections = append(res.Rejections, RejectedItem{Index: i, Reason: "enqueue failed: " + err.Error()})
			continue
		}
		res.Accepted++

		if event.Level.IsErrorLevel() {
			f.notifyAsync(event)
		}
	}

	if res.Accepted == 0 {
		return res, apperrors.Validation("all events in batch were rejected")
	}
	return res, nil
}

// enrich implements spec.md §4.3 step 2: server timestamp and fingerprint.
func (f *Front) enrich(e *model.LogEvent) {
	e.IngestedAt = f.now().UTC()
	if e.ErrorType != "" {
		e.ErrorFingerprint = Fingerprint(e.ErrorType, e.StackTrace, e.Platform)
	}
}

func (f *Front) enqueue(ctx context.Context, e *model.LogEvent) error {
	payload, err := wire.EncodeLogEventPayload(toPayload(e))
	if err != nil {
		return err
	}
	item := &wire.QueueItem{ProjectID: e.ProjectID, EnqueuedAt: f.now().UTC(), Payload: payload}
	encoded, err := wire.EncodeQueueItem(item)
	if err != nil {
		return err
	}
	return f.queue.Enqueue(ctx, e.ProjectID, encoded)
}

// notifyAsync fires the notification publish without blocking or failing
// the ingest response on error (spec.md §4.3 step 5).
func (f *Front) notifyAsync(e *model.LogEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.pub.Publish(ctx, &wire.Notification{
			ProjectID:    e.ProjectID,
			Fingerprint:  e.ErrorFingerprint,
			ErrorType:    e.ErrorType,
			ErrorMessage: e.ErrorMessage,
			Timestamp:    e.Timestamp,
		})
	}()
}
