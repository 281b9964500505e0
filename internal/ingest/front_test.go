package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/notify"
	"github.com/pulsegrid/pulsegrid/internal/queue"
)

func newTestFront(t *testing.T, cfg config.QueueConfig) (*Front, *queue.Queue, *cache.Pool) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	pool := cache.NewFromDialer(func() (redis.Conn, error) {
		return redis.Dial("tcp", s.Addr())
	})
	q := queue.New(pool)
	pub := notify.NewPublisher(pool)
	return New(q, pub, cfg), q, pool
}

func defaultQueueConfig() config.QueueConfig {
	return config.QueueConfig{DepthCeiling: 100000, BackpressureRetryAfterSec: 5, DeadLetterDepthMultiplier: 3}
}

func TestFront_IngestBatchAcceptsValidEvents(t *testing.T) {
	f, q, _ := newTestFront(t, defaultQueueConfig())
	ctx := context.Background()

	res, err := f.IngestBatch(ctx, 1, []Request{validRequest(), validRequest()})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Accepted != 2 || res.Rejected != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if d, derr := q.Depth(ctx, 1); derr != nil || d != 2 {
		t.Fatalf("expected 2 enqueued items, got depth=%d err=%v", d, derr)
	}
}

func TestFront_IngestBatchReportsPerItemRejections(t *testing.T) {
	f, _, _ := newTestFront(t, defaultQueueConfig())
	bad := validRequest()
	bad.Level = "not-a-level"

	res, err := f.IngestBatch(context.Background(), 1, []Request{validRequest(), bad})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Accepted != 1 || res.Rejected != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Index != 1 {
		t.Fatalf("unexpected rejections: %+v", res.Rejections)
	}
}

func TestFront_IngestBatchRejectsEmptyBatch(t *testing.T) {
	f, _, _ := newTestFront(t, defaultQueueConfig())
	if _, err := f.IngestBatch(context.Background(), 1, nil); err == nil {
		t.Fatalf("expected empty batch to be rejected")
	}
}

func TestFront_IngestBatchRejectsOversizeBatch(t *testing.T) {
	f, _, _ := newTestFront(t, defaultQueueConfig())
	reqs := make([]Request, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = validRequest()
	}
	if _, err := f.IngestBatch(context.Background(), 1, reqs); err == nil {
		t.Fatalf("expected batch over MaxBatchSize to be rejected")
	}
}

func TestFront_IngestBatchAllRejectedReturnsError(t *testing.T) {
	f, _, _ := newTestFront(t, defaultQueueConfig())
	bad := validRequest()
	bad.LogType = "unknown"
	res, err := f.IngestBatch(context.Background(), 1, []Request{bad})
	if err == nil {
		t.Fatalf("expected an error when every item in the batch is rejected")
	}
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Accepted != 0 {
		t.Fatalf("expected 0 accepted, got %d", res.Accepted)
	}
}

func TestFront_IngestBatchRejectsAtBackpressureCeiling(t *testing.T) {
	cfg := defaultQueueConfig()
	cfg.DepthCeiling = 1
	f, q, _ := newTestFront(t, cfg)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 2, []byte("occupying-slot")); err != nil {
		t.Fatalf("prime queue: %v", err)
	}

	_, err := f.IngestBatch(ctx, 2, []Request{validRequest()})
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindBackpressure {
		t.Fatalf("expected backpressure error, got %v", err)
	}
	if ae.RetryAfter != cfg.BackpressureRetryAfterSec {
		t.Fatalf("expected retry-after %d, got %d", cfg.BackpressureRetryAfterSec, ae.RetryAfter)
	}
}

func TestFront_IngestBatchFiresNotificationOnErrorLevel(t *testing.T) {
	f, _, pool := newTestFront(t, defaultQueueConfig())
	hub := notify.NewHub(pool)
	ch, unsubscribe := hub.Subscribe(context.Background(), 3)
	defer unsubscribe()
	time.Sleep(50 * time.Millisecond)

	_, err := f.IngestBatch(context.Background(), 3, []Request{validRequest()})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	select {
	case n := <-ch:
		if n.ErrorType != "ValueError" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error-level notification")
	}
}

func TestFront_IngestBatchSkipsNotificationOnNonErrorLevel(t *testing.T) {
	f, _, pool := newTestFront(t, defaultQueueConfig())
	hub := notify.NewHub(pool)
	ch, unsubscribe := hub.Subscribe(context.Background(), 4)
	defer unsubscribe()
	time.Sleep(50 * time.Millisecond)

	r := validRequest()
	r.Level = "info"
	if _, err := f.IngestBatch(context.Background(), 4, []Request{r}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	select {
	case n := <-ch:
		t.Fatalf("expected no notification for an info-level event, got %+v", n)
	case <-time.After(200 * time.Millisecond):
		// no notification, as expected.
	}
}
