package queue

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/cache"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	pool := cache.NewFromDialer(func() (redis.Conn, error) {
		return redis.Dial("tcp", s.Addr())
	})
	return New(pool)
}

func TestQueue_EnqueueDepthAndDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if d, err := q.Depth(ctx, 1); err != nil || d != 0 {
		t.Fatalf("expected empty queue, got depth=%d err=%v", d, err)
	}

	for _, item := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		if err := q.Enqueue(ctx, 1, item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if d, err := q.Depth(ctx, 1); err != nil || d != 3 {
		t.Fatalf("expected depth 3, got %d err=%v", d, err)
	}

	items, err := q.DequeueBatch(ctx, 1, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	// LPUSH prepends, so RPOP-based draining reads oldest-enqueued first.
	want := []string{"a", "b", "c"}
	for i, item := range items {
		if string(item) != want[i] {
			t.Fatalf("item %d: expected %q, got %q", i, want[i], item)
		}
	}

	if d, err := q.Depth(ctx, 1); err != nil || d != 0 {
		t.Fatalf("expected drained queue, got depth=%d err=%v", d, err)
	}
}

func TestQueue_DequeueBatchTimesOutOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	start := time.Now()
	items, err := q.DequeueBatch(context.Background(), 42, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected BRPOP to honor a sub-second timeout, took %v", elapsed)
	}
}

func TestQueue_DequeueBatchHonorsSubSecondDefaultFlushWait(t *testing.T) {
	q := newTestQueue(t)
	start := time.Now()
	items, err := q.DequeueBatch(context.Background(), 43, 10, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected the documented T_max=200ms default to bound the block-pop wait, took %v", elapsed)
	}
}

func TestQueue_DequeueBatchRespectsMaxItems(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, 7, []byte{byte(i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	items, err := q.DequeueBatch(ctx, 7, 2, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items capped by maxItems, got %d", len(items))
	}
	if d, err := q.Depth(ctx, 7); err != nil || d != 3 {
		t.Fatalf("expected 3 remaining, got %d err=%v", d, err)
	}
}

func TestQueue_DiscoverProjectsListsNonEmptyQueues(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for _, id := range []int64{10, 20, 30} {
		if err := q.Enqueue(ctx, id, []byte("x")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ids, err := q.DiscoverProjects(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []int64{10, 20, 30}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
