// Package queue implements the per-project log queue of spec.md §3/§6: a
// Redis list per project (queue:logs:{project_id}), LPUSH on the ingest
// side, BRPOP-with-timeout on the drain side so a storage worker's blocking
// pop can still observe shutdown, and LLEN for depth checks and the
// /api/v1/queue/depth endpoint. Grounded on
// original_source/services/ingestion/ingestion_service/services/queue_service.py's
// key scheme and worker.py's "queue:logs:*" key scan for project discovery.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/cache"
)

const keyPrefix = "queue:logs:"

func Key(projectID int64) string {
	return keyPrefix + strconv.FormatInt(projectID, 10)
}

type Queue struct {
	pool *cache.Pool
}

func New(pool *cache.Pool) *Queue {
	return &Queue{pool: pool}
}

// Depth returns the current queue depth for a project, the "advisory" read
// spec.md §4.3 step 3 consults before enqueuing.
func (q *Queue) Depth(ctx context.Context, projectID int64) (int64, error) {
	return q.pool.LLen(ctx, Key(projectID))
}

// Enqueue pushes one encoded item onto the project's queue.
func (q *Queue) Enqueue(ctx context.Context, projectID int64, item []byte) error {
	return q.pool.LPush(ctx, Key(projectID), item)
}

// DiscoverProjects lists the project IDs with a non-empty queue, mirroring
// worker.py's `redis.keys("queue:logs:*")` project-discovery scan. Uses SCAN
// rather than KEYS so the drain loop never blocks the cache substrate on a
// large keyspace.
func (q *Queue) DiscoverProjects(ctx context.Context) ([]int64, error) {
	conn, err := q.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var cursor int64
	seen := make(map[int64]struct{})
	for {
		reply, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", keyPrefix+"*", "COUNT", 200))
		if err != nil {
			return nil, err
		}
		if len(reply) != 2 {
			return nil, fmt.Errorf("queue: unexpected SCAN reply shape")
		}
		cursor, err = redis.Int64(reply[0], nil)
		if err != nil {
			return nil, err
		}
		keys, err := redis.Strings(reply[1], nil)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			idStr := strings.TrimPrefix(k, keyPrefix)
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err == nil {
				seen[id] = struct{}{}
			}
		}
		if cursor == 0 {
			break
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// DequeueBatch pops up to maxItems from a project's queue, blocking on the
// first pop for up to maxWait so the drain loop's B_max/T_max flush trigger
// (spec.md §4.4) has real items to trigger on, then draining the rest
// non-blockingly until either maxItems is reached or the queue empties.
func (q *Queue) DequeueBatch(ctx context.Context, projectID int64, maxItems int, maxWait time.Duration) ([][]byte, error) {
	key := Key(projectID)
	items := make([][]byte, 0, maxItems)

	conn, err := q.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	timeout := maxWait.Seconds()
	if timeout <= 0 {
		timeout = 0.001
	}
	reply, err := redis.ByteSlices(conn.Do("BRPOP", key, strconv.FormatFloat(timeout, 'f', -1, 64)))
	if err != nil && err != redis.ErrNil {
		return nil, err
	}
	if len(reply) == 2 {
		items = append(items, reply[1])
	}

	for len(items) < maxItems {
		b, err := redis.Bytes(conn.Do("RPOP", key))
		if err == redis.ErrNil {
			break
		}
		if err != nil {
			return items, err
		}
		items = append(items, b)
	}
	return items, nil
}
