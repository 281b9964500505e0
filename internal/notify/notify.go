// Package notify implements the notification bus and the local SSE fan-out
// hub of spec.md §4.2/§4.3: C3 publishes compact notifications to a Redis
// pub/sub channel named notifications:errors:{project_id} (spec.md §9 Open
// Question 2, fixed by this spec), and C2 multiplexes one subscription per
// project per gateway instance out to many bounded, drop-oldest-on-overflow
// per-client channels rendered as SSE frames via gin-contrib/sse.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/wire"
)

func channel(projectID int64) string {
	return fmt.Sprintf("notifications:errors:%d", projectID)
}

// Publisher is C3's side: fire-and-forget publish. A publish failure must
// never fail ingest (spec.md §4.3 step 5): Publish returns its error, and
// the ingest caller logs it without failing the request.
type Publisher struct {
	pool *cache.Pool
}

func NewPublisher(pool *cache.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// Publish encodes and publishes n. Errors are returned so the caller can log
// them, but per spec.md the caller must not fail the ingest response on
// error.
func (p *Publisher) Publish(ctx context.Context, n *wire.Notification) error {
	payload, err := wire.EncodeNotification(n)
	if err != nil {
		return err
	}
	return p.pool.Publish(ctx, channel(n.ProjectID), payload)
}

// clientBufferSize bounds each SSE client's channel; spec.md §5 forbids
// unbounded broadcast and requires per-client channels to drop-oldest on
// overflow so one slow client can never block the hub or its peers.
const clientBufferSize = 32

// client is one subscribed SSE connection.
type client struct {
	ch chan wire.Notification
}

// Hub is C2's local fan-out: one Redis subscription per project per gateway
// instance, multiplexed to N local clients.
type Hub struct {
	pool *cache.Pool

	mu       sync.Mutex
	projects map[int64]*projectSub
}

type projectSub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	cancel  context.CancelFunc
}

func NewHub(pool *cache.Pool) *Hub {
	return &Hub{pool: pool, projects: make(map[int64]*projectSub)}
}

// Subscribe registers a new SSE client for projectID, starting the Redis
// subscription for that project if this is the first subscriber. Returns a
// receive channel and an unsubscribe function the caller must invoke when
// the connection closes.
func (h *Hub) Subscribe(ctx context.Context, projectID int64) (<-chan wire.Notification, func()) {
	h.mu.Lock()
	sub, ok := h.projects[projectID]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		sub = &projectSub{clients: make(map[*client]struct{}), cancel: cancel}
		h.projects[projectID] = sub
		go h.pump(subCtx, projectID, sub)
	}
	h.mu.Unlock()

	c := &client{ch: make(chan wire.Notification, clientBufferSize)}
	sub.mu.Lock()
	sub.clients[c] = struct{}{}
	sub.mu.Unlock()

	unsubscribe := func() {
		sub.mu.Lock()
		delete(sub.clients, c)
		empty := len(sub.clients) == 0
		sub.mu.Unlock()
		if empty {
			h.mu.Lock()
			if h.projects[projectID] == sub {
				delete(h.projects, projectID)
				sub.cancel()
			}
			h.mu.Unlock()
		}
	}
	return c.ch, unsubscribe
}

// pump owns the Redis subscription for one project and fans decoded
// notifications out to every currently-registered client, dropping the
// oldest buffered item for any client whose channel is full rather than
// blocking (spec.md §4.2: "Delivery is fire-and-forget: drops on full client
// write buffer are acceptable and MUST NOT block the hub").
func (h *Hub) pump(ctx context.Context, projectID int64, sub *projectSub) {
	psc, err := h.pool.NewPubSubConn(ctx)
	if err != nil {
		return
	}
	defer psc.Close()

	if err := psc.Subscribe(channel(projectID)); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		psc.Conn.Close()
		close(done)
	}()

	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			n, err := wire.DecodeNotification(v.Data)
			if err != nil {
				continue
			}
			sub.mu.Lock()
			for c := range sub.clients {
				select {
				case c.ch <- *n:
				default:
					select {
					case <-c.ch:
					default:
					}
					select {
					case c.ch <- *n:
					default:
					}
				}
			}
			sub.mu.Unlock()
		case error:
			select {
			case <-done:
				return
			default:
				return
			}
		}
	}
}
