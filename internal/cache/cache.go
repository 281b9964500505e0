// Package cache is the fast cache substrate spec.md §6 names: one redigo
// connection pool backing the credential cache, emergency credential cache,
// rate counters, per-project queues, pre-aggregated metrics, and the
// notification pub/sub bus. Every cache-shaped component in pulsegrid is
// built on the small helper set here rather than talking to redigo directly,
// grounded on luci-luci-go's server/quotabeta/quota.go pool-borrow pattern
// (redisconn.Get(ctx) -> conn, defer conn.Close()).
package cache

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/config"
)

// Pool wraps a *redis.Pool with the handful of operations pulsegrid's
// cache-shaped components need.
type Pool struct {
	pool *redis.Pool
}

// New builds a redigo pool against cfg. Dialing is lazy — redigo's pool only
// opens a connection when one is borrowed.
func New(cfg config.CacheConfig) *Pool {
	return &Pool{
		pool: &redis.Pool{
			MaxIdle:     cfg.MaxIdle,
			MaxActive:   cfg.MaxActive,
			IdleTimeout: 240 * time.Second,
			Wait:        true,
			Dial: func() (redis.Conn, error) {
				opts := []redis.DialOption{redis.DialConnectTimeout(2 * time.Second)}
				if cfg.Password != "" {
					opts = append(opts, redis.DialPassword(cfg.Password))
				}
				return redis.Dial("tcp", cfg.Addr, opts...)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

// NewFromDialer builds a Pool around an already-constructed dial function,
// used by tests to point at a miniredis instance.
func NewFromDialer(dial func() (redis.Conn, error)) *Pool {
	return &Pool{pool: &redis.Pool{MaxIdle: 10, MaxActive: 50, Wait: true, Dial: dial}}
}

// Get borrows a connection. Callers must Close it.
func (p *Pool) Get(ctx context.Context) (redis.Conn, error) {
	return p.pool.GetContext(ctx)
}

// Close shuts the pool down; called during process shutdown.
func (p *Pool) Close() error {
	return p.pool.Close()
}

// GetBytes returns the raw value for key, or (nil, false) on miss.
func (p *Pool) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()
	b, err := redis.Bytes(conn.Do("GET", key))
	if err == redis.ErrNil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// SetEX sets key to value with a TTL in seconds.
func (p *Pool) SetEX(ctx context.Context, key string, ttlSec int, value []byte) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("SETEX", key, ttlSec, value)
	return err
}

// Del removes a key. Used for invalidation tombstones.
func (p *Pool) Del(ctx context.Context, key string) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("DEL", key)
	return err
}

// IncrWithTTL atomically increments key and returns the new value, setting a TTL
// only the first time the key is created (NX-style, via a small Lua script
// so the increment and the conditional expiry are one round trip).
var incrWithTTLScript = redis.NewScript(1, `
local v = redis.call("INCR", KEYS[1])
if v == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return v
`)

func (p *Pool) IncrWithTTL(ctx context.Context, key string, ttlSec int) (int64, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return redis.Int64(incrWithTTLScript.Do(conn, key, ttlSec))
}

// LPush pushes a value onto the head of a list (used by internal/queue).
func (p *Pool) LPush(ctx context.Context, key string, value []byte) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("LPUSH", key, value)
	return err
}

// RPop pops from the tail of a list, or (nil, false) if empty.
func (p *Pool) RPop(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()
	b, err := redis.Bytes(conn.Do("RPOP", key))
	if err == redis.ErrNil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// LLen returns the length of a list.
func (p *Pool) LLen(ctx context.Context, key string) (int64, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return redis.Int64(conn.Do("LLEN", key))
}

// Publish publishes a message on a pub/sub channel (used by internal/notify).
func (p *Pool) Publish(ctx context.Context, channel string, payload []byte) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PUBLISH", channel, payload)
	return err
}

// NewPubSubConn borrows a dedicated connection wrapped for pub/sub. Callers
// own its lifecycle (it is held open for the duration of a subscription, so
// it is not returned to the pool via Close in the usual borrow/return sense
// — the caller calls Close when the subscription ends).
func (p *Pool) NewPubSubConn(ctx context.Context) (*redis.PubSubConn, error) {
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &redis.PubSubConn{Conn: conn}, nil
}
