package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/breaker"
	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/model"
)

type fakeAuthClient struct {
	calls int
	rec   model.CredentialRecord
	err   error
}

func (f *fakeAuthClient) ValidateCredential(ctx context.Context, credentialHash string) (model.CredentialRecord, error) {
	f.calls++
	return f.rec, f.err
}

func newTestCache(t *testing.T, auth AuthClient) (*Cache, *cache.Pool) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	pool := cache.NewFromDialer(func() (redis.Conn, error) {
		return redis.Dial("tcp", s.Addr())
	})
	breakers := breaker.NewRegistry(config.BreakerConfig{ConsecutiveFailureThreshold: 3, ErrorRateThreshold: 0.5, ErrorRateWindow: 4, CoolOffSec: 60, HalfOpenMaxProbes: 1})
	cacheCfg := config.CacheConfig{CredentialTTLSec: 300, EmergencyTTLSec: 600, NegativeCacheTTLSec: 5}
	return New(pool, auth, breakers, cacheCfg), pool
}

func TestCache_ResolveCachesOnSuccess(t *testing.T) {
	auth := &fakeAuthClient{rec: model.CredentialRecord{ProjectID: 42, AccountID: 7}}
	c, _ := newTestCache(t, auth)
	ctx := context.Background()

	rec, err := c.Resolve(ctx, "secret-token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.ProjectID != 42 {
		t.Fatalf("expected project 42, got %d", rec.ProjectID)
	}
	if auth.calls != 1 {
		t.Fatalf("expected 1 auth call, got %d", auth.calls)
	}

	// second resolve should hit the primary cache, not the auth client.
	if _, err := c.Resolve(ctx, "secret-token"); err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	if auth.calls != 1 {
		t.Fatalf("expected auth client not called again, got %d calls", auth.calls)
	}
}

func TestCache_ResolveNotFound(t *testing.T) {
	auth := &fakeAuthClient{err: ErrNotFound}
	c, _ := newTestCache(t, auth)

	_, err := c.Resolve(context.Background(), "bad-token")
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestCache_ResolveRevoked(t *testing.T) {
	auth := &fakeAuthClient{err: ErrRevoked}
	c, _ := newTestCache(t, auth)

	_, err := c.Resolve(context.Background(), "revoked-token")
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindRevoked {
		t.Fatalf("expected a revoked error, got %v", err)
	}
}

func TestCache_InvalidateBlocksResurrection(t *testing.T) {
	auth := &fakeAuthClient{rec: model.CredentialRecord{ProjectID: 1}}
	c, _ := newTestCache(t, auth)
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "tok"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := c.Invalidate(ctx, Hash("tok")); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	_, err := c.Resolve(ctx, "tok")
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindAuth {
		t.Fatalf("expected credential invalidated error, got %v", err)
	}
	if auth.calls != 1 {
		t.Fatalf("expected auth client not re-consulted while tombstoned, got %d calls", auth.calls)
	}
}

func TestCache_EmergencyMirrorServedWhileBreakerOpen(t *testing.T) {
	auth := &fakeAuthClient{rec: model.CredentialRecord{ProjectID: 99}}
	c, _ := newTestCache(t, auth)
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "tok"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	// force the auth dependency's breaker open, then simulate the primary
	// cache entry expiring: the resolve path must fall back to the
	// emergency mirror rather than calling the (now failing) auth client.
	for i := 0; i < 5; i++ {
		c.breaker.Allow()
		c.breaker.Failure()
	}
	if c.breaker.State() != breaker.Open {
		t.Fatalf("expected breaker open, got %s", c.breaker.State())
	}

	if err := c.pool.Del(ctx, primaryKey(Hash("tok"))); err != nil {
		t.Fatalf("del primary: %v", err)
	}

	rec, err := c.Resolve(ctx, "tok")
	if err != nil {
		t.Fatalf("expected emergency mirror hit, got err %v", err)
	}
	if rec.ProjectID != 99 {
		t.Fatalf("expected project 99 from emergency mirror, got %d", rec.ProjectID)
	}
}

func TestCache_TransientAuthErrorWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	auth := &fakeAuthClient{err: cause}
	c, _ := newTestCache(t, auth)

	_, err := c.Resolve(context.Background(), "tok")
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !errors.Is(ae, cause) {
		t.Fatalf("expected wrapped cause, got %v", ae.Unwrap())
	}
}
