package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"

	"github.com/pulsegrid/pulsegrid/internal/breaker"
	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
)

func newTestLimiter(t *testing.T) *Limiter {
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
	cfg := config.RateLimitConfig{
		PerMinuteDefault:    60,
		PerHourDefault:      1000,
		DailyQuotaDefault:   1000000,
		MinuteRetryAfterSec: 60,
		HourRetryAfterSec:   3600,
	}
	return New(pool, breakers, cfg)
}

func TestLimiter_AllowsWithinWindow(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "cred-a", 5, 100)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed, got rejected", i)
		}
	}
}

func TestLimiter_RejectsOverMinuteCeiling(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	var last Result
	for i := 0; i < 4; i++ {
		res, err := l.Check(ctx, "cred-b", 3, 100)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		last = res
	}
	if last.Allowed {
		t.Fatalf("expected the 4th call over a limit of 3/minute to be rejected")
	}
	if last.RetryAfterSec != 60 {
		t.Fatalf("expected minute retry-after, got %d", last.RetryAfterSec)
	}
}

func TestLimiter_RejectsOverHourCeilingEvenUnderMinuteLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	var last Result
	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "cred-c", 100, 2)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		last = res
	}
	if last.Allowed {
		t.Fatalf("expected hour ceiling of 2 to reject the 3rd call")
	}
	if !last.HourExceeded || last.RetryAfterSec != 3600 {
		t.Fatalf("expected hour-exceeded with 3600s retry-after, got %+v", last)
	}
}

func TestLimiter_HeadersReflectRemaining(t *testing.T) {
	l := newTestLimiter(t)
	res, err := l.Check(context.Background(), "cred-d", 10, 100)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	h := res.Headers()
	if h["X-RateLimit-Limit-Minute"] != "10" || h["X-RateLimit-Remaining-Minute"] != "9" {
		t.Fatalf("unexpected headers: %+v", h)
	}
}

func TestLimiter_HeadersIncludeResetOnAllowedResponse(t *testing.T) {
	l := newTestLimiter(t)
	res, err := l.Check(context.Background(), "cred-reset-ok", 10, 100)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	h := res.Headers()
	v, ok := h["X-RateLimit-Reset"]
	if !ok {
		t.Fatalf("expected X-RateLimit-Reset header, got %+v", h)
	}
	reset, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		t.Fatalf("expected X-RateLimit-Reset to be a unix timestamp, got %q: %v", v, err)
	}
	if reset <= time.Now().Unix() {
		t.Fatalf("expected X-RateLimit-Reset to be in the future, got %d", reset)
	}
}

func TestLimiter_HeadersIncludeResetOnRejectedResponse(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	var last Result
	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "cred-reset-429", 100, 2)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		last = res
	}
	if last.Allowed {
		t.Fatalf("expected the 3rd call over an hour ceiling of 2 to be rejected")
	}
	h := last.Headers()
	v, ok := h["X-RateLimit-Reset"]
	if !ok {
		t.Fatalf("expected X-RateLimit-Reset header on a 429 response, got %+v", h)
	}
	reset, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		t.Fatalf("expected X-RateLimit-Reset to be a unix timestamp, got %q: %v", v, err)
	}
	if reset <= time.Now().Unix() {
		t.Fatalf("expected X-RateLimit-Reset to be in the future, got %d", reset)
	}
}

func TestLimiter_CheckDailyQuota(t *testing.T) {
	l := newTestLimiter(t)
	if !l.CheckDailyQuota(context.Background(), 1, 100, 99) {
		t.Fatalf("expected usage under quota to pass")
	}
	if l.CheckDailyQuota(context.Background(), 1, 100, 100) {
		t.Fatalf("expected usage at quota to fail")
	}
}

func TestLimiter_ZeroLimitsFallBackToDefaults(t *testing.T) {
	l := newTestLimiter(t)
	res, err := l.Check(context.Background(), "cred-e", 0, 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.MinuteLimit != 60 || res.HourLimit != 1000 {
		t.Fatalf("expected configured defaults, got %+v", res)
	}
}
