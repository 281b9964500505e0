package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return NewFromDialer(func() (redis.Conn, error) {
		return redis.Dial("tcp", s.Addr())
	})
}

func TestPool_SetGetDel(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	if _, ok, err := p.GetBytes(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := p.SetEX(ctx, "k", 60, []byte("v")); err != nil {
		t.Fatalf("setex: %v", err)
	}
	v, ok, err := p.GetBytes(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected hit v, got %q ok=%v err=%v", v, ok, err)
	}

	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := p.GetBytes(ctx, "k"); ok {
		t.Fatalf("expected miss after del")
	}
}

func TestPool_IncrWithTTLIncrementsFromOne(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		v, err := p.IncrWithTTL(ctx, "counter", 60)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestPool_ListOps(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := p.LPush(ctx, "list", []byte(v)); err != nil {
			t.Fatalf("lpush: %v", err)
		}
	}
	n, err := p.LLen(ctx, "list")
	if err != nil || n != 3 {
		t.Fatalf("expected len 3, got %d err=%v", n, err)
	}
	// LPUSH pushes to the head, so RPOP drains oldest-first: a, b, c.
	for _, want := range []string{"a", "b", "c"} {
		v, ok, err := p.RPop(ctx, "list")
		if err != nil || !ok || string(v) != want {
			t.Fatalf("expected %q, got %q ok=%v err=%v", want, v, ok, err)
		}
	}
	if _, ok, _ := p.RPop(ctx, "list"); ok {
		t.Fatalf("expected empty list")
	}
}
