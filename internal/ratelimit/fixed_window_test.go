package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, mr *miniredis.Miniredis, limit int) *FixedWindowLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	return limiter
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiter(t, miniredis.RunT(t), 2)
	if !limiter.Allow(ctx, "user-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "user-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "user-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "user-2") {
		t.Fatalf("other keys have their own quota")
	}
}

func TestFixedWindowLimiterNextWindow(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiter(t, miniredis.RunT(t), 1)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	if !limiter.Allow(ctx, "user-1") || limiter.Allow(ctx, "user-1") {
		t.Fatalf("expected one request per window")
	}
	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "user-1") {
		t.Fatalf("new window should reset the count")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newRedisLimiter(t, mr, 1)
	mr.Close()
	if limiter.Allow(context.Background(), "user-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil redis client")
	}
}

func TestLocalLimiterBurst(t *testing.T) {
	ctx := context.Background()
	limiter, err := NewLocalLimiter(3, time.Hour)
	if err != nil {
		t.Fatalf("new local limiter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "user-1") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if limiter.Allow(ctx, "user-1") {
		t.Fatalf("fourth request should be blocked")
	}
	if !limiter.Allow(ctx, "user-2") {
		t.Fatalf("other keys have their own bucket")
	}
}

var (
	_ Limiter = (*FixedWindowLimiter)(nil)
	_ Limiter = (*LocalLimiter)(nil)
)
