package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newReplica := func() *RedisRateLimiter {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewRedisRateLimiter(rdb)
	}
	a, b := newReplica(), newReplica()
	limit := Limit{Rate: 1, Period: time.Hour, Burst: 2}
	ctx := context.Background()

	for i, l := range []*RedisRateLimiter{a, b} {
		res, err := l.Allow(ctx, "ratelimit:10.0.0.1", limit)
		if err != nil || !res.Allowed {
			t.Fatalf("request %d rejected: %+v %v", i, res, err)
		}
	}
	res, err := a.Allow(ctx, "ratelimit:10.0.0.1", limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed || res.RetryAfter <= 0 {
		t.Fatalf("quota should be shared between instances: %+v", res)
	}

	res, _ = b.Allow(ctx, "ratelimit:10.0.0.2", limit)
	if !res.Allowed {
		t.Fatal("independent key throttled")
	}
}

func TestRedisRateLimiterUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	l := NewRedisRateLimiter(rdb)
	mr.Close()

	if _, err := l.Allow(context.Background(), "k", Limit{Rate: 1, Period: time.Second, Burst: 1}); err == nil {
		t.Fatal("expected error when Redis is down")
	}
}
