package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	rc, err := New(Config{Host: mr.Host(), Port: port, MaxPoolSize: 2, ConnTimeout: 1, ReadTimeout: 1, WriteTimeout: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	type filters struct {
		Symbol   string `json:"symbol"`
		TickSize string `json:"tick_size"`
	}
	var got filters
	ok, err := rc.GetJSON(ctx, "proposal:filters:BTCUSDT", &got)
	if err != nil || ok {
		t.Fatalf("miss = %v, %v", ok, err)
	}

	if err := rc.SetJSON(ctx, "proposal:filters:BTCUSDT", filters{"BTCUSDT", "0.10"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	ok, err = rc.GetJSON(ctx, "proposal:filters:BTCUSDT", &got)
	if err != nil || !ok || got.TickSize != "0.10" {
		t.Fatalf("hit = %+v, %v, %v", got, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := rc.GetJSON(ctx, "proposal:filters:BTCUSDT", &got); ok {
		t.Fatal("entry should expire")
	}
}

func TestLeaseOwnership(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := rc.SetNX(ctx, "proposal:lease:BTCUSDT", "token-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	if ok, _ := rc.SetNX(ctx, "proposal:lease:BTCUSDT", "token-b", time.Minute); ok {
		t.Fatal("second holder acquired the lease")
	}
	if released, _ := rc.ReleaseIfOwner(ctx, "proposal:lease:BTCUSDT", "token-b"); released {
		t.Fatal("non-owner released the lease")
	}
	released, err := rc.ReleaseIfOwner(ctx, "proposal:lease:BTCUSDT", "token-a")
	if err != nil || !released {
		t.Fatalf("owner release = %v, %v", released, err)
	}
	if mr.Exists("proposal:lease:BTCUSDT") {
		t.Fatal("lease key still present")
	}
}

func TestPing(t *testing.T) {
	rc, mr := newTestCache(t)
	if err := rc.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := rc.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure after shutdown")
	}
}
