package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

type mapCache struct {
	data   map[string][]byte
	getErr error
}

func (c *mapCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.getErr != nil {
		return false, c.getErr
	}
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

// countingGateway 只实现 GetSymbolFilters，其它方法不会被调用
type countingGateway struct {
	domain.ExchangeGateway
	calls int
}

func (g *countingGateway) GetSymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	g.calls++
	return domain.SymbolFilters{Symbol: symbol, TickSize: decimal.RequireFromString("0.1"), StepSize: decimal.RequireFromString("0.001")}, nil
}

func TestCachedFilterGateway(t *testing.T) {
	next := &countingGateway{}
	cache := &mapCache{data: map[string][]byte{}}
	g := NewCachedFilterGateway(next, cache, time.Minute)

	for i := 0; i < 3; i++ {
		f, err := g.GetSymbolFilters(context.Background(), "btcusdt")
		if err != nil {
			t.Fatalf("GetSymbolFilters: %v", err)
		}
		if !f.TickSize.Equal(decimal.RequireFromString("0.1")) {
			t.Fatalf("tick = %s", f.TickSize)
		}
	}
	if next.calls != 1 {
		t.Fatalf("exchange called %d times, want 1", next.calls)
	}
	if _, ok := cache.data["proposal:filters:BTCUSDT"]; !ok {
		t.Fatal("filters not cached under normalized symbol")
	}
}

func TestCachedFilterGatewayFallsThroughOnCacheError(t *testing.T) {
	next := &countingGateway{}
	g := NewCachedFilterGateway(next, &mapCache{data: map[string][]byte{}, getErr: errors.New("redis down")}, 0)

	if _, err := g.GetSymbolFilters(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("GetSymbolFilters: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("exchange called %d times", next.calls)
	}
}
