package exchange

import (
	"context"
	"time"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
)

// JSONCache 过滤器缓存所需的读写能力，由 cache.RedisCache 实现
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CachedFilterGateway 为 GetSymbolFilters 加一层缓存，其余调用直接透传
type CachedFilterGateway struct {
	domain.ExchangeGateway
	cache JSONCache
	ttl   time.Duration
}

// NewCachedFilterGateway ttl 为 0 时使用 10 分钟
func NewCachedFilterGateway(next domain.ExchangeGateway, cache JSONCache, ttl time.Duration) *CachedFilterGateway {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedFilterGateway{ExchangeGateway: next, cache: cache, ttl: ttl}
}

func filtersKey(symbol string) string {
	return "proposal:filters:" + symbol
}

// GetSymbolFilters 缓存读写失败只记录日志，不影响从交易所获取
func (g *CachedFilterGateway) GetSymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := filtersKey(symbol)

	var cached domain.SymbolFilters
	found, err := g.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		logger.Warn(ctx, "Filter cache read failed", "symbol", symbol, "error", err)
	}
	if found {
		return cached, nil
	}

	filters, err := g.ExchangeGateway.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return filters, err
	}
	if err := g.cache.SetJSON(ctx, key, filters, g.ttl); err != nil {
		logger.Warn(ctx, "Filter cache write failed", "symbol", symbol, "error", err)
	}
	return filters, nil
}
