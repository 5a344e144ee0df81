package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
)

// LeaseStore 分布式租约所需的原子操作，由 cache.RedisCache 实现
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)
}

// RedisSymbolLocker 基于 SET NX PX 的跨实例租约，释放时校验持有者
type RedisSymbolLocker struct {
	store LeaseStore
	ttl   time.Duration
	poll  time.Duration
}

var _ domain.SymbolLocker = (*RedisSymbolLocker)(nil)

// NewRedisSymbolLocker ttl 需覆盖一次完整执行
func NewRedisSymbolLocker(store LeaseStore, ttl time.Duration) *RedisSymbolLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisSymbolLocker{store: store, ttl: ttl, poll: 100 * time.Millisecond}
}

func leaseKey(symbol string) string {
	return "proposal:lease:" + symbol
}

// Acquire 轮询 SETNX，直到成功或 ctx 结束
func (l *RedisSymbolLocker) Acquire(ctx context.Context, symbol string) (func(context.Context) error, error) {
	key := leaseKey(symbol)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.store.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func(rctx context.Context) error {
				released, err := l.store.ReleaseIfOwner(rctx, key, token)
				if err != nil {
					return err
				}
				if !released {
					logger.Warn(rctx, "Symbol lease expired before release", "symbol", symbol)
				}
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, domain.WrapError(domain.CodeSymbolLocked, "symbol "+symbol+" is being executed", ctx.Err())
		case <-ticker.C:
		}
	}
}
