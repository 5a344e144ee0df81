// Package ratelimit 提供按 key 隔离的限流：Redis GCRA（多实例共享）与进程内令牌桶
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter 限流接口
type RateLimiter interface {
	// Allow 非阻塞检查 key 是否还有令牌
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流结果
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 redis_rate 的分布式限流，所有实例共享同一配额
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 检查 key 是否允许通过
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// LocalRateLimiter 按 key 维护独立令牌桶
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow 检查 key 是否允许通过
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	lim := l.get(key, limit)
	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &Result{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay}, nil
	}
	return &Result{Allowed: true, Remaining: int(lim.TokensAt(now))}, nil
}

func (l *LocalRateLimiter) get(key string, limit Limit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(perSecond(limit), limit.Burst)
		l.limiters[key] = lim
	}
	return lim
}

func perSecond(limit Limit) rate.Limit {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(limit.Rate) / limit.Period.Seconds())
}

// Throttle 阻塞式限流器，用于出站请求（如交易所 REST 权重）
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle 创建阻塞式限流器；rps <= 0 表示不限流
func NewThrottle(rps float64, burst int) *Throttle {
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(lim, burst)}
}

// Wait 等待令牌，ctx 取消或截止时间不足时返回错误
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
