// Package lock 提供交易对级执行租约
package lock

import (
	"context"
	"sync"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// LocalLocker 单进程租约，每个交易对一个容量为 1 的信号量
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ domain.SymbolLocker = (*LocalLocker)(nil)

// NewLocalLocker 创建进程内租约
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(symbol string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[symbol]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[symbol] = ch
	}
	return ch
}

// Acquire 等待直到获取租约或 ctx 结束
func (l *LocalLocker) Acquire(ctx context.Context, symbol string) (func(context.Context) error, error) {
	ch := l.slot(symbol)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.WrapError(domain.CodeSymbolLocked, "symbol "+symbol+" is being executed", ctx.Err())
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
