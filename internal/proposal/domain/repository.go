package domain

import (
	"context"
)

// ProposalRepository 提案仓储接口
type ProposalRepository interface {
	// Create 持久化一个 pending 提案，返回提案 ID
	Create(ctx context.Context, p Proposal) (string, error)
	// Get 不存在时返回 ErrProposalNotFound
	Get(ctx context.Context, id string) (Proposal, error)
	// MarkExecuting pending -> executing，终态提案返回错误
	MarkExecuting(ctx context.Context, id string) error
	// MarkPending executing -> pending，主腿未产生订单号时恢复
	MarkPending(ctx context.Context, id string) error
	// MarkExecuted 记录主订单号与各腿结果
	MarkExecuted(ctx context.Context, id, orderID string, legs []OrderLeg) error
	// MarkRolledBack 记录回滚原因与各腿结果
	MarkRolledBack(ctx context.Context, id, reason string, legs []OrderLeg) error
}

// SymbolLocker 交易对级互斥租约，在整个执行期间持有
type SymbolLocker interface {
	// Acquire 在 ctx 截止前获取租约，超时返回 ErrSymbolLocked
	Acquire(ctx context.Context, symbol string) (release func(context.Context) error, err error)
}

// EventPublisher 事件发布者接口
type EventPublisher interface {
	// PublishProposalExecuted 发布提案执行成功事件
	PublishProposalExecuted(ctx context.Context, event ProposalExecutedEvent) error
	// PublishProposalRolledBack 发布提案回滚事件
	PublishProposalRolledBack(ctx context.Context, event ProposalRolledBackEvent) error
}
