// Package memory 提供进程内的提案仓储，用于 driver=memory 与测试
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// IDGenerator 提案 ID 生成器
type IDGenerator interface {
	Next() string
}

type record struct {
	proposal domain.Proposal
	legs     []domain.OrderLeg
}

// ProposalRepository 基于 map 的仓储，所有读写都复制值
type ProposalRepository struct {
	mu    sync.RWMutex
	ids   IDGenerator
	items map[string]*record
}

var _ domain.ProposalRepository = (*ProposalRepository)(nil)

// NewProposalRepository 创建内存仓储
func NewProposalRepository(ids IDGenerator) *ProposalRepository {
	return &ProposalRepository{ids: ids, items: make(map[string]*record)}
}

// Create 实现 domain.ProposalRepository.Create
func (r *ProposalRepository) Create(ctx context.Context, p domain.Proposal) (string, error) {
	if p.Status != domain.StatusPending {
		return "", domain.NewTransitionError(p.ID, p.Status, domain.StatusPending)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.ids.Next()
	r.items[p.ID] = &record{proposal: p.WithStatus(p.Status)}
	return p.ID, nil
}

// Get 实现 domain.ProposalRepository.Get
func (r *ProposalRepository) Get(ctx context.Context, id string) (domain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return domain.Proposal{}, domain.NewError(domain.CodeProposalNotFound, "proposal "+id+" not found")
	}
	return rec.proposal.WithStatus(rec.proposal.Status), nil
}

// Legs 返回最近一次执行记录的各腿结果
func (r *ProposalRepository) Legs(id string) []domain.OrderLeg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.items[id]; ok {
		return append([]domain.OrderLeg(nil), rec.legs...)
	}
	return nil
}

// MarkExecuting 实现 domain.ProposalRepository.MarkExecuting
func (r *ProposalRepository) MarkExecuting(ctx context.Context, id string) error {
	return r.transition(id, domain.StatusExecuting, nil)
}

// MarkPending 实现 domain.ProposalRepository.MarkPending
func (r *ProposalRepository) MarkPending(ctx context.Context, id string) error {
	return r.transition(id, domain.StatusPending, nil)
}

// MarkExecuted 实现 domain.ProposalRepository.MarkExecuted
func (r *ProposalRepository) MarkExecuted(ctx context.Context, id, orderID string, legs []domain.OrderLeg) error {
	return r.transition(id, domain.StatusExecuted, func(rec *record) {
		rec.proposal.ExchangeOrderID = orderID
		rec.legs = append([]domain.OrderLeg(nil), legs...)
	})
}

// MarkRolledBack 实现 domain.ProposalRepository.MarkRolledBack
func (r *ProposalRepository) MarkRolledBack(ctx context.Context, id, reason string, legs []domain.OrderLeg) error {
	return r.transition(id, domain.StatusRolledBack, func(rec *record) {
		rec.proposal.Reason = reason
		rec.legs = append([]domain.OrderLeg(nil), legs...)
	})
}

func (r *ProposalRepository) transition(id string, to domain.Status, apply func(*record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[id]
	if !ok {
		return domain.NewError(domain.CodeProposalNotFound, "proposal "+id+" not found")
	}
	if !domain.CanTransition(rec.proposal.Status, to) {
		return domain.NewTransitionError(id, rec.proposal.Status, to)
	}
	rec.proposal = rec.proposal.WithStatus(to)
	if apply != nil {
		apply(rec)
	}
	return nil
}
