// Package mysql 提供提案仓储的 GORM 实现，MySQL 与 PostgreSQL 共用
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/db"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxReasonLen 与 reason 列 varchar(512) 一致，按字符计
const maxReasonLen = 512

// IDGenerator 提案 ID 生成器
type IDGenerator interface {
	Next() string
}

// proposalRepositoryImpl 是 domain.ProposalRepository 接口的 GORM 实现
type proposalRepositoryImpl struct {
	db  *db.DB
	ids IDGenerator
}

// NewProposalRepository 创建提案仓储实例
func NewProposalRepository(database *db.DB, ids IDGenerator) domain.ProposalRepository {
	return &proposalRepositoryImpl{db: database, ids: ids}
}

// AutoMigrate 创建或更新 proposals 表
func AutoMigrate(database *db.DB) error {
	return database.AutoMigrate(&ProposalModel{})
}

// Create 实现 domain.ProposalRepository.Create
func (r *proposalRepositoryImpl) Create(ctx context.Context, p domain.Proposal) (string, error) {
	if p.Status != domain.StatusPending {
		return "", domain.NewTransitionError(p.ID, p.Status, domain.StatusPending)
	}
	p.ID = r.ids.Next()
	model, err := toModel(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode proposal: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		logger.Error(ctx, "proposal_repository.create failed", "proposal_id", p.ID, "error", err)
		return "", fmt.Errorf("failed to create proposal: %w", err)
	}
	return p.ID, nil
}

// Get 实现 domain.ProposalRepository.Get
func (r *proposalRepositoryImpl) Get(ctx context.Context, id string) (domain.Proposal, error) {
	var model ProposalModel
	if err := r.db.WithContext(ctx).Where("proposal_id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Proposal{}, domain.NewError(domain.CodeProposalNotFound, "proposal "+id+" not found")
		}
		logger.Error(ctx, "proposal_repository.get failed", "proposal_id", id, "error", err)
		return domain.Proposal{}, fmt.Errorf("failed to get proposal: %w", err)
	}
	return toDomain(&model)
}

// MarkExecuting 实现 domain.ProposalRepository.MarkExecuting
func (r *proposalRepositoryImpl) MarkExecuting(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusExecuting, nil)
}

// MarkPending 实现 domain.ProposalRepository.MarkPending
func (r *proposalRepositoryImpl) MarkPending(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPending, nil)
}

// MarkExecuted 实现 domain.ProposalRepository.MarkExecuted
func (r *proposalRepositoryImpl) MarkExecuted(ctx context.Context, id, orderID string, legs []domain.OrderLeg) error {
	encoded, err := json.Marshal(legs)
	if err != nil {
		return err
	}
	return r.transition(ctx, id, domain.StatusExecuted, map[string]interface{}{
		"exchange_order_id": orderID,
		"legs":              string(encoded),
	})
}

// MarkRolledBack 实现 domain.ProposalRepository.MarkRolledBack
func (r *proposalRepositoryImpl) MarkRolledBack(ctx context.Context, id, reason string, legs []domain.OrderLeg) error {
	encoded, err := json.Marshal(legs)
	if err != nil {
		return err
	}
	return r.transition(ctx, id, domain.StatusRolledBack, map[string]interface{}{
		"reason": truncateRunes(reason, maxReasonLen),
		"legs":   string(encoded),
	})
}

// transition 行锁读取当前状态，校验迁移后更新
func (r *proposalRepositoryImpl) transition(ctx context.Context, id string, to domain.Status, fields map[string]interface{}) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		var model ProposalModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("proposal_id = ?", id).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewError(domain.CodeProposalNotFound, "proposal "+id+" not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock proposal: %w", err)
		}

		from := domain.Status(model.Status)
		if !domain.CanTransition(from, to) {
			return domain.NewTransitionError(id, from, to)
		}

		updates := map[string]interface{}{"status": string(to)}
		for k, v := range fields {
			updates[k] = v
		}
		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			logger.Error(ctx, "proposal_repository.transition failed", "proposal_id", id, "to", to, "error", err)
			return fmt.Errorf("failed to update proposal: %w", err)
		}
		return nil
	})
}

// truncateRunes 按字符截断，避免截断半个 UTF-8 字符
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
