// Package consumer 从 Kafka 消费信号与脉冲
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/proposalengine/internal/proposal/application"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/mq"
)

// Submitter 由 application.ProposalService 实现
type Submitter interface {
	SubmitSignal(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error)
	SubmitPulse(ctx context.Context, pulse domain.Pulse) (domain.ExecutionResult, error)
}

// IngestHandler 把 Kafka 消息转换为用例调用。
// 返回错误的消息会被转入死信队列，因此只有可重放的失败才返回错误。
type IngestHandler struct {
	svc Submitter
}

// NewIngestHandler 创建消费处理器
func NewIngestHandler(svc Submitter) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// HandleSignal mq.Handler：处理入场信号消息
func (h *IngestHandler) HandleSignal(ctx context.Context, msg *mq.Message) error {
	var cmd application.SignalCommand
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		return fmt.Errorf("decode signal at offset %d: %w", msg.Offset, err)
	}
	res, err := h.svc.SubmitSignal(ctx, cmd.ToSignal())
	return h.settle(ctx, msg, res, err)
}

// HandlePulse mq.Handler：处理脉冲消息
func (h *IngestHandler) HandlePulse(ctx context.Context, msg *mq.Message) error {
	var cmd application.PulseCommand
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		return fmt.Errorf("decode pulse at offset %d: %w", msg.Offset, err)
	}
	res, err := h.svc.SubmitPulse(ctx, cmd.ToPulse())
	return h.settle(ctx, msg, res, err)
}

func (h *IngestHandler) settle(ctx context.Context, msg *mq.Message, res domain.ExecutionResult, err error) error {
	if err == nil {
		logger.Info(ctx, "Ingested message executed", "topic", msg.Topic, "offset", msg.Offset, "proposal_id", res.ProposalID, "status", res.Status)
		return nil
	}
	if !Replayable(err) {
		logger.Warn(ctx, "Ingested message rejected", "topic", msg.Topic, "offset", msg.Offset, "proposal_id", res.ProposalID, "error", err)
		return nil
	}
	return err
}

// Replayable 交易所不可达、设置失败或租约冲突等暂时性失败可以重放；
// 输入被拒绝或已回滚的提案重放没有意义
func Replayable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidRiskInput),
		errors.Is(err, domain.ErrExpiredProposal),
		errors.Is(err, domain.ErrNotImplemented),
		errors.Is(err, domain.ErrNoOpenPosition),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrExchangeLeg):
		return false
	}
	return true
}

// Run 阻塞消费一个主题直到 ctx 取消
func Run(ctx context.Context, consumer *mq.KafkaConsumer, handle mq.Handler, dlq *mq.DeadLetterQueue) error {
	defer consumer.Close()
	return consumer.Consume(ctx, handle, dlq)
}
