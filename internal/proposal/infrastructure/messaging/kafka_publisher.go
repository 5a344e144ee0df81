// Package messaging 将提案领域事件发布到 Kafka
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// 事件类型
const (
	EventProposalExecuted   = "ProposalExecuted"
	EventProposalRolledBack = "ProposalRolledBack"
)

// MessageSender 由 mq.KafkaProducer 实现
type MessageSender interface {
	SendMessage(ctx context.Context, topic, key string, value interface{}) error
}

// Envelope 事件外层结构
type Envelope struct {
	EventType  string      `json:"event_type"`
	ProposalID string      `json:"proposal_id"`
	Symbol     string      `json:"symbol"`
	OccurredOn time.Time   `json:"occurred_on"`
	Payload    interface{} `json:"payload"`
}

// KafkaEventPublisher 实现 domain.EventPublisher，按交易对分区保证同一交易对事件有序
type KafkaEventPublisher struct {
	sender MessageSender
	topic  string
}

var _ domain.EventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher 创建事件发布者
func NewKafkaEventPublisher(sender MessageSender, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{sender: sender, topic: topic}
}

// PublishProposalExecuted 发布提案执行成功事件
func (p *KafkaEventPublisher) PublishProposalExecuted(ctx context.Context, event domain.ProposalExecutedEvent) error {
	return p.publish(ctx, Envelope{
		EventType:  EventProposalExecuted,
		ProposalID: event.ProposalID,
		Symbol:     event.Symbol,
		OccurredOn: event.OccurredOn,
		Payload:    event,
	})
}

// PublishProposalRolledBack 发布提案回滚事件
func (p *KafkaEventPublisher) PublishProposalRolledBack(ctx context.Context, event domain.ProposalRolledBackEvent) error {
	return p.publish(ctx, Envelope{
		EventType:  EventProposalRolledBack,
		ProposalID: event.ProposalID,
		Symbol:     event.Symbol,
		OccurredOn: event.OccurredOn,
		Payload:    event,
	})
}

func (p *KafkaEventPublisher) publish(ctx context.Context, env Envelope) error {
	if err := p.sender.SendMessage(ctx, p.topic, env.Symbol, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	return nil
}
