package domain

import (
	"time"
)

// ProposalExecutedEvent 提案执行成功事件
type ProposalExecutedEvent struct {
	ProposalID      string     `json:"proposal_id"`
	Origin          Origin     `json:"origin"`
	Symbol          string     `json:"symbol"`
	Side            Side       `json:"side"`
	ExchangeOrderID string     `json:"exchange_order_id"`
	Legs            []OrderLeg `json:"legs"`
	OccurredOn      time.Time  `json:"occurred_on"`
}

// ProposalRolledBackEvent 提案回滚事件
type ProposalRolledBackEvent struct {
	ProposalID          string     `json:"proposal_id"`
	Origin              Origin     `json:"origin"`
	Symbol              string     `json:"symbol"`
	Reason              string     `json:"reason"`
	UnprotectedPosition bool       `json:"unprotected_position"`
	Legs                []OrderLeg `json:"legs"`
	OccurredOn          time.Time  `json:"occurred_on"`
}
