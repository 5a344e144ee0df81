package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Origin 提案来源
type Origin string

const (
	OriginSignal     Origin = "signal"
	OriginStopLoss   Origin = "stop_loss"
	OriginTakeProfit Origin = "take_profit"
)

// Status 提案状态
type Status string

const (
	// StatusUnbuilt 构建完成但尚未持久化
	StatusUnbuilt    Status = ""
	StatusPending    Status = "pending"
	StatusExecuting  Status = "executing"
	StatusExecuted   Status = "executed"
	StatusRolledBack Status = "rolled_back"
)

// Terminal 终态不再执行
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusRolledBack
}

// 允许的状态迁移。executing -> executing 用于进程中断后重新执行。
var transitions = map[Status][]Status{
	StatusPending:   {StatusPending, StatusExecuting},
	StatusExecuting: {StatusExecuting, StatusPending, StatusExecuted, StatusRolledBack},
}

// CanTransition 判断 from -> to 是否合法，终态不能再迁移
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom 可以迁移到 to 的全部来源状态
func AllowedFrom(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusPending, StatusExecuting} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// EntryOrderType 入场单类型
type EntryOrderType string

const (
	EntryLimit  EntryOrderType = "LIMIT"
	EntryMarket EntryOrderType = "MARKET"
)

// Proposal 量化后的执行计划。按值传递，状态变化通过返回新值体现。
type Proposal struct {
	ID                string            `json:"id"`
	SourceID          string            `json:"source_id"`
	Origin            Origin            `json:"origin"`
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	EntryOrderType    EntryOrderType    `json:"entry_order_type,omitempty"`
	EntryPrice        decimal.Decimal   `json:"entry_price"`
	EntryQty          decimal.Decimal   `json:"entry_qty"`
	StopPrice         decimal.Decimal   `json:"stop_price"`
	StopQty           decimal.Decimal   `json:"stop_qty"`
	TakeProfitLadder  []TakeProfitLevel `json:"take_profit_ladder"`
	Leverage          int               `json:"leverage"`
	RiskExposureValue decimal.Decimal   `json:"risk_exposure_value"`
	Balance           decimal.Decimal   `json:"balance"`
	Status            Status            `json:"status"`
	Expiry            time.Time         `json:"expiry"`
	CreatedAt         time.Time         `json:"created_at"`
	// 执行成功后记录主订单号
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	// 回滚原因
	Reason string `json:"reason,omitempty"`
}

// WithStatus 返回状态已变更的副本
func (p Proposal) WithStatus(s Status) Proposal {
	p.Status = s
	p.TakeProfitLadder = append([]TakeProfitLevel(nil), p.TakeProfitLadder...)
	return p
}

// HasEntry 信号提案包含入场腿
func (p Proposal) HasEntry() bool {
	return p.Origin == OriginSignal
}

// HasStop 信号提案与止损脉冲包含止损腿
func (p Proposal) HasStop() bool {
	return p.Origin == OriginSignal || p.Origin == OriginStopLoss
}

// HasLadder 信号提案与止盈脉冲包含止盈阶梯
func (p Proposal) HasLadder() bool {
	return (p.Origin == OriginSignal || p.Origin == OriginTakeProfit) && len(p.TakeProfitLadder) > 0
}

// PrimaryLeg 决定提案是否执行成功的那条腿
func (p Proposal) PrimaryLeg() LegKind {
	switch p.Origin {
	case OriginStopLoss:
		return LegStop
	case OriginTakeProfit:
		return LegTakeProfit
	default:
		return LegEntry
	}
}

// LegKind 订单腿类别
type LegKind string

const (
	LegEntry      LegKind = "entry"
	LegStop       LegKind = "stop"
	LegTakeProfit LegKind = "take_profit"
)

// LegOutcome 单条腿的结果
type LegOutcome string

const (
	LegAccepted LegOutcome = "accepted"
	// LegBenign 交易所返回“会立即触发”，视为条件已满足
	LegBenign  LegOutcome = "benign"
	LegFailed  LegOutcome = "failed"
	LegSkipped LegOutcome = "skipped"
)

// OrderLeg 一次下单请求及其响应，只在单次执行内存在
type OrderLeg struct {
	Kind            LegKind         `json:"kind"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Outcome         LegOutcome      `json:"outcome"`
	Error           string          `json:"error,omitempty"`
}

// ExecutionStatus 执行结果
type ExecutionStatus string

const (
	ExecExecuted          ExecutionStatus = "executed"
	ExecBenignTrigger     ExecutionStatus = "benign_trigger"
	ExecRolledBack        ExecutionStatus = "rolled_back"
	ExecSetupError        ExecutionStatus = "setup_error"
	ExecAlreadyExecuted   ExecutionStatus = "already_executed"
	ExecAlreadyRolledBack ExecutionStatus = "already_rolled_back"
)

// ExecutionResult 一次执行的汇总
type ExecutionResult struct {
	ProposalID string          `json:"proposal_id"`
	Status     ExecutionStatus `json:"status"`
	Proposal   Proposal        `json:"proposal"`
	Legs       []OrderLeg      `json:"legs"`
	// 入场腿已被接受但保护腿失败，持仓可能没有止损保护
	UnprotectedPosition bool `json:"unprotected_position,omitempty"`
}
