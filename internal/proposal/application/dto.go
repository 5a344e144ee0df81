package application

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// SignalCommand 入场信号请求，HTTP 与 Kafka 共用。价格可以是字符串或数字。
type SignalCommand struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol" binding:"required"`
	Side             string            `json:"side" binding:"required"`
	Entry            decimal.Decimal   `json:"entry"`
	Mark             decimal.Decimal   `json:"mark"`
	StopLoss         decimal.Decimal   `json:"stop_loss"`
	TakeProfitLevels []decimal.Decimal `json:"take_profit_levels"`
	Leverage         int               `json:"leverage"`
	Expiry           *time.Time        `json:"expiry"`
	MessageType      string            `json:"message_type"`
	Group            string            `json:"group"`
	Exchange         string            `json:"exchange"`
	Interval         string            `json:"interval"`
}

// ToSignal 转换为领域信号，方向兼容 LONG/SHORT
func (c SignalCommand) ToSignal() domain.Signal {
	side, _ := domain.ParseSide(c.Side)
	sig := domain.Signal{
		ID:               c.ID,
		Symbol:           c.Symbol,
		Side:             side,
		Entry:            c.Entry,
		Mark:             c.Mark,
		StopLoss:         c.StopLoss,
		TakeProfitLevels: c.TakeProfitLevels,
		Leverage:         c.Leverage,
		MessageType:      c.MessageType,
		Group:            c.Group,
		Exchange:         c.Exchange,
		Interval:         c.Interval,
	}
	if c.Expiry != nil {
		sig.Expiry = *c.Expiry
	}
	return sig
}

// PulseCommand 持仓调整请求
type PulseCommand struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol" binding:"required"`
	Side             string            `json:"side"`
	Group            string            `json:"group" binding:"required"`
	Mark             decimal.Decimal   `json:"mark"`
	StopLossPrice    decimal.Decimal   `json:"stop_loss_price"`
	TakeProfitLevels []decimal.Decimal `json:"take_profit_levels"`
	Expiry           *time.Time        `json:"expiry"`
	Exchange         string            `json:"exchange"`
	Interval         string            `json:"interval"`
}

// ToPulse 转换为领域脉冲。未知方向保留原值，由 Validate 拒绝。
func (c PulseCommand) ToPulse() domain.Pulse {
	side := domain.Side(c.Side)
	if parsed, ok := domain.ParseSide(c.Side); ok {
		side = parsed
	}
	p := domain.Pulse{
		ID:               c.ID,
		Symbol:           c.Symbol,
		Side:             side,
		Group:            parsePulseGroup(c.Group),
		Mark:             c.Mark,
		StopLossPrice:    c.StopLossPrice,
		TakeProfitLevels: c.TakeProfitLevels,
		Exchange:         c.Exchange,
		Interval:         c.Interval,
	}
	if c.Expiry != nil {
		p.Expiry = *c.Expiry
	}
	return p
}

// parsePulseGroup 兼容大小写与下划线写法，如 stop_loss -> STOP LOSS
func parsePulseGroup(s string) domain.PulseGroup {
	return domain.PulseGroup(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", " "))
}
