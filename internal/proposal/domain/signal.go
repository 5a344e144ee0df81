package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析方向，兼容 BUY/LONG/SELL/SHORT
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return SideBuy, true
	case "sell", "short":
		return SideSell, true
	}
	return "", false
}

// Opposite 反方向，用于止损/止盈平仓单
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// NormalizeSymbol 大写并去掉永续合约的 PERP 后缀，如 BTCUSDTPERP -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "PERP")
}

// PulseGroup 脉冲类别
type PulseGroup string

const (
	PulseStopLoss       PulseGroup = "STOP LOSS"
	PulseTakeProfitList PulseGroup = "TAKE PROFIT LIST"
	PulseClosePosition  PulseGroup = "CLOSE POSITION"
)

// Signal 新的入场机会
type Signal struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol"`
	Side             Side              `json:"side"`
	Entry            decimal.Decimal   `json:"entry"`
	Mark             decimal.Decimal   `json:"mark"`
	StopLoss         decimal.Decimal   `json:"stop_loss"`
	TakeProfitLevels []decimal.Decimal `json:"take_profit_levels"`
	// 0 表示使用默认杠杆
	Leverage    int       `json:"leverage"`
	Expiry      time.Time `json:"expiry"`
	MessageType string    `json:"message_type"`
	Group       string    `json:"group"`
	Exchange    string    `json:"exchange"`
	Interval    string    `json:"interval"`
}

// Validate 校验入场信号的必填字段
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return NewError(CodeInvalidInput, "symbol is required")
	}
	if _, ok := ParseSide(string(s.Side)); !ok {
		return NewError(CodeInvalidInput, "side must be buy or sell")
	}
	if !s.Entry.IsPositive() {
		return NewError(CodeInvalidInput, "entry must be positive")
	}
	if !s.StopLoss.IsPositive() {
		return NewError(CodeInvalidInput, "stop_loss must be positive")
	}
	if s.Leverage < 0 {
		return NewError(CodeInvalidInput, "leverage must not be negative")
	}
	return nil
}

// Pulse 对已有持仓的调整，按 Group 填充止损价或止盈列表
type Pulse struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol"`
	Side             Side              `json:"side"`
	Group            PulseGroup        `json:"group"`
	Mark             decimal.Decimal   `json:"mark"`
	StopLossPrice    decimal.Decimal   `json:"stop_loss_price"`
	TakeProfitLevels []decimal.Decimal `json:"take_profit_levels"`
	Expiry           time.Time         `json:"expiry"`
	Exchange         string            `json:"exchange"`
	Interval         string            `json:"interval"`
}

// Validate 校验脉冲的必填字段
func (p Pulse) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return NewError(CodeInvalidInput, "symbol is required")
	}
	if p.Side != "" {
		if _, ok := ParseSide(string(p.Side)); !ok {
			return NewError(CodeInvalidInput, "side must be buy or sell")
		}
	}
	switch p.Group {
	case PulseStopLoss:
		if !p.StopLossPrice.IsPositive() {
			return NewError(CodeInvalidInput, "stop_loss_price must be positive")
		}
	case PulseTakeProfitList:
		if len(p.TakeProfitLevels) == 0 {
			return NewError(CodeInvalidInput, "take_profit_levels are required")
		}
	case PulseClosePosition:
	default:
		return NewError(CodeInvalidInput, "unknown pulse group: "+string(p.Group))
	}
	return nil
}

// IsExpired 到期时间非零且不晚于 now；零值表示永不过期
func IsExpired(expiry, now time.Time) bool {
	return !expiry.IsZero() && !now.Before(expiry)
}
