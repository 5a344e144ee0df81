package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 交易所错误码
const (
	// ExchangeCodeImmediateTrigger 条件单会立即触发
	ExchangeCodeImmediateTrigger int64 = -2021
	// ExchangeCodeUnknownOrder 撤单时订单已不存在
	ExchangeCodeUnknownOrder int64 = -2011
	// ExchangeCodeNoNeedChangeMargin 保证金模式无需变更
	ExchangeCodeNoNeedChangeMargin int64 = -4046
)

// ExchangeError 交易所返回的业务错误
type ExchangeError struct {
	Code    int64
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// ExchangeErrorCode 取出错误链中的交易所错误码
func ExchangeErrorCode(err error) (int64, bool) {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Code, true
	}
	return 0, false
}

// IsImmediateTrigger 是否为可忽略的“会立即触发”错误
func IsImmediateTrigger(err error) bool {
	code, ok := ExchangeErrorCode(err)
	return ok && code == ExchangeCodeImmediateTrigger
}

// Balance 账户资产余额
type Balance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// Position 持仓，Qty 为负表示空头
type Position struct {
	Symbol     string          `json:"symbol"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	Leverage   int             `json:"leverage"`
}

// Side 持仓方向
func (p Position) Side() Side {
	if p.Qty.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// OpenOrder 挂单
type OpenOrder struct {
	OrderID string `json:"order_id"`
	Type    string `json:"type"`
	Side    Side   `json:"side"`
}

// Quote 盘口最优价
type Quote struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// MarginType 保证金模式
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// OrderAck 下单回执，OrderID 为空视为失败
type OrderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
}

// ExchangeGateway 交易所端口
type ExchangeGateway interface {
	Ping(ctx context.Context) error
	GetAccountBalances(ctx context.Context, asset string) ([]Balance, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	SetMarginType(ctx context.Context, symbol string, mode MarginType) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (OrderAck, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (OrderAck, error)
	// PlaceStopOrder 按标记价格触发的市价止损，触发后平掉整个持仓
	PlaceStopOrder(ctx context.Context, symbol string, side Side, stopPrice decimal.Decimal) (OrderAck, error)
	// PlaceTakeProfitOrder 只减仓的限价止盈，触发价与委托价相同
	PlaceTakeProfitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
}

// 挂单类型集合，用于按提案来源撤销冲突挂单
var (
	stopOrderTypes       = map[string]bool{"STOP": true, "STOP_MARKET": true}
	takeProfitOrderTypes = map[string]bool{"TAKE_PROFIT": true, "TAKE_PROFIT_MARKET": true}
)

// Protective 止损类挂单，撤销后持仓失去止损保护
func (o OpenOrder) Protective() bool {
	return stopOrderTypes[o.Type]
}

// ConflictsWith 挂单是否与该来源的提案冲突：信号撤销全部挂单，止损脉冲只撤止损单，止盈脉冲只撤止盈单
func (o OpenOrder) ConflictsWith(origin Origin) bool {
	switch origin {
	case OriginStopLoss:
		return stopOrderTypes[o.Type]
	case OriginTakeProfit:
		return takeProfitOrderTypes[o.Type]
	default:
		return true
	}
}
