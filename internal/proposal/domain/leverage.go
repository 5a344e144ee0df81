package domain

import (
	"github.com/shopspring/decimal"
)

// MaxExchangeLeverage 交易所允许的最大杠杆
const MaxExchangeLeverage = 125

// LeverageResolver 计算不超过请求值、且保证金可覆盖的最高杠杆。只做计算，不调用交易所。
type LeverageResolver struct {
	max int
}

// NewLeverageResolver max 非正或超过 125 时按 125 处理
func NewLeverageResolver(max int) LeverageResolver {
	if max < 1 || max > MaxExchangeLeverage {
		max = MaxExchangeLeverage
	}
	return LeverageResolver{max: max}
}

// Resolve 从 requested 开始递减，直到 qty*price*lev <= margin 或 lev == 1。
// 杠杆为 1 时保证金仍不足也不报错，由交易所的保证金校验兜底。
func (r LeverageResolver) Resolve(requested int, qty, price, availableMargin decimal.Decimal) int {
	lev := requested
	if lev > r.max {
		lev = r.max
	}
	if lev < 1 {
		lev = 1
	}
	notional := qty.Mul(price)
	for lev > 1 && notional.Mul(decimal.NewFromInt(int64(lev))).GreaterThan(availableMargin) {
		lev--
	}
	return lev
}
