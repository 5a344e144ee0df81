package domain

import (
	"github.com/shopspring/decimal"
)

// SymbolFilters 交易对的价格/数量约束，来自交易所 exchangeInfo。
// MaxPrice、MaxQty 为零表示没有上限；TickSize 为零表示缺少 PRICE_FILTER，StepSize 为零表示缺少 LOT_SIZE。
type SymbolFilters struct {
	Symbol      string          `json:"symbol"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// RoundPrice 将价格向下截断到 tickSize 的整数倍，再限制在 [minPrice, maxPrice] 内
func RoundPrice(price decimal.Decimal, f SymbolFilters) (decimal.Decimal, error) {
	if !f.TickSize.IsPositive() {
		return decimal.Zero, NewConfigurationError("PRICE_FILTER")
	}
	p := floorToStep(price, f.TickSize)
	if p.LessThan(f.MinPrice) {
		p = f.MinPrice
	}
	if f.MaxPrice.IsPositive() && p.GreaterThan(f.MaxPrice) {
		p = f.MaxPrice
	}
	return p, nil
}

// RoundQty 计算交易所可接受的数量：
// 先补足 minQty，名义价值不足 minNotional 时按 minNotional/price 补足，
// 再向下截断到 stepSize 的整数倍，最后限制在 [minQty, maxQty] 内。
func RoundQty(price, qty decimal.Decimal, f SymbolFilters) (decimal.Decimal, error) {
	if !f.StepSize.IsPositive() {
		return decimal.Zero, NewConfigurationError("LOT_SIZE")
	}
	q := qty
	if q.LessThan(f.MinQty) {
		q = f.MinQty
	}
	if f.MinNotional.IsPositive() && price.IsPositive() && price.Mul(q).LessThan(f.MinNotional) {
		q = f.MinNotional.DivRound(price, 16)
	}
	q = floorToStep(q, f.StepSize)
	if q.LessThan(f.MinQty) {
		q = f.MinQty
	}
	if f.MaxQty.IsPositive() && q.GreaterThan(f.MaxQty) {
		q = f.MaxQty
	}
	return q, nil
}

// floorToStep 以 step 为粒度向下取整
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}
