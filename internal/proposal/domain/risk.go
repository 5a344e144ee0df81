package domain

import (
	"github.com/shopspring/decimal"
)

// DefaultCascade 止盈阶梯的递减系数：每一级是上一级量化后数量的 30%
var DefaultCascade = decimal.NewFromFloat(0.3)

// TakeProfitLevel 止盈阶梯中的一级
type TakeProfitLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// RiskSizer 按固定风险比例计算仓位与止盈阶梯
type RiskSizer struct {
	cascade decimal.Decimal
}

// NewRiskSizer cascade 不在 (0,1) 内时使用 DefaultCascade
func NewRiskSizer(cascade decimal.Decimal) RiskSizer {
	if !cascade.IsPositive() || cascade.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		cascade = DefaultCascade
	}
	return RiskSizer{cascade: cascade}
}

// Cascade 返回递减系数
func (r RiskSizer) Cascade() decimal.Decimal {
	return r.cascade
}

// RiskExposureValue 单笔可承受的亏损金额
func (RiskSizer) RiskExposureValue(balance, riskPct decimal.Decimal) decimal.Decimal {
	return balance.Mul(riskPct)
}

// EntrySize 止损触发时恰好亏损 balance*riskPct 的仓位数量（未量化）
func (r RiskSizer) EntrySize(balance, riskPct, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decimal.Zero, NewError(CodeInvalidRiskInput, "balance must be positive")
	}
	if !riskPct.IsPositive() || riskPct.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, NewError(CodeInvalidRiskInput, "risk percentage must be in (0, 1]")
	}
	distance := entry.Sub(stop).Abs()
	if distance.IsZero() {
		return decimal.Zero, NewError(CodeInvalidRiskInput, "entry price equals stop price")
	}
	return r.RiskExposureValue(balance, riskPct).DivRound(distance, 16), nil
}

// TakeProfitLadder 生成止盈阶梯：第 0 级数量为 startQty，之后每级为上一级量化数量乘以递减系数。
// 价格与数量均经过量化；数量量化为零的级别被丢弃，价格非正（含量化后为零）的级别视为不存在。
func (r RiskSizer) TakeProfitLadder(startQty decimal.Decimal, prices []decimal.Decimal, f SymbolFilters) ([]TakeProfitLevel, error) {
	ladder := make([]TakeProfitLevel, 0, len(prices))
	raw := startQty
	for _, price := range prices {
		if !price.IsPositive() {
			continue
		}
		p, err := RoundPrice(price, f)
		if err != nil {
			return nil, err
		}
		// 不足一个 tick 的价格量化后为零，按缺省级别处理
		if !p.IsPositive() {
			continue
		}
		q := decimal.Zero
		if raw.IsPositive() {
			if q, err = RoundQty(p, raw, f); err != nil {
				return nil, err
			}
		}
		if q.IsPositive() {
			ladder = append(ladder, TakeProfitLevel{Price: p, Qty: q})
		}
		raw = q.Mul(r.cascade)
	}
	return ladder, nil
}

// CapLadder 截断阶梯，保证各级数量之和不超过 limit
func CapLadder(ladder []TakeProfitLevel, limit decimal.Decimal) []TakeProfitLevel {
	total := decimal.Zero
	for i, lvl := range ladder {
		total = total.Add(lvl.Qty)
		if total.GreaterThan(limit) {
			return ladder[:i]
		}
	}
	return ladder
}

// LadderQty 阶梯总数量
func LadderQty(ladder []TakeProfitLevel) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range ladder {
		total = total.Add(lvl.Qty)
	}
	return total
}
