package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// parseSymbolFilters 解析 exchangeInfo 的过滤器列表。PRICE_FILTER 与 LOT_SIZE 必须存在。
func parseSymbolFilters(symbol string, filters []map[string]interface{}) (domain.SymbolFilters, error) {
	out := domain.SymbolFilters{Symbol: symbol}
	var hasPrice, hasLot bool
	for _, f := range filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			hasPrice = true
			out.TickSize = filterValue(f, "tickSize")
			out.MinPrice = filterValue(f, "minPrice")
			out.MaxPrice = filterValue(f, "maxPrice")
		case "LOT_SIZE":
			hasLot = true
			out.StepSize = filterValue(f, "stepSize")
			out.MinQty = filterValue(f, "minQty")
			out.MaxQty = filterValue(f, "maxQty")
		case "MIN_NOTIONAL":
			// 合约接口使用 notional，现货使用 minNotional
			out.MinNotional = filterValue(f, "notional")
			if out.MinNotional.IsZero() {
				out.MinNotional = filterValue(f, "minNotional")
			}
		}
	}
	if !hasPrice {
		return out, domain.NewConfigurationError("PRICE_FILTER")
	}
	if !hasLot {
		return out, domain.NewConfigurationError("LOT_SIZE")
	}
	return out, nil
}

func filterValue(f map[string]interface{}, key string) decimal.Decimal {
	v, ok := f[key]
	if !ok || v == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(fmt.Sprint(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
