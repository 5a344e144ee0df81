// Package exchange 提供交易所端口的 Binance USDⓈ-M 合约实现
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/metrics"
	"github.com/wyfcoding/proposalengine/pkg/ratelimit"
)

// Config 交易所客户端配置
type Config struct {
	APIKey            string
	APISecret         string
	Testnet           bool
	BaseURL           string // 非空时覆盖默认地址
	RequestsPerSecond float64
	Burst             int
	CallTimeout       time.Duration
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

// BinanceFuturesGateway 实现 domain.ExchangeGateway。所有调用经过限流、超时与熔断。
type BinanceFuturesGateway struct {
	client   *futures.Client
	throttle *ratelimit.Throttle
	breaker  *gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
	timeout  time.Duration
}

var _ domain.ExchangeGateway = (*BinanceFuturesGateway)(nil)

// NewBinanceFuturesGateway 创建合约网关
func NewBinanceFuturesGateway(cfg Config, m *metrics.Metrics) *BinanceFuturesGateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "binance-futures",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isBusinessError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &BinanceFuturesGateway{
		client:   client,
		throttle: ratelimit.NewThrottle(cfg.RequestsPerSecond, cfg.Burst),
		breaker:  breaker,
		metrics:  m,
		timeout:  cfg.CallTimeout,
	}
}

// call 对一次交易所请求施加限流、超时、熔断与指标
func call[T any](ctx context.Context, g *BinanceFuturesGateway, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	if err := g.throttle.Wait(ctx); err != nil {
		g.metrics.ObserveExchangeCall(name, start, err)
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	g.metrics.ObserveExchangeCall(name, start, err)
	if err != nil {
		logger.Debug(ctx, "Exchange call failed", "call", name, "error", err)
		return zero, fmt.Errorf("%s: %w", name, mapError(err))
	}
	return out.(T), nil
}

// isBusinessError 交易所返回了业务错误码，说明链路可用，不计入熔断
func isBusinessError(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code != 0
}

// mapError 交易所业务错误转换为 domain.ExchangeError，熔断打开转换为 ErrExchangeUnavailable
func mapError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &domain.ExchangeError{Code: apiErr.Code, Message: apiErr.Message}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.WrapError(domain.CodeExchangeUnavailable, "circuit breaker open", err)
	}
	return err
}

// Ping 检查连通性
func (g *BinanceFuturesGateway) Ping(ctx context.Context) error {
	_, err := call(ctx, g, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.client.NewPingService().Do(ctx)
	})
	return err
}

// GetAccountBalances 返回合约账户余额，asset 非空时只返回该资产
func (g *BinanceFuturesGateway) GetAccountBalances(ctx context.Context, asset string) ([]domain.Balance, error) {
	raw, err := call(ctx, g, "balance", func(ctx context.Context) ([]*futures.Balance, error) {
		return g.client.NewGetBalanceService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	balances := make([]domain.Balance, 0, len(raw))
	for _, b := range raw {
		if asset != "" && b.Asset != asset {
			continue
		}
		balances = append(balances, domain.Balance{
			Asset:     b.Asset,
			Total:     parseDecimal(b.Balance),
			Available: parseDecimal(b.AvailableBalance),
		})
	}
	return balances, nil
}

// GetPositions 返回交易对的持仓
func (g *BinanceFuturesGateway) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	symbol = domain.NormalizeSymbol(symbol)
	raw, err := call(ctx, g, "position_risk", func(ctx context.Context) ([]*futures.PositionRisk, error) {
		return g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		lev, _ := strconv.Atoi(p.Leverage)
		positions = append(positions, domain.Position{
			Symbol:     p.Symbol,
			Qty:        parseDecimal(p.PositionAmt),
			EntryPrice: parseDecimal(p.EntryPrice),
			MarkPrice:  parseDecimal(p.MarkPrice),
			Leverage:   lev,
		})
	}
	return positions, nil
}

// GetOpenOrders 返回交易对的全部挂单
func (g *BinanceFuturesGateway) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	symbol = domain.NormalizeSymbol(symbol)
	raw, err := call(ctx, g, "open_orders", func(ctx context.Context) ([]*futures.Order, error) {
		return g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.OpenOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, domain.OpenOrder{
			OrderID: strconv.FormatInt(o.OrderID, 10),
			Type:    string(o.Type),
			Side:    fromSide(o.Side),
		})
	}
	return orders, nil
}

// GetSymbolFilters 从 exchangeInfo 中解析交易规则
func (g *BinanceFuturesGateway) GetSymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	symbol = domain.NormalizeSymbol(symbol)
	info, err := call(ctx, g, "exchange_info", func(ctx context.Context) (*futures.ExchangeInfo, error) {
		return g.client.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return domain.SymbolFilters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return parseSymbolFilters(symbol, s.Filters)
		}
	}
	return domain.SymbolFilters{}, domain.NewError(domain.CodeConfiguration, "unknown symbol "+symbol)
}

// GetQuote 返回最优买卖价
func (g *BinanceFuturesGateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	raw, err := call(ctx, g, "book_ticker", func(ctx context.Context) ([]*futures.BookTicker, error) {
		return g.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	for _, t := range raw {
		if t.Symbol == symbol {
			return domain.Quote{Bid: parseDecimal(t.BidPrice), Ask: parseDecimal(t.AskPrice)}, nil
		}
	}
	return domain.Quote{}, fmt.Errorf("book_ticker: no quote for %s", symbol)
}

// SetMarginType 设置保证金模式
func (g *BinanceFuturesGateway) SetMarginType(ctx context.Context, symbol string, mode domain.MarginType) error {
	symbol = domain.NormalizeSymbol(symbol)
	_, err := call(ctx, g, "margin_type", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginType(mode)).Do(ctx)
	})
	return err
}

// SetLeverage 设置杠杆倍数
func (g *BinanceFuturesGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	symbol = domain.NormalizeSymbol(symbol)
	_, err := call(ctx, g, "leverage", func(ctx context.Context) (*futures.SymbolLeverage, error) {
		return g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	})
	return err
}

// PlaceLimitOrder GTC 限价单
func (g *BinanceFuturesGateway) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty, price decimal.Decimal) (domain.OrderAck, error) {
	symbol = domain.NormalizeSymbol(symbol)
	return g.createOrder(ctx, "order_limit", func() *futures.CreateOrderService {
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toSide(side)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(qty.String()).
			Price(price.String())
	})
}

// PlaceMarketOrder 市价单
func (g *BinanceFuturesGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderAck, error) {
	symbol = domain.NormalizeSymbol(symbol)
	return g.createOrder(ctx, "order_market", func() *futures.CreateOrderService {
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toSide(side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty.String())
	})
}

// PlaceStopOrder 按标记价格触发的 STOP_MARKET 全平仓单
func (g *BinanceFuturesGateway) PlaceStopOrder(ctx context.Context, symbol string, side domain.Side, stopPrice decimal.Decimal) (domain.OrderAck, error) {
	symbol = domain.NormalizeSymbol(symbol)
	return g.createOrder(ctx, "order_stop", func() *futures.CreateOrderService {
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toSide(side)).
			Type(futures.OrderTypeStopMarket).
			StopPrice(stopPrice.String()).
			WorkingType(futures.WorkingTypeMarkPrice).
			ClosePosition(true)
	})
}

// PlaceTakeProfitOrder 只减仓的 TAKE_PROFIT 限价单，触发价与委托价相同
func (g *BinanceFuturesGateway) PlaceTakeProfitOrder(ctx context.Context, symbol string, side domain.Side, qty, price decimal.Decimal) (domain.OrderAck, error) {
	symbol = domain.NormalizeSymbol(symbol)
	return g.createOrder(ctx, "order_take_profit", func() *futures.CreateOrderService {
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toSide(side)).
			Type(futures.OrderTypeTakeProfit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(qty.String()).
			Price(price.String()).
			StopPrice(price.String()).
			WorkingType(futures.WorkingTypeMarkPrice).
			ReduceOnly(true)
	})
}

func (g *BinanceFuturesGateway) createOrder(ctx context.Context, name string, build func() *futures.CreateOrderService) (domain.OrderAck, error) {
	res, err := call(ctx, g, name, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return build().Do(ctx)
	})
	if err != nil {
		return domain.OrderAck{}, err
	}
	if res == nil || res.OrderID == 0 {
		return domain.OrderAck{}, nil
	}
	return domain.OrderAck{OrderID: strconv.FormatInt(res.OrderID, 10), Status: string(res.Status)}, nil
}

// CancelOrder 撤销单个挂单
func (g *BinanceFuturesGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	symbol = domain.NormalizeSymbol(symbol)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.WrapError(domain.CodeInvalidInput, "invalid order id "+orderID, err)
	}
	_, err = call(ctx, g, "cancel_order", func(ctx context.Context) (*futures.CancelOrderResponse, error) {
		return g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	return err
}

// CancelAllOrders 撤销交易对的全部挂单
func (g *BinanceFuturesGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	_, err := call(ctx, g, "cancel_all", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	return err
}

func toSide(s domain.Side) futures.SideType {
	if s == domain.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func fromSide(s futures.SideType) domain.Side {
	if s == futures.SideTypeSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func parseDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
