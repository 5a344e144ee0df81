package application

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

// PricePolicy 入场价格策略
type PricePolicy string

const (
	// PriceMarket 市价入场：买按卖一价估算，卖按买一价估算
	PriceMarket PricePolicy = "MARKET"
	// PriceLimit 以信号入场价挂限价单
	PriceLimit PricePolicy = "LIMIT"
	// PriceBestLimit 买挂买一价，卖挂卖一价
	PriceBestLimit PricePolicy = "BEST_LIMIT"
)

// ParsePricePolicy 未知值回落到 LIMIT
func ParsePricePolicy(s string) PricePolicy {
	switch PricePolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case PriceMarket:
		return PriceMarket
	case PriceBestLimit:
		return PriceBestLimit
	default:
		return PriceLimit
	}
}

// BuilderConfig 提案构建参数
type BuilderConfig struct {
	RiskPercentage  decimal.Decimal
	DefaultLeverage int
	MaxLeverage     int
	PricePolicy     PricePolicy
	EnforceExpiry   bool
	Cascade         decimal.Decimal
}

// ProposalBuilder 根据信号/脉冲与账户、行情快照构建量化后的提案
type ProposalBuilder struct {
	cfg      BuilderConfig
	sizer    domain.RiskSizer
	leverage domain.LeverageResolver
	repo     domain.ProposalRepository
	now      func() time.Time
}

// NewProposalBuilder 创建提案构建器
func NewProposalBuilder(cfg BuilderConfig, repo domain.ProposalRepository) *ProposalBuilder {
	if cfg.DefaultLeverage < 1 {
		cfg.DefaultLeverage = 1
	}
	return &ProposalBuilder{
		cfg:      cfg,
		sizer:    domain.NewRiskSizer(cfg.Cascade),
		leverage: domain.NewLeverageResolver(cfg.MaxLeverage),
		repo:     repo,
		now:      time.Now,
	}
}

// NeedsQuote 只有 MARKET 与 BEST_LIMIT 策略需要盘口报价
func (b *ProposalBuilder) NeedsQuote() bool {
	return b.cfg.PricePolicy == PriceMarket || b.cfg.PricePolicy == PriceBestLimit
}

// CheckFresh 启用到期校验时拒绝 expiry 不晚于当前时间的输入
func (b *ProposalBuilder) CheckFresh(kind string, expiry time.Time) error {
	if !b.cfg.EnforceExpiry || !domain.IsExpired(expiry, b.now()) {
		return nil
	}
	return domain.NewError(domain.CodeExpiredProposal, kind+" expired at "+expiry.UTC().Format(time.RFC3339))
}

// PrecheckSignal 无需行情即可判定的拒绝条件，在访问交易所之前调用
func (b *ProposalBuilder) PrecheckSignal(sig domain.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if err := b.CheckFresh("signal", sig.Expiry); err != nil {
		return err
	}
	if b.cfg.PricePolicy == PriceLimit && sig.Entry.Equal(sig.StopLoss) {
		return domain.NewError(domain.CodeInvalidRiskInput, "entry price equals stop loss")
	}
	return nil
}

// PrecheckPulse 同 PrecheckSignal，CLOSE POSITION 直接返回 NotImplemented
func (b *ProposalBuilder) PrecheckPulse(pulse domain.Pulse) error {
	if err := pulse.Validate(); err != nil {
		return err
	}
	if pulse.Group == domain.PulseClosePosition {
		return domain.NewError(domain.CodeNotImplemented, "CLOSE POSITION pulses are not supported")
	}
	return b.CheckFresh("pulse", pulse.Expiry)
}

// BuildFromSignal 由入场信号构建提案：定价、按风险计算仓位、解析杠杆、量化并生成止盈阶梯
func (b *ProposalBuilder) BuildFromSignal(sig domain.Signal, account domain.Balance, quote domain.Quote, filters domain.SymbolFilters) (domain.Proposal, error) {
	if err := sig.Validate(); err != nil {
		return domain.Proposal{}, err
	}
	now := b.now()
	if err := b.CheckFresh("signal", sig.Expiry); err != nil {
		return domain.Proposal{}, err
	}
	side, _ := domain.ParseSide(string(sig.Side))

	rawPrice, orderType, err := b.executionPrice(side, sig.Entry, quote)
	if err != nil {
		return domain.Proposal{}, err
	}
	entryPrice, err := domain.RoundPrice(rawPrice, filters)
	if err != nil {
		return domain.Proposal{}, err
	}
	stopPrice, err := domain.RoundPrice(sig.StopLoss, filters)
	if err != nil {
		return domain.Proposal{}, err
	}
	// 止损必须位于成交价的亏损一侧，相等时交给 EntrySize 报错
	if (side == domain.SideBuy && stopPrice.GreaterThan(entryPrice)) ||
		(side == domain.SideSell && stopPrice.LessThan(entryPrice)) {
		return domain.Proposal{}, domain.NewError(domain.CodeInvalidRiskInput, "stop loss is on the wrong side of entry")
	}

	size, err := b.sizer.EntrySize(account.Available, b.cfg.RiskPercentage, entryPrice, stopPrice)
	if err != nil {
		return domain.Proposal{}, err
	}
	entryQty, err := domain.RoundQty(entryPrice, size, filters)
	if err != nil {
		return domain.Proposal{}, err
	}

	ladder, err := b.ladder(entryQty, sig.TakeProfitLevels, filters)
	if err != nil {
		return domain.Proposal{}, err
	}

	requested := sig.Leverage
	if requested == 0 {
		requested = b.cfg.DefaultLeverage
	}

	return domain.Proposal{
		SourceID:          sig.ID,
		Origin:            domain.OriginSignal,
		Symbol:            domain.NormalizeSymbol(sig.Symbol),
		Side:              side,
		EntryOrderType:    orderType,
		EntryPrice:        entryPrice,
		EntryQty:          entryQty,
		StopPrice:         stopPrice,
		StopQty:           entryQty,
		TakeProfitLadder:  ladder,
		Leverage:          b.leverage.Resolve(requested, entryQty, entryPrice, account.Available),
		RiskExposureValue: b.sizer.RiskExposureValue(account.Available, b.cfg.RiskPercentage),
		Balance:           account.Available,
		Status:            domain.StatusUnbuilt,
		Expiry:            sig.Expiry,
		CreatedAt:         now,
	}, nil
}

// BuildFromPulse 由脉冲构建针对现有持仓的止损或止盈提案，数量取自交易所的实时持仓
func (b *ProposalBuilder) BuildFromPulse(pulse domain.Pulse, position domain.Position, filters domain.SymbolFilters) (domain.Proposal, error) {
	if err := b.PrecheckPulse(pulse); err != nil {
		return domain.Proposal{}, err
	}
	now := b.now()

	positionQty := position.Qty.Abs()
	if positionQty.IsZero() {
		return domain.Proposal{}, domain.NewError(domain.CodeNoOpenPosition, "no open position for "+pulse.Symbol)
	}
	side := position.Side()
	if pulse.Side != "" {
		side, _ = domain.ParseSide(string(pulse.Side))
	}

	p := domain.Proposal{
		SourceID:   pulse.ID,
		Symbol:     domain.NormalizeSymbol(pulse.Symbol),
		Side:       side,
		EntryPrice: position.EntryPrice,
		EntryQty:   positionQty,
		Leverage:   position.Leverage,
		Status:     domain.StatusUnbuilt,
		Expiry:     pulse.Expiry,
		CreatedAt:  now,
	}
	if p.Leverage < 1 {
		p.Leverage = b.cfg.DefaultLeverage
	}

	switch pulse.Group {
	case domain.PulseStopLoss:
		stopPrice, err := domain.RoundPrice(pulse.StopLossPrice, filters)
		if err != nil {
			return domain.Proposal{}, err
		}
		stopQty, err := domain.RoundQty(stopPrice, positionQty, filters)
		if err != nil {
			return domain.Proposal{}, err
		}
		p.Origin = domain.OriginStopLoss
		p.StopPrice = stopPrice
		p.StopQty = stopQty
	case domain.PulseTakeProfitList:
		ladder, err := b.ladder(positionQty, pulse.TakeProfitLevels, filters)
		if err != nil {
			return domain.Proposal{}, err
		}
		if len(ladder) == 0 {
			return domain.Proposal{}, domain.NewError(domain.CodeInvalidRiskInput, "take profit ladder is empty after quantization")
		}
		p.Origin = domain.OriginTakeProfit
		p.TakeProfitLadder = ladder
	}
	return p, nil
}

// Prepare unbuilt -> pending：持久化并返回带 ID 的提案；其它状态原样返回
func (b *ProposalBuilder) Prepare(ctx context.Context, p domain.Proposal) (domain.Proposal, error) {
	if p.Status != domain.StatusUnbuilt {
		return p, nil
	}
	pending := p.WithStatus(domain.StatusPending)
	id, err := b.repo.Create(ctx, pending)
	if err != nil {
		return p, err
	}
	pending.ID = id
	return pending, nil
}

// ladder 从 (1-cascade)*qty 开始递减，保证阶梯总量不超过 qty
func (b *ProposalBuilder) ladder(qty decimal.Decimal, prices []decimal.Decimal, filters domain.SymbolFilters) ([]domain.TakeProfitLevel, error) {
	start := qty.Mul(decimal.NewFromInt(1).Sub(b.sizer.Cascade()))
	ladder, err := b.sizer.TakeProfitLadder(start, prices, filters)
	if err != nil {
		return nil, err
	}
	return domain.CapLadder(ladder, qty), nil
}

func (b *ProposalBuilder) executionPrice(side domain.Side, entry decimal.Decimal, quote domain.Quote) (decimal.Decimal, domain.EntryOrderType, error) {
	var price decimal.Decimal
	switch b.cfg.PricePolicy {
	case PriceMarket:
		price = quote.Ask
		if side == domain.SideSell {
			price = quote.Bid
		}
		if !price.IsPositive() {
			return decimal.Zero, "", domain.NewError(domain.CodeInvalidInput, "quote has no usable price")
		}
		return price, domain.EntryMarket, nil
	case PriceBestLimit:
		price = quote.Bid
		if side == domain.SideSell {
			price = quote.Ask
		}
		if !price.IsPositive() {
			return decimal.Zero, "", domain.NewError(domain.CodeInvalidInput, "quote has no usable price")
		}
		return price, domain.EntryLimit, nil
	default:
		return entry, domain.EntryLimit, nil
	}
}
