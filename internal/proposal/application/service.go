package application

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/metrics"
	"github.com/wyfcoding/proposalengine/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig 应用服务参数
type ServiceConfig struct {
	QuoteAsset   string
	PingAttempts int
	PingDelay    time.Duration
}

// ProposalService 提案应用服务：连通性检查 -> 快照 -> 构建 -> 持久化 -> 执行
type ProposalService struct {
	cfg          ServiceConfig
	gateway      domain.ExchangeGateway
	repo         domain.ProposalRepository
	builder      *ProposalBuilder
	orchestrator *ExecutionOrchestrator
	metrics      *metrics.Metrics
	ready        atomic.Bool
}

// NewProposalService 创建提案应用服务
func NewProposalService(cfg ServiceConfig, gateway domain.ExchangeGateway, repo domain.ProposalRepository, builder *ProposalBuilder, orchestrator *ExecutionOrchestrator, m *metrics.Metrics) *ProposalService {
	if cfg.PingAttempts < 1 {
		cfg.PingAttempts = 1
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &ProposalService{
		cfg:          cfg,
		gateway:      gateway,
		repo:         repo,
		builder:      builder,
		orchestrator: orchestrator,
		metrics:      m,
	}
}

// CheckConnectivity 按配置重试 ping，全部失败返回 ErrExchangeUnavailable
func (s *ProposalService) CheckConnectivity(ctx context.Context) error {
	err := utils.Retry(ctx, s.cfg.PingAttempts, s.cfg.PingDelay, func(attempt int) error {
		perr := s.gateway.Ping(ctx)
		if perr != nil {
			logger.Warn(ctx, "Exchange ping failed", "attempt", attempt, "error", perr)
		}
		return perr
	})
	s.ready.Store(err == nil)
	if err != nil {
		return domain.WrapError(domain.CodeExchangeUnavailable, "exchange is unreachable", err)
	}
	return nil
}

// Ready 最近一次连通性检查的结果
func (s *ProposalService) Ready() bool {
	return s.ready.Load()
}

// SubmitSignal 处理入场信号
func (s *ProposalService) SubmitSignal(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error) {
	defer logger.LogDuration(ctx, "Signal processed", "signal_id", sig.ID, "symbol", sig.Symbol)()

	if err := s.builder.PrecheckSignal(sig); err != nil {
		s.metrics.RecordBuild(string(domain.OriginSignal), domain.CodeOf(err))
		logger.Warn(ctx, "Signal rejected", "signal_id", sig.ID, "symbol", sig.Symbol, "error", err)
		return domain.ExecutionResult{}, err
	}
	if err := s.CheckConnectivity(ctx); err != nil {
		return domain.ExecutionResult{}, err
	}
	symbol := domain.NormalizeSymbol(sig.Symbol)

	var (
		balances []domain.Balance
		quote    domain.Quote
		filters  domain.SymbolFilters
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balances, err = s.gateway.GetAccountBalances(gctx, s.cfg.QuoteAsset)
		return err
	})
	g.Go(func() (err error) {
		filters, err = s.gateway.GetSymbolFilters(gctx, symbol)
		return err
	})
	if s.builder.NeedsQuote() {
		g.Go(func() (err error) {
			quote, err = s.gateway.GetQuote(gctx, symbol)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Failed to load market snapshot", "symbol", symbol, "error", err)
		return domain.ExecutionResult{}, err
	}

	p, err := s.builder.BuildFromSignal(sig, pickBalance(balances, s.cfg.QuoteAsset), quote, filters)
	s.metrics.RecordBuild(string(domain.OriginSignal), domain.CodeOf(err))
	if err != nil {
		logger.Warn(ctx, "Signal rejected", "signal_id", sig.ID, "symbol", symbol, "error", err)
		return domain.ExecutionResult{}, err
	}
	return s.prepareAndExecute(ctx, p)
}

// SubmitPulse 处理针对已有持仓的脉冲
func (s *ProposalService) SubmitPulse(ctx context.Context, pulse domain.Pulse) (domain.ExecutionResult, error) {
	defer logger.LogDuration(ctx, "Pulse processed", "pulse_id", pulse.ID, "symbol", pulse.Symbol, "group", pulse.Group)()

	origin := pulseOrigin(pulse.Group)
	if err := s.builder.PrecheckPulse(pulse); err != nil {
		s.metrics.RecordBuild(origin, domain.CodeOf(err))
		logger.Warn(ctx, "Pulse rejected", "pulse_id", pulse.ID, "symbol", pulse.Symbol, "error", err)
		return domain.ExecutionResult{}, err
	}
	if err := s.CheckConnectivity(ctx); err != nil {
		return domain.ExecutionResult{}, err
	}
	symbol := domain.NormalizeSymbol(pulse.Symbol)

	var (
		positions []domain.Position
		filters   domain.SymbolFilters
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		positions, err = s.gateway.GetPositions(gctx, symbol)
		return err
	})
	g.Go(func() (err error) {
		filters, err = s.gateway.GetSymbolFilters(gctx, symbol)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Failed to load position snapshot", "symbol", symbol, "error", err)
		return domain.ExecutionResult{}, err
	}

	p, err := s.builder.BuildFromPulse(pulse, pickPosition(positions, symbol), filters)
	s.metrics.RecordBuild(origin, domain.CodeOf(err))
	if err != nil {
		logger.Warn(ctx, "Pulse rejected", "pulse_id", pulse.ID, "symbol", symbol, "error", err)
		return domain.ExecutionResult{}, err
	}
	return s.prepareAndExecute(ctx, p)
}

// GetProposal 查询提案
func (s *ProposalService) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	return s.repo.Get(ctx, id)
}

// ExecuteProposal 重新执行一个已持久化的提案，终态提案不会再次下单
func (s *ProposalService) ExecuteProposal(ctx context.Context, id string) (domain.ExecutionResult, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if p.Status.Terminal() {
		return s.orchestrator.Execute(ctx, p)
	}
	if err := s.builder.CheckFresh("proposal", p.Expiry); err != nil {
		return domain.ExecutionResult{ProposalID: id, Proposal: p}, err
	}
	if err := s.CheckConnectivity(ctx); err != nil {
		return domain.ExecutionResult{ProposalID: id, Proposal: p}, err
	}
	return s.orchestrator.Execute(ctx, p)
}

func (s *ProposalService) prepareAndExecute(ctx context.Context, p domain.Proposal) (domain.ExecutionResult, error) {
	prepared, err := s.builder.Prepare(ctx, p)
	if err != nil {
		logger.Error(ctx, "Failed to persist proposal", "symbol", p.Symbol, "error", err)
		return domain.ExecutionResult{Proposal: p}, err
	}
	logger.Info(ctx, "Proposal built",
		"proposal_id", prepared.ID,
		"origin", prepared.Origin,
		"symbol", prepared.Symbol,
		"entry_qty", prepared.EntryQty.String(),
		"stop_price", prepared.StopPrice.String(),
		"ladder", len(prepared.TakeProfitLadder),
		"take_profit_qty", domain.LadderQty(prepared.TakeProfitLadder).String(),
		"leverage", prepared.Leverage,
	)
	return s.orchestrator.Execute(ctx, prepared)
}

// pickBalance 找不到对应资产时返回零余额，由仓位计算报 INVALID_RISK_INPUT
func pickBalance(balances []domain.Balance, asset string) domain.Balance {
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b
		}
	}
	return domain.Balance{Asset: asset, Total: decimal.Zero, Available: decimal.Zero}
}

func pickPosition(positions []domain.Position, symbol string) domain.Position {
	for _, p := range positions {
		if domain.NormalizeSymbol(p.Symbol) == symbol && !p.Qty.IsZero() {
			return p
		}
	}
	return domain.Position{Symbol: symbol}
}

func pulseOrigin(g domain.PulseGroup) string {
	switch g {
	case domain.PulseStopLoss:
		return string(domain.OriginStopLoss)
	case domain.PulseTakeProfitList:
		return string(domain.OriginTakeProfit)
	}
	return strings.ToLower(strings.ReplaceAll(string(g), " ", "_"))
}
