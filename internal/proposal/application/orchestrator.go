package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/metrics"
)

// DefaultCleanupTimeout 回滚与状态落库使用独立的截止时间，不受执行超时影响
const DefaultCleanupTimeout = 15 * time.Second

// ExecutionOrchestrator 按顺序下单，任何致命腿失败时撤销该交易对的全部挂单
type ExecutionOrchestrator struct {
	gateway   domain.ExchangeGateway
	repo      domain.ProposalRepository
	locker    domain.SymbolLocker
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	cleanup   time.Duration
	now       func() time.Time
}

// NewExecutionOrchestrator publisher 与 m 可以为 nil；timeout 为 0 时不额外设置截止时间
func NewExecutionOrchestrator(gateway domain.ExchangeGateway, repo domain.ProposalRepository, locker domain.SymbolLocker, publisher domain.EventPublisher, m *metrics.Metrics, timeout time.Duration) *ExecutionOrchestrator {
	return &ExecutionOrchestrator{
		gateway:   gateway,
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		timeout:   timeout,
		cleanup:   DefaultCleanupTimeout,
		now:       time.Now,
	}
}

// WithCleanupTimeout 覆盖回滚与落库的截止时间，d <= 0 时忽略
func (o *ExecutionOrchestrator) WithCleanupTimeout(d time.Duration) *ExecutionOrchestrator {
	if d > 0 {
		o.cleanup = d
	}
	return o
}

// Execute 执行一个 pending 提案。终态提案直接返回，不调用交易所。
func (o *ExecutionOrchestrator) Execute(ctx context.Context, p domain.Proposal) (domain.ExecutionResult, error) {
	if res, done := terminalResult(p); done {
		return res, nil
	}
	if p.Status == domain.StatusUnbuilt || p.ID == "" {
		return domain.ExecutionResult{Proposal: p}, domain.NewError(domain.CodeInvalidInput, "proposal must be prepared before execution")
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	release, err := o.locker.Acquire(ctx, p.Symbol)
	if err != nil {
		return domain.ExecutionResult{ProposalID: p.ID, Proposal: p}, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanup)
		defer cancel()
		if rerr := release(rctx); rerr != nil {
			logger.Warn(ctx, "Failed to release symbol lease", "symbol", p.Symbol, "error", rerr)
		}
	}()

	// 等待租约期间可能已被其他执行者处理，以仓储中的状态为准
	current, err := o.repo.Get(ctx, p.ID)
	if err != nil {
		return domain.ExecutionResult{ProposalID: p.ID, Proposal: p}, err
	}
	if res, done := terminalResult(current); done {
		return res, nil
	}
	if err := o.repo.MarkExecuting(ctx, current.ID); err != nil {
		return domain.ExecutionResult{ProposalID: p.ID, Proposal: current}, err
	}
	p = current.WithStatus(domain.StatusExecuting)
	result := domain.ExecutionResult{ProposalID: p.ID, Proposal: p}

	logger.Info(ctx, "Executing proposal", "proposal_id", p.ID, "origin", p.Origin, "symbol", p.Symbol, "side", p.Side)

	if stopsCancelled, err := o.prepareSymbol(ctx, p); err != nil {
		result.UnprotectedPosition = stopsCancelled
		return o.setupFailed(ctx, result, err)
	}

	legs, fatal := o.placeLegs(ctx, p)
	result.Legs = legs
	if fatal != nil {
		return o.rollback(ctx, result, fatal)
	}

	orderID := primaryOrderID(p, legs)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanup)
	defer cancel()
	if orderID == "" {
		// 主腿被判定为“会立即触发”，没有订单号，提案保持 pending
		if err := o.repo.MarkPending(cctx, p.ID); err != nil {
			return result, err
		}
		result.Proposal = p.WithStatus(domain.StatusPending)
		result.Status = domain.ExecBenignTrigger
		o.metrics.RecordExecution(string(result.Status))
		logger.Warn(ctx, "Primary leg triggered immediately, proposal left pending", "proposal_id", p.ID)
		return result, nil
	}

	if err := o.repo.MarkExecuted(cctx, p.ID, orderID, legs); err != nil {
		return result, err
	}
	executed := p.WithStatus(domain.StatusExecuted)
	executed.ExchangeOrderID = orderID
	result.Proposal = executed
	result.Status = domain.ExecExecuted
	o.metrics.RecordExecution(string(result.Status))
	logger.Info(ctx, "Proposal executed", "proposal_id", p.ID, "order_id", orderID, "legs", len(legs))

	if o.publisher != nil {
		event := domain.ProposalExecutedEvent{
			ProposalID:      p.ID,
			Origin:          p.Origin,
			Symbol:          p.Symbol,
			Side:            p.Side,
			ExchangeOrderID: orderID,
			Legs:            legs,
			OccurredOn:      o.now(),
		}
		if err := o.publisher.PublishProposalExecuted(cctx, event); err != nil {
			logger.Warn(ctx, "Failed to publish executed event", "proposal_id", p.ID, "error", err)
		}
	}
	return result, nil
}

func terminalResult(p domain.Proposal) (domain.ExecutionResult, bool) {
	switch p.Status {
	case domain.StatusExecuted:
		return domain.ExecutionResult{ProposalID: p.ID, Proposal: p, Status: domain.ExecAlreadyExecuted}, true
	case domain.StatusRolledBack:
		return domain.ExecutionResult{ProposalID: p.ID, Proposal: p, Status: domain.ExecAlreadyRolledBack}, true
	}
	return domain.ExecutionResult{}, false
}

// prepareSymbol 撤销冲突挂单，设置逐仓与杠杆。任何失败都在下单前终止执行。
// stopsCancelled 表示已有止损单被成功撤销，此时失败会让持仓失去保护。
func (o *ExecutionOrchestrator) prepareSymbol(ctx context.Context, p domain.Proposal) (stopsCancelled bool, err error) {
	open, err := o.gateway.GetOpenOrders(ctx, p.Symbol)
	if err != nil {
		return false, fmt.Errorf("list open orders: %w", err)
	}
	for _, order := range open {
		if !order.ConflictsWith(p.Origin) {
			continue
		}
		if err := o.gateway.CancelOrder(ctx, p.Symbol, order.OrderID); err != nil {
			if code, ok := domain.ExchangeErrorCode(err); ok && code == domain.ExchangeCodeUnknownOrder {
				continue
			}
			return stopsCancelled, fmt.Errorf("cancel order %s: %w", order.OrderID, err)
		}
		if order.Protective() {
			stopsCancelled = true
		}
	}

	if err := o.gateway.SetMarginType(ctx, p.Symbol, domain.MarginIsolated); err != nil {
		if code, ok := domain.ExchangeErrorCode(err); !ok || code != domain.ExchangeCodeNoNeedChangeMargin {
			return stopsCancelled, fmt.Errorf("set margin type: %w", err)
		}
	}
	if err := o.gateway.SetLeverage(ctx, p.Symbol, p.Leverage); err != nil {
		return stopsCancelled, fmt.Errorf("set leverage %d: %w", p.Leverage, err)
	}
	return stopsCancelled, nil
}

func (o *ExecutionOrchestrator) setupFailed(ctx context.Context, result domain.ExecutionResult, cause error) (domain.ExecutionResult, error) {
	p := result.Proposal
	logger.Error(ctx, "Proposal setup failed",
		"proposal_id", p.ID,
		"symbol", p.Symbol,
		"unprotected_position", result.UnprotectedPosition,
		"error", cause,
	)
	if result.UnprotectedPosition {
		logger.Error(ctx, "Existing stop orders were cancelled before setup failed", "proposal_id", p.ID, "symbol", p.Symbol)
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanup)
	defer cancel()
	err := domain.WrapError(domain.CodeSetup, "symbol setup failed", cause)
	if perr := o.repo.MarkPending(cctx, p.ID); perr != nil {
		return result, errors.Join(err, perr)
	}
	result.Proposal = p.WithStatus(domain.StatusPending)
	result.Status = domain.ExecSetupError
	o.metrics.RecordExecution(string(result.Status))
	return result, err
}

// legPlan 待提交的一条腿
type legPlan struct {
	leg   domain.OrderLeg
	place func(ctx context.Context) (domain.OrderAck, error)
}

func (o *ExecutionOrchestrator) plan(p domain.Proposal) []legPlan {
	var plans []legPlan
	closing := p.Side.Opposite()

	if p.HasEntry() {
		leg := domain.OrderLeg{Kind: domain.LegEntry, Side: p.Side, Price: p.EntryPrice, Qty: p.EntryQty}
		plans = append(plans, legPlan{leg: leg, place: func(ctx context.Context) (domain.OrderAck, error) {
			if p.EntryOrderType == domain.EntryMarket {
				return o.gateway.PlaceMarketOrder(ctx, p.Symbol, p.Side, p.EntryQty)
			}
			return o.gateway.PlaceLimitOrder(ctx, p.Symbol, p.Side, p.EntryQty, p.EntryPrice)
		}})
	}
	if p.HasStop() {
		leg := domain.OrderLeg{Kind: domain.LegStop, Side: closing, Price: p.StopPrice, Qty: p.StopQty}
		plans = append(plans, legPlan{leg: leg, place: func(ctx context.Context) (domain.OrderAck, error) {
			return o.gateway.PlaceStopOrder(ctx, p.Symbol, closing, p.StopPrice)
		}})
	}
	if p.HasLadder() {
		for _, lvl := range p.TakeProfitLadder {
			leg := domain.OrderLeg{Kind: domain.LegTakeProfit, Side: closing, Price: lvl.Price, Qty: lvl.Qty}
			plans = append(plans, legPlan{leg: leg, place: func(ctx context.Context) (domain.OrderAck, error) {
				return o.gateway.PlaceTakeProfitOrder(ctx, p.Symbol, closing, lvl.Qty, lvl.Price)
			}})
		}
	}
	return plans
}

// placeLegs 逐条下单，遇到第一条致命失败即停止，其余腿标记为 skipped
func (o *ExecutionOrchestrator) placeLegs(ctx context.Context, p domain.Proposal) ([]domain.OrderLeg, error) {
	plans := o.plan(p)
	legs := make([]domain.OrderLeg, 0, len(plans))
	var fatal error

	for _, pl := range plans {
		leg := pl.leg
		if fatal != nil {
			leg.Outcome = domain.LegSkipped
			legs = append(legs, leg)
			continue
		}

		ack, err := pl.place(ctx)
		switch {
		case err == nil && ack.OrderID != "":
			leg.Outcome = domain.LegAccepted
			leg.ExchangeOrderID = ack.OrderID
		case domain.IsImmediateTrigger(err):
			leg.Outcome = domain.LegBenign
			leg.Error = err.Error()
			logger.Warn(ctx, "Order leg would trigger immediately", "proposal_id", p.ID, "kind", leg.Kind, "price", leg.Price.String())
		case err == nil:
			leg.Outcome = domain.LegFailed
			leg.Error = "exchange returned no order id"
			fatal = fmt.Errorf("%s leg: %s", leg.Kind, leg.Error)
		default:
			leg.Outcome = domain.LegFailed
			leg.Error = err.Error()
			fatal = fmt.Errorf("%s leg: %w", leg.Kind, err)
		}
		o.metrics.RecordLeg(string(leg.Kind), string(leg.Outcome))
		legs = append(legs, leg)
	}
	return legs, fatal
}

// rollback 撤销交易对全部挂单（只调用一次），提案标记为 rolled_back
func (o *ExecutionOrchestrator) rollback(ctx context.Context, result domain.ExecutionResult, cause error) (domain.ExecutionResult, error) {
	p := result.Proposal
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanup)
	defer cancel()

	result.UnprotectedPosition = unprotected(p, result.Legs)
	logger.Error(ctx, "Order leg failed, rolling back",
		"proposal_id", p.ID,
		"symbol", p.Symbol,
		"unprotected_position", result.UnprotectedPosition,
		"error", cause,
	)

	var rollbackErr error
	if err := o.gateway.CancelAllOrders(cctx, p.Symbol); err != nil {
		rollbackErr = fmt.Errorf("cancel all orders: %w", err)
		logger.Error(ctx, "Rollback cancel-all failed", "proposal_id", p.ID, "symbol", p.Symbol, "error", err)
	}
	if result.UnprotectedPosition {
		logger.Error(ctx, "Position may be open without stop protection", "proposal_id", p.ID, "symbol", p.Symbol)
	}

	var storeErr error
	if err := o.repo.MarkRolledBack(cctx, p.ID, cause.Error(), result.Legs); err != nil {
		storeErr = fmt.Errorf("mark rolled back: %w", err)
	}

	rolled := p.WithStatus(domain.StatusRolledBack)
	rolled.Reason = cause.Error()
	result.Proposal = rolled
	result.Status = domain.ExecRolledBack
	o.metrics.RecordExecution(string(result.Status))

	if o.publisher != nil {
		event := domain.ProposalRolledBackEvent{
			ProposalID:          p.ID,
			Origin:              p.Origin,
			Symbol:              p.Symbol,
			Reason:              cause.Error(),
			UnprotectedPosition: result.UnprotectedPosition,
			Legs:                result.Legs,
			OccurredOn:          o.now(),
		}
		if err := o.publisher.PublishProposalRolledBack(cctx, event); err != nil {
			logger.Warn(ctx, "Failed to publish rolled back event", "proposal_id", p.ID, "error", err)
		}
	}

	return result, domain.WrapError(domain.CodeExchangeLeg, "order leg failed, orders rolled back", errors.Join(cause, rollbackErr, storeErr))
}

// unprotected 回滚会撤掉全部挂单：入场腿已被接受、或止损脉冲已撤掉旧止损时，持仓可能失去止损保护
func unprotected(p domain.Proposal, legs []domain.OrderLeg) bool {
	switch p.Origin {
	case domain.OriginSignal:
		for _, leg := range legs {
			if leg.Kind == domain.LegEntry && leg.Outcome == domain.LegAccepted {
				return true
			}
		}
	case domain.OriginStopLoss:
		return true
	}
	return false
}

// primaryOrderID 入场/止损取对应腿的订单号，止盈取第一条被接受的阶梯订单号
func primaryOrderID(p domain.Proposal, legs []domain.OrderLeg) string {
	kind := p.PrimaryLeg()
	for _, leg := range legs {
		if leg.Kind == kind && leg.Outcome == domain.LegAccepted {
			return leg.ExchangeOrderID
		}
		if leg.Kind == kind && kind != domain.LegTakeProfit {
			return ""
		}
	}
	return ""
}
