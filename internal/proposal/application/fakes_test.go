package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testFilters() domain.SymbolFilters {
	return domain.SymbolFilters{
		Symbol:      "BTCUSDT",
		TickSize:    d("0.01"),
		MinPrice:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MinNotional: d("5"),
	}
}

// fakeGateway 记录调用顺序，按方法名注入错误
type fakeGateway struct {
	mu             sync.Mutex
	calls          []string
	pingErrs       []error
	balances       []domain.Balance
	positions      []domain.Position
	openOrders     []domain.OpenOrder
	filters        domain.SymbolFilters
	quote          domain.Quote
	errs           map[string]error
	emptyAck       map[string]bool
	cancelled      []string
	cancelAllCalls int
	nextID         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances: []domain.Balance{{Asset: "USDT", Total: d("10000"), Available: d("10000")}},
		filters:  testFilters(),
		quote:    domain.Quote{Bid: d("99.5"), Ask: d("100.5")},
		errs:     map[string]error{},
		emptyAck: map[string]bool{},
	}
}

func (g *fakeGateway) record(call string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	return g.errs[call]
}

func (g *fakeGateway) callsOf(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (g *fakeGateway) ack(call string) (domain.OrderAck, error) {
	if err := g.record(call); err != nil {
		return domain.OrderAck{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emptyAck[call] {
		return domain.OrderAck{Status: "NEW"}, nil
	}
	g.nextID++
	return domain.OrderAck{OrderID: fmt.Sprintf("ord-%d", g.nextID), Status: "NEW"}, nil
}

func (g *fakeGateway) Ping(ctx context.Context) error {
	g.record("Ping")
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pingErrs) == 0 {
		return nil
	}
	err := g.pingErrs[0]
	g.pingErrs = g.pingErrs[1:]
	return err
}

func (g *fakeGateway) GetAccountBalances(ctx context.Context, asset string) ([]domain.Balance, error) {
	return g.balances, g.record("GetAccountBalances")
}

func (g *fakeGateway) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return g.positions, g.record("GetPositions")
}

func (g *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	return g.openOrders, g.record("GetOpenOrders")
}

func (g *fakeGateway) GetSymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	return g.filters, g.record("GetSymbolFilters")
}

func (g *fakeGateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	return g.quote, g.record("GetQuote")
}

func (g *fakeGateway) SetMarginType(ctx context.Context, symbol string, mode domain.MarginType) error {
	return g.record("SetMarginType")
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.record("SetLeverage")
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty, price decimal.Decimal) (domain.OrderAck, error) {
	return g.ack("PlaceLimitOrder")
}

func (g *fakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderAck, error) {
	return g.ack("PlaceMarketOrder")
}

func (g *fakeGateway) PlaceStopOrder(ctx context.Context, symbol string, side domain.Side, stopPrice decimal.Decimal) (domain.OrderAck, error) {
	return g.ack("PlaceStopOrder")
}

func (g *fakeGateway) PlaceTakeProfitOrder(ctx context.Context, symbol string, side domain.Side, qty, price decimal.Decimal) (domain.OrderAck, error) {
	return g.ack("PlaceTakeProfitOrder")
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := g.record("CancelOrder")
	g.mu.Lock()
	g.cancelled = append(g.cancelled, orderID)
	g.mu.Unlock()
	return err
}

func (g *fakeGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	err := g.record("CancelAllOrders")
	g.mu.Lock()
	g.cancelAllCalls++
	g.mu.Unlock()
	return err
}

// fakeRepo 内存仓储
type fakeRepo struct {
	mu        sync.Mutex
	seq       int
	proposals map[string]domain.Proposal
	reasons   map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{proposals: map[string]domain.Proposal{}, reasons: map[string]string{}}
}

func (r *fakeRepo) Create(ctx context.Context, p domain.Proposal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	p.ID = fmt.Sprintf("P-%d", r.seq)
	r.proposals[p.ID] = p
	return p.ID, nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (domain.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.NewError(domain.CodeProposalNotFound, id)
	}
	return p, nil
}

func (r *fakeRepo) set(id string, fn func(p *domain.Proposal)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return domain.NewError(domain.CodeProposalNotFound, id)
	}
	fn(&p)
	r.proposals[id] = p
	return nil
}

func (r *fakeRepo) MarkExecuting(ctx context.Context, id string) error {
	return r.set(id, func(p *domain.Proposal) { p.Status = domain.StatusExecuting })
}

func (r *fakeRepo) MarkPending(ctx context.Context, id string) error {
	return r.set(id, func(p *domain.Proposal) { p.Status = domain.StatusPending })
}

func (r *fakeRepo) MarkExecuted(ctx context.Context, id, orderID string, legs []domain.OrderLeg) error {
	return r.set(id, func(p *domain.Proposal) {
		p.Status = domain.StatusExecuted
		p.ExchangeOrderID = orderID
	})
}

func (r *fakeRepo) MarkRolledBack(ctx context.Context, id, reason string, legs []domain.OrderLeg) error {
	r.mu.Lock()
	r.reasons[id] = reason
	r.mu.Unlock()
	return r.set(id, func(p *domain.Proposal) {
		p.Status = domain.StatusRolledBack
		p.Reason = reason
	})
}

// fakeLocker 已被持有的交易对直接返回 ErrSymbolLocked
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Acquire(ctx context.Context, symbol string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[symbol] {
		return nil, domain.NewError(domain.CodeSymbolLocked, symbol)
	}
	l.held[symbol] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, symbol)
		return nil
	}, nil
}

// fakePublisher 收集发布的事件
type fakePublisher struct {
	mu         sync.Mutex
	executed   []domain.ProposalExecutedEvent
	rolledBack []domain.ProposalRolledBackEvent
}

func (p *fakePublisher) PublishProposalExecuted(ctx context.Context, e domain.ProposalExecutedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, e)
	return nil
}

func (p *fakePublisher) PublishProposalRolledBack(ctx context.Context, e domain.ProposalRolledBackEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolledBack = append(p.rolledBack, e)
	return nil
}
