package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

func newTestService(gw *fakeGateway, attempts int) (*ProposalService, *fakeRepo) {
	repo := newFakeRepo()
	b := newTestBuilder(PriceLimit, repo)
	orch := NewExecutionOrchestrator(gw, repo, newFakeLocker(), nil, nil, time.Second)
	svc := NewProposalService(ServiceConfig{QuoteAsset: "USDT", PingAttempts: attempts}, gw, repo, b, orch, nil)
	return svc, repo
}

func TestSubmitSignalEndToEnd(t *testing.T) {
	gw := newFakeGateway()
	svc, repo := newTestService(gw, 3)

	res, err := svc.SubmitSignal(context.Background(), longSignal())
	if err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	if res.Status != domain.ExecExecuted {
		t.Fatalf("status = %s", res.Status)
	}
	if gw.callsOf("GetQuote") != 0 {
		t.Fatal("LIMIT policy should not fetch a quote")
	}
	stored, err := svc.GetProposal(context.Background(), res.ProposalID)
	if err != nil || stored.Status != domain.StatusExecuted {
		t.Fatalf("stored = %s, %v", stored.Status, err)
	}
	if len(repo.proposals) != 1 {
		t.Fatalf("stored %d proposals", len(repo.proposals))
	}
	if !svc.Ready() {
		t.Fatal("service should be ready after a successful ping")
	}
}

func TestSubmitSignalRetriesPing(t *testing.T) {
	gw := newFakeGateway()
	gw.pingErrs = []error{errors.New("dial tcp: i/o timeout"), errors.New("dial tcp: i/o timeout")}
	svc, _ := newTestService(gw, 3)

	if _, err := svc.SubmitSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	if n := gw.callsOf("Ping"); n != 3 {
		t.Fatalf("pinged %d times, want 3", n)
	}
}

func TestSubmitSignalExchangeUnavailable(t *testing.T) {
	gw := newFakeGateway()
	down := errors.New("connection refused")
	gw.pingErrs = []error{down, down}
	svc, repo := newTestService(gw, 2)

	_, err := svc.SubmitSignal(context.Background(), longSignal())
	if !errors.Is(err, domain.ErrExchangeUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if len(gw.calls) != 2 || len(repo.proposals) != 0 {
		t.Fatalf("calls = %v, stored = %d", gw.calls, len(repo.proposals))
	}
	if svc.Ready() {
		t.Fatal("service should not be ready")
	}
}

func TestSubmitSignalMissingQuoteAsset(t *testing.T) {
	gw := newFakeGateway()
	gw.balances = []domain.Balance{{Asset: "BUSD", Available: d("5000")}}
	svc, _ := newTestService(gw, 1)

	_, err := svc.SubmitSignal(context.Background(), longSignal())
	if !errors.Is(err, domain.ErrInvalidRiskInput) {
		t.Fatalf("err = %v", err)
	}
	if gw.callsOf("Place") != 0 {
		t.Fatal("rejected signal placed orders")
	}
}

func TestSubmitPulse(t *testing.T) {
	gw := newFakeGateway()
	gw.positions = []domain.Position{
		{Symbol: "ETHUSDT", Qty: d("5")},
		{Symbol: "BTCUSDT", Qty: d("-2"), EntryPrice: d("100"), Leverage: 3},
	}
	svc, _ := newTestService(gw, 1)

	pulse := domain.Pulse{ID: "pl-1", Symbol: "BTCUSDTPERP", Group: domain.PulseStopLoss, StopLossPrice: d("105")}
	res, err := svc.SubmitPulse(context.Background(), pulse)
	if err != nil {
		t.Fatalf("SubmitPulse: %v", err)
	}
	if res.Status != domain.ExecExecuted || res.Proposal.Side != domain.SideSell {
		t.Fatalf("res = %s side %s", res.Status, res.Proposal.Side)
	}
	if len(res.Legs) != 1 || res.Legs[0].Kind != domain.LegStop || res.Legs[0].Side != domain.SideBuy {
		t.Fatalf("legs = %+v", res.Legs)
	}
}

func TestSubmitPulseRejects(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(gw, 1)

	_, err := svc.SubmitPulse(context.Background(), domain.Pulse{Symbol: "BTCUSDT", Group: domain.PulseClosePosition})
	if !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("close position err = %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatal("unsupported pulse reached the exchange")
	}

	tp := domain.Pulse{Symbol: "BTCUSDT", Group: domain.PulseTakeProfitList, TakeProfitLevels: []decimal.Decimal{d("120")}}
	_, err = svc.SubmitPulse(context.Background(), tp)
	if !errors.Is(err, domain.ErrNoOpenPosition) {
		t.Fatalf("flat position err = %v", err)
	}
}

func TestExecuteProposal(t *testing.T) {
	gw := newFakeGateway()
	gw.errs["SetLeverage"] = errors.New("rate limited")
	svc, _ := newTestService(gw, 1)

	res, err := svc.SubmitSignal(context.Background(), longSignal())
	if !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("err = %v", err)
	}

	// 设置失败后提案保持 pending，可按 ID 重新执行
	delete(gw.errs, "SetLeverage")
	again, err := svc.ExecuteProposal(context.Background(), res.ProposalID)
	if err != nil || again.Status != domain.ExecExecuted {
		t.Fatalf("retry = %s, %v", again.Status, err)
	}
	third, err := svc.ExecuteProposal(context.Background(), res.ProposalID)
	if err != nil || third.Status != domain.ExecAlreadyExecuted {
		t.Fatalf("third = %s, %v", third.Status, err)
	}

	if _, err := svc.ExecuteProposal(context.Background(), "P-404"); !errors.Is(err, domain.ErrProposalNotFound) {
		t.Fatalf("missing proposal err = %v", err)
	}
}

func TestSubmitRejectsBeforeExchange(t *testing.T) {
	down := errors.New("connection refused")
	stale := testNow.Add(-time.Minute)

	expiredSignal := longSignal()
	expiredSignal.Expiry = stale
	flatSignal := longSignal()
	flatSignal.StopLoss = flatSignal.Entry

	cases := []struct {
		name   string
		submit func(*ProposalService) error
		want   error
	}{
		{"expired signal", func(svc *ProposalService) error {
			_, err := svc.SubmitSignal(context.Background(), expiredSignal)
			return err
		}, domain.ErrExpiredProposal},
		{"entry equals stop", func(svc *ProposalService) error {
			_, err := svc.SubmitSignal(context.Background(), flatSignal)
			return err
		}, domain.ErrInvalidRiskInput},
		{"expired stop loss pulse", func(svc *ProposalService) error {
			_, err := svc.SubmitPulse(context.Background(), domain.Pulse{
				Symbol: "BTCUSDT", Group: domain.PulseStopLoss, StopLossPrice: d("90"), Expiry: stale,
			})
			return err
		}, domain.ErrExpiredProposal},
		{"expired take profit pulse", func(svc *ProposalService) error {
			_, err := svc.SubmitPulse(context.Background(), domain.Pulse{
				Symbol: "BTCUSDT", Group: domain.PulseTakeProfitList, TakeProfitLevels: []decimal.Decimal{d("120")}, Expiry: stale,
			})
			return err
		}, domain.ErrExpiredProposal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			// 交易所不可达时也必须返回确定性的拒绝原因
			gw.pingErrs = []error{down, down, down}
			svc, repo := newTestService(gw, 3)

			if err := tc.submit(svc); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if len(gw.calls) != 0 {
				t.Fatalf("exchange calls = %v, want none", gw.calls)
			}
			if len(repo.proposals) != 0 {
				t.Fatalf("stored %d proposals", len(repo.proposals))
			}
		})
	}
}

func TestExecuteProposalExpired(t *testing.T) {
	gw := newFakeGateway()
	gw.errs["SetLeverage"] = errors.New("rate limited")
	svc, _ := newTestService(gw, 1)

	sig := longSignal()
	sig.Expiry = testNow.Add(time.Minute)
	res, err := svc.SubmitSignal(context.Background(), sig)
	if !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("err = %v", err)
	}

	delete(gw.errs, "SetLeverage")
	svc.builder.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	before := len(gw.calls)
	if _, err := svc.ExecuteProposal(context.Background(), res.ProposalID); !errors.Is(err, domain.ErrExpiredProposal) {
		t.Fatalf("err = %v", err)
	}
	if len(gw.calls) != before {
		t.Fatalf("expired proposal reached the exchange: %v", gw.calls[before:])
	}
}
