package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBuilder(policy PricePolicy, repo domain.ProposalRepository) *ProposalBuilder {
	b := NewProposalBuilder(BuilderConfig{
		RiskPercentage:  d("0.02"),
		DefaultLeverage: 10,
		MaxLeverage:     125,
		PricePolicy:     policy,
		EnforceExpiry:   true,
		Cascade:         domain.DefaultCascade,
	}, repo)
	b.now = func() time.Time { return testNow }
	return b
}

func longSignal() domain.Signal {
	return domain.Signal{
		ID:               "sig-1",
		Symbol:           "btcusdtperp",
		Side:             domain.SideBuy,
		Entry:            d("100"),
		StopLoss:         d("95"),
		TakeProfitLevels: []decimal.Decimal{d("110"), d("120")},
	}
}

func usdt(available string) domain.Balance {
	return domain.Balance{Asset: "USDT", Total: d(available), Available: d(available)}
}

func TestBuildFromSignalLimit(t *testing.T) {
	b := newTestBuilder(PriceLimit, newFakeRepo())
	p, err := b.BuildFromSignal(longSignal(), usdt("10000"), domain.Quote{}, testFilters())
	if err != nil {
		t.Fatalf("BuildFromSignal: %v", err)
	}
	if p.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s", p.Symbol)
	}
	if p.EntryOrderType != domain.EntryLimit || !p.EntryPrice.Equal(d("100")) {
		t.Fatalf("entry = %s %s", p.EntryOrderType, p.EntryPrice)
	}
	if !p.EntryQty.Equal(d("40")) || !p.StopQty.Equal(d("40")) {
		t.Fatalf("qty = %s / %s, want 40", p.EntryQty, p.StopQty)
	}
	// 名义价值 4000，可用保证金 10000：10 倍递减到 2 倍
	if p.Leverage != 2 {
		t.Fatalf("leverage = %d, want 2", p.Leverage)
	}
	if !p.RiskExposureValue.Equal(d("200")) {
		t.Fatalf("exposure = %s", p.RiskExposureValue)
	}
	if len(p.TakeProfitLadder) != 2 || !p.TakeProfitLadder[0].Qty.Equal(d("28")) || !p.TakeProfitLadder[1].Qty.Equal(d("8.4")) {
		t.Fatalf("ladder = %+v", p.TakeProfitLadder)
	}
	if domain.LadderQty(p.TakeProfitLadder).GreaterThan(p.EntryQty) {
		t.Fatal("ladder exceeds entry quantity")
	}
	if p.Status != domain.StatusUnbuilt || p.Origin != domain.OriginSignal {
		t.Fatalf("status/origin = %q/%q", p.Status, p.Origin)
	}
}

func TestBuildFromSignalPricePolicies(t *testing.T) {
	cases := []struct {
		name      string
		policy    PricePolicy
		side      domain.Side
		stop      string
		wantPrice string
		wantQty   string
		wantType  domain.EntryOrderType
	}{
		{"best limit buy joins bid", PriceBestLimit, domain.SideBuy, "95", "99.5", "44.444", domain.EntryLimit},
		{"market sell hits bid", PriceMarket, domain.SideSell, "105", "99.5", "36.363", domain.EntryMarket},
		{"market buy lifts ask", PriceMarket, domain.SideBuy, "95", "100.5", "36.363", domain.EntryMarket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := longSignal()
			sig.Side = tc.side
			sig.StopLoss = d(tc.stop)
			sig.TakeProfitLevels = nil
			b := newTestBuilder(tc.policy, newFakeRepo())
			p, err := b.BuildFromSignal(sig, usdt("10000"), domain.Quote{Bid: d("99.5"), Ask: d("100.5")}, testFilters())
			if err != nil {
				t.Fatalf("BuildFromSignal: %v", err)
			}
			if !p.EntryPrice.Equal(d(tc.wantPrice)) || p.EntryOrderType != tc.wantType {
				t.Fatalf("entry = %s %s", p.EntryOrderType, p.EntryPrice)
			}
			if !p.EntryQty.Equal(d(tc.wantQty)) {
				t.Fatalf("qty = %s, want %s", p.EntryQty, tc.wantQty)
			}
		})
	}
}

func TestBuildFromSignalRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.Signal)
		balance string
		want    error
	}{
		{"expired", func(s *domain.Signal) { s.Expiry = testNow.Add(-time.Second) }, "10000", domain.ErrExpiredProposal},
		{"stop above long entry", func(s *domain.Signal) { s.StopLoss = d("105") }, "10000", domain.ErrInvalidRiskInput},
		{"stop equals entry", func(s *domain.Signal) { s.StopLoss = d("100") }, "10000", domain.ErrInvalidRiskInput},
		{"empty balance", func(s *domain.Signal) {}, "0", domain.ErrInvalidRiskInput},
		{"missing side", func(s *domain.Signal) { s.Side = "" }, "10000", domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := longSignal()
			tc.mutate(&sig)
			_, err := newTestBuilder(PriceLimit, newFakeRepo()).BuildFromSignal(sig, usdt(tc.balance), domain.Quote{}, testFilters())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBuildFromSignalMissingFilter(t *testing.T) {
	f := testFilters()
	f.StepSize = decimal.Zero
	_, err := newTestBuilder(PriceLimit, newFakeRepo()).BuildFromSignal(longSignal(), usdt("10000"), domain.Quote{}, f)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildFromSignalExpiryNotEnforced(t *testing.T) {
	b := newTestBuilder(PriceLimit, newFakeRepo())
	b.cfg.EnforceExpiry = false
	sig := longSignal()
	sig.Expiry = testNow.Add(-time.Hour)
	if _, err := b.BuildFromSignal(sig, usdt("10000"), domain.Quote{}, testFilters()); err != nil {
		t.Fatalf("BuildFromSignal: %v", err)
	}
}

func TestBuildFromPulseStopLoss(t *testing.T) {
	b := newTestBuilder(PriceLimit, newFakeRepo())
	pulse := domain.Pulse{ID: "pl-1", Symbol: "BTCUSDT", Group: domain.PulseStopLoss, StopLossPrice: d("104.567")}
	pos := domain.Position{Symbol: "BTCUSDT", Qty: d("-2"), EntryPrice: d("100"), Leverage: 5}

	p, err := b.BuildFromPulse(pulse, pos, testFilters())
	if err != nil {
		t.Fatalf("BuildFromPulse: %v", err)
	}
	if p.Origin != domain.OriginStopLoss || p.Side != domain.SideSell {
		t.Fatalf("origin/side = %s/%s", p.Origin, p.Side)
	}
	if !p.StopPrice.Equal(d("104.56")) || !p.StopQty.Equal(d("2")) {
		t.Fatalf("stop = %s x %s", p.StopPrice, p.StopQty)
	}
	if p.HasEntry() || p.HasLadder() {
		t.Fatal("stop-loss pulse must only carry a stop leg")
	}
	if p.Leverage != 5 {
		t.Fatalf("leverage = %d", p.Leverage)
	}
}

func TestBuildFromPulseTakeProfit(t *testing.T) {
	b := newTestBuilder(PriceLimit, newFakeRepo())
	pulse := domain.Pulse{Symbol: "BTCUSDT", Group: domain.PulseTakeProfitList, TakeProfitLevels: []decimal.Decimal{d("110"), d("120")}}
	pos := domain.Position{Symbol: "BTCUSDT", Qty: d("3"), EntryPrice: d("100")}

	p, err := b.BuildFromPulse(pulse, pos, testFilters())
	if err != nil {
		t.Fatalf("BuildFromPulse: %v", err)
	}
	if p.Origin != domain.OriginTakeProfit || p.Side != domain.SideBuy {
		t.Fatalf("origin/side = %s/%s", p.Origin, p.Side)
	}
	if len(p.TakeProfitLadder) != 2 || !p.TakeProfitLadder[0].Qty.Equal(d("2.1")) || !p.TakeProfitLadder[1].Qty.Equal(d("0.63")) {
		t.Fatalf("ladder = %+v", p.TakeProfitLadder)
	}
	if p.Leverage != 10 {
		t.Fatalf("leverage = %d, want default 10", p.Leverage)
	}
}

func TestBuildFromPulseRejects(t *testing.T) {
	b := newTestBuilder(PriceLimit, newFakeRepo())
	pos := domain.Position{Symbol: "BTCUSDT", Qty: d("1")}

	_, err := b.BuildFromPulse(domain.Pulse{Symbol: "BTCUSDT", Group: domain.PulseClosePosition}, pos, testFilters())
	if !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("close position err = %v", err)
	}

	stop := domain.Pulse{Symbol: "BTCUSDT", Group: domain.PulseStopLoss, StopLossPrice: d("90")}
	_, err = b.BuildFromPulse(stop, domain.Position{Symbol: "BTCUSDT"}, testFilters())
	if !errors.Is(err, domain.ErrNoOpenPosition) {
		t.Fatalf("flat position err = %v", err)
	}

	stop.Expiry = testNow
	_, err = b.BuildFromPulse(stop, pos, testFilters())
	if !errors.Is(err, domain.ErrExpiredProposal) {
		t.Fatalf("expired err = %v", err)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	b := newTestBuilder(PriceLimit, repo)
	p, err := b.BuildFromSignal(longSignal(), usdt("10000"), domain.Quote{}, testFilters())
	if err != nil {
		t.Fatalf("BuildFromSignal: %v", err)
	}

	prepared, err := b.Prepare(context.Background(), p)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prepared.ID == "" || prepared.Status != domain.StatusPending {
		t.Fatalf("prepared = %q %q", prepared.ID, prepared.Status)
	}
	if p.Status != domain.StatusUnbuilt {
		t.Fatal("input proposal mutated")
	}

	again, err := b.Prepare(context.Background(), prepared)
	if err != nil || again.ID != prepared.ID {
		t.Fatalf("second Prepare = %q, %v", again.ID, err)
	}
	if len(repo.proposals) != 1 {
		t.Fatalf("stored %d proposals, want 1", len(repo.proposals))
	}
}

func TestParsePricePolicy(t *testing.T) {
	if ParsePricePolicy("market") != PriceMarket || ParsePricePolicy("best_limit") != PriceBestLimit {
		t.Fatal("known policies")
	}
	if ParsePricePolicy("twap") != PriceLimit {
		t.Fatal("unknown policy should fall back to LIMIT")
	}
}
