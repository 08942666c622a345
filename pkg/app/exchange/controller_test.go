package exchange

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/market"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/orderbook"
	"github.com/uhyunpark/edaix/pkg/compliance"
	"github.com/uhyunpark/edaix/pkg/crypto"
	"github.com/uhyunpark/edaix/pkg/util"
)

const (
	instr = "EDAI-1"
	usdc  = "USDC"
)

var (
	root  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []tick
}

func (s *recordingSink) Notify(instrument string, price, volume int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick{instrument, price, volume})
}

func (s *recordingSink) all() []tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tick(nil), s.ticks...)
}

type fixture struct {
	c    *Controller
	led  *ledger.Ledger
	sink *recordingSink
}

func newConfig(led *ledger.Ledger, sink MarketDataSink) Config {
	return Config{
		FeeBps: amm.DefaultFeeBps,
		Access: access.NewRegistry(root),
		Ledger: led,
		Sink:   sink,
		Clock:  util.NewManualClock(time.UnixMilli(1_700_000_000_000)),
	}
}

// newFixture lists instr with params, opens a session at 100 and funds
// alice with 10000 USDC and bob with 100 EDAI-1.
func newFixture(t *testing.T, params market.PairParams) *fixture {
	t.Helper()
	led := ledger.New()
	sink := &recordingSink{}
	f := &fixture{c: NewController(newConfig(led, sink)), led: led, sink: sink}
	f.open(t, params)
	return f
}

func (f *fixture) open(t *testing.T, params market.PairParams) {
	t.Helper()
	if _, err := f.c.CreateTradingPair(root, instr, params); err != nil {
		t.Fatalf("CreateTradingPair: %v", err)
	}
	if _, err := f.c.StartSession(root, instr, 100); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.fund(t, alice, usdc, 10_000)
	f.fund(t, bob, instr, 100)
}

func (f *fixture) fund(t *testing.T, who common.Address, asset string, amount int64) {
	t.Helper()
	if err := f.c.Deposit(root, who, asset, amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func (f *fixture) place(t *testing.T, who common.Address, side orderbook.Side, qty, price int64) (orderbook.Order, []matching.Trade) {
	t.Helper()
	o, trades, err := f.c.PlaceOrder(who, instr, side, qty, price)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return o, trades
}

func wantBalance(t *testing.T, l *ledger.Ledger, who common.Address, asset string, avail, locked int64) {
	t.Helper()
	if got := l.Balance(who, asset); got.Available != avail || got.Locked != locked {
		t.Errorf("%s %s = %+v, want {Available:%d Locked:%d}", who.Hex(), asset, got, avail, locked)
	}
}

func TestRestingBidScenario(t *testing.T) {
	f := newFixture(t, market.DefaultParams)

	bid, trades := f.place(t, alice, orderbook.Buy, 10, 105)
	if len(trades) != 0 {
		t.Fatalf("lone bid traded")
	}
	wantBalance(t, f.led, alice, usdc, 8_950, 1_050)

	_, trades = f.place(t, bob, orderbook.Sell, 6, 100)
	if len(trades) != 1 || trades[0].Qty != 6 || trades[0].Price != 105 {
		t.Fatalf("trades = %+v, want one 6 @ 105", trades)
	}

	rest, err := f.c.GetOrder(bid.ID)
	if err != nil || rest.Qty != 4 || !rest.Active {
		t.Errorf("bid after fill = %+v, %v", rest, err)
	}
	book, _ := f.c.GetOrderBook(instr, 0)
	if len(book.Bids) != 1 || book.Bids[0] != (orderbook.PriceLevel{Price: 105, Qty: 4, Orders: 1}) || len(book.Asks) != 0 {
		t.Errorf("book = %+v", book)
	}

	wantBalance(t, f.led, alice, usdc, 8_950, 420)
	wantBalance(t, f.led, alice, instr, 6, 0)
	wantBalance(t, f.led, bob, usdc, 630, 0)
	wantBalance(t, f.led, bob, instr, 94, 0)

	s, _ := f.c.GetSession(instr)
	if s.Volume != 6 || s.TradeCount != 1 || s.LastPrice != 105 {
		t.Errorf("session = %+v", s)
	}
	if got := f.sink.all(); len(got) != 1 || got[0] != (tick{instr, 105, 6}) {
		t.Errorf("sink = %+v", got)
	}
}

func TestMakerPriceRefundsBuyer(t *testing.T) {
	f := newFixture(t, market.DefaultParams)

	f.place(t, bob, orderbook.Sell, 6, 100)
	bid, trades := f.place(t, alice, orderbook.Buy, 10, 105)
	if len(trades) != 1 || trades[0].Price != 100 {
		t.Fatalf("trades = %+v, want one @ 100", trades)
	}
	if bid.Qty != 4 {
		t.Errorf("returned order qty = %d, want 4", bid.Qty)
	}
	wantBalance(t, f.led, alice, usdc, 8_980, 420)
	wantBalance(t, f.led, bob, usdc, 600, 0)

	if _, err := f.c.CancelOrder(alice, bid.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	wantBalance(t, f.led, alice, usdc, 9_400, 0)
	if _, err := f.c.CancelOrder(alice, bid.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second cancel err = %v, want NotFound", err)
	}
}

func TestPlaceOrderRejects(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	if _, err := f.c.CreateTradingPair(root, "EDAI-2", market.DefaultParams); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.CreateTradingPair(root, "EDAI-3", market.DefaultParams); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.StartSession(root, "EDAI-3", 100); err != nil {
		t.Fatal(err)
	}
	if err := f.c.SetTradingPairActive(root, "EDAI-3", false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		instr string
		side  orderbook.Side
		qty   int64
		price int64
		want  error
	}{
		{"unknown instrument", "EDAI-X", orderbook.Buy, 1, 100, apperr.ErrValidation},
		{"inactive pair", "EDAI-3", orderbook.Buy, 1, 100, apperr.ErrValidation},
		{"bad side", instr, orderbook.Side(0), 1, 100, apperr.ErrValidation},
		{"zero qty", instr, orderbook.Buy, 0, 100, apperr.ErrValidation},
		{"negative price", instr, orderbook.Buy, 1, -5, apperr.ErrValidation},
		{"over max size", instr, orderbook.Buy, 1_000_001, 1, apperr.ErrValidation},
		{"no session", "EDAI-2", orderbook.Buy, 1, 100, apperr.ErrState},
		{"insufficient quote", instr, orderbook.Buy, 1_000, 105, apperr.ErrState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.c.PlaceOrder(alice, tt.instr, tt.side, tt.qty, tt.price)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	wantBalance(t, f.led, alice, usdc, 10_000, 0)
	if n := len(f.c.OpenOrders(alice)); n != 0 {
		t.Errorf("%d orders stored after rejections", n)
	}
}

func TestLotSizeViolationStoresNothing(t *testing.T) {
	params := market.DefaultParams
	params.LotSize, params.MinOrderSize = 5, 5
	f := newFixture(t, params)

	_, _, err := f.c.PlaceOrder(alice, instr, orderbook.Buy, 7, 100)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want Validation", err)
	}
	if _, err := f.c.GetOrder(1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("rejected order was stored")
	}
	book, _ := f.c.GetOrderBook(instr, 0)
	if len(book.Bids)+len(book.Asks) != 0 {
		t.Errorf("book = %+v", book)
	}
	wantBalance(t, f.led, alice, usdc, 10_000, 0)

	o, _ := f.place(t, alice, orderbook.Buy, 10, 100)
	if o.ID != 1 {
		t.Errorf("first accepted order id = %d, want 1", o.ID)
	}
}

func TestComplianceGate(t *testing.T) {
	gate := compliance.NewAllowlist(nil)
	cfg := newConfig(ledger.New(), nil)
	cfg.Gate = gate
	f := &fixture{c: NewController(cfg), led: cfg.Ledger}
	f.open(t, market.DefaultParams)
	gate.Approve(alice, instr)

	if _, _, err := f.c.PlaceOrder(bob, instr, orderbook.Sell, 1, 100); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("unapproved seller err = %v, want Unauthorized", err)
	}
	wantBalance(t, f.led, bob, instr, 100, 0)
	if _, err := f.c.Swap(bob, instr, amm.AssetToQuote, 1, 0); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("unapproved swap err = %v, want Unauthorized", err)
	}
	f.place(t, alice, orderbook.Buy, 1, 100)

	if err := f.c.SetTradingPairActive(root, instr, false); err != nil {
		t.Fatal(err)
	}
	if gate.IsEligible(alice, instr) {
		t.Error("pair deactivation not propagated to gate")
	}
}

func TestCapabilityChecks(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	bid, _ := f.place(t, alice, orderbook.Buy, 5, 100)

	checks := []struct {
		name string
		call func() error
	}{
		{"create pair", func() error {
			_, err := f.c.CreateTradingPair(alice, "EDAI-9", market.DefaultParams)
			return err
		}},
		{"toggle pair", func() error { return f.c.SetTradingPairActive(alice, instr, false) }},
		{"start session", func() error {
			_, err := f.c.StartSession(alice, instr, 100)
			return err
		}},
		{"end session", func() error {
			_, err := f.c.EndSession(alice, instr)
			return err
		}},
		{"execute trade", func() error {
			_, err := f.c.ExecuteTrade(alice, 1, 2)
			return err
		}},
		{"run matching", func() error {
			_, err := f.c.RunMatching(alice, instr)
			return err
		}},
		{"pause pool", func() error { return f.c.SetPoolActive(alice, instr, false) }},
		{"deposit", func() error { return f.c.Deposit(alice, alice, usdc, 1) }},
		{"cancel foreign order", func() error {
			_, err := f.c.CancelOrder(bob, bid.ID)
			return err
		}},
	}
	for _, tt := range checks {
		if err := tt.call(); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("%s: err = %v, want Unauthorized", tt.name, err)
		}
	}
	if f.c.Phase(instr) != PhaseOpen {
		t.Errorf("phase = %s after rejected calls", f.c.Phase(instr))
	}

	if err := f.c.Access().Grant(root, bob, access.CapSettlement); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.CancelOrder(bob, bid.ID); err != nil {
		t.Fatalf("settlement cancel: %v", err)
	}
	wantBalance(t, f.led, alice, usdc, 10_000, 0)
}

func TestSessionLifecycle(t *testing.T) {
	f := &fixture{c: NewController(newConfig(ledger.New(), nil))}

	if got := f.c.Phase(instr); got != PhaseInactive {
		t.Errorf("unlisted phase = %s", got)
	}
	if _, err := f.c.StartSession(root, instr, 100); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("session on unlisted pair err = %v", err)
	}
	if _, err := f.c.CreateTradingPair(root, instr, market.DefaultParams); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.CreateTradingPair(root, instr, market.DefaultParams); !errors.Is(err, apperr.ErrState) {
		t.Errorf("duplicate pair err = %v", err)
	}
	if got := f.c.Phase(instr); got != PhaseConfigured {
		t.Errorf("listed phase = %s", got)
	}
	if _, err := f.c.EndSession(root, instr); !errors.Is(err, apperr.ErrState) {
		t.Errorf("end without session err = %v", err)
	}
	if _, err := f.c.StartSession(root, instr, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero open price err = %v", err)
	}
	if _, err := f.c.StartSession(root, instr, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.StartSession(root, instr, 100); !errors.Is(err, apperr.ErrState) {
		t.Errorf("double start err = %v", err)
	}
	if got := f.c.Phase(instr); got != PhaseOpen {
		t.Errorf("phase = %s", got)
	}

	closed, err := f.c.EndSession(root, instr)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Active || closed.ClosePrice != 100 {
		t.Errorf("closed = %+v", closed)
	}
	if got := f.c.Phase(instr); got != PhaseClosed {
		t.Errorf("phase = %s", got)
	}
	if _, _, err := f.c.PlaceOrder(alice, instr, orderbook.Buy, 1, 100); !errors.Is(err, apperr.ErrState) {
		t.Errorf("order after close err = %v", err)
	}

	if _, err := f.c.StartSession(root, instr, 110); err != nil {
		t.Fatal(err)
	}
	if h := f.c.SessionHistory(instr, 0); len(h) != 1 || h[0].ID != closed.ID {
		t.Errorf("history = %+v", h)
	}
	if err := f.c.SetTradingPairActive(root, instr, false); err != nil {
		t.Fatal(err)
	}
	if got := f.c.Phase(instr); got != PhaseInactive {
		t.Errorf("deactivated phase = %s", got)
	}
}

func TestPoolFlow(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	f.fund(t, alice, instr, 1_000)
	f.fund(t, alice, usdc, 100_000)
	custody := ledger.PoolAccount(instr)

	_, pos, err := f.c.CreatePool(alice, instr, 1_000, 100_000)
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if pos.Shares != 10_000 {
		t.Errorf("shares = %d, want 10000", pos.Shares)
	}
	if _, _, err := f.c.CreatePool(alice, instr, 1, 1); !errors.Is(err, apperr.ErrState) {
		t.Errorf("duplicate pool err = %v", err)
	}
	wantBalance(t, f.led, alice, usdc, 10_000, 0)
	wantBalance(t, f.led, custody, instr, 1_000, 0)

	if _, err := f.c.Swap(bob, instr, amm.AssetToQuote, 10, 988); !errors.Is(err, apperr.ErrSlippage) {
		t.Errorf("slippage err = %v", err)
	}
	wantBalance(t, f.led, bob, instr, 100, 0)

	res, err := f.c.Swap(bob, instr, amm.AssetToQuote, 10, 0)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if res.Out != 987 {
		t.Errorf("out = %d, want 987", res.Out)
	}
	wantBalance(t, f.led, bob, instr, 90, 0)
	wantBalance(t, f.led, bob, usdc, 987, 0)
	wantBalance(t, f.led, custody, instr, 1_010, 0)
	wantBalance(t, f.led, custody, usdc, 99_013, 0)

	s, _ := f.c.GetSession(instr)
	if s.LastPrice != 98 || s.Volume != 10 || s.TradeCount != 1 {
		t.Errorf("session = %+v", s)
	}
	if got := f.sink.all(); len(got) != 1 || got[0] != (tick{instr, 98, 10}) {
		t.Errorf("sink = %+v", got)
	}

	before, _ := f.c.GetPool(instr)
	if _, err := f.c.RemoveLiquidity(alice, instr, 10_001); !errors.Is(err, apperr.ErrState) {
		t.Errorf("over-withdrawal err = %v", err)
	}
	if after, _ := f.c.GetPool(instr); after != before {
		t.Errorf("pool changed by rejected removal: %+v", after)
	}
	if _, err := f.c.RemoveLiquidity(bob, instr, 1); !errors.Is(err, apperr.ErrState) {
		t.Errorf("non-provider removal err = %v", err)
	}

	out, err := f.c.RemoveLiquidity(alice, instr, 2_500)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}
	if out.Asset != 252 || out.Quote != 24_753 {
		t.Errorf("removed = %+v", out)
	}
	p, _ := f.c.GetPool(instr)
	wantBalance(t, f.led, custody, instr, p.AssetReserve, 0)
	wantBalance(t, f.led, custody, usdc, p.QuoteReserve, 0)
	wantBalance(t, f.led, alice, instr, 252, 0)
	if pos := f.c.Positions(alice, instr); len(pos) != 1 || pos[0].Shares != 7_500 {
		t.Errorf("positions = %+v", pos)
	}

	if _, err := f.c.Swap(bob, instr, amm.QuoteToAsset, 5_000, 0); !errors.Is(err, apperr.ErrState) {
		t.Errorf("underfunded swap err = %v", err)
	}

	if err := f.c.SetPoolActive(root, instr, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Swap(bob, instr, amm.AssetToQuote, 10, 0); !errors.Is(err, apperr.ErrState) {
		t.Errorf("swap on paused pool err = %v", err)
	}
	if _, err := f.c.AddLiquidity(alice, instr, 10, 1_000); !errors.Is(err, apperr.ErrState) {
		t.Errorf("add on paused pool err = %v", err)
	}

	closed, err := f.c.EndSession(root, instr)
	if err != nil {
		t.Fatal(err)
	}
	if closed.ClosePrice != 98 {
		t.Errorf("close = %d, want last swap price 98", closed.ClosePrice)
	}
}

func TestAddLiquidityUsesOptimalRatio(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	f.fund(t, alice, instr, 1_200)
	f.fund(t, alice, usdc, 200_000)
	if _, _, err := f.c.CreatePool(alice, instr, 1_000, 100_000); err != nil {
		t.Fatal(err)
	}

	res, err := f.c.AddLiquidity(alice, instr, 200, 10_000)
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	if res.Asset != 100 || res.Quote != 10_000 || res.Shares != 1_000 {
		t.Errorf("add = %+v", res)
	}
	wantBalance(t, f.led, alice, instr, 100, 0)
	wantBalance(t, f.led, alice, usdc, 100_000, 0)

	if _, err := f.c.AddLiquidity(alice, instr, 500, 50_000); !errors.Is(err, apperr.ErrState) {
		t.Errorf("underfunded add err = %v", err)
	}
}

func TestClosePriceFallsBackToPoolThenOpen(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	closed, err := f.c.EndSession(root, instr)
	if err != nil {
		t.Fatal(err)
	}
	if closed.ClosePrice != 100 {
		t.Errorf("no pool close = %d, want open price 100", closed.ClosePrice)
	}

	f.fund(t, alice, instr, 1_000)
	f.fund(t, alice, usdc, 150_000)
	if _, _, err := f.c.CreatePool(alice, instr, 1_000, 150_000); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.StartSession(root, instr, 120); err != nil {
		t.Fatal(err)
	}
	closed, err = f.c.EndSession(root, instr)
	if err != nil {
		t.Fatal(err)
	}
	if closed.ClosePrice != 150 {
		t.Errorf("pool close = %d, want spot 150", closed.ClosePrice)
	}
}

func TestManualMatching(t *testing.T) {
	params := market.DefaultParams
	params.ManualMatching = true
	f := newFixture(t, params)

	bid, trades := f.place(t, alice, orderbook.Buy, 10, 105)
	ask, more := f.place(t, bob, orderbook.Sell, 6, 100)
	if len(trades)+len(more) != 0 {
		t.Fatalf("manual pair matched automatically")
	}

	tr, err := f.c.ExecuteTrade(root, bid.ID, ask.ID)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if tr.Qty != 6 || tr.Price != 105 {
		t.Errorf("trade = %d @ %d, want 6 @ 105", tr.Qty, tr.Price)
	}
	wantBalance(t, f.led, alice, usdc, 8_950, 420)
	wantBalance(t, f.led, bob, usdc, 630, 0)
	if _, err := f.c.ExecuteTrade(root, bid.ID, ask.ID); !errors.Is(err, apperr.ErrState) {
		t.Errorf("re-execute err = %v, want State", err)
	}
	if _, err := f.c.ExecuteTrade(root, ask.ID, bid.ID); !errors.Is(err, apperr.ErrState) {
		t.Errorf("swapped ids err = %v", err)
	}

	if got, err := f.c.RunMatching(root, instr); err != nil || len(got) != 0 {
		t.Errorf("uncrossed RunMatching = %v, %v", got, err)
	}
	f.place(t, bob, orderbook.Sell, 4, 105)
	got, err := f.c.RunMatching(root, instr)
	if err != nil || len(got) != 1 || got[0].Qty != 4 || got[0].Price != 105 {
		t.Fatalf("RunMatching = %+v, %v", got, err)
	}
	if again, _ := f.c.RunMatching(root, instr); len(again) != 0 {
		t.Errorf("second pass produced %d trades", len(again))
	}
	wantBalance(t, f.led, alice, usdc, 8_950, 0)
	wantBalance(t, f.led, alice, instr, 10, 0)
	if trades := f.c.RecentTrades(instr, 0); len(trades) != 2 || trades[0].Qty != 4 {
		t.Errorf("recent trades = %+v", trades)
	}
}

// reentrantSink reads the controller from inside Notify
type reentrantSink struct {
	c       *Controller
	volumes []int64
}

func (s *reentrantSink) Notify(instrument string, _, _ int64) {
	sess, _ := s.c.GetSession(instrument)
	_, _ = s.c.GetOrderBook(instrument, 1)
	s.volumes = append(s.volumes, sess.Volume)
}

func TestSinkRunsAfterCommit(t *testing.T) {
	sink := &reentrantSink{}
	led := ledger.New()
	f := &fixture{c: NewController(newConfig(led, sink)), led: led}
	sink.c = f.c
	f.open(t, market.DefaultParams)

	f.place(t, alice, orderbook.Buy, 10, 105)
	f.place(t, bob, orderbook.Sell, 6, 100)
	if len(sink.volumes) != 1 || sink.volumes[0] != 6 {
		t.Errorf("volumes seen by sink = %v, want [6]", sink.volumes)
	}
}

var errDiskFull = errors.New("disk full")

type failingJournal struct{ nopJournal }

func (failingJournal) SaveTrade(matching.Trade) error { return errDiskFull }

func TestJournalFailureIsSticky(t *testing.T) {
	cfg := newConfig(ledger.New(), nil)
	cfg.Journal = failingJournal{}
	f := &fixture{c: NewController(cfg), led: cfg.Ledger}
	f.open(t, market.DefaultParams)
	if f.c.Err() != nil {
		t.Fatalf("Err before any trade: %v", f.c.Err())
	}

	f.place(t, alice, orderbook.Buy, 1, 100)
	f.place(t, bob, orderbook.Sell, 1, 100)
	if !errors.Is(f.c.Err(), errDiskFull) {
		t.Errorf("Err = %v, want disk full", f.c.Err())
	}
	wantBalance(t, f.led, bob, usdc, 100, 0)
}

func TestEndSessionAttestation(t *testing.T) {
	att, err := crypto.NewAttestorFromSeed([]byte("edai-session-attestation-test-seed"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := newConfig(ledger.New(), nil)
	cfg.Attestor = att
	f := &fixture{c: NewController(cfg), led: cfg.Ledger}
	f.open(t, market.DefaultParams)

	closed, err := f.c.EndSession(root, instr)
	if err != nil {
		t.Fatal(err)
	}
	pk, err := att.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.VerifyAttestation(pk, closed.Digest(), closed.Attestation) {
		t.Error("attestation does not verify")
	}
	stored, _ := f.c.GetSession(instr)
	if len(stored.Attestation) == 0 {
		t.Error("attestation not stored on the session")
	}
}

func TestWithdrawLeavesEscrow(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	f.place(t, alice, orderbook.Buy, 50, 100)

	if err := f.c.Withdraw(alice, usdc, 6_000); !errors.Is(err, apperr.ErrState) {
		t.Errorf("withdraw into escrow err = %v", err)
	}
	if err := f.c.Withdraw(alice, usdc, 5_000); err != nil {
		t.Fatal(err)
	}
	wantBalance(t, f.led, alice, usdc, 0, 5_000)
}

func TestSettlementNearSupplyCap(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	// alice already holds 10_000; bob takes the rest of the USDC supply
	f.fund(t, bob, usdc, math.MaxInt64-10_000)
	if err := f.c.Deposit(root, alice, usdc, 1); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("deposit past supply err = %v, want validation", err)
	}

	f.place(t, alice, orderbook.Buy, 10, 100)
	_, trades := f.place(t, bob, orderbook.Sell, 6, 100)
	if len(trades) != 1 || trades[0].Qty != 6 {
		t.Fatalf("trades = %+v", trades)
	}
	wantBalance(t, f.led, bob, usdc, math.MaxInt64-10_000+600, 0)
	wantBalance(t, f.led, alice, usdc, 9_000, 400)
	if got := f.led.Supply(usdc); got != math.MaxInt64 {
		t.Errorf("supply = %d, want MaxInt64", got)
	}

	book, err := f.c.GetOrderBook(instr, 0)
	if err != nil || len(book.Bids) != 1 || book.Bids[0].Qty != 4 {
		t.Errorf("book = %+v, %v", book, err)
	}
}

func TestPanicReleasesControllerLock(t *testing.T) {
	f := newFixture(t, market.DefaultParams)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		_ = f.c.run(func(*outbox) error { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.c.GetOrderBook(instr, 0)
		_, _, _ = f.c.PlaceOrder(alice, instr, orderbook.Buy, 1, 100)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller lock held after panic")
	}
}
