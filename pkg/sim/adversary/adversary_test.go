package adversary

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustNew(t *testing.T, typ Type, p Params, seed int64) Strategy {
	t.Helper()
	s, err := New(typ, p, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("New(%s): %v", typ, err)
	}
	return s
}

func TestNew(t *testing.T) {
	for _, typ := range Types() {
		s := mustNew(t, typ, Params{}, 1)
		if s.Type() != typ {
			t.Errorf("New(%s).Type() = %s", typ, s.Type())
		}
	}

	for _, typ := range []Type{Shadow, "whale"} {
		if _, err := New(typ, Params{}, nil); !errors.Is(err, ErrUnknownType) {
			t.Errorf("New(%s) error = %v, want ErrUnknownType", typ, err)
		}
	}
}

func TestParamsDefaults(t *testing.T) {
	got := Params{}.WithDefaults()
	if !reflect.DeepEqual(got, DefaultParams()) {
		t.Errorf("zero params defaults = %+v", got)
	}

	p := Params{NoiseTrader: NoiseTraderParams{MinHold: 10, MaxHold: 3, TradeFrequency: 4}}.WithDefaults()
	if p.NoiseTrader.MaxHold != 10 || p.NoiseTrader.TradeFrequency != 1 {
		t.Errorf("noise params not normalised: %+v", p.NoiseTrader)
	}
}

func TestMarketMaker_Quotes(t *testing.T) {
	mm := newMarketMaker(DefaultParams().MarketMaker)

	q := mm.GenerateQuotes(100, 0)
	if len(q) != 2 {
		t.Fatalf("quotes = %d, want 2", len(q))
	}
	bid, ask := q[0], q[1]
	if bid.Side != orderbook.Buy || !near(bid.Price, 99.9) || bid.Amount != 1 || bid.Kind != orderbook.Limit {
		t.Errorf("bid = %+v", bid)
	}
	if ask.Side != orderbook.Sell || !near(ask.Price, 100.1) || ask.Amount != 1 {
		t.Errorf("ask = %+v", ask)
	}

	if q := mm.GenerateQuotes(100, 3); q != nil {
		t.Errorf("off-refresh cycle quoted %+v", q)
	}
	if q := mm.GenerateQuotes(100, 5); len(q) != 2 {
		t.Errorf("refresh cycle quotes = %d", len(q))
	}
}

func TestMarketMaker_InventorySkewAndHedge(t *testing.T) {
	mm := newMarketMaker(DefaultParams().MarketMaker)

	mm.OnFill(orderbook.Buy, 8, 100)
	q := mm.GenerateQuotes(100, 0)
	if len(q) != 2 || !near(q[0].Amount, 0.2) || !near(q[1].Amount, 1.8) {
		t.Errorf("skewed quotes = %+v", q)
	}
	if _, ok := mm.GenerateSignal(100, 0); ok {
		t.Error("hedge fired at exactly 80% of max inventory")
	}

	mm.OnFill(orderbook.Buy, 1, 100)
	sig, ok := mm.GenerateSignal(100, 1)
	if !ok || sig.Side != orderbook.Sell || !near(sig.Amount, 4.5) || sig.Kind != orderbook.Market || sig.Action != ActionHedge {
		t.Errorf("hedge = %+v ok=%v", sig, ok)
	}

	short := newMarketMaker(DefaultParams().MarketMaker)
	short.OnFill(orderbook.Sell, 9, 100)
	if sig, ok := short.GenerateSignal(100, 0); !ok || sig.Side != orderbook.Buy {
		t.Errorf("short hedge = %+v ok=%v", sig, ok)
	}
	q = short.GenerateQuotes(100, 0)
	if !(q[0].Amount > q[1].Amount) {
		t.Errorf("short inventory should favour bids: %+v", q)
	}
}

func TestMarketMaker_FullyLongDropsBid(t *testing.T) {
	mm := newMarketMaker(DefaultParams().MarketMaker)
	mm.OnFill(orderbook.Buy, 12, 100)
	q := mm.GenerateQuotes(100, 0)
	if len(q) != 1 || q[0].Side != orderbook.Sell {
		t.Errorf("expected ask only, got %+v", q)
	}
}

func TestTrendFollower(t *testing.T) {
	s := mustNew(t, TrendFollower, Params{}, 1)

	cycle := 0
	for ; cycle < 10; cycle++ {
		if sig, ok := s.GenerateSignal(100, cycle); ok {
			t.Fatalf("signal during warm-up: %+v", sig)
		}
	}

	sig, ok := s.GenerateSignal(103, cycle)
	if !ok || sig.Side != orderbook.Buy || sig.Amount != 1 || sig.Reason != "momentum_long" {
		t.Fatalf("entry = %+v ok=%v", sig, ok)
	}
	cycle++

	sig, ok = s.GenerateSignal(97, cycle)
	if !ok || sig.Side != orderbook.Sell || sig.Reason != "stop_loss" || sig.Action != ActionClose {
		t.Fatalf("stop = %+v ok=%v", sig, ok)
	}
	cycle++

	sig, ok = s.GenerateSignal(97, cycle)
	if !ok || sig.Side != orderbook.Sell || sig.Reason != "momentum_short" {
		t.Fatalf("short entry = %+v ok=%v", sig, ok)
	}
}

func TestTrendFollower_FlipsPosition(t *testing.T) {
	tf := newTrendFollower(Params{}.WithDefaults().TrendFollower)
	tf.position, tf.entry = -1, 100
	for i := 0; i < 10; i++ {
		tf.prices.push(100)
	}
	sig, ok := tf.GenerateSignal(103, 10)
	// adverse move of 3% stays inside the 5% stop, momentum flips the short
	if !ok || sig.Side != orderbook.Buy || sig.Amount != 2 {
		t.Errorf("flip = %+v ok=%v", sig, ok)
	}
	if tf.position != 1 {
		t.Errorf("position = %v, want 1", tf.position)
	}
}

func TestContrarian(t *testing.T) {
	s := mustNew(t, Contrarian, Params{}, 1)

	for i := 0; i < 19; i++ {
		if _, ok := s.GenerateSignal(100, i); ok {
			t.Fatal("signal before window filled")
		}
	}

	sig, ok := s.GenerateSignal(110, 19)
	if !ok || sig.Side != orderbook.Sell || sig.Reason != "overextended_high" {
		t.Fatalf("entry = %+v ok=%v", sig, ok)
	}

	sig, ok = s.GenerateSignal(101, 20)
	if !ok || sig.Side != orderbook.Buy || sig.Action != ActionClose {
		t.Fatalf("exit = %+v ok=%v", sig, ok)
	}
}

func TestContrarian_FlatWindowNoSignal(t *testing.T) {
	s := mustNew(t, Contrarian, Params{}, 1)
	for i := 0; i < 40; i++ {
		if sig, ok := s.GenerateSignal(100, i); ok {
			t.Fatalf("flat window produced %+v", sig)
		}
	}
}

func TestZScore(t *testing.T) {
	z, ok := zscore([]float64{1, 2, 3, 4, 5}, 5)
	if !ok || !near(z, 2/math.Sqrt2) {
		t.Errorf("zscore = %v ok=%v", z, ok)
	}
	if _, ok := zscore([]float64{3}, 3); ok {
		t.Error("single point should not produce a z-score")
	}
}

func TestArbitrageur(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   []string // reason per cycle, "" for no signal
	}{
		{
			name:   "max hold exit",
			prices: []float64{100, 101, 101, 101, 101, 101, 101},
			want:   []string{"", "counter_trend", "", "", "", "", "max_hold"},
		},
		{
			name:   "early exit on reversal",
			prices: []float64{100, 101, 100},
			want:   []string{"", "counter_trend", "reversal"},
		},
		{
			name:   "small moves ignored",
			prices: []float64{100, 100.2, 100.1, 100.3},
			want:   []string{"", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustNew(t, Arbitrageur, Params{}, 1)
			for i, p := range tt.prices {
				sig, ok := s.GenerateSignal(p, i)
				got := ""
				if ok {
					got = sig.Reason
				}
				if got != tt.want[i] {
					t.Errorf("cycle %d: reason %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}

	s := mustNew(t, Arbitrageur, Params{}, 1)
	s.GenerateSignal(100, 0)
	if sig, _ := s.GenerateSignal(101, 1); sig.Side != orderbook.Sell {
		t.Errorf("rise should be faded with a sell, got %s", sig.Side)
	}
}

func TestNoiseTrader_PanicAndFOMO(t *testing.T) {
	p := Params{}.WithDefaults().NoiseTrader

	n := newNoiseTrader(p, rand.New(rand.NewSource(7)))
	n.position, n.entry, n.last = 1, 100, 100
	sig, ok := n.GenerateSignal(96, 1)
	if !ok || sig.Reason != "panic_sell" || sig.Side != orderbook.Sell || sig.Amount != 1 {
		t.Errorf("panic = %+v ok=%v", sig, ok)
	}

	f := newNoiseTrader(p, rand.New(rand.NewSource(7)))
	f.last = 100
	sig, ok = f.GenerateSignal(104, 1)
	if !ok || sig.Reason != "fomo_buy" || sig.Side != orderbook.Buy {
		t.Fatalf("fomo = %+v ok=%v", sig, ok)
	}
	if sig.Amount < 0.1*p.MaxSize || sig.Amount > p.MaxSize {
		t.Errorf("size %v outside [0.1, 1] of max", sig.Amount)
	}
}

func TestNoiseTrader_TargetHold(t *testing.T) {
	p := Params{}.WithDefaults().NoiseTrader
	n := newNoiseTrader(p, rand.New(rand.NewSource(3)))
	n.last = 100
	if _, ok := n.GenerateSignal(104, 0); !ok {
		t.Fatal("expected fomo entry")
	}
	target := n.holdTarget
	if target < p.MinHold || target > p.MaxHold {
		t.Fatalf("hold target %d outside [%d, %d]", target, p.MinHold, p.MaxHold)
	}

	for c := 1; c <= target; c++ {
		sig, ok := n.GenerateSignal(104, c)
		if c < target && ok {
			t.Fatalf("cycle %d: early exit %+v", c, sig)
		}
		if c == target && (!ok || sig.Reason != "target_hold") {
			t.Fatalf("cycle %d: expected target_hold, got %+v ok=%v", c, sig, ok)
		}
	}
}

func TestNoiseTrader_Deterministic(t *testing.T) {
	run := func() []Signal {
		s := mustNew(t, NoiseTrader, Params{NoiseTrader: NoiseTraderParams{TradeFrequency: 0.5}}, 42)
		var out []Signal
		price := 100.0
		for c := 0; c < 200; c++ {
			price *= 1 + 0.001*float64(c%7-3)
			if sig, ok := s.GenerateSignal(price, c); ok {
				out = append(out, sig)
			}
		}
		return out
	}
	a, b := run(), run()
	if len(a) == 0 {
		t.Fatal("noise trader never traded")
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different signal sequences")
	}
}

func TestAgentIntentsAndShadow(t *testing.T) {
	mm := newMarketMaker(DefaultParams().MarketMaker)
	mm.OnFill(orderbook.Buy, 9, 100)
	a := NewAgent("adv-1", RoleAdversary, mm)

	intents := a.Intents(100, 0)
	if len(intents) != 3 {
		t.Fatalf("intents = %d, want 2 quotes + hedge", len(intents))
	}
	if intents[2].Action != ActionHedge {
		t.Errorf("signal should follow quotes, got %+v", intents[2])
	}

	sh := NewShadow(newMarketMaker(DefaultParams().MarketMaker))
	sa := NewAgent("shadow-1", RoleShadow, sh)
	if sa.Type != Shadow {
		t.Errorf("shadow agent type = %s", sa.Type)
	}
	if base := sh.(*shadow).Base(); base != MarketMaker {
		t.Errorf("Base() = %s", base)
	}
	if got := sa.Intents(100, 0); len(got) != 2 {
		t.Errorf("shadow market maker should quote, got %d intents", len(got))
	}
	sh.OnFill(orderbook.Sell, 2, 100)
	if inv := sh.(*shadow).inner.(*marketMaker).Inventory(); inv != -2 {
		t.Errorf("fill not forwarded, inventory = %v", inv)
	}
}
