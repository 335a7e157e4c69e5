package orderbook

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/uhyunpark/darwinex/pkg/util"
)

func newTestBook() *OrderBook {
	return NewOrderBook(Config{
		IDs:   util.NewSequentialIDs(),
		Clock: util.NewStepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond),
	})
}

func limit(id string, side Side, price, amount float64) *Order {
	return &Order{ID: id, AgentID: "agent-" + id, Kind: Limit, Side: side, Price: price, Amount: amount}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		order   *Order
		wantErr bool
	}{
		{"valid limit", limit("a", Buy, 100, 1), false},
		{"valid market", &Order{ID: "m", Kind: Market, Side: Sell, Amount: 2}, false},
		{"nil", nil, true},
		{"zero amount", limit("a", Buy, 100, 0), true},
		{"negative amount", limit("a", Buy, 100, -1), true},
		{"NaN amount", limit("a", Buy, 100, math.NaN()), true},
		{"missing limit price", limit("a", Sell, 0, 1), true},
		{"negative limit price", limit("a", Sell, -5, 1), true},
		{"unknown side", &Order{ID: "x", Kind: Limit, Price: 1, Amount: 1}, true},
		{"unknown kind", &Order{ID: "x", Side: Buy, Price: 1, Amount: 1}, true},
		{"overfilled", &Order{ID: "x", Kind: Limit, Side: Buy, Price: 1, Amount: 1, FilledAmount: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("error %v does not wrap ErrInvalidOrder", err)
			}
		})
	}
}

func TestAddOrder_OnlyLimitOrdersRest(t *testing.T) {
	ob := newTestBook()

	if err := ob.AddOrder(&Order{ID: "m1", Kind: Market, Side: Buy, Amount: 5}); err != nil {
		t.Fatalf("AddOrder(market): %v", err)
	}
	if err := ob.AddOrder(limit("b1", Buy, 99, 2)); err != nil {
		t.Fatalf("AddOrder(limit): %v", err)
	}

	if _, ok := ob.Order("m1"); ok {
		t.Error("market order should never rest")
	}
	if o, ok := ob.Order("b1"); !ok || o.Status != StatusPending {
		t.Errorf("limit order not resting as pending: %+v ok=%v", o, ok)
	}
	if got := ob.Liquidity(); got != 2 {
		t.Errorf("Liquidity() = %v, want 2", got)
	}
}

func TestAddOrder_RejectsInvalid(t *testing.T) {
	ob := newTestBook()
	err := ob.AddOrder(limit("bad", Buy, 0, 1))

	var ioe *InvalidOrderError
	if !errors.As(err, &ioe) {
		t.Fatalf("expected InvalidOrderError, got %v", err)
	}
	if ioe.OrderID != "bad" {
		t.Errorf("OrderID = %q, want bad", ioe.OrderID)
	}
	if ob.Liquidity() != 0 {
		t.Error("invalid order must not touch the book")
	}
}

func TestMatchMarketOrder_EmptyBook(t *testing.T) {
	ob := newTestBook()
	o := &Order{ID: "m1", AgentID: "alice", Kind: Market, Side: Buy, Amount: 1}

	trade, impact, err := ob.MatchMarketOrder(o, 100)
	if err != nil {
		t.Fatalf("MatchMarketOrder: %v", err)
	}

	wantImpact := 0.001 * math.Sqrt(1.0/1000.0)
	if math.Abs(impact-wantImpact) > 1e-12 {
		t.Errorf("impact = %v, want %v", impact, wantImpact)
	}
	if math.Abs(trade.Price-100.0000316) > 1e-7 {
		t.Errorf("execution price = %v, want ~100.0000316", trade.Price)
	}
	if trade.Amount != 1 {
		t.Errorf("trade amount = %v, want 1", trade.Amount)
	}
	if trade.BuyerAgentID != "alice" || trade.SellerAgentID != MarketCounterparty {
		t.Errorf("unexpected counterparties: %+v", trade)
	}
	if o.Status != StatusFilled || o.FilledAmount != 1 {
		t.Errorf("market order not fully filled: %+v", o)
	}
	if n := len(ob.Trades()); n != 1 {
		t.Errorf("trades = %d, want 1", n)
	}
}

func TestMatchMarketOrder_SellUsesBookLiquidity(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("b1", Buy, 99, 40))
	_ = ob.AddOrder(limit("a1", Sell, 101, 60))

	o := &Order{ID: "m1", Kind: Market, Side: Sell, Amount: 25}
	trade, impact, err := ob.MatchMarketOrder(o, 100)
	if err != nil {
		t.Fatalf("MatchMarketOrder: %v", err)
	}

	wantImpact := -0.001 * math.Sqrt(25.0/100.0)
	if math.Abs(impact-wantImpact) > 1e-12 {
		t.Errorf("impact = %v, want %v", impact, wantImpact)
	}
	if trade.BuyerAgentID != MarketCounterparty {
		t.Errorf("buyer = %q, want market counterparty", trade.BuyerAgentID)
	}
	// resting side untouched
	if got := ob.Liquidity(); got != 100 {
		t.Errorf("Liquidity() = %v, want 100", got)
	}
}

func TestMatchMarketOrder_Errors(t *testing.T) {
	ob := newTestBook()
	tests := []struct {
		name  string
		order *Order
		price float64
	}{
		{"zero price", &Order{ID: "m", Kind: Market, Side: Buy, Amount: 1}, 0},
		{"negative price", &Order{ID: "m", Kind: Market, Side: Buy, Amount: 1}, -10},
		{"NaN price", &Order{ID: "m", Kind: Market, Side: Buy, Amount: 1}, math.NaN()},
		{"limit order", limit("l", Buy, 100, 1), 100},
		{"bad amount", &Order{ID: "m", Kind: Market, Side: Buy}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ob.MatchMarketOrder(tt.order, tt.price); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
	if len(ob.Trades()) != 0 {
		t.Error("failed matches must not record trades")
	}
}

func TestMatchLimitOrder_ExecutesAtRestingPrice(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("a1", Sell, 100, 5))

	buy := limit("b1", Buy, 105, 5)
	trade, err := ob.MatchLimitOrder(buy)
	if err != nil {
		t.Fatalf("MatchLimitOrder: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade")
	}
	if trade.Price != 100 {
		t.Errorf("price = %v, want resting price 100", trade.Price)
	}
	if trade.BuyOrderID != "b1" || trade.SellOrderID != "a1" {
		t.Errorf("order ids = %s/%s", trade.BuyOrderID, trade.SellOrderID)
	}

	// incoming sell crosses a resting bid: still the resting price
	ob2 := newTestBook()
	_ = ob2.AddOrder(limit("b2", Buy, 110, 3))
	sell := limit("s2", Sell, 90, 3)
	trade, _ = ob2.MatchLimitOrder(sell)
	if trade == nil || trade.Price != 110 {
		t.Fatalf("expected execution at 110, got %+v", trade)
	}
}

func TestMatchLimitOrder_PricePriority(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("high", Sell, 102, 5))
	_ = ob.AddOrder(limit("low", Sell, 101, 5))

	buy := limit("b", Buy, 103, 10)
	var fills []string
	for {
		tr, err := ob.MatchLimitOrder(buy)
		if err != nil {
			t.Fatalf("MatchLimitOrder: %v", err)
		}
		if tr == nil {
			break
		}
		fills = append(fills, tr.SellOrderID)
	}

	if len(fills) != 2 || fills[0] != "low" || fills[1] != "high" {
		t.Errorf("fill order = %v, want [low high]", fills)
	}
	if buy.Status != StatusFilled {
		t.Errorf("buy status = %s, want filled", buy.Status)
	}
}

func TestMatchLimitOrder_TimePriority(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("first", Buy, 100, 1))
	_ = ob.AddOrder(limit("second", Buy, 100, 1))
	_ = ob.AddOrder(limit("third", Buy, 100, 1))

	sell := limit("s", Sell, 100, 3)
	want := []string{"first", "second", "third"}
	for i, id := range want {
		tr, _ := ob.MatchLimitOrder(sell)
		if tr == nil {
			t.Fatalf("pairing %d: no trade", i)
		}
		if tr.BuyOrderID != id {
			t.Errorf("pairing %d matched %s, want %s", i, tr.BuyOrderID, id)
		}
	}
}

func TestMatchLimitOrder_EqualTimestampsUseInsertionOrder(t *testing.T) {
	ob := newTestBook()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	a := limit("a", Sell, 50, 1)
	b := limit("b", Sell, 50, 1)
	b.Timestamp, a.Timestamp = ts, ts
	_ = ob.AddOrder(a)
	_ = ob.AddOrder(b)

	tr, _ := ob.MatchLimitOrder(limit("x", Buy, 50, 1))
	if tr == nil || tr.SellOrderID != "a" {
		t.Errorf("expected a to match first, got %+v", tr)
	}
}

func TestMatchLimitOrder_PartialRestingIsRepushed(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("big", Sell, 100, 10))

	tr, _ := ob.MatchLimitOrder(limit("b1", Buy, 100, 4))
	if tr == nil || tr.Amount != 4 {
		t.Fatalf("expected 4 traded, got %+v", tr)
	}

	rest, ok := ob.Order("big")
	if !ok {
		t.Fatal("partially filled resting order should remain in the book")
	}
	if rest.Status != StatusPartial || rest.FilledAmount != 4 {
		t.Errorf("resting order = %+v", rest)
	}
	if ask, ok := ob.BestAsk(); !ok || ask != 100 {
		t.Errorf("BestAsk() = %v,%v; want 100,true", ask, ok)
	}
	if got := ob.Liquidity(); got != 6 {
		t.Errorf("Liquidity() = %v, want 6", got)
	}
}

func TestMatchLimitOrder_NoCross(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("a", Sell, 101, 1))

	tr, err := ob.MatchLimitOrder(limit("b", Buy, 100, 1))
	if err != nil || tr != nil {
		t.Errorf("expected no match, got %+v err=%v", tr, err)
	}

	tr, err = newTestBook().MatchLimitOrder(limit("c", Sell, 100, 1))
	if err != nil || tr != nil {
		t.Errorf("empty book: expected no match, got %+v err=%v", tr, err)
	}
}

func TestCancelledOrderNeverMatches(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("best", Sell, 99, 5))
	_ = ob.AddOrder(limit("next", Sell, 100, 5))

	if !ob.CancelOrder("best") {
		t.Fatal("CancelOrder(best) = false")
	}

	// the cancelled entry is still physically in the heap
	if st := ob.Statistics(); st.ActiveAsks != 1 {
		t.Errorf("ActiveAsks = %d, want 1", st.ActiveAsks)
	}

	ob2 := newTestBook()
	_ = ob2.AddOrder(limit("best", Sell, 99, 5))
	_ = ob2.AddOrder(limit("next", Sell, 100, 5))
	ob2.CancelOrder("best")

	buy := limit("b", Buy, 105, 20)
	for {
		tr, _ := ob2.MatchLimitOrder(buy)
		if tr == nil {
			break
		}
		if tr.SellOrderID == "best" {
			t.Fatal("cancelled order was matched")
		}
	}
	if buy.FilledAmount != 5 {
		t.Errorf("filled = %v, want 5", buy.FilledAmount)
	}
}

func TestCancelOrder_UnknownIsNoop(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("a", Buy, 10, 1))
	if ob.CancelOrder("missing") {
		t.Error("CancelOrder(missing) = true")
	}
	if ob.Liquidity() != 1 {
		t.Error("book changed after unknown cancel")
	}
	if ob.CancelOrder("a") && ob.CancelOrder("a") {
		t.Error("second cancel should report false")
	}
}

func TestLiquidityDecreasesByTradedAmount(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("a", Sell, 100, 8))
	_ = ob.AddOrder(limit("b", Buy, 95, 2))

	before := ob.Liquidity()
	tr, _ := ob.MatchLimitOrder(limit("x", Buy, 100, 3))
	if tr == nil {
		t.Fatal("expected a trade")
	}
	if after := ob.Liquidity(); math.Abs(before-after-tr.Amount) > 1e-12 {
		t.Errorf("liquidity %v -> %v, traded %v", before, after, tr.Amount)
	}
}

func TestBestPricesAndSpread(t *testing.T) {
	ob := newTestBook()
	if _, ok := ob.Spread(); ok {
		t.Error("empty book should have no spread")
	}

	_ = ob.AddOrder(limit("b1", Buy, 99, 1))
	_ = ob.AddOrder(limit("b2", Buy, 98, 1))
	_ = ob.AddOrder(limit("a1", Sell, 101, 1))
	_ = ob.AddOrder(limit("a2", Sell, 103, 1))

	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	spread, ok := ob.Spread()
	if bid != 99 || ask != 101 || !ok || spread != 2 {
		t.Errorf("bid=%v ask=%v spread=%v ok=%v", bid, ask, spread, ok)
	}

	ob.CancelOrder("b1")
	if bid, _ = ob.BestBid(); bid != 98 {
		t.Errorf("BestBid after cancel = %v, want 98", bid)
	}
}

func TestLevels(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("b1", Buy, 99, 1))
	_ = ob.AddOrder(limit("b2", Buy, 99, 2))
	_ = ob.AddOrder(limit("b3", Buy, 97, 4))
	_ = ob.AddOrder(limit("a1", Sell, 101, 1))
	_ = ob.AddOrder(limit("a2", Sell, 102, 1))
	ob.CancelOrder("a1")

	bids := ob.BidLevels()
	if len(bids) != 2 || bids[0].Price != 99 || bids[0].Amount != 3 || bids[0].Orders != 2 {
		t.Errorf("BidLevels() = %+v", bids)
	}
	asks := ob.AskLevels()
	if len(asks) != 1 || asks[0].Price != 102 {
		t.Errorf("AskLevels() = %+v", asks)
	}
}

func TestStatisticsAndReset(t *testing.T) {
	ob := newTestBook()
	_ = ob.AddOrder(limit("a", Sell, 100, 2))
	_, _ = ob.MatchLimitOrder(limit("b", Buy, 100, 1))
	_, _, _ = ob.MatchMarketOrder(&Order{ID: "m", Kind: Market, Side: Buy, Amount: 1}, 100)

	st := ob.Statistics()
	if st.TotalTrades != 2 || st.TotalVolume != 2 {
		t.Errorf("trades=%d volume=%v", st.TotalTrades, st.TotalVolume)
	}
	if st.LastPrice <= 100 {
		t.Errorf("LastPrice = %v, want market fill above 100", st.LastPrice)
	}
	if got := ob.RecentTrades(1); len(got) != 1 || got[0].SellerAgentID != MarketCounterparty {
		t.Errorf("RecentTrades(1) = %+v", got)
	}

	ob.Reset()
	st = ob.Statistics()
	if st.TotalTrades != 0 || st.Liquidity != 0 || st.ActiveAsks != 0 {
		t.Errorf("after reset: %+v", st)
	}
}

func BenchmarkAddAndMatch(b *testing.B) {
	ob := newTestBook()
	for i := 0; i < 100; i++ {
		_ = ob.AddOrder(limit("", Buy, float64(1000-i), 100))
		_ = ob.AddOrder(limit("", Sell, float64(1100+i), 100))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := Buy
		price := 1100.0
		if i%2 == 0 {
			side, price = Sell, 1000
		}
		o := limit("", side, price, 1)
		o.ID = ""
		for {
			tr, _ := ob.MatchLimitOrder(o)
			if tr == nil {
				break
			}
		}
		_ = ob.AddOrder(limit("", side.Opposite(), price, 1))
	}
}

func BenchmarkCancel(b *testing.B) {
	ob := newTestBook()
	ids := make([]string, b.N)
	for i := 0; i < b.N; i++ {
		o := limit("", Buy, float64(1+i%500), 1)
		o.ID = ""
		_ = ob.AddOrder(o)
		ids[i] = o.ID
	}
	b.ResetTimer()
	for _, id := range ids {
		ob.CancelOrder(id)
	}
}

// 500 levels per side, five orders each
func BenchmarkLevels(b *testing.B) {
	ob := newTestBook()
	for i := 0; i < 500; i++ {
		for j := 0; j < 5; j++ {
			_ = ob.AddOrder(limit("", Buy, float64(10000-i), 100))
			_ = ob.AddOrder(limit("", Sell, float64(11000+i), 100))
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.BidLevels()
		_ = ob.AskLevels()
	}
}

func BenchmarkMarketOrderDeepBook(b *testing.B) {
	ob := newTestBook()
	for i := 0; i < 2000; i++ {
		_ = ob.AddOrder(limit("", Buy, float64(100000-i), 100))
		_ = ob.AddOrder(limit("", Sell, float64(110000+i), 100))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := Buy
		if i%2 == 0 {
			side = Sell
		}
		if _, _, err := ob.MatchMarketOrder(&Order{Kind: Market, Side: side, Amount: 10}, 105000); err != nil {
			b.Fatal(err)
		}
	}
}
