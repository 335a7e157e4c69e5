package orderbook

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// submit matches o until it stops crossing, then rests whatever is left.
func submit(t *rapid.T, ob *OrderBook, o *Order) []Trade {
	var trades []Trade
	for {
		tr, err := ob.MatchLimitOrder(o)
		if err != nil {
			t.Fatalf("MatchLimitOrder: %v", err)
		}
		if tr == nil {
			break
		}
		trades = append(trades, *tr)
	}
	if o.IsActive() {
		if err := ob.AddOrder(o); err != nil {
			t.Fatalf("AddOrder: %v", err)
		}
	}
	return trades
}

func checkBook(t *rapid.T, ob *OrderBook, all []*Order) {
	for _, o := range all {
		if o.FilledAmount < 0 || o.FilledAmount > o.Amount {
			t.Fatalf("order %s filled %v of %v", o.ID, o.FilledAmount, o.Amount)
		}
	}

	var want float64
	ob.mu.RLock()
	for _, o := range ob.orders {
		want += o.Remaining()
	}
	ob.mu.RUnlock()
	if got := ob.Liquidity(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Liquidity() = %v, want %v", got, want)
	}

	for _, tr := range ob.Trades() {
		if !(tr.Amount > 0) || !(tr.Price > 0) {
			t.Fatalf("bad trade %+v", tr)
		}
	}

	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if hasBid && hasAsk && bid >= ask {
		t.Fatalf("book is crossed: bid %v >= ask %v", bid, ask)
	}
}

func TestProperty_BookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := newTestBook()
		var all []*Order

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				side := Buy
				if rapid.Bool().Draw(t, "sell") {
					side = Sell
				}
				o := &Order{
					AgentID: "p",
					Kind:    Limit,
					Side:    side,
					Price:   float64(rapid.IntRange(90, 110).Draw(t, "price")),
					Amount:  float64(rapid.IntRange(1, 10).Draw(t, "amount")),
				}
				all = append(all, o)
				for _, tr := range submit(t, ob, o) {
					// passive price: never worse than the incoming limit
					if side == Buy && tr.Price > o.Price || side == Sell && tr.Price < o.Price {
						t.Fatalf("trade at %v through limit %v", tr.Price, o.Price)
					}
				}
			case 1:
				if len(all) == 0 {
					continue
				}
				victim := all[rapid.IntRange(0, len(all)-1).Draw(t, "victim")]
				ob.CancelOrder(victim.ID)
			case 2:
				side := Buy
				if rapid.Bool().Draw(t, "marketSell") {
					side = Sell
				}
				before := ob.Liquidity()
				o := &Order{AgentID: "m", Kind: Market, Side: side, Amount: float64(rapid.IntRange(1, 50).Draw(t, "size"))}
				if _, _, err := ob.MatchMarketOrder(o, 100); err != nil {
					t.Fatalf("MatchMarketOrder: %v", err)
				}
				if ob.Liquidity() != before {
					t.Fatalf("market order changed resting liquidity")
				}
				all = append(all, o)
			}
			checkBook(t, ob, all)
		}
	})
}

func TestProperty_CancelledNeverTrades(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := newTestBook()
		n := rapid.IntRange(1, 20).Draw(t, "n")
		cancelled := make(map[string]bool)

		for i := 0; i < n; i++ {
			o := &Order{
				AgentID: "maker",
				Kind:    Limit,
				Side:    Sell,
				Price:   float64(rapid.IntRange(95, 105).Draw(t, "price")),
				Amount:  float64(rapid.IntRange(1, 5).Draw(t, "amount")),
			}
			if err := ob.AddOrder(o); err != nil {
				t.Fatal(err)
			}
			if rapid.Bool().Draw(t, "cancel") {
				ob.CancelOrder(o.ID)
				cancelled[o.ID] = true
			}
		}

		sweep := &Order{AgentID: "taker", Kind: Limit, Side: Buy, Price: 1000, Amount: 1000}
		for {
			tr, _ := ob.MatchLimitOrder(sweep)
			if tr == nil {
				break
			}
			if cancelled[tr.SellOrderID] {
				t.Fatalf("cancelled order %s traded", tr.SellOrderID)
			}
		}
		if st := ob.Statistics(); st.ActiveAsks != 0 {
			t.Fatalf("sweep left %d active asks", st.ActiveAsks)
		}
	})
}
