package adversary

import (
	"math"

	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

const (
	skewThreshold  = 0.7 // |inventory|/max above which quote sizes skew
	hedgeThreshold = 0.8 // |inventory|/max above which a market hedge fires
	hedgeFraction  = 0.5
)

// marketMaker quotes both sides around the reference price and leans its
// sizes against accumulated inventory. Inventory changes only through fills.
type marketMaker struct {
	p         MarketMakerParams
	inventory float64
}

func newMarketMaker(p MarketMakerParams) *marketMaker {
	return &marketMaker{p: p}
}

func (m *marketMaker) Type() Type { return MarketMaker }

func (m *marketMaker) Inventory() float64 { return m.inventory }

// GenerateQuotes emits a bid and an ask every QuoteRefreshRate cycles.
func (m *marketMaker) GenerateQuotes(price float64, cycle int) []Signal {
	if !(price > 0) || cycle%m.p.QuoteRefreshRate != 0 {
		return nil
	}

	half := price * m.p.SpreadPct / 2
	bidSize, askSize := m.p.QuoteSize, m.p.QuoteSize

	ratio := m.inventory / m.p.MaxInventory
	if math.Abs(ratio) > skewThreshold {
		lean := math.Min(math.Abs(ratio), 1)
		if ratio > 0 {
			// long: buy less, sell more
			bidSize *= 1 - lean
			askSize *= 1 + lean
		} else {
			bidSize *= 1 + lean
			askSize *= 1 - lean
		}
	}

	quotes := make([]Signal, 0, 2)
	if bidSize > 0 {
		quotes = append(quotes, Signal{
			Action: ActionQuote,
			Side:   orderbook.Buy,
			Amount: bidSize,
			Kind:   orderbook.Limit,
			Price:  price - half,
			Reason: "quote_bid",
		})
	}
	if askSize > 0 {
		quotes = append(quotes, Signal{
			Action: ActionQuote,
			Side:   orderbook.Sell,
			Amount: askSize,
			Kind:   orderbook.Limit,
			Price:  price + half,
			Reason: "quote_ask",
		})
	}
	return quotes
}

// GenerateSignal fires a market hedge of half the inventory once it exceeds
// the hedge threshold.
func (m *marketMaker) GenerateSignal(price float64, cycle int) (Signal, bool) {
	if math.Abs(m.inventory) <= hedgeThreshold*m.p.MaxInventory {
		return Signal{}, false
	}
	side := orderbook.Sell
	if m.inventory < 0 {
		side = orderbook.Buy
	}
	return Signal{
		Action: ActionHedge,
		Side:   side,
		Amount: math.Abs(m.inventory) * hedgeFraction,
		Kind:   orderbook.Market,
		Reason: "inventory_hedge",
	}, true
}

func (m *marketMaker) OnFill(side orderbook.Side, amount, price float64) {
	m.inventory += side.Sign() * amount
}
