package selfplay

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/impact"
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

var ErrShortSeries = errors.New("price series too short")

// PaperEvaluator scores a contender by replaying a price series through a
// fresh copy of its strategy. Market signals execute at the impact-adjusted
// price plus fees; resting quotes fill when a later price trades through
// them. Open positions are marked at the last price.
//
// Exposure is capped at capital: a signal that would push |position|*price
// above it is skipped.
type PaperEvaluator struct {
	Model     *impact.Model
	Liquidity float64 // assumed market depth, model default when zero
	FeeRate   float64 // negative selects the model's fee rate
	Seed      int64
}

func (e *PaperEvaluator) Evaluate(c arena.Contender, data arena.MarketData, capital float64) (float64, error) {
	ct, err := asContender(c)
	if err != nil {
		return 0, err
	}
	if len(data.Prices) < 2 {
		return 0, fmt.Errorf("%w: %d prices", ErrShortSeries, len(data.Prices))
	}
	if !(capital > 0) {
		capital = arena.DefaultCapital
	}

	model := e.Model
	if model == nil {
		model = impact.NewModel(impact.Config{})
	}
	liq := e.Liquidity
	if !(liq > 0) {
		liq = model.Config().DefaultLiquidity
	}
	fee := e.FeeRate
	if fee < 0 {
		fee = model.Config().FeeRate
	}

	s, err := ct.Strategy(rand.New(rand.NewSource(e.seedFor(ct.AgentID()))))
	if err != nil {
		return 0, err
	}

	p := paper{capital: capital, fee: fee}
	var quotes []adversary.Signal
	for i, price := range data.Prices {
		if !(price > 0) || math.IsInf(price, 0) {
			return 0, fmt.Errorf("price %d: %v is not a positive finite number", i, price)
		}

		quotes = p.crossQuotes(s, quotes, price)

		if sig, ok := s.GenerateSignal(price, i); ok && sig.Amount > 0 {
			if sig.Kind == orderbook.Limit {
				quotes = append(quotes, sig)
			} else {
				exec := model.CalculateSlippage(sig.Amount, sig.Side, liq, price)
				if p.fill(sig.Side, sig.Amount, exec) {
					s.OnFill(sig.Side, sig.Amount, exec)
				}
			}
		}

		if q := s.GenerateQuotes(price, i); len(q) > 0 {
			quotes = q
		}
	}

	last := data.Prices[len(data.Prices)-1]
	return p.cash + p.position*last, nil
}

func (e *PaperEvaluator) seedFor(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return e.Seed ^ int64(h.Sum64())
}

type paper struct {
	capital  float64
	fee      float64
	cash     float64
	position float64
}

// fill books an execution unless it breaches the exposure cap.
func (p *paper) fill(side orderbook.Side, amount, price float64) bool {
	next := p.position + side.Sign()*amount
	if math.Abs(next)*price > p.capital && math.Abs(next) > math.Abs(p.position) {
		return false
	}
	p.position = next
	p.cash -= side.Sign()*amount*price + amount*price*p.fee
	return true
}

// crossQuotes fills every quote the new price trades through and returns the
// quotes still resting.
func (p *paper) crossQuotes(s adversary.Strategy, quotes []adversary.Signal, price float64) []adversary.Signal {
	resting := quotes[:0]
	for _, q := range quotes {
		crossed := q.Side == orderbook.Buy && price <= q.Price ||
			q.Side == orderbook.Sell && price >= q.Price
		if crossed && p.fill(q.Side, q.Amount, q.Price) {
			s.OnFill(q.Side, q.Amount, q.Price)
			continue
		}
		resting = append(resting, q)
	}
	return resting
}
