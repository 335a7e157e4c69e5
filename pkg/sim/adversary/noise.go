package adversary

import (
	"math/rand"

	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

// noiseTrader trades at random, panics on sharp drops and chases sharp rises.
type noiseTrader struct {
	directional
	holding

	p          NoiseTraderParams
	rng        *rand.Rand
	last       float64
	holdTarget int
}

func newNoiseTrader(p NoiseTraderParams, rng *rand.Rand) *noiseTrader {
	return &noiseTrader{p: p, rng: rng}
}

func (s *noiseTrader) Type() Type { return NoiseTrader }

func (s *noiseTrader) GenerateSignal(price float64, cycle int) (Signal, bool) {
	if !(price > 0) {
		return Signal{}, false
	}
	prev := s.last
	s.last = price

	var ret float64
	if prev > 0 {
		ret = (price - prev) / prev
	}

	switch {
	case s.position > 0 && ret < -s.p.PanicThreshold:
		return s.close("panic_sell"), true
	case s.position <= 0 && ret > s.p.PanicThreshold:
		s.holdTarget = s.drawHold()
		return s.open(s.size(), price, cycle, "fomo_buy"), true
	case !s.flat() && cycle-s.openedAt >= s.holdTarget:
		return s.close("target_hold"), true
	}

	if s.flat() && s.rng.Float64() < s.p.TradeFrequency {
		side := orderbook.Buy
		if s.rng.Intn(2) == 0 {
			side = orderbook.Sell
		}
		s.holdTarget = s.drawHold()
		return s.open(side.Sign()*s.size(), price, cycle, "random_entry"), true
	}
	return Signal{}, false
}

// size draws a trade size in [10%, 100%] of MaxSize.
func (s *noiseTrader) size() float64 {
	return s.p.MaxSize * (0.1 + 0.9*s.rng.Float64())
}

func (s *noiseTrader) drawHold() int {
	return s.p.MinHold + s.rng.Intn(s.p.MaxHold-s.p.MinHold+1)
}
