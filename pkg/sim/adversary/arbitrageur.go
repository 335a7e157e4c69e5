package adversary

import "math"

// arbitrageur bets against single-tick moves larger than MinSpreadPct and
// holds for at most MaxHoldTime cycles.
type arbitrageur struct {
	directional
	holding

	p    ArbitrageurParams
	last float64
}

func newArbitrageur(p ArbitrageurParams) *arbitrageur {
	return &arbitrageur{p: p}
}

func (s *arbitrageur) Type() Type { return Arbitrageur }

func (s *arbitrageur) GenerateSignal(price float64, cycle int) (Signal, bool) {
	if !(price > 0) {
		return Signal{}, false
	}
	prev := s.last
	s.last = price
	if prev == 0 {
		return Signal{}, false
	}

	ret := (price - prev) / prev
	opportunity := math.Abs(ret) > s.p.MinSpreadPct
	want := -sign(ret) // counter-trend direction

	if !s.flat() {
		if cycle-s.openedAt >= s.p.MaxHoldTime {
			return s.close("max_hold"), true
		}
		if opportunity && want != sign(s.position) {
			return s.close("reversal"), true
		}
		return Signal{}, false
	}

	if opportunity {
		return s.open(want*s.p.PositionSize, price, cycle, "counter_trend"), true
	}
	return Signal{}, false
}
