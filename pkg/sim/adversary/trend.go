package adversary

// trendFollower chases momentum measured over Lookback points and cuts
// losers at StopLossPct.
type trendFollower struct {
	directional
	holding

	p      TrendFollowerParams
	prices rolling
}

func newTrendFollower(p TrendFollowerParams) *trendFollower {
	return &trendFollower{p: p, prices: rolling{max: p.BufferSize}}
}

func (s *trendFollower) Type() Type { return TrendFollower }

func (s *trendFollower) GenerateSignal(price float64, cycle int) (Signal, bool) {
	if !(price > 0) {
		return Signal{}, false
	}
	s.prices.push(price)

	if !s.flat() && s.entry > 0 {
		adverse := -sign(s.position) * (price - s.entry) / s.entry
		if adverse >= s.p.StopLossPct {
			return s.close("stop_loss"), true
		}
	}

	if s.prices.len() <= s.p.Lookback {
		return Signal{}, false
	}
	past := s.prices.back(s.p.Lookback)
	momentum := (price - past) / past

	switch {
	case momentum > s.p.MomentumThreshold && s.position <= 0:
		return s.open(s.p.PositionSize, price, cycle, "momentum_long"), true
	case momentum < -s.p.MomentumThreshold && s.position >= 0:
		return s.open(-s.p.PositionSize, price, cycle, "momentum_short"), true
	}
	return Signal{}, false
}
