package adversary

import "math"

// contrarian fades statistical extremes: short above +EntryThreshold sigma,
// long below -EntryThreshold, flat once the z-score falls inside ExitThreshold.
type contrarian struct {
	directional
	holding

	p      ContrarianParams
	prices rolling
}

func newContrarian(p ContrarianParams) *contrarian {
	return &contrarian{p: p, prices: rolling{max: p.LookbackPeriod}}
}

func (s *contrarian) Type() Type { return Contrarian }

func (s *contrarian) GenerateSignal(price float64, cycle int) (Signal, bool) {
	if !(price > 0) {
		return Signal{}, false
	}
	s.prices.push(price)
	if s.prices.len() < s.p.LookbackPeriod {
		return Signal{}, false
	}

	z, ok := zscore(s.prices.buf, price)
	if !ok {
		return Signal{}, false
	}

	if !s.flat() {
		if math.Abs(z) < s.p.ExitThreshold {
			return s.close("mean_reverted"), true
		}
		return Signal{}, false
	}

	switch {
	case z > s.p.EntryThreshold:
		return s.open(-s.p.PositionSize, price, cycle, "overextended_high"), true
	case z < -s.p.EntryThreshold:
		return s.open(s.p.PositionSize, price, cycle, "overextended_low"), true
	}
	return Signal{}, false
}

// zscore of x against the population mean and deviation of window.
func zscore(window []float64, x float64) (float64, bool) {
	n := float64(len(window))
	if n < 2 {
		return 0, false
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / n

	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	if std == 0 {
		return 0, false
	}
	return (x - mean) / std, true
}
