package adversary

import "github.com/uhyunpark/darwinex/pkg/sim/orderbook"

// shadow runs a cloned strategy under the shadow type so the market can tell
// mirrored adversaries apart from the regular population.
type shadow struct {
	inner Strategy
}

// NewShadow wraps a strategy cloned from a live agent.
func NewShadow(inner Strategy) Strategy {
	return &shadow{inner: inner}
}

func (s *shadow) Type() Type { return Shadow }

// Base returns the archetype the shadow was cloned from.
func (s *shadow) Base() Type { return s.inner.Type() }

func (s *shadow) GenerateSignal(price float64, cycle int) (Signal, bool) {
	return s.inner.GenerateSignal(price, cycle)
}

func (s *shadow) GenerateQuotes(price float64, cycle int) []Signal {
	return s.inner.GenerateQuotes(price, cycle)
}

func (s *shadow) OnFill(side orderbook.Side, amount, price float64) {
	s.inner.OnFill(side, amount, price)
}
