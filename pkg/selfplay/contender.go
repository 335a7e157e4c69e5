// Package selfplay drives generations of contenders through the adversarial
// market, the arena and the pressure controller.
package selfplay

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/market"
)

var ErrNotContender = errors.New("not a selfplay contender")

// Contender is one evolving agent: a strategy archetype plus its tunables.
type Contender struct {
	id     string
	Type   adversary.Type
	Params adversary.Params
	Parent string // id of the contender this one was bred from
}

func NewContender(id string, t adversary.Type, p adversary.Params) *Contender {
	return &Contender{id: id, Type: t, Params: p}
}

func (c *Contender) AgentID() string { return c.id }

// Strategy builds a fresh strategy instance for c.
func (c *Contender) Strategy(rng *rand.Rand) (adversary.Strategy, error) {
	return adversary.New(c.Type, c.Params, rng)
}

var (
	_ arena.Contender     = (*Contender)(nil)
	_ market.ShadowSource = (*Contender)(nil)
)

func asContender(v any) (*Contender, error) {
	c, ok := v.(*Contender)
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %T", ErrNotContender, v)
	}
	return c, nil
}

// MutatingCloner mirrors a contender as a shadow adversary whose parameters
// are jittered by up to +/-Jitter (relative).
type MutatingCloner struct {
	Jitter float64
}

func (m MutatingCloner) Clone(src market.ShadowSource, rng *rand.Rand) (adversary.Strategy, error) {
	c, err := asContender(src)
	if err != nil {
		return nil, err
	}
	return adversary.New(c.Type, Mutate(c.Params, rng, m.Jitter), rng)
}

// Mutate returns p with every tunable scaled by a factor drawn uniformly
// from [1-jitter, 1+jitter]. Integer tunables never drop below one.
func Mutate(p adversary.Params, rng *rand.Rand, jitter float64) adversary.Params {
	if !(jitter > 0) {
		return p
	}
	jitter = math.Min(jitter, 0.9)
	p = p.WithDefaults()

	f := func(v *float64) { *v *= 1 + jitter*(2*rng.Float64()-1) }
	n := func(v *int) {
		*v = max(1, int(math.Round(float64(*v)*(1+jitter*(2*rng.Float64()-1)))))
	}

	mm := &p.MarketMaker
	f(&mm.SpreadPct)
	f(&mm.QuoteSize)
	f(&mm.MaxInventory)
	n(&mm.QuoteRefreshRate)

	tf := &p.TrendFollower
	f(&tf.MomentumThreshold)
	f(&tf.StopLossPct)
	n(&tf.Lookback)
	f(&tf.PositionSize)

	ct := &p.Contrarian
	n(&ct.LookbackPeriod)
	f(&ct.EntryThreshold)
	f(&ct.ExitThreshold)
	f(&ct.PositionSize)

	ar := &p.Arbitrageur
	f(&ar.MinSpreadPct)
	n(&ar.MaxHoldTime)
	f(&ar.PositionSize)

	nt := &p.NoiseTrader
	f(&nt.TradeFrequency)
	f(&nt.PanicThreshold)
	f(&nt.MaxSize)
	if nt.TradeFrequency > 1 {
		nt.TradeFrequency = 1
	}
	return p
}
