package market

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

var (
	ErrNoShadowCloner      = errors.New("no shadow cloner configured")
	ErrInvalidDistribution = errors.New("invalid adversary distribution")
)

// ExternalAgent is recorded on caller intents that carry no agent id.
const ExternalAgent = "external"

// OrderIntent is an order submitted by the cycle driver.
type OrderIntent struct {
	AgentID string         `json:"agent_id"`
	Kind    orderbook.Kind `json:"kind"`
	Side    orderbook.Side `json:"side"`
	Amount  float64        `json:"amount"`
	Price   float64        `json:"price,omitempty"`
}

func (in OrderIntent) order() *orderbook.Order {
	id := in.AgentID
	if id == "" {
		id = ExternalAgent
	}
	return &orderbook.Order{
		AgentID: id,
		Kind:    in.Kind,
		Side:    in.Side,
		Amount:  in.Amount,
		Price:   in.Price,
	}
}

// Distribution weights adversary types. Weights need not sum to one.
type Distribution map[adversary.Type]float64

func DefaultDistribution() Distribution {
	return Distribution{
		adversary.MarketMaker:   0.20,
		adversary.TrendFollower: 0.30,
		adversary.Contrarian:    0.20,
		adversary.Arbitrageur:   0.15,
		adversary.NoiseTrader:   0.15,
	}
}

// Validate requires regular archetypes only and finite non-negative weights
// with a positive total.
func (d Distribution) Validate() error {
	var total float64
	for t, w := range d {
		if !t.Valid() || t == adversary.Shadow {
			return fmt.Errorf("%w: type %q", ErrInvalidDistribution, t)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight %v for %s", ErrInvalidDistribution, w, t)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidDistribution)
	}
	return nil
}

// pick draws a type proportionally to its weight. Types are visited in a
// fixed order so a seeded rng gives reproducible populations.
func (d Distribution) pick(rng *rand.Rand) adversary.Type {
	types := adversary.Types()
	var total float64
	for _, t := range types {
		total += d[t]
	}
	x := rng.Float64() * total
	for _, t := range types {
		x -= d[t]
		if x < 0 {
			return t
		}
	}
	for i := len(types) - 1; i >= 0; i-- {
		if d[types[i]] > 0 {
			return types[i]
		}
	}
	return types[0]
}

// ShadowSource is a live trading agent that can be mirrored.
type ShadowSource interface {
	AgentID() string
}

// ShadowCloner turns a live agent into an adversarial strategy.
type ShadowCloner interface {
	Clone(src ShadowSource, rng *rand.Rand) (adversary.Strategy, error)
}

type ShadowClonerFunc func(src ShadowSource, rng *rand.Rand) (adversary.Strategy, error)

func (f ShadowClonerFunc) Clone(src ShadowSource, rng *rand.Rand) (adversary.Strategy, error) {
	return f(src, rng)
}

// AgentInfo is a read-only view of an adversary.
type AgentInfo struct {
	ID       string         `json:"id"`
	Type     adversary.Type `json:"type"`
	Role     adversary.Role `json:"role"`
	ShadowOf string         `json:"shadow_of,omitempty"`
}

type Statistics struct {
	Cycles          int                    `json:"cycles"`
	LastPrice       float64                `json:"last_price"`
	Adversaries     int                    `json:"adversaries"`
	Shadows         int                    `json:"shadows"`
	ByType          map[adversary.Type]int `json:"by_type"`
	TotalTrades     int                    `json:"total_trades"`
	AdversaryTrades int                    `json:"adversary_trades"`
	CallerTrades    int                    `json:"caller_trades"`
	TotalVolume     float64                `json:"total_volume"`
	NetMarketFlow   float64                `json:"net_market_flow"`
	Book            orderbook.Statistics   `json:"book"`
}
