// Package adversary implements the archetypal counterparties that populate
// the simulated market. Every strategy owns its private state and its own
// random source, so agents never share mutable state.
package adversary

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

type Type string

const (
	MarketMaker   Type = "market_maker"
	TrendFollower Type = "trend_follower"
	Contrarian    Type = "contrarian"
	Arbitrageur   Type = "arbitrageur"
	NoiseTrader   Type = "noise_trader"
	Shadow        Type = "shadow"
)

// Types lists the regular archetypes in a stable order.
func Types() []Type {
	return []Type{MarketMaker, TrendFollower, Contrarian, Arbitrageur, NoiseTrader}
}

func (t Type) Valid() bool {
	switch t {
	case MarketMaker, TrendFollower, Contrarian, Arbitrageur, NoiseTrader, Shadow:
		return true
	}
	return false
}

type Role string

const (
	RoleAdversary Role = "adversary"
	RoleShadow    Role = "shadow_adversary"
)

type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
	ActionQuote Action = "quote"
	ActionHedge Action = "hedge"
)

// Signal is one order intent produced by a strategy.
type Signal struct {
	Action Action
	Side   orderbook.Side
	Amount float64
	Kind   orderbook.Kind
	Price  float64 // limit price, zero for market signals
	Reason string
}

// Strategy is the single capability the market dispatches on.
//
// GenerateSignal returns at most one directional intent per cycle.
// GenerateQuotes returns resting limit intents; only liquidity providers
// return any. OnFill reports executions against the agent's orders.
type Strategy interface {
	Type() Type
	GenerateSignal(price float64, cycle int) (Signal, bool)
	GenerateQuotes(price float64, cycle int) []Signal
	OnFill(side orderbook.Side, amount, price float64)
}

var ErrUnknownType = errors.New("unknown adversary type")

// New builds a fresh strategy of type t. A nil rng gets a time-seeded source.
func New(t Type, p Params, rng *rand.Rand) (Strategy, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p = p.WithDefaults()

	switch t {
	case MarketMaker:
		return newMarketMaker(p.MarketMaker), nil
	case TrendFollower:
		return newTrendFollower(p.TrendFollower), nil
	case Contrarian:
		return newContrarian(p.Contrarian), nil
	case Arbitrageur:
		return newArbitrageur(p.Arbitrageur), nil
	case NoiseTrader:
		return newNoiseTrader(p.NoiseTrader, rng), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// Agent binds a strategy to an identity in the market.
type Agent struct {
	ID       string
	Type     Type
	Role     Role
	ShadowOf string // source agent id for shadow adversaries
	Strategy Strategy
}

func NewAgent(id string, role Role, s Strategy) *Agent {
	return &Agent{ID: id, Type: s.Type(), Role: role, Strategy: s}
}

// Intents returns this cycle's quotes followed by the directional signal, if any.
func (a *Agent) Intents(price float64, cycle int) []Signal {
	out := a.Strategy.GenerateQuotes(price, cycle)
	if sig, ok := a.Strategy.GenerateSignal(price, cycle); ok {
		out = append(out, sig)
	}
	return out
}

// directional is embedded by strategies that never quote and settle their
// position at signal time.
type directional struct{}

func (directional) GenerateQuotes(float64, int) []Signal    { return nil }
func (directional) OnFill(orderbook.Side, float64, float64) {}

// holding tracks a signed position and its entry price.
type holding struct {
	position float64
	entry    float64
	openedAt int
}

// open moves the position to target (signed) and returns the market signal
// that gets there.
func (b *holding) open(target, price float64, cycle int, reason string) Signal {
	delta := target - b.position
	side := orderbook.Buy
	if delta < 0 {
		side = orderbook.Sell
	}
	b.position = target
	b.entry = price
	b.openedAt = cycle
	return Signal{
		Action: ActionOpen,
		Side:   side,
		Amount: abs(delta),
		Kind:   orderbook.Market,
		Reason: reason,
	}
}

func (b *holding) close(reason string) Signal {
	side := orderbook.Sell
	if b.position < 0 {
		side = orderbook.Buy
	}
	s := Signal{
		Action: ActionClose,
		Side:   side,
		Amount: abs(b.position),
		Kind:   orderbook.Market,
		Reason: reason,
	}
	b.position, b.entry = 0, 0
	return s
}

func (b *holding) flat() bool { return b.position == 0 }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// rolling is a bounded price window, oldest first.
type rolling struct {
	buf []float64
	max int
}

func (r *rolling) push(v float64) {
	r.buf = append(r.buf, v)
	if len(r.buf) > r.max {
		copy(r.buf, r.buf[len(r.buf)-r.max:])
		r.buf = r.buf[:r.max]
	}
}

func (r *rolling) len() int { return len(r.buf) }

// back returns the value i steps before the newest (back(0) is newest).
func (r *rolling) back(i int) float64 { return r.buf[len(r.buf)-1-i] }
