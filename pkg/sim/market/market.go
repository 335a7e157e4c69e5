// Package market runs the adversarial market: an order book and an impact
// model shared by a population of adversary agents and the cycle driver's
// own orders.
package market

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/pkg/metrics"
	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/impact"
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
	"github.com/uhyunpark/darwinex/pkg/util"
)

const minPrice = 1e-8

type Config struct {
	Impact          impact.Config
	Adversary       adversary.Params
	AggregateImpact bool // apply a second impact term from net market flow

	Rand    *rand.Rand
	IDs     util.IDGenerator
	Clock   util.Clock
	Cloner  ShadowCloner
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
}

type Market struct {
	mu sync.Mutex

	book  *orderbook.OrderBook
	model *impact.Model

	agents []*adversary.Agent
	byID   map[string]*adversary.Agent
	quotes map[string][]string // agent id -> resting quote order ids

	params    adversary.Params
	aggregate bool
	rng       *rand.Rand
	ids       util.IDGenerator
	cloner    ShadowCloner
	log       *zap.SugaredLogger
	metrics   *metrics.Collector

	cycles          int
	lastPrice       float64
	adversaryTrades int
	callerTrades    int
	netFlow         float64
}

func New(cfg Config) *Market {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.IDs == nil {
		cfg.IDs = util.NewSequentialIDs()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	model := impact.NewModel(cfg.Impact)
	mc := model.Config()

	return &Market{
		book: orderbook.NewOrderBook(orderbook.Config{
			ImpactCoefficient: mc.Coefficient,
			DefaultLiquidity:  mc.DefaultLiquidity,
			IDs:               cfg.IDs,
			Clock:             cfg.Clock,
		}),
		model:     model,
		byID:      make(map[string]*adversary.Agent),
		quotes:    make(map[string][]string),
		params:    cfg.Adversary,
		aggregate: cfg.AggregateImpact,
		rng:       cfg.Rand,
		ids:       cfg.IDs,
		cloner:    cfg.Cloner,
		log:       util.OrNop(cfg.Logger),
		metrics:   cfg.Metrics,
	}
}

// CreateAdversarialPopulation replaces the regular adversaries with n new
// agents drawn from dist (DefaultDistribution when empty). Shadow adversaries
// are kept. Resting quotes of the replaced agents are cancelled.
func (m *Market) CreateAdversarialPopulation(n int, dist Distribution) ([]AgentInfo, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative population size %d", ErrInvalidDistribution, n)
	}
	if len(dist) == 0 {
		dist = DefaultDistribution()
	}
	if err := dist.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	created := make([]*adversary.Agent, 0, n)
	for i := 0; i < n; i++ {
		t := dist.pick(m.rng)
		s, err := adversary.New(t, m.params, m.childRand())
		if err != nil {
			return nil, err
		}
		created = append(created, adversary.NewAgent(m.ids.Next("adv"), adversary.RoleAdversary, s))
	}

	m.replace(adversary.RoleAdversary, created)

	info := infos(created)
	m.log.Infow("population_created",
		"size", n,
		"by_type", countByType(created),
		"shadows", len(m.agents)-n,
	)
	m.publishPopulation()
	return info, nil
}

// CreateShadowAdversaries mirrors floor(len(sources)*ratio) randomly chosen
// live agents through the configured cloner, replacing earlier shadows.
func (m *Market) CreateShadowAdversaries(sources []ShadowSource, ratio float64) ([]AgentInfo, error) {
	if m.cloner == nil {
		return nil, ErrNoShadowCloner
	}
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := int(math.Floor(float64(len(sources)) * ratio))
	picked := m.rng.Perm(len(sources))[:k]

	created := make([]*adversary.Agent, 0, k)
	for _, idx := range picked {
		src := sources[idx]
		s, err := m.cloner.Clone(src, m.childRand())
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", src.AgentID(), err)
		}
		a := adversary.NewAgent(m.ids.Next("shadow"), adversary.RoleShadow, adversary.NewShadow(s))
		a.ShadowOf = src.AgentID()
		created = append(created, a)
	}

	m.replace(adversary.RoleShadow, created)

	m.log.Infow("shadows_created",
		"sources", len(sources),
		"ratio", ratio,
		"created", k,
	)
	m.publishPopulation()
	return infos(created), nil
}

// SimulateOrderMatching runs one cycle. Caller intents go first, followed by
// every adversary's intents in population order. Market orders execute
// sequentially, each starting from the price left by the previous one; limit
// orders are then all inserted and matched until nothing crosses.
//
// Caller intents are validated before any state changes. Invalid adversary
// intents are dropped.
func (m *Market) SimulateOrderMatching(intents []OrderIntent, price float64, cycle int) ([]orderbook.Trade, float64, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return nil, price, &orderbook.InvalidOrderError{Reason: fmt.Sprintf("reference price %v must be positive", price)}
	}

	orders := make([]*orderbook.Order, 0, len(intents))
	for i, in := range intents {
		o := in.order()
		if err := o.Validate(); err != nil {
			return nil, price, fmt.Errorf("intent %d: %w", i, err)
		}
		orders = append(orders, o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	orders = append(orders, m.pollAdversaries(price, cycle)...)

	var markets, limits []*orderbook.Order
	for _, o := range orders {
		if o.Kind == orderbook.Market {
			markets = append(markets, o)
		} else {
			limits = append(limits, o)
		}
	}

	var trades []orderbook.Trade
	cur := price
	var flow float64

	for _, o := range markets {
		t, imp, err := m.book.MatchMarketOrder(o, cur)
		if err != nil {
			// validated above; keep going with the rest of the batch
			m.log.Warnw("market_order_failed", "order_id", o.ID, "agent_id", o.AgentID, "err", err)
			continue
		}
		trades = append(trades, t)
		cur = t.Price
		flow += o.Side.Sign() * o.Amount
		m.metrics.ObserveImpact("order", imp)
	}

	for _, o := range limits {
		if err := m.book.AddOrder(o); err != nil {
			m.log.Warnw("limit_order_failed", "agent_id", o.AgentID, "err", err)
			continue
		}
		if _, ok := m.byID[o.AgentID]; ok {
			m.quotes[o.AgentID] = append(m.quotes[o.AgentID], o.ID)
		}
	}
	for _, o := range limits {
		for o.IsActive() {
			t, err := m.book.MatchLimitOrder(o)
			if err != nil || t == nil {
				break
			}
			trades = append(trades, *t)
		}
	}

	if m.aggregate && flow != 0 {
		agg := m.model.Calculate(flow, m.book.Liquidity(), cur)
		cur = math.Max(cur+agg, minPrice)
		m.metrics.ObserveImpact("aggregate", agg)
	}

	m.settle(trades)

	m.cycles++
	m.lastPrice = cur
	m.netFlow += flow

	st := m.book.Statistics()
	m.metrics.SetMarket(cur, st.Liquidity, st.Spread)
	m.metrics.ObserveCycle(time.Since(start))
	m.log.Debugw("cycle_simulated",
		"cycle", cycle,
		"orders", len(orders),
		"trades", len(trades),
		"price_in", price,
		"price_out", cur,
		"net_flow", flow,
	)
	return trades, cur, nil
}

// CalculateSlippage estimates the execution price of amount against the
// book's current liquidity.
func (m *Market) CalculateSlippage(amount float64, side orderbook.Side, price float64) float64 {
	return m.model.CalculateSlippage(amount, side, m.book.Liquidity(), price)
}

// EstimateExecutionCost prices a hypothetical order. A negative feeRate uses
// the model default.
func (m *Market) EstimateExecutionCost(amount float64, side orderbook.Side, price, feeRate float64) impact.ExecutionCost {
	return m.model.EstimateExecutionCost(amount, side, m.book.Liquidity(), price, feeRate)
}

func (m *Market) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Statistics{
		Cycles:          m.cycles,
		LastPrice:       m.lastPrice,
		ByType:          make(map[adversary.Type]int),
		AdversaryTrades: m.adversaryTrades,
		CallerTrades:    m.callerTrades,
		NetMarketFlow:   m.netFlow,
		Book:            m.book.Statistics(),
	}
	for _, a := range m.agents {
		st.ByType[a.Type]++
		if a.Role == adversary.RoleShadow {
			st.Shadows++
		} else {
			st.Adversaries++
		}
	}
	st.TotalTrades = st.Book.TotalTrades
	st.TotalVolume = st.Book.TotalVolume
	return st
}

func (m *Market) Agents() []AgentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return infos(m.agents)
}

// Book exposes the underlying order book for read-only inspection.
func (m *Market) Book() *orderbook.OrderBook { return m.book }

func (m *Market) Model() *impact.Model { return m.model }

// Reset clears the book, the population and all counters.
func (m *Market) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.book.Reset()
	m.agents = nil
	m.byID = make(map[string]*adversary.Agent)
	m.quotes = make(map[string][]string)
	m.cycles = 0
	m.lastPrice = 0
	m.adversaryTrades = 0
	m.callerTrades = 0
	m.netFlow = 0
	m.publishPopulation()
	m.log.Infow("market_reset")
}

// pollAdversaries collects this cycle's orders from every agent. An agent
// that quotes again has its previous quotes cancelled first.
func (m *Market) pollAdversaries(price float64, cycle int) []*orderbook.Order {
	var out []*orderbook.Order
	for _, a := range m.agents {
		sigs := a.Intents(price, cycle)
		requoted := false
		for _, s := range sigs {
			if s.Action == adversary.ActionQuote && !requoted {
				m.cancelQuotes(a.ID)
				requoted = true
			}
			o := &orderbook.Order{
				AgentID: a.ID,
				Kind:    s.Kind,
				Side:    s.Side,
				Amount:  s.Amount,
				Price:   s.Price,
			}
			if err := o.Validate(); err != nil {
				m.metrics.IncRejected()
				m.log.Debugw("adversary_intent_dropped", "agent_id", a.ID, "reason", s.Reason, "err", err)
				continue
			}
			out = append(out, o)
		}
	}
	return out
}

func (m *Market) cancelQuotes(agentID string) {
	for _, id := range m.quotes[agentID] {
		m.book.CancelOrder(id)
	}
	delete(m.quotes, agentID)
}

// settle reports fills to the agents involved and updates trade counters.
func (m *Market) settle(trades []orderbook.Trade) {
	for _, t := range trades {
		buyer, buyAdv := m.byID[t.BuyerAgentID]
		seller, sellAdv := m.byID[t.SellerAgentID]
		if buyAdv {
			buyer.Strategy.OnFill(orderbook.Buy, t.Amount, t.Price)
		}
		if sellAdv {
			seller.Strategy.OnFill(orderbook.Sell, t.Amount, t.Price)
		}

		var adv, ext int
		for _, side := range []struct {
			id    string
			isAdv bool
		}{{t.BuyerAgentID, buyAdv}, {t.SellerAgentID, sellAdv}} {
			switch {
			case side.isAdv:
				adv++
			case side.id != orderbook.MarketCounterparty:
				ext++
			}
		}

		var source string
		switch {
		case ext == 0:
			source = metrics.SourceAdversary
			m.adversaryTrades++
		case adv == 0:
			source = metrics.SourceCaller
			m.callerTrades++
		default:
			source = metrics.SourceMixed
			m.adversaryTrades++
			m.callerTrades++
		}
		m.metrics.ObserveTrade(source, t.Amount)
	}
}

// replace swaps every agent with the given role for created.
func (m *Market) replace(role adversary.Role, created []*adversary.Agent) {
	var kept []*adversary.Agent
	for _, a := range m.agents {
		if a.Role == role {
			m.cancelQuotes(a.ID)
			delete(m.byID, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	for _, a := range created {
		kept = append(kept, a)
		m.byID[a.ID] = a
	}
	m.agents = kept
}

func (m *Market) publishPopulation() {
	byType := make(map[string]int)
	for _, a := range m.agents {
		byType[string(a.Type)]++
	}
	m.metrics.SetAdversaries(byType)
}

func (m *Market) childRand() *rand.Rand {
	return rand.New(rand.NewSource(m.rng.Int63()))
}

func infos(agents []*adversary.Agent) []AgentInfo {
	out := make([]AgentInfo, len(agents))
	for i, a := range agents {
		out[i] = AgentInfo{ID: a.ID, Type: a.Type, Role: a.Role, ShadowOf: a.ShadowOf}
	}
	return out
}

func countByType(agents []*adversary.Agent) map[adversary.Type]int {
	out := make(map[adversary.Type]int)
	for _, a := range agents {
		out[a.Type]++
	}
	return out
}
