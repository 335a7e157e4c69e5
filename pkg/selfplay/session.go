package selfplay

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/journal"
	"github.com/uhyunpark/darwinex/pkg/metrics"
	"github.com/uhyunpark/darwinex/pkg/pressure"
	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/impact"
	"github.com/uhyunpark/darwinex/pkg/sim/market"
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
	"github.com/uhyunpark/darwinex/pkg/util"
)

// Feed kinds published while a generation runs, in addition to the journal
// kinds.
const KindTrades = "trades"

type Config struct {
	Symbol      string
	Contenders  int // evolving agents
	Adversaries int // regular adversaries rebuilt every generation
	Cycles      int // market cycles per generation
	StartPrice  float64
	Volatility  float64 // stddev of the exogenous log-return per cycle
	GroupSize   int
	Capital     float64
	Jitter      float64 // parameter mutation for shadows and offspring
	Seed        int64

	Distribution    market.Distribution
	Impact          impact.Config
	Adversary       adversary.Params
	AggregateImpact bool
	ByePolicy       arena.ByePolicy
	KFactor         float64
	InitialPressure float64

	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
	Journal journal.Sink // durable audit trail
	Feed    journal.Sink // live subscribers
	Clock   util.Clock
	IDs     util.IDGenerator
}

func (c *Config) defaults() {
	if c.Symbol == "" {
		c.Symbol = "SIM-PERP"
	}
	if c.Contenders < 2 {
		c.Contenders = 8
	}
	if c.Adversaries <= 0 {
		c.Adversaries = 20
	}
	if c.Cycles <= 1 {
		c.Cycles = 100
	}
	if !(c.StartPrice > 0) {
		c.StartPrice = 100
	}
	if !(c.Volatility > 0) {
		c.Volatility = 0.01
	}
	if c.GroupSize < 2 {
		c.GroupSize = 4
	}
	if !(c.Capital > 0) {
		c.Capital = arena.DefaultCapital
	}
	if !(c.Jitter > 0) {
		c.Jitter = 0.2
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Clock == nil {
		c.Clock = util.RealClock{}
	}
	if c.IDs == nil {
		c.IDs = util.NewSequentialIDs()
	}
}

// GenerationReport summarizes one RunGeneration call.
type GenerationReport struct {
	Generation      int             `json:"generation"`
	Mode            pressure.Mode   `json:"mode"`
	Cycles          int             `json:"cycles"`
	Trades          int             `json:"trades"`
	StartPrice      float64         `json:"start_price"`
	EndPrice        float64         `json:"end_price"`
	Matches         int             `json:"matches"`
	Champion        string          `json:"champion"`
	Diversity       float64         `json:"diversity"`
	AvgFitness      float64         `json:"avg_fitness"`
	FitnessVariance float64         `json:"fitness_variance"`
	Pressure        pressure.Config `json:"pressure"`
	Shadows         int             `json:"shadows"`
	Eliminated      []string        `json:"eliminated,omitempty"`
	Offspring       []string        `json:"offspring,omitempty"`
}

// Session owns one market, arena and pressure controller and moves a
// population of contenders through them. Calls are serialized.
type Session struct {
	mu sync.Mutex

	cfg      Config
	rng      *rand.Rand
	market   *market.Market
	arena    *arena.Arena
	pressure *pressure.Controller
	eval     *PaperEvaluator

	contenders []*Contender
	live       map[string]adversary.Strategy
	price      float64
	cycle      int
	sink       journal.Sink
	reports    []GenerationReport

	log *zap.SugaredLogger
}

func NewSession(cfg Config) (*Session, error) {
	cfg.defaults()
	if cfg.Distribution == nil {
		cfg.Distribution = market.DefaultDistribution()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	log := util.OrNop(cfg.Logger)
	sink := journal.Tee(cfg.Journal, cfg.Feed)
	child := func() *rand.Rand { return rand.New(rand.NewSource(rng.Int63())) }

	m := market.New(market.Config{
		Impact:          cfg.Impact,
		Adversary:       cfg.Adversary,
		AggregateImpact: cfg.AggregateImpact,
		Rand:            child(),
		IDs:             cfg.IDs,
		Clock:           cfg.Clock,
		Cloner:          MutatingCloner{Jitter: cfg.Jitter},
		Logger:          log.Named("market"),
		Metrics:         cfg.Metrics,
	})
	eval := &PaperEvaluator{
		Model:     m.Model(),
		Liquidity: cfg.Impact.DefaultLiquidity,
		FeeRate:   -1,
		Seed:      cfg.Seed,
	}
	s := &Session{
		cfg:    cfg,
		rng:    rng,
		market: m,
		arena: arena.New(eval, arena.Config{
			KFactor:        cfg.KFactor,
			InitialCapital: cfg.Capital,
			ByePolicy:      cfg.ByePolicy,
			Rand:           child(),
			IDs:            cfg.IDs,
			Clock:          cfg.Clock,
			Logger:         log.Named("arena"),
			Metrics:        cfg.Metrics,
			Sink:           sink,
		}),
		pressure: pressure.NewController(pressure.Options{
			InitialPressure: cfg.InitialPressure,
			Logger:          log.Named("pressure"),
			Metrics:         cfg.Metrics,
			Sink:            sink,
		}),
		eval:  eval,
		live:  make(map[string]adversary.Strategy),
		price: cfg.StartPrice,
		sink:  sink,
		log:   log,
	}

	types := adversary.Types()
	for i := 0; i < cfg.Contenders; i++ {
		c := NewContender(cfg.IDs.Next("agent"), types[i%len(types)], Mutate(cfg.Adversary, rng, cfg.Jitter))
		if err := s.admit(c); err != nil {
			return nil, err
		}
	}
	if err := s.populate(s.pressure.Current()); err != nil {
		return nil, err
	}

	log.Infow("session_started",
		"seed", cfg.Seed,
		"contenders", cfg.Contenders,
		"adversaries", cfg.Adversaries,
		"cycles", cfg.Cycles,
	)
	return s, nil
}

// Run executes n generations, stopping early when ctx is cancelled.
func (s *Session) Run(ctx context.Context, generations int) ([]GenerationReport, error) {
	var out []GenerationReport
	for g := 0; g < generations; g++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rep, err := s.RunGeneration(s.nextGeneration())
		if err != nil {
			return out, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (s *Session) nextGeneration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// RunGeneration simulates one generation:
//
//  1. cycles market steps with contender flow against the adversaries,
//  2. a competition in the mode the pressure controller currently selects,
//  3. a pressure adjustment from population diversity and fitness,
//  4. elimination of the weakest contenders and breeding from the best,
//  5. a rebuilt adversary population at the new adversary ratio.
func (s *Session) RunGeneration(gen int) (GenerationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.pressure.Current()
	rep := GenerationReport{Generation: gen, Mode: cur.CompetitionMode, StartPrice: s.price}

	prices, trades, err := s.simulate()
	if err != nil {
		return rep, err
	}
	rep.Cycles = len(prices)
	rep.Trades = trades
	rep.EndPrice = s.price
	data := arena.MarketData{Symbol: s.cfg.Symbol, Prices: prices}

	matches, err := s.compete(cur.CompetitionMode, data)
	if err != nil {
		return rep, err
	}
	rep.Matches = matches

	fitness, err := s.fitness(data)
	if err != nil {
		return rep, err
	}
	rep.AvgFitness, rep.FitnessVariance = meanVariance(fitness)
	rep.Diversity = Diversity(s.contenders)
	rep.Champion = best(fitness)

	next := s.pressure.AdjustPressure(gen, rep.Diversity, rep.AvgFitness, rep.FitnessVariance)
	rep.Pressure = next

	rep.Eliminated, rep.Offspring, err = s.evolve(fitness, next.EliminationRate)
	if err != nil {
		return rep, err
	}
	if err := s.populate(next); err != nil {
		return rep, err
	}
	rep.Shadows = s.market.Statistics().Shadows

	s.reports = append(s.reports, rep)
	s.emit(journal.KindGeneration, rep)
	s.log.Infow("generation_finished",
		"generation", gen,
		"mode", rep.Mode,
		"trades", rep.Trades,
		"champion", rep.Champion,
		"avg_fitness", rep.AvgFitness,
		"pressure", next.PressureLevel,
		"eliminated", len(rep.Eliminated),
	)
	return rep, nil
}

// simulate steps the market Cycles times. Each cycle applies a lognormal
// shock, lets every contender's live strategy trade at market, and then lets
// the adversaries respond.
func (s *Session) simulate() ([]float64, int, error) {
	prices := make([]float64, 0, s.cfg.Cycles)
	var total int
	for i := 0; i < s.cfg.Cycles; i++ {
		ref := s.price * math.Exp(s.cfg.Volatility*s.rng.NormFloat64())

		var intents []market.OrderIntent
		for _, c := range s.contenders {
			sig, ok := s.live[c.AgentID()].GenerateSignal(ref, s.cycle)
			if !ok || sig.Kind != orderbook.Market || !(sig.Amount > 0) {
				continue
			}
			intents = append(intents, market.OrderIntent{
				AgentID: c.AgentID(),
				Kind:    orderbook.Market,
				Side:    sig.Side,
				Amount:  sig.Amount,
			})
		}

		trades, price, err := s.market.SimulateOrderMatching(intents, ref, s.cycle)
		if err != nil {
			return prices, total, fmt.Errorf("cycle %d: %w", s.cycle, err)
		}
		for _, t := range trades {
			if st, ok := s.live[t.BuyerAgentID]; ok {
				st.OnFill(orderbook.Buy, t.Amount, t.Price)
			}
			if st, ok := s.live[t.SellerAgentID]; ok {
				st.OnFill(orderbook.Sell, t.Amount, t.Price)
			}
		}
		if len(trades) > 0 && s.cfg.Feed != nil {
			s.publish(KindTrades, trades)
		}

		s.price = price
		s.cycle++
		total += len(trades)
		prices = append(prices, price)
	}
	return prices, total, nil
}

func (s *Session) compete(mode pressure.Mode, data arena.MarketData) (int, error) {
	entrants := make([]arena.Contender, len(s.contenders))
	for i, c := range s.contenders {
		entrants[i] = c
	}

	switch mode {
	case pressure.Relaxed:
		res, err := s.arena.GroupBattle(entrants, data, s.cfg.GroupSize, max(1, s.cfg.GroupSize/2))
		return len(res.Records), err

	case pressure.Intense:
		res, err := s.arena.Tournament(entrants, data)
		n := 0
		for _, r := range res.Rounds {
			n += len(r.Matches)
		}
		return n, err

	default:
		// one round of random duels; an odd contender sits out
		order := s.rng.Perm(len(entrants))
		n := 0
		for i := 0; i+1 < len(order); i += 2 {
			if _, err := s.arena.Duel1v1(entrants[order[i]], entrants[order[i+1]], data, s.cfg.Capital); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	}
}

// fitness is each contender's PnL on data relative to capital.
func (s *Session) fitness(data arena.MarketData) (map[string]float64, error) {
	out := make(map[string]float64, len(s.contenders))
	for _, c := range s.contenders {
		pnl, err := s.eval.Evaluate(c, data, s.cfg.Capital)
		if err != nil {
			return nil, fmt.Errorf("fitness %s: %w", c.AgentID(), err)
		}
		out[c.AgentID()] = pnl / s.cfg.Capital
	}
	return out, nil
}

// evolve replaces the floor(n*rate) least fit contenders with mutated
// offspring of the fittest ones.
func (s *Session) evolve(fitness map[string]float64, rate float64) ([]string, []string, error) {
	ranked := append([]*Contender(nil), s.contenders...)
	sort.Slice(ranked, func(i, j int) bool {
		fi, fj := fitness[ranked[i].AgentID()], fitness[ranked[j].AgentID()]
		if fi != fj {
			return fi > fj
		}
		return ranked[i].AgentID() < ranked[j].AgentID()
	})

	k := int(math.Floor(float64(len(ranked)) * rate))
	k = min(k, len(ranked)-1)
	if k <= 0 {
		return nil, nil, nil
	}

	survivors := ranked[:len(ranked)-k]
	var eliminated, offspring []string
	for _, c := range ranked[len(ranked)-k:] {
		eliminated = append(eliminated, c.AgentID())
		delete(s.live, c.AgentID())
	}

	s.contenders = append([]*Contender(nil), survivors...)
	for i := 0; i < k; i++ {
		parent := survivors[i%len(survivors)]
		child := NewContender(s.cfg.IDs.Next("agent"), parent.Type, Mutate(parent.Params, s.rng, s.cfg.Jitter))
		child.Parent = parent.AgentID()
		if err := s.admit(child); err != nil {
			return eliminated, offspring, err
		}
		offspring = append(offspring, child.AgentID())
	}
	return eliminated, offspring, nil
}

func (s *Session) admit(c *Contender) error {
	st, err := c.Strategy(rand.New(rand.NewSource(s.rng.Int63())))
	if err != nil {
		return fmt.Errorf("contender %s: %w", c.AgentID(), err)
	}
	s.live[c.AgentID()] = st
	s.contenders = append(s.contenders, c)
	return nil
}

// populate rebuilds the regular adversaries and mirrors AdversaryRatio of the
// contenders as shadows.
func (s *Session) populate(cfg pressure.Config) error {
	if _, err := s.market.CreateAdversarialPopulation(s.cfg.Adversaries, s.cfg.Distribution); err != nil {
		return err
	}
	sources := make([]market.ShadowSource, len(s.contenders))
	for i, c := range s.contenders {
		sources[i] = c
	}
	shadows, err := s.market.CreateShadowAdversaries(sources, cfg.AdversaryRatio)
	if err != nil {
		return err
	}
	s.emit(journal.KindPopulation, map[string]any{
		"adversaries":     s.cfg.Adversaries,
		"shadows":         len(shadows),
		"adversary_ratio": cfg.AdversaryRatio,
	})
	return nil
}

func (s *Session) emit(kind string, record any) {
	if err := s.sink.Append(kind, record); err != nil {
		s.log.Warnw("journal_append_failed", "kind", kind, "err", err)
	}
}

func (s *Session) publish(kind string, record any) {
	if err := s.cfg.Feed.Append(kind, record); err != nil {
		s.log.Debugw("feed_publish_failed", "kind", kind, "err", err)
	}
}

func (s *Session) Market() *market.Market         { return s.market }
func (s *Session) Arena() *arena.Arena            { return s.arena }
func (s *Session) Pressure() *pressure.Controller { return s.pressure }

// Contenders returns the current population.
func (s *Session) Contenders() []*Contender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Contender(nil), s.contenders...)
}

func (s *Session) Reports() []GenerationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GenerationReport(nil), s.reports...)
}

func (s *Session) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

// Diversity is the Shannon entropy of the contenders' types normalized by
// the maximum over the regular archetypes, in [0, 1].
func Diversity(cs []*Contender) float64 {
	if len(cs) == 0 {
		return 0
	}
	counts := make(map[adversary.Type]int)
	for _, c := range cs {
		counts[c.Type]++
	}
	var h float64
	n := float64(len(cs))
	for _, k := range counts {
		p := float64(k) / n
		h -= p * math.Log(p)
	}
	return math.Min(1, h/math.Log(float64(len(adversary.Types()))))
}

func meanVariance(m map[string]float64) (float64, float64) {
	if len(m) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range m {
		sum += v
	}
	mean := sum / float64(len(m))
	var ss float64
	for _, v := range m {
		ss += (v - mean) * (v - mean)
	}
	return mean, ss / float64(len(m))
}

func best(m map[string]float64) string {
	var id string
	top := math.Inf(-1)
	for k, v := range m {
		if v > top || v == top && k < id {
			id, top = k, v
		}
	}
	return id
}
