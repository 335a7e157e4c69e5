// Package arena ranks agents against each other in duels, group battles and
// single-elimination tournaments, scoring every match with an injected PnL
// evaluator and an ELO leaderboard.
package arena

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/pkg/metrics"
	"github.com/uhyunpark/darwinex/pkg/util"
)

const DefaultCapital = 10000.0

type MatchType string

const (
	MatchDuel       MatchType = "duel"
	MatchGroup      MatchType = "group"
	MatchTournament MatchType = "tournament"
)

type MatchRecord struct {
	ID           string             `json:"id"`
	Type         MatchType          `json:"type"`
	Participants []string           `json:"participants"`
	Winner       string             `json:"winner,omitempty"`
	Loser        string             `json:"loser,omitempty"`
	Scores       map[string]float64 `json:"scores"`
	Timestamp    time.Time          `json:"timestamp"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
}

func (r MatchRecord) involves(agentID string) bool {
	for _, p := range r.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// Contender is anything the evaluator can score.
type Contender interface {
	AgentID() string
}

type MarketData struct {
	Symbol string    `json:"symbol"`
	Prices []float64 `json:"prices"`
}

// Evaluator returns the realized PnL of c trading data with capital.
type Evaluator interface {
	Evaluate(c Contender, data MarketData, capital float64) (float64, error)
}

type EvaluatorFunc func(c Contender, data MarketData, capital float64) (float64, error)

func (f EvaluatorFunc) Evaluate(c Contender, data MarketData, capital float64) (float64, error) {
	return f(c, data, capital)
}

// Sink receives every record the arena produces.
type Sink interface {
	Append(kind string, record any) error
}

type ByePolicy string

const (
	// ByeTopSeed lets the highest rated remaining entrant skip an odd round.
	ByeTopSeed ByePolicy = "top_seed"
	// ByeStrict refuses to pair odd rounds.
	ByeStrict ByePolicy = "strict"
)

type Config struct {
	KFactor        float64
	InitialRating  float64
	InitialCapital float64
	ByePolicy      ByePolicy

	Rand    *rand.Rand
	IDs     util.IDGenerator
	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
	Sink    Sink
}

type Arena struct {
	mu sync.Mutex

	eval    Evaluator
	lb      *Leaderboard
	history []MatchRecord

	capital float64
	bye     ByePolicy
	rng     *rand.Rand
	ids     util.IDGenerator
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Collector
	sink    Sink
}

func New(eval Evaluator, cfg Config) *Arena {
	if !(cfg.InitialCapital > 0) {
		cfg.InitialCapital = DefaultCapital
	}
	if cfg.ByePolicy == "" {
		cfg.ByePolicy = ByeTopSeed
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.IDs == nil {
		cfg.IDs = util.NewSequentialIDs()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	return &Arena{
		eval:    eval,
		lb:      NewLeaderboard(cfg.KFactor, cfg.InitialRating),
		capital: cfg.InitialCapital,
		bye:     cfg.ByePolicy,
		rng:     cfg.Rand,
		ids:     cfg.IDs,
		clock:   cfg.Clock,
		log:     util.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
		sink:    cfg.Sink,
	}
}

// Duel1v1 evaluates a and b on the same data; the higher PnL wins and equal
// PnL is a draw. capital <= 0 uses the configured initial capital.
func (a *Arena) Duel1v1(x, y Contender, data MarketData, capital float64) (MatchRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duel(x, y, data, capital, nil)
}

func (a *Arena) duel(x, y Contender, data MarketData, capital float64, meta map[string]any) (MatchRecord, error) {
	if x.AgentID() == y.AgentID() {
		return MatchRecord{}, fmt.Errorf("%w: %s", ErrSelfMatch, x.AgentID())
	}
	if !(capital > 0) {
		capital = a.capital
	}

	pnlX, err := a.eval.Evaluate(x, data, capital)
	if err != nil {
		return MatchRecord{}, fmt.Errorf("evaluate %s: %w", x.AgentID(), err)
	}
	pnlY, err := a.eval.Evaluate(y, data, capital)
	if err != nil {
		return MatchRecord{}, fmt.Errorf("evaluate %s: %w", y.AgentID(), err)
	}

	idX, idY := x.AgentID(), y.AgentID()
	rec := MatchRecord{
		ID:           a.ids.Next("match"),
		Type:         MatchDuel,
		Participants: []string{idX, idY},
		Scores:       map[string]float64{idX: pnlX, idY: pnlY},
		Timestamp:    a.clock.Now(),
		Metadata:     map[string]any{"capital": capital, "symbol": data.Symbol},
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}

	draw := pnlX == pnlY
	switch {
	case pnlX > pnlY:
		rec.Winner, rec.Loser = idX, idY
	case pnlY > pnlX:
		rec.Winner, rec.Loser = idY, idX
	}

	// one rating update covers both sides
	a.lb.AddResult(Result{
		AgentID:    idX,
		Win:        rec.Winner == idX,
		Draw:       draw,
		Score:      pnlX / capital,
		PnL:        pnlX,
		OpponentID: idY,
	})
	a.lb.AddResult(Result{
		AgentID: idY,
		Win:     rec.Winner == idY,
		Draw:    draw,
		Score:   pnlY / capital,
		PnL:     pnlY,
	})

	a.record(rec)
	return rec, nil
}

type GroupResult struct {
	Records  []MatchRecord `json:"records"`
	Advanced []string      `json:"advanced"`
}

// GroupBattle splits agents into random groups of groupSize and advances the
// advanceCount best PnLs of each group. A single leftover agent joins the
// last full group. Group results do not move ELO ratings.
func (a *Arena) GroupBattle(agents []Contender, data MarketData, groupSize, advanceCount int) (GroupResult, error) {
	if groupSize < 2 {
		return GroupResult{}, fmt.Errorf("%w: group size %d", ErrInvalidGroup, groupSize)
	}
	if advanceCount < 1 {
		return GroupResult{}, fmt.Errorf("%w: advance count %d", ErrInvalidGroup, advanceCount)
	}
	if len(agents) < 2 {
		return GroupResult{}, fmt.Errorf("%w: %d agents", ErrInvalidGroup, len(agents))
	}
	if dup, ok := duplicate(agents); ok {
		return GroupResult{}, fmt.Errorf("%w: duplicate agent %s", ErrInvalidGroup, dup)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	order := a.rng.Perm(len(agents))
	var groups [][]Contender
	for start := 0; start < len(order); start += groupSize {
		end := min(start+groupSize, len(order))
		g := make([]Contender, 0, groupSize+1)
		for _, idx := range order[start:end] {
			g = append(g, agents[idx])
		}
		groups = append(groups, g)
	}
	if n := len(groups); n > 1 && len(groups[n-1]) == 1 {
		groups[n-2] = append(groups[n-2], groups[n-1][0])
		groups = groups[:n-1]
	}

	var res GroupResult
	for gi, g := range groups {
		rec, advanced, err := a.group(gi, g, data, advanceCount)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, rec)
		res.Advanced = append(res.Advanced, advanced...)
	}

	a.log.Infow("group_battle_finished",
		"agents", len(agents),
		"groups", len(groups),
		"advanced", len(res.Advanced),
	)
	return res, nil
}

func (a *Arena) group(index int, members []Contender, data MarketData, advance int) (MatchRecord, []string, error) {
	type scored struct {
		id  string
		pnl float64
	}
	ranked := make([]scored, 0, len(members))
	for _, c := range members {
		pnl, err := a.eval.Evaluate(c, data, a.capital)
		if err != nil {
			return MatchRecord{}, nil, fmt.Errorf("evaluate %s: %w", c.AgentID(), err)
		}
		ranked = append(ranked, scored{c.AgentID(), pnl})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].pnl != ranked[j].pnl {
			return ranked[i].pnl > ranked[j].pnl
		}
		return ranked[i].id < ranked[j].id
	})

	advance = min(advance, len(ranked))
	rec := MatchRecord{
		ID:        a.ids.Next("match"),
		Type:      MatchGroup,
		Scores:    make(map[string]float64, len(ranked)),
		Timestamp: a.clock.Now(),
	}
	advanced := make([]string, 0, advance)
	for i, s := range ranked {
		rec.Participants = append(rec.Participants, s.id)
		rec.Scores[s.id] = s.pnl
		win := i < advance
		if win {
			advanced = append(advanced, s.id)
		}
		a.lb.AddResult(Result{AgentID: s.id, Win: win, Score: s.pnl / a.capital, PnL: s.pnl})
	}
	rec.Winner = ranked[0].id
	if advance < len(ranked) {
		rec.Loser = ranked[len(ranked)-1].id
	}
	rec.Metadata = map[string]any{
		"group":    index,
		"advanced": advanced,
		"symbol":   data.Symbol,
	}

	a.record(rec)
	return rec, advanced, nil
}

type TournamentRound struct {
	Number   int           `json:"number"`
	Matches  []MatchRecord `json:"matches"`
	Bye      string        `json:"bye,omitempty"`
	Advanced []string      `json:"advanced"`
}

type TournamentResult struct {
	Champion string            `json:"champion"`
	Rounds   []TournamentRound `json:"rounds"`
	Record   MatchRecord       `json:"record"`
}

// Tournament runs a single-elimination bracket of duels until one agent
// remains. Odd rounds follow the configured bye policy. A drawn duel is won
// by the higher pre-match rating, then the lower agent id.
func (a *Arena) Tournament(agents []Contender, data MarketData) (TournamentResult, error) {
	if len(agents) < 2 {
		return TournamentResult{}, &IllegalBracketError{Round: 1, Entrants: len(agents), Reason: "need at least two entrants"}
	}
	if dup, ok := duplicate(agents); ok {
		return TournamentResult{}, &IllegalBracketError{Round: 1, Entrants: len(agents), Reason: "duplicate entrant " + dup}
	}
	if a.bye == ByeStrict {
		// reject before any duel is recorded
		for n, round := len(agents), 1; n > 1; n, round = (n+1)/2, round+1 {
			if n%2 == 1 {
				return TournamentResult{}, &IllegalBracketError{Round: round, Entrants: n, Reason: "odd round under strict bye policy"}
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, len(agents))
	for i, c := range agents {
		ids[i] = c.AgentID()
	}
	a.lb.Ensure(ids...)

	wins := make(map[string]float64, len(agents))
	remaining := append([]Contender(nil), agents...)
	var res TournamentResult

	for round := 1; len(remaining) > 1; round++ {
		tr := TournamentRound{Number: round}

		next := make([]Contender, 0, len(remaining)/2+1)
		if len(remaining)%2 == 1 {
			i := a.topSeed(remaining)
			seed := remaining[i]
			tr.Bye = seed.AgentID()
			tr.Advanced = append(tr.Advanced, tr.Bye)
			next = append(next, seed)
			remaining = append(remaining[:i:i], remaining[i+1:]...)
		}

		a.rng.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })

		for i := 0; i+1 < len(remaining); i += 2 {
			x, y := remaining[i], remaining[i+1]
			rx, ry := a.lb.Stats(x.AgentID()).Rating, a.lb.Stats(y.AgentID()).Rating

			rec, err := a.duel(x, y, data, a.capital, map[string]any{"tournament_round": round})
			if err != nil {
				return res, err
			}
			tr.Matches = append(tr.Matches, rec)

			w := x
			switch {
			case rec.Winner == y.AgentID():
				w = y
			case rec.Winner == "" && (ry > rx || ry == rx && y.AgentID() < x.AgentID()):
				w = y
			}
			wins[w.AgentID()]++
			next = append(next, w)
			tr.Advanced = append(tr.Advanced, w.AgentID())
		}

		res.Rounds = append(res.Rounds, tr)
		remaining = next
	}

	res.Champion = remaining[0].AgentID()
	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		scores[id] = wins[id]
	}
	res.Record = MatchRecord{
		ID:           a.ids.Next("match"),
		Type:         MatchTournament,
		Participants: ids,
		Winner:       res.Champion,
		Scores:       scores,
		Timestamp:    a.clock.Now(),
		Metadata:     map[string]any{"rounds": len(res.Rounds), "bye_policy": string(a.bye), "symbol": data.Symbol},
	}
	a.record(res.Record)

	a.log.Infow("tournament_finished",
		"entrants", len(agents),
		"rounds", len(res.Rounds),
		"champion", res.Champion,
	)
	return res, nil
}

// Leaderboard returns the ranking ordered by sortBy.
func (a *Arena) Leaderboard(sortBy SortKey) []AgentStats {
	return a.lb.Ranking(sortBy)
}

func (a *Arena) Stats(agentID string) AgentStats {
	return a.lb.Stats(agentID)
}

// MatchHistory returns every record involving agentID, oldest first. An
// empty id returns the full history.
func (a *Arena) MatchHistory(agentID string) []MatchRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]MatchRecord, 0, len(a.history))
	for _, r := range a.history {
		if agentID == "" || r.involves(agentID) {
			out = append(out, r)
		}
	}
	return out
}

type Statistics struct {
	TotalMatches  int               `json:"total_matches"`
	ByType        map[MatchType]int `json:"by_type"`
	Contenders    int               `json:"contenders"`
	TopAgent      string            `json:"top_agent,omitempty"`
	TopRating     float64           `json:"top_rating"`
	AverageRating float64           `json:"average_rating"`
}

func (a *Arena) Statistics() Statistics {
	a.mu.Lock()
	st := Statistics{TotalMatches: len(a.history), ByType: make(map[MatchType]int)}
	for _, r := range a.history {
		st.ByType[r.Type]++
	}
	a.mu.Unlock()

	ranking := a.lb.Ranking(SortByRating)
	st.Contenders = len(ranking)
	if len(ranking) > 0 {
		st.TopAgent = ranking[0].AgentID
		st.TopRating = ranking[0].Rating
		var sum float64
		for _, s := range ranking {
			sum += s.Rating
		}
		st.AverageRating = sum / float64(len(ranking))
	}
	return st
}

// Reset clears the match history and the leaderboard.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.lb.Reset()
	a.metrics.SetLeaderboard(0, 0)
}

func (a *Arena) record(rec MatchRecord) {
	a.history = append(a.history, rec)
	a.metrics.IncMatch(string(rec.Type))

	if top := a.lb.Ranking(SortByRating); len(top) > 0 {
		a.metrics.SetLeaderboard(top[0].Rating, len(top))
	}
	if a.sink != nil {
		if err := a.sink.Append("match", rec); err != nil {
			a.log.Warnw("match_sink_failed", "match_id", rec.ID, "err", err)
		}
	}
	a.log.Debugw("match_recorded",
		"match_id", rec.ID,
		"type", rec.Type,
		"winner", rec.Winner,
		"participants", len(rec.Participants),
	)
}

// topSeed returns the index of the highest rated contender, lowest id first on ties.
func (a *Arena) topSeed(cs []Contender) int {
	best := 0
	bestRating := a.lb.Stats(cs[0].AgentID()).Rating
	for i := 1; i < len(cs); i++ {
		r := a.lb.Stats(cs[i].AgentID()).Rating
		if r > bestRating || r == bestRating && cs[i].AgentID() < cs[best].AgentID() {
			best, bestRating = i, r
		}
	}
	return best
}

func duplicate(cs []Contender) (string, bool) {
	seen := make(map[string]bool, len(cs))
	for _, c := range cs {
		id := c.AgentID()
		if seen[id] {
			return id, true
		}
		seen[id] = true
	}
	return "", false
}
