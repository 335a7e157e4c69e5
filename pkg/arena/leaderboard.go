package arena

import (
	"math"
	"sort"
	"sync"
)

const (
	DefaultKFactor = 32.0
	DefaultRating  = 1500.0
)

type AgentStats struct {
	AgentID      string  `json:"agent_id"`
	TotalMatches int     `json:"total_matches"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	WinRate      float64 `json:"win_rate"`
	AvgScore     float64 `json:"avg_score"`
	TotalPnL     float64 `json:"total_pnl"`
	Rating       float64 `json:"rating"`
}

// Result is one agent's outcome in one match. When OpponentID is set the
// ELO update is applied to both agents at once.
type Result struct {
	AgentID    string
	Win        bool
	Draw       bool
	Score      float64
	PnL        float64
	OpponentID string
}

type SortKey string

const (
	SortByRating   SortKey = "rating"
	SortByWinRate  SortKey = "win_rate"
	SortByPnL      SortKey = "total_pnl"
	SortByAvgScore SortKey = "avg_score"
	SortByMatches  SortKey = "matches"
)

// Leaderboard keeps per-agent stats and ELO ratings. Entries are created on
// first result and never removed except by Reset.
type Leaderboard struct {
	mu      sync.RWMutex
	stats   map[string]*AgentStats
	k       float64
	initial float64
}

func NewLeaderboard(kFactor, initialRating float64) *Leaderboard {
	if !(kFactor > 0) {
		kFactor = DefaultKFactor
	}
	if !(initialRating > 0) {
		initialRating = DefaultRating
	}
	return &Leaderboard{
		stats:   make(map[string]*AgentStats),
		k:       kFactor,
		initial: initialRating,
	}
}

// Expected is the ELO win expectancy of a player rated ra against rb.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

func (lb *Leaderboard) AddResult(r Result) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	s := lb.entry(r.AgentID)
	s.TotalMatches++
	switch {
	case r.Draw:
		s.Draws++
	case r.Win:
		s.Wins++
	default:
		s.Losses++
	}
	s.WinRate = float64(s.Wins) / float64(s.TotalMatches)
	s.AvgScore += (r.Score - s.AvgScore) / float64(s.TotalMatches)
	s.TotalPnL += r.PnL

	if r.OpponentID == "" || r.OpponentID == r.AgentID {
		return
	}
	opp := lb.entry(r.OpponentID)

	actual := 0.0
	switch {
	case r.Draw:
		actual = 0.5
	case r.Win:
		actual = 1
	}
	delta := lb.k * (actual - Expected(s.Rating, opp.Rating))
	s.Rating += delta
	opp.Rating -= delta
}

// Stats returns a copy of the agent's stats, or defaults for unknown ids.
func (lb *Leaderboard) Stats(agentID string) AgentStats {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if s, ok := lb.stats[agentID]; ok {
		return *s
	}
	return AgentStats{AgentID: agentID, Rating: lb.initial}
}

// Ensure creates default entries for ids that have none yet.
func (lb *Leaderboard) Ensure(ids ...string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for _, id := range ids {
		lb.entry(id)
	}
}

// Ranking returns all entries best first. Ties fall back to agent id.
func (lb *Leaderboard) Ranking(by SortKey) []AgentStats {
	lb.mu.RLock()
	out := make([]AgentStats, 0, len(lb.stats))
	for _, s := range lb.stats {
		out = append(out, *s)
	}
	lb.mu.RUnlock()

	key := func(s AgentStats) float64 {
		switch by {
		case SortByWinRate:
			return s.WinRate
		case SortByPnL:
			return s.TotalPnL
		case SortByAvgScore:
			return s.AvgScore
		case SortByMatches:
			return float64(s.TotalMatches)
		default:
			return s.Rating
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki != kj {
			return ki > kj
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

func (lb *Leaderboard) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.stats)
}

func (lb *Leaderboard) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.stats = make(map[string]*AgentStats)
}

func (lb *Leaderboard) entry(id string) *AgentStats {
	s, ok := lb.stats[id]
	if !ok {
		s = &AgentStats{AgentID: id, Rating: lb.initial}
		lb.stats[id] = s
	}
	return s
}
