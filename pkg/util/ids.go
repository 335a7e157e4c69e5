package util

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out unique identifiers for orders, trades, agents and matches.
// Each simulation session owns its generator so sessions never share counters.
type IDGenerator interface {
	Next(prefix string) string
}

// SequentialIDs produces "<prefix>-<n>" with one counter per prefix, starting at 1.
type SequentialIDs struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{counters: make(map[string]uint64)}
}

func (g *SequentialIDs) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counters == nil {
		g.counters = make(map[string]uint64)
	}
	g.counters[prefix]++
	return prefix + "-" + strconv.FormatUint(g.counters[prefix], 10)
}

// UUIDs produces "<prefix>-<uuid v4>". Safe for concurrent use.
type UUIDs struct{}

func (UUIDs) Next(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
