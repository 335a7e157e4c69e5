// Package pressure tunes how hostile the adversarial environment is from one
// evolutionary generation to the next.
package pressure

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/pkg/metrics"
	"github.com/uhyunpark/darwinex/pkg/util"
)

const (
	MinPressure     = 0.1
	MaxPressure     = 1.0
	DefaultPressure = 0.5
	DefaultInertia  = 0.7 // weight of the previous level in the smoothed update

	fitnessLimit  = 1e9
	varianceLimit = 1e9
)

type Mode string

const (
	Relaxed  Mode = "relaxed"
	Moderate Mode = "moderate"
	Intense  Mode = "intense"
)

// ModeFor maps a pressure level to its competition mode.
func ModeFor(p float64) Mode {
	switch {
	case p < 0.3:
		return Relaxed
	case p < 0.7:
		return Moderate
	default:
		return Intense
	}
}

// Config is what the evolutionary loop applies to its next generation.
type Config struct {
	PressureLevel   float64 `json:"pressure_level"`
	AdversaryRatio  float64 `json:"adversary_ratio"`
	CompetitionMode Mode    `json:"competition_mode"`
	EliminationRate float64 `json:"elimination_rate"`
}

func configFor(p float64) Config {
	return Config{
		PressureLevel:   p,
		AdversaryRatio:  0.10 + 0.30*p,
		CompetitionMode: ModeFor(p),
		EliminationRate: 0.10 + 0.20*p,
	}
}

// History is one adjustment, appended per AdjustPressure call.
type History struct {
	Generation      int     `json:"generation"`
	Pressure        float64 `json:"pressure"`
	Diversity       float64 `json:"diversity"`
	AvgFitness      float64 `json:"avg_fitness"`
	FitnessVariance float64 `json:"fitness_variance"`
	CompetitionMode Mode    `json:"competition_mode"`
	AdversaryRatio  float64 `json:"adversary_ratio"`
}

// Sink receives every history record.
type Sink interface {
	Append(kind string, record any) error
}

type Options struct {
	InitialPressure float64
	Inertia         float64

	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
	Sink    Sink
}

type Controller struct {
	mu sync.Mutex

	initial float64
	inertia float64
	current float64
	history []History

	log     *zap.SugaredLogger
	metrics *metrics.Collector
	sink    Sink
}

func NewController(opts Options) *Controller {
	if !(opts.InitialPressure > 0) {
		opts.InitialPressure = DefaultPressure
	}
	if !(opts.Inertia > 0 && opts.Inertia < 1) {
		opts.Inertia = DefaultInertia
	}
	initial := clamp(opts.InitialPressure, MinPressure, MaxPressure)
	return &Controller{
		initial: initial,
		inertia: opts.Inertia,
		current: initial,
		log:     util.OrNop(opts.Logger),
		metrics: opts.Metrics,
		sink:    opts.Sink,
	}
}

// AdjustPressure moves the level toward prev scaled by a weighted blend of
// population signals:
//
//	target = prev * (0.4*diversity_f + 0.3*fitness_f + 0.2*variance_f + 0.1*generation_f)
//	new    = inertia*prev + (1-inertia)*target
//
// clamped to [0.1, 1.0]. Inputs are sanitized first; it never fails.
func (c *Controller) AdjustPressure(generation int, diversity, avgFitness, variance float64) Config {
	generation, diversity, avgFitness, variance = sanitize(generation, diversity, avgFitness, variance)

	c.mu.Lock()
	defer c.mu.Unlock()

	blend := 0.4*diversityFactor(diversity) +
		0.3*fitnessFactor(avgFitness) +
		0.2*varianceFactor(variance) +
		0.1*generationFactor(generation)

	prev := c.current
	target := prev * blend
	next := clamp(c.inertia*prev+(1-c.inertia)*target, MinPressure, MaxPressure)
	c.current = next

	cfg := configFor(next)
	h := History{
		Generation:      generation,
		Pressure:        next,
		Diversity:       diversity,
		AvgFitness:      avgFitness,
		FitnessVariance: variance,
		CompetitionMode: cfg.CompetitionMode,
		AdversaryRatio:  cfg.AdversaryRatio,
	}
	c.history = append(c.history, h)

	c.metrics.SetPressure(next, cfg.AdversaryRatio, cfg.EliminationRate, string(cfg.CompetitionMode))
	if c.sink != nil {
		if err := c.sink.Append("pressure", h); err != nil {
			c.log.Warnw("pressure_sink_failed", "generation", generation, "err", err)
		}
	}
	c.log.Infow("pressure_adjusted",
		"generation", generation,
		"previous", prev,
		"pressure", next,
		"mode", cfg.CompetitionMode,
		"adversary_ratio", cfg.AdversaryRatio,
		"elimination_rate", cfg.EliminationRate,
	)
	return cfg
}

// Current returns the configuration for the present level.
func (c *Controller) Current() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return configFor(c.current)
}

// History returns the last n records, or all of them when n <= 0.
func (c *Controller) History(lastN int) []History {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.history
	if lastN > 0 && lastN < len(src) {
		src = src[len(src)-lastN:]
	}
	out := make([]History, len(src))
	copy(out, src)
	return out
}

type Trend string

const (
	TrendInsufficient Trend = "insufficient_data"
	TrendIncreasing   Trend = "increasing"
	TrendDecreasing   Trend = "decreasing"
	TrendStable       Trend = "stable"
)

const (
	trendWindow     = 5
	trendHysteresis = 0.10
)

type Statistics struct {
	Adjustments    int          `json:"adjustments"`
	Current        float64      `json:"current"`
	CurrentMode    Mode         `json:"current_mode"`
	Mean           float64      `json:"mean"`
	Min            float64      `json:"min"`
	Max            float64      `json:"max"`
	Trend          Trend        `json:"trend"`
	ModeCounts     map[Mode]int `json:"mode_counts"`
	LastGeneration int          `json:"last_generation"`
}

// Statistics summarizes the history. The trend compares the mean of the last
// five levels with the first five, outside a 10% band.
func (c *Controller) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Statistics{
		Adjustments: len(c.history),
		Current:     c.current,
		CurrentMode: ModeFor(c.current),
		ModeCounts:  make(map[Mode]int),
		Trend:       TrendInsufficient,
	}
	if len(c.history) == 0 {
		return st
	}

	st.Min, st.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, h := range c.history {
		sum += h.Pressure
		st.Min = math.Min(st.Min, h.Pressure)
		st.Max = math.Max(st.Max, h.Pressure)
		st.ModeCounts[h.CompetitionMode]++
	}
	st.Mean = sum / float64(len(c.history))
	st.LastGeneration = c.history[len(c.history)-1].Generation

	if len(c.history) >= trendWindow {
		early := meanPressure(c.history[:trendWindow])
		recent := meanPressure(c.history[len(c.history)-trendWindow:])
		switch {
		case recent > early*(1+trendHysteresis):
			st.Trend = TrendIncreasing
		case recent < early*(1-trendHysteresis):
			st.Trend = TrendDecreasing
		default:
			st.Trend = TrendStable
		}
	}
	return st
}

// Reset restores the initial level and drops the history.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.initial
	c.history = nil
	c.log.Infow("pressure_reset", "pressure", c.initial)
}

func diversityFactor(d float64) float64 {
	switch {
	case d < 0.30:
		return 0.30
	case d >= 0.70:
		return 1.50
	}
	return 1.0
}

func fitnessFactor(f float64) float64 {
	switch {
	case f > 0.50:
		return 1.30
	case f < 0.10:
		return 0.70
	}
	return 1.0
}

func varianceFactor(v float64) float64 {
	if v < 0.10 {
		return 1.20
	}
	return 1.0
}

func generationFactor(g int) float64 {
	switch {
	case g < 10:
		return 0.60
	case g >= 50:
		return 1.20
	}
	return 1.0
}

// sanitize maps NaN to a neutral value and clamps everything else into range.
func sanitize(gen int, diversity, fitness, variance float64) (int, float64, float64, float64) {
	if gen < 0 {
		gen = 0
	}
	if math.IsNaN(diversity) {
		diversity = 0.5
	}
	diversity = clamp(diversity, 0, 1)

	if math.IsNaN(fitness) {
		fitness = 0.3
	}
	fitness = clamp(fitness, -fitnessLimit, fitnessLimit)

	if math.IsNaN(variance) {
		variance = 1
	}
	variance = clamp(variance, 0, varianceLimit)
	return gen, diversity, fitness, variance
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func meanPressure(hs []History) float64 {
	var sum float64
	for _, h := range hs {
		sum += h.Pressure
	}
	return sum / float64(len(hs))
}
