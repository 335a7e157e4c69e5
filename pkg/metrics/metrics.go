// Package metrics exposes Prometheus instruments for the simulated market,
// the arena and the pressure controller.
//
// Every method is safe on a nil *Collector so components can run without
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "darwinex"

// Trade sources
const (
	SourceCaller    = "caller"
	SourceAdversary = "adversary"
	SourceMixed     = "mixed"
)

type Collector struct {
	// ============ market ============
	trades        *prometheus.CounterVec
	volume        *prometheus.CounterVec
	impact        *prometheus.HistogramVec
	price         prometheus.Gauge
	liquidity     prometheus.Gauge
	spread        prometheus.Gauge
	adversaries   *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
	rejected      prometheus.Counter

	// ============ arena ============
	matches    *prometheus.CounterVec
	topRating  prometheus.Gauge
	contenders prometheus.Gauge

	// ============ pressure ============
	pressure        prometheus.Gauge
	adversaryRatio  prometheus.Gauge
	eliminationRate prometheus.Gauge
	mode            *prometheus.GaugeVec
	generations     prometheus.Counter
}

// NewCollector registers all instruments with reg. Use a fresh
// prometheus.NewRegistry() per session to keep sessions independent.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trades_total",
			Help:      "Trades executed by the simulated book",
		}, []string{"source"}),
		volume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "volume_total",
			Help:      "Traded amount by the simulated book",
		}, []string{"source"}),
		impact: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "price_impact_abs",
			Help:      "Absolute price impact per market order",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"stage"}), // order, aggregate
		price: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "price",
			Help:      "Price after the latest simulated cycle",
		}),
		liquidity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "liquidity",
			Help:      "Unfilled amount resting on both sides of the book",
		}),
		spread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "spread",
			Help:      "Best ask minus best bid, 0 when one side is empty",
		}),
		adversaries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "adversaries",
			Help:      "Adversary population by type",
		}, []string{"type"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "cycle_duration_ms",
			Help:      "Wall time of one matching cycle in milliseconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "adversary_intents_rejected_total",
			Help:      "Adversary intents dropped by order validation",
		}),

		matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "matches_total",
			Help:      "Recorded matches by type",
		}, []string{"type"}),
		topRating: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "top_rating",
			Help:      "Highest ELO rating on the leaderboard",
		}),
		contenders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "contenders",
			Help:      "Agents with at least one recorded result",
		}),

		pressure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pressure",
			Name:      "level",
			Help:      "Current competitive pressure in [0.1, 1]",
		}),
		adversaryRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pressure",
			Name:      "adversary_ratio",
			Help:      "Share of the population that should be adversarial",
		}),
		eliminationRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pressure",
			Name:      "elimination_rate",
			Help:      "Share of the population eliminated per generation",
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pressure",
			Name:      "competition_mode",
			Help:      "1 for the active competition mode, 0 otherwise",
		}, []string{"mode"}),
		generations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pressure",
			Name:      "adjustments_total",
			Help:      "Pressure adjustments performed",
		}),
	}
}

func (c *Collector) ObserveTrade(source string, amount float64) {
	if c == nil {
		return
	}
	c.trades.WithLabelValues(source).Inc()
	c.volume.WithLabelValues(source).Add(amount)
}

// ObserveImpact records |impact| for stage "order" or "aggregate".
func (c *Collector) ObserveImpact(stage string, impact float64) {
	if c == nil {
		return
	}
	if impact < 0 {
		impact = -impact
	}
	c.impact.WithLabelValues(stage).Observe(impact)
}

func (c *Collector) SetMarket(price, liquidity, spread float64) {
	if c == nil {
		return
	}
	c.price.Set(price)
	c.liquidity.Set(liquidity)
	c.spread.Set(spread)
}

// SetAdversaries replaces the population gauges.
func (c *Collector) SetAdversaries(byType map[string]int) {
	if c == nil {
		return
	}
	c.adversaries.Reset()
	for t, n := range byType {
		c.adversaries.WithLabelValues(t).Set(float64(n))
	}
}

func (c *Collector) ObserveCycle(d time.Duration) {
	if c == nil {
		return
	}
	c.cycleDuration.Observe(float64(d.Microseconds()) / 1000)
}

func (c *Collector) IncRejected() {
	if c == nil {
		return
	}
	c.rejected.Inc()
}

func (c *Collector) IncMatch(kind string) {
	if c == nil {
		return
	}
	c.matches.WithLabelValues(kind).Inc()
}

func (c *Collector) SetLeaderboard(topRating float64, contenders int) {
	if c == nil {
		return
	}
	c.topRating.Set(topRating)
	c.contenders.Set(float64(contenders))
}

var modes = []string{"relaxed", "moderate", "intense"}

func (c *Collector) SetPressure(level, adversaryRatio, eliminationRate float64, mode string) {
	if c == nil {
		return
	}
	c.pressure.Set(level)
	c.adversaryRatio.Set(adversaryRatio)
	c.eliminationRate.Set(eliminationRate)
	for _, m := range modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		c.mode.WithLabelValues(m).Set(v)
	}
	c.generations.Inc()
}
