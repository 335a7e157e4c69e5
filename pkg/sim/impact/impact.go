// Package impact models how absorbing order flow against finite liquidity
// moves the price.
package impact

import (
	"math"

	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

const (
	DefaultCoefficient    = 0.001
	DefaultExponent       = 0.5
	DefaultPermanentRatio = 0.5
	DefaultLiquidity      = 1000.0
	DefaultFeeRate        = 0.0005

	// burst depletion never takes liquidity below this share of the initial value
	minLiquidityShare = 0.1
)

type Config struct {
	Coefficient      float64 `yaml:"coefficient"`
	Exponent         float64 `yaml:"exponent"`
	PermanentRatio   float64 `yaml:"permanent_ratio"`
	DefaultLiquidity float64 `yaml:"default_liquidity"`
	FeeRate          float64 `yaml:"fee_rate"`
}

func DefaultConfig() Config {
	return Config{
		Coefficient:      DefaultCoefficient,
		Exponent:         DefaultExponent,
		PermanentRatio:   DefaultPermanentRatio,
		DefaultLiquidity: DefaultLiquidity,
		FeeRate:          DefaultFeeRate,
	}
}

// Model is a stateless square-root style impact function. Safe for
// concurrent use.
type Model struct {
	coefficient    float64
	exponent       float64
	permanentRatio float64
	liquidity      float64
	feeRate        float64
}

// NewModel fills zero or invalid fields from DefaultConfig.
func NewModel(cfg Config) *Model {
	def := DefaultConfig()
	if !(cfg.Coefficient > 0) {
		cfg.Coefficient = def.Coefficient
	}
	if !(cfg.Exponent > 0) {
		cfg.Exponent = def.Exponent
	}
	if !(cfg.PermanentRatio > 0 && cfg.PermanentRatio <= 1) {
		cfg.PermanentRatio = def.PermanentRatio
	}
	if !(cfg.DefaultLiquidity > 0) {
		cfg.DefaultLiquidity = def.DefaultLiquidity
	}
	if !(cfg.FeeRate > 0) {
		cfg.FeeRate = def.FeeRate
	}
	return &Model{
		coefficient:    cfg.Coefficient,
		exponent:       cfg.Exponent,
		permanentRatio: cfg.PermanentRatio,
		liquidity:      cfg.DefaultLiquidity,
		feeRate:        cfg.FeeRate,
	}
}

func (m *Model) Config() Config {
	return Config{
		Coefficient:      m.coefficient,
		Exponent:         m.exponent,
		PermanentRatio:   m.permanentRatio,
		DefaultLiquidity: m.liquidity,
		FeeRate:          m.feeRate,
	}
}

// Calculate returns the absolute price change caused by a signed net flow:
//
//	coefficient * sign(flow) * (|flow| / liquidity)^exponent * price
//
// Non-positive liquidity is replaced by the default. A zero flow or a
// non-positive price yields zero.
func (m *Model) Calculate(flow, liquidity, price float64) float64 {
	if flow == 0 || math.IsNaN(flow) || !(price > 0) || math.IsInf(price, 0) {
		return 0
	}
	if !(liquidity > 0) {
		liquidity = m.liquidity
	}
	sign := 1.0
	if flow < 0 {
		sign = -1
	}
	return m.coefficient * sign * math.Pow(math.Abs(flow)/liquidity, m.exponent) * price
}

// PermanentImpact is the share of total that persists after execution.
func (m *Model) PermanentImpact(total float64) float64 {
	return total * m.permanentRatio
}

// TemporaryImpact is the share of total that decays after execution.
func (m *Model) TemporaryImpact(total float64) float64 {
	return total * (1 - m.permanentRatio)
}

// CalculateMultiOrder applies Calculate to each flow in turn, depleting
// liquidity by |flow| after every order (floored at 10% of the starting
// liquidity), and returns the accumulated impact.
func (m *Model) CalculateMultiOrder(flows []float64, liquidity, price float64) float64 {
	if !(liquidity > 0) {
		liquidity = m.liquidity
	}
	floor := liquidity * minLiquidityShare
	remaining := liquidity

	var total float64
	for _, f := range flows {
		total += m.Calculate(f, remaining, price)
		remaining = math.Max(remaining-math.Abs(f), floor)
	}
	return total
}

// CalculateSlippage returns the expected execution price for amount on side.
func (m *Model) CalculateSlippage(amount float64, side orderbook.Side, liquidity, price float64) float64 {
	return price + m.Calculate(side.Sign()*math.Abs(amount), liquidity, price)
}

type ExecutionCost struct {
	MarketPrice     float64 `json:"market_price"`
	ActualPrice     float64 `json:"actual_price"`
	SlippageCost    float64 `json:"slippage_cost"`
	FeeCost         float64 `json:"fee_cost"`
	TotalCost       float64 `json:"total_cost"`
	RelativeCostPct float64 `json:"relative_cost_pct"`
}

// EstimateExecutionCost prices a hypothetical order. A negative feeRate
// selects the model's configured rate.
func (m *Model) EstimateExecutionCost(amount float64, side orderbook.Side, liquidity, price, feeRate float64) ExecutionCost {
	if !(feeRate >= 0) {
		feeRate = m.feeRate
	}
	amount = math.Abs(amount)
	actual := m.CalculateSlippage(amount, side, liquidity, price)

	slippage := math.Abs(actual-price) * amount
	fee := actual * amount * feeRate
	total := slippage + fee

	var rel float64
	if notional := price * amount; notional > 0 {
		rel = total / notional * 100
	}
	return ExecutionCost{
		MarketPrice:     price,
		ActualPrice:     actual,
		SlippageCost:    slippage,
		FeeCost:         fee,
		TotalCost:       total,
		RelativeCostPct: rel,
	}
}
