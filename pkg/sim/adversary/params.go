package adversary

type MarketMakerParams struct {
	SpreadPct        float64 `yaml:"spread_pct"`
	QuoteSize        float64 `yaml:"quote_size"`
	MaxInventory     float64 `yaml:"max_inventory"`
	QuoteRefreshRate int     `yaml:"quote_refresh_rate"`
}

type TrendFollowerParams struct {
	MomentumThreshold float64 `yaml:"momentum_threshold"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	Lookback          int     `yaml:"lookback"`
	BufferSize        int     `yaml:"buffer_size"`
	PositionSize      float64 `yaml:"position_size"`
}

type ContrarianParams struct {
	LookbackPeriod int     `yaml:"lookback_period"`
	EntryThreshold float64 `yaml:"entry_threshold"` // in standard deviations
	ExitThreshold  float64 `yaml:"exit_threshold"`
	PositionSize   float64 `yaml:"position_size"`
}

type ArbitrageurParams struct {
	MinSpreadPct float64 `yaml:"min_spread_pct"`
	MaxHoldTime  int     `yaml:"max_hold_time"` // cycles
	PositionSize float64 `yaml:"position_size"`
}

type NoiseTraderParams struct {
	TradeFrequency float64 `yaml:"trade_frequency"` // entry probability per cycle
	PanicThreshold float64 `yaml:"panic_threshold"`
	MinHold        int     `yaml:"min_hold"`
	MaxHold        int     `yaml:"max_hold"`
	MaxSize        float64 `yaml:"max_size"`
}

// Params carries the tunables of every archetype. Zero fields fall back to
// DefaultParams.
type Params struct {
	MarketMaker   MarketMakerParams   `yaml:"market_maker"`
	TrendFollower TrendFollowerParams `yaml:"trend_follower"`
	Contrarian    ContrarianParams    `yaml:"contrarian"`
	Arbitrageur   ArbitrageurParams   `yaml:"arbitrageur"`
	NoiseTrader   NoiseTraderParams   `yaml:"noise_trader"`
}

func DefaultParams() Params {
	return Params{
		MarketMaker: MarketMakerParams{
			SpreadPct:        0.002,
			QuoteSize:        1,
			MaxInventory:     10,
			QuoteRefreshRate: 5,
		},
		TrendFollower: TrendFollowerParams{
			MomentumThreshold: 0.02,
			StopLossPct:       0.05,
			Lookback:          10,
			BufferSize:        50,
			PositionSize:      1,
		},
		Contrarian: ContrarianParams{
			LookbackPeriod: 20,
			EntryThreshold: 2,
			ExitThreshold:  0.5,
			PositionSize:   1,
		},
		Arbitrageur: ArbitrageurParams{
			MinSpreadPct: 0.005,
			MaxHoldTime:  5,
			PositionSize: 1,
		},
		NoiseTrader: NoiseTraderParams{
			TradeFrequency: 0.1,
			PanicThreshold: 0.03,
			MinHold:        1,
			MaxHold:        20,
			MaxSize:        1,
		},
	}
}

// WithDefaults replaces zero or negative tunables with DefaultParams and
// repairs inconsistent ranges.
func (p Params) WithDefaults() Params {
	d := DefaultParams()

	mm := &p.MarketMaker
	pos(&mm.SpreadPct, d.MarketMaker.SpreadPct)
	pos(&mm.QuoteSize, d.MarketMaker.QuoteSize)
	pos(&mm.MaxInventory, d.MarketMaker.MaxInventory)
	posInt(&mm.QuoteRefreshRate, d.MarketMaker.QuoteRefreshRate)

	tf := &p.TrendFollower
	pos(&tf.MomentumThreshold, d.TrendFollower.MomentumThreshold)
	pos(&tf.StopLossPct, d.TrendFollower.StopLossPct)
	posInt(&tf.Lookback, d.TrendFollower.Lookback)
	posInt(&tf.BufferSize, d.TrendFollower.BufferSize)
	pos(&tf.PositionSize, d.TrendFollower.PositionSize)
	if tf.BufferSize <= tf.Lookback {
		tf.BufferSize = tf.Lookback + 1
	}

	c := &p.Contrarian
	posInt(&c.LookbackPeriod, d.Contrarian.LookbackPeriod)
	pos(&c.EntryThreshold, d.Contrarian.EntryThreshold)
	pos(&c.ExitThreshold, d.Contrarian.ExitThreshold)
	pos(&c.PositionSize, d.Contrarian.PositionSize)
	if c.LookbackPeriod < 2 {
		c.LookbackPeriod = 2
	}

	a := &p.Arbitrageur
	pos(&a.MinSpreadPct, d.Arbitrageur.MinSpreadPct)
	posInt(&a.MaxHoldTime, d.Arbitrageur.MaxHoldTime)
	pos(&a.PositionSize, d.Arbitrageur.PositionSize)

	n := &p.NoiseTrader
	pos(&n.TradeFrequency, d.NoiseTrader.TradeFrequency)
	pos(&n.PanicThreshold, d.NoiseTrader.PanicThreshold)
	posInt(&n.MinHold, d.NoiseTrader.MinHold)
	posInt(&n.MaxHold, d.NoiseTrader.MaxHold)
	pos(&n.MaxSize, d.NoiseTrader.MaxSize)
	if n.MaxHold < n.MinHold {
		n.MaxHold = n.MinHold
	}
	if n.TradeFrequency > 1 {
		n.TradeFrequency = 1
	}
	return p
}

func pos(v *float64, def float64) {
	if !(*v > 0) {
		*v = def
	}
}

func posInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
