package params

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/sim/adversary"
	"github.com/uhyunpark/darwinex/pkg/sim/impact"
	"github.com/uhyunpark/darwinex/pkg/sim/market"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Simulation struct {
	Symbol          string          `yaml:"symbol"`
	Generations     int             `yaml:"generations"`
	Contenders      int             `yaml:"contenders"`
	Adversaries     int             `yaml:"adversaries"`
	Cycles          int             `yaml:"cycles"`
	StartPrice      float64         `yaml:"start_price"`
	Volatility      float64         `yaml:"volatility"`
	GroupSize       int             `yaml:"group_size"`
	Capital         float64         `yaml:"capital"`
	Jitter          float64         `yaml:"jitter"`
	Seed            int64           `yaml:"seed"` // 0 picks a time-based seed
	AggregateImpact bool            `yaml:"aggregate_impact"`
	ByePolicy       arena.ByePolicy `yaml:"bye_policy"`
	KFactor         float64         `yaml:"k_factor"`
	InitialPressure float64         `yaml:"initial_pressure"`
}

// Scenario holds the market model: impact curve, archetype tunables and the
// adversary mix.
type Scenario struct {
	Impact       impact.Config       `yaml:"impact"`
	Adversary    adversary.Params    `yaml:"adversary"`
	Distribution market.Distribution `yaml:"distribution"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Journal struct {
	Path       string `yaml:"path"` // empty disables the audit trail
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type API struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	Simulation Simulation `yaml:"simulation"`
	Scenario   Scenario   `yaml:"scenario"`
	Log        Log        `yaml:"log"`
	Journal    Journal    `yaml:"journal"`
	API        API        `yaml:"api"`
}

func Default() Config {
	return Config{
		Simulation: Simulation{
			Symbol:          "SIM-PERP",
			Generations:     10,
			Contenders:      8,
			Adversaries:     20,
			Cycles:          100,
			StartPrice:      100,
			Volatility:      0.01,
			GroupSize:       4,
			Capital:         arena.DefaultCapital,
			Jitter:          0.2,
			ByePolicy:       arena.ByeTopSeed,
			KFactor:         arena.DefaultKFactor,
			InitialPressure: 0.5,
		},
		Scenario: Scenario{
			Impact:       impact.DefaultConfig(),
			Adversary:    adversary.DefaultParams(),
			Distribution: market.DefaultDistribution(),
		},
		Log: Log{
			Level: "info",
			File:  "data/darwinex.log",
		},
		Journal: Journal{
			Path:       "data/journal.ndjson",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()
	loadDotenv(envPath)
	applyEnv(&cfg)
	return cfg
}

// LoadScenario overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadScenario(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	// yaml merges into non-nil maps; a listed distribution replaces the old one
	dist := cfg.Scenario.Distribution
	cfg.Scenario.Distribution = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.Scenario.Distribution = dist
		return fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if cfg.Scenario.Distribution == nil {
		cfg.Scenario.Distribution = dist
	}
	return nil
}

// Load builds the full configuration.
// Priority: ENV > .env file > scenario file > defaults
func Load(envPath, scenarioPath string) (Config, error) {
	cfg := Default()
	if scenarioPath != "" {
		if err := LoadScenario(scenarioPath, &cfg); err != nil {
			return cfg, err
		}
	}
	loadDotenv(envPath)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotenv(envPath string) {
	// optional; a missing file is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
}

// Malformed values are ignored and the previous value is kept.
func applyEnv(cfg *Config) {
	s := &cfg.Simulation
	envString("SIM_SYMBOL", &s.Symbol)
	envInt("SIM_GENERATIONS", &s.Generations)
	envInt("SIM_CONTENDERS", &s.Contenders)
	envInt("SIM_ADVERSARIES", &s.Adversaries)
	envInt("SIM_CYCLES", &s.Cycles)
	envFloat("SIM_START_PRICE", &s.StartPrice)
	envFloat("SIM_VOLATILITY", &s.Volatility)
	envInt("SIM_GROUP_SIZE", &s.GroupSize)
	envFloat("SIM_CAPITAL", &s.Capital)
	envFloat("SIM_JITTER", &s.Jitter)
	if v := os.Getenv("SIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Seed = n
		}
	}
	envBool("SIM_AGGREGATE_IMPACT", &s.AggregateImpact)
	if v := os.Getenv("SIM_BYE_POLICY"); v != "" {
		s.ByePolicy = arena.ByePolicy(v)
	}
	envFloat("SIM_K_FACTOR", &s.KFactor)
	envFloat("PRESSURE_INITIAL", &s.InitialPressure)

	envFloat("IMPACT_COEFFICIENT", &cfg.Scenario.Impact.Coefficient)
	envFloat("IMPACT_FEE_RATE", &cfg.Scenario.Impact.FeeRate)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FILE", &cfg.Log.File)

	envString("JOURNAL_PATH", &cfg.Journal.Path)
	envInt("JOURNAL_MAX_SIZE_MB", &cfg.Journal.MaxSizeMB)
	envBool("JOURNAL_COMPRESS", &cfg.Journal.Compress)

	envBool("API_ENABLED", &cfg.API.Enabled)
	envString("API_ADDR", &cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.API.AllowedOrigins = origins
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	s := c.Simulation
	switch {
	case s.Symbol == "":
		return invalid("symbol is required")
	case s.Generations < 1:
		return invalid("generations must be at least 1, got %d", s.Generations)
	case s.Contenders < 2:
		return invalid("contenders must be at least 2, got %d", s.Contenders)
	case s.Adversaries < 1:
		return invalid("adversaries must be at least 1, got %d", s.Adversaries)
	case s.Cycles < 2:
		return invalid("cycles must be at least 2, got %d", s.Cycles)
	case !finitePositive(s.StartPrice):
		return invalid("start price must be positive, got %v", s.StartPrice)
	case !finitePositive(s.Volatility) || s.Volatility >= 1:
		return invalid("volatility must be in (0, 1), got %v", s.Volatility)
	case s.GroupSize < 2:
		return invalid("group size must be at least 2, got %d", s.GroupSize)
	case !finitePositive(s.Capital):
		return invalid("capital must be positive, got %v", s.Capital)
	case !(s.Jitter >= 0 && s.Jitter <= 0.9):
		return invalid("jitter must be in [0, 0.9], got %v", s.Jitter)
	case s.ByePolicy != arena.ByeTopSeed && s.ByePolicy != arena.ByeStrict:
		return invalid("unknown bye policy %q", s.ByePolicy)
	case !finitePositive(s.KFactor):
		return invalid("k factor must be positive, got %v", s.KFactor)
	case !(s.InitialPressure >= 0.1 && s.InitialPressure <= 1):
		return invalid("initial pressure must be in [0.1, 1], got %v", s.InitialPressure)
	}

	imp := c.Scenario.Impact
	if imp.FeeRate < 0 || imp.FeeRate >= 0.1 || math.IsNaN(imp.FeeRate) {
		return invalid("fee rate must be in [0, 0.1), got %v", imp.FeeRate)
	}
	if imp.PermanentRatio < 0 || imp.PermanentRatio > 1 || math.IsNaN(imp.PermanentRatio) {
		return invalid("permanent impact ratio must be in [0, 1], got %v", imp.PermanentRatio)
	}

	// empty means the market default
	if d := c.Scenario.Distribution; len(d) > 0 {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if c.API.Enabled && c.API.Addr == "" {
		return invalid("api address is required when the api is enabled")
	}
	return nil
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
