package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/params"
	"github.com/uhyunpark/darwinex/pkg/api"
	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/journal"
	"github.com/uhyunpark/darwinex/pkg/metrics"
	"github.com/uhyunpark/darwinex/pkg/pressure"
	"github.com/uhyunpark/darwinex/pkg/selfplay"
	"github.com/uhyunpark/darwinex/pkg/util"
)

type Globals struct {
	Env string `help:"Path to a .env file (defaults to ./.env when present)" type:"path"`
}

type CLI struct {
	Globals

	Run    RunCmd    `cmd:"" help:"Run self-play generations against the adversarial market"`
	Replay ReplayCmd `cmd:"" help:"Summarize a journal written by run"`
}

type RunCmd struct {
	Scenario    string `short:"s" help:"YAML scenario file" type:"existingfile"`
	Generations int    `short:"g" help:"Number of generations (overrides config)"`
	Seed        int64  `help:"Random seed (overrides config)"`
	API         bool   `help:"Serve the inspector API while running"`
	Addr        string `help:"API listen address (overrides config)"`
	Linger      bool   `help:"Keep serving the API after the last generation until interrupted"`
}

func (r *RunCmd) Run(g *Globals) error {
	cfg, err := params.Load(g.Env, r.Scenario)
	if err != nil {
		return err
	}
	if r.Generations > 0 {
		cfg.Simulation.Generations = r.Generations
	}
	if r.Seed != 0 {
		cfg.Simulation.Seed = r.Seed
	}
	if r.API {
		cfg.API.Enabled = true
	}
	if r.Addr != "" {
		cfg.API.Addr = r.Addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := util.NewLoggerWithFile(util.LogConfig{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()
	log.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	sc := selfplay.Config{
		Symbol:          cfg.Simulation.Symbol,
		Contenders:      cfg.Simulation.Contenders,
		Adversaries:     cfg.Simulation.Adversaries,
		Cycles:          cfg.Simulation.Cycles,
		StartPrice:      cfg.Simulation.StartPrice,
		Volatility:      cfg.Simulation.Volatility,
		GroupSize:       cfg.Simulation.GroupSize,
		Capital:         cfg.Simulation.Capital,
		Jitter:          cfg.Simulation.Jitter,
		Seed:            cfg.Simulation.Seed,
		Distribution:    cfg.Scenario.Distribution,
		Impact:          cfg.Scenario.Impact,
		Adversary:       cfg.Scenario.Adversary,
		AggregateImpact: cfg.Simulation.AggregateImpact,
		ByePolicy:       cfg.Simulation.ByePolicy,
		KFactor:         cfg.Simulation.KFactor,
		InitialPressure: cfg.Simulation.InitialPressure,
		Logger:          log.Named("selfplay"),
		Metrics:         col,
		IDs:             util.NewSequentialIDs(),
	}

	if cfg.Journal.Path != "" {
		jw, err := journal.OpenFile(cfg.Journal.Path, journal.FileOptions{
			MaxSizeMB:  cfg.Journal.MaxSizeMB,
			MaxBackups: cfg.Journal.MaxBackups,
			MaxAgeDays: cfg.Journal.MaxAgeDays,
			Compress:   cfg.Journal.Compress,
		}, nil)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer func() {
			if err := jw.Close(); err != nil {
				log.Warnw("journal_close_failed", "err", err)
			}
		}()
		sc.Journal = jw
		log.Infow("journal_opened", "path", cfg.Journal.Path)
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(log.Named("ws"), nil)
		sc.Feed = hub
	}

	sess, err := selfplay.NewSession(sc)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.NewServer(api.Sources{
			Market:   sess.Market(),
			Arena:    sess.Arena(),
			Pressure: sess.Pressure(),
			Reports:  func() any { return sess.Reports() },
		}, api.Options{
			AllowedOrigins: cfg.API.AllowedOrigins,
			Gatherer:       reg,
			Logger:         log.Named("api"),
			Hub:            hub,
		})
		go func() { apiErr <- srv.Start(ctx, cfg.API.Addr) }()
	}

	reports, err := sess.Run(ctx, cfg.Simulation.Generations)
	if err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}
	logSummary(log, sess, reports)

	if cfg.API.Enabled {
		if r.Linger && ctx.Err() == nil {
			log.Infow("api_lingering", "addr", cfg.API.Addr)
			<-ctx.Done()
		}
		stop()
		if err := <-apiErr; err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}

func logSummary(log *zap.SugaredLogger, sess *selfplay.Session, reports []selfplay.GenerationReport) {
	st := sess.Pressure().Statistics()
	log.Infow("run_complete",
		"generations", len(reports),
		"final_price", sess.Price(),
		"pressure", st.Current,
		"mode", st.CurrentMode,
		"trend", st.Trend,
	)
	board := sess.Arena().Leaderboard(arena.SortByRating)
	for i, s := range board {
		if i == 5 {
			break
		}
		log.Infow("leader", "rank", i+1, "agent", s.AgentID, "rating", s.Rating, "wins", s.Wins, "losses", s.Losses)
	}
}

type ReplayCmd struct {
	Path string `arg:"" help:"Journal file" type:"existingfile"`
	Kind string `short:"k" help:"Print the records of one kind instead of the summary"`
}

func (r *ReplayCmd) Run(g *Globals) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if r.Kind != "" {
		return journal.Replay(f, func(e journal.Entry) error {
			if e.Kind == r.Kind {
				fmt.Printf("%s %s\n", e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), e.Record)
			}
			return nil
		})
	}

	sum, err := journal.Summarize(f)
	if err != nil {
		return err
	}

	var (
		last  pressure.History
		found bool
	)
	if sum.ByKind[journal.KindPressure] > 0 {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		err = journal.Replay(f, func(e journal.Entry) error {
			if e.Kind != journal.KindPressure {
				return nil
			}
			found = true
			return e.Decode(&last)
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("entries: %d\n", sum.Entries)
	if sum.Entries > 0 {
		fmt.Printf("span:    %s .. %s\n", sum.First.Format("2006-01-02 15:04:05"), sum.Last.Format("2006-01-02 15:04:05"))
	}
	kinds := make([]string, 0, len(sum.ByKind))
	for k := range sum.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-12s %d\n", k, sum.ByKind[k])
	}
	if found {
		fmt.Printf("last pressure: generation %d level %.3f mode %s\n", last.Generation, last.Pressure, last.CompetitionMode)
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("darwinex"),
		kong.Description("Self-play adversarial market simulator"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
