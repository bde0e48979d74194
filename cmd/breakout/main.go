// Breakoutbot - zone breakout signals and single-position bracket backtests
//
// Modes:
//   backtest  replay candles through the paper broker (default)
//   signals   label pivots and print the BUY/SELL candles only
//   bridge    replay candles against an external execution engine
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/bot"
	"github.com/web3guy0/breakoutbot/bridge"
	"github.com/web3guy0/breakoutbot/core"
	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/feeds"
	"github.com/web3guy0/breakoutbot/internal/config"
	"github.com/web3guy0/breakoutbot/internal/logging"
	"github.com/web3guy0/breakoutbot/metrics"
	"github.com/web3guy0/breakoutbot/storage"
	"github.com/web3guy0/breakoutbot/strategy"
)

const version = "1.0.0"

func main() {
	mode := flag.String("mode", "backtest", "backtest | signals | bridge")
	dataFile := flag.String("data", "", "candle CSV, overrides DATA_FILE")
	paramsFile := flag.String("params", "", "YAML parameter file, overrides PARAMS_FILE")
	flag.Parse()

	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Console logging until the config says otherwise
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *paramsFile != "" {
		if err := cfg.ApplyFile(*paramsFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to load parameter file")
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid parameters")
		}
	}
	if *dataFile != "" {
		cfg.DataFile = *dataFile
	}

	closer, err := logging.Setup(logging.Options{
		Debug:      cfg.Debug,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxBackups: cfg.LogBackups,
		MaxAgeDays: cfg.LogMaxAge,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer closer.Close()

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("              BREAKOUTBOT v%s - %s", version, *mode)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	if cfg.DataFile == "" {
		log.Fatal().Msg("No candle data: set DATA_FILE or pass -data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// DATA
	// ═══════════════════════════════════════════════════════════════════════════════

	candles, err := feeds.LoadCSV(cfg.DataFile, feeds.LoadOptions{
		Delimiter:      cfg.Delimiter,
		DropZeroVolume: cfg.DropZeroVolume,
		Begin:          cfg.Begin,
		End:            cfg.End,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load candles")
	}

	analysis, err := core.Analyze(cfg, candles)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute signals")
	}

	// Storage is optional
	var db *storage.Database
	if cfg.DatabasePath != "" {
		db, err = storage.New(cfg.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("Database connection failed, continuing without persistence")
			db = nil
		} else {
			defer db.Close()
			log.Info().Str("path", cfg.DatabasePath).Msg("✅ Storage layer initialized")
		}
	}

	var counter execution.RunCounter
	run := counter.NewRun(cfg.Ticker)

	switch *mode {
	case "signals":
		runSignals(cfg, run, analysis, db)
	case "backtest", "bridge":
		if err := runBacktest(ctx, cfg, *mode, run, analysis, db); err != nil {
			log.Fatal().Err(err).Msg("Run failed")
		}
	default:
		log.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}

	log.Info().Msg("👋 Goodbye!")
}

// runSignals prints the triggering candles and optionally stores them
func runSignals(cfg *config.Config, run *execution.RunContext, a *core.Analysis, db *storage.Database) {
	n := strategy.LogSignals(zerolog.InfoLevel, a.Candles, a.Series, cfg.DetectorFilter())
	log.Info().Int("shown", n).Str("filter", cfg.SignalShow).Msg("📋 Signals listed")

	if db == nil || !cfg.StoreSignals {
		return
	}

	rec := core.NewRunRecord(run, cfg, "signals", a)
	if err := db.CreateRun(rec); err != nil {
		log.Error().Err(err).Msg("Failed to persist run")
		return
	}
	if err := db.SaveSignals(storage.SignalRows(run.ID, a.Candles, a.Labels, a.Series, false)); err != nil {
		log.Error().Err(err).Msg("Failed to persist signals")
	}

	now := time.Now()
	rec.Status = "done"
	rec.FinishedAt = &now
	if err := db.SaveRun(rec); err != nil {
		log.Error().Err(err).Msg("Failed to update run")
	}
	log.Info().Str("run", run.ID).Msg("💾 Signals stored")
}

func runBacktest(ctx context.Context, cfg *config.Config, mode string, run *execution.RunContext, a *core.Analysis, db *storage.Database) error {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BROKER
	// ═══════════════════════════════════════════════════════════════════════════════

	var broker execution.Broker
	if mode == "bridge" {
		if cfg.BridgeURL == "" {
			return fmt.Errorf("bridge mode needs BRIDGE_URL")
		}
		client, err := bridge.Dial(ctx, cfg.BridgeURL)
		if err != nil {
			return err
		}
		defer client.Close()
		broker = client
	} else {
		paper, err := execution.NewPaperBroker(cfg.Paper)
		if err != nil {
			return err
		}
		broker = paper
		log.Info().Float64("cash", cfg.Paper.Cash).Msg("✅ Paper broker initialized")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// NOTIFIERS
	// ═══════════════════════════════════════════════════════════════════════════════

	var listeners []execution.Listener

	var telegramBot *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tb, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, cfg.Ticker)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			telegramBot = tb
			listeners = append(listeners, tb)
		}
	}

	engine, err := core.NewEngine(run, cfg, a, broker, listeners...)
	if err != nil {
		return err
	}
	if db != nil {
		engine.SetDatabase(db)
	}

	if cfg.MetricsAddr != "" {
		rec, err := metrics.New(prometheus.DefaultRegisterer, cfg.Ticker)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		engine.SetMetrics(rec)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	if telegramBot != nil {
		telegramBot.SetStatsProvider(engine)
		telegramBot.SetControlCallbacks(engine.Pause, engine.Resume)
		telegramBot.Start()
		defer telegramBot.Stop()
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	summary, err := engine.Run(ctx)
	if telegramBot != nil {
		if err != nil {
			telegramBot.NotifyError(err)
		} else {
			_, _, _, _, equity := engine.GetStats()
			telegramBot.NotifySummary(summary.Trades, summary.Wins, summary.Losses, summary.Net, equity)
		}
	}
	if err != nil {
		return err
	}

	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msgf("║  %-10s run #%-4d                    ║", cfg.Ticker, summary.Number)
	log.Info().Msgf("║  Candles: %-8d Signals: %3d BUY %3d SELL ║", summary.Candles, summary.BuySignals, summary.SellSignals)
	log.Info().Msgf("║  Trades: %-4d Wins: %-4d Losses: %-4d    ║", summary.Trades, summary.Wins, summary.Losses)
	log.Info().Msgf("║  Gross: %-12s Net: %-12s ║", summary.Gross.StringFixed(2), summary.Net.StringFixed(2))
	log.Info().Msgf("║  Final cash: %-27s ║", summary.FinalCash.StringFixed(2))
	log.Info().Msg("╚══════════════════════════════════════════╝")

	holdForScrape(ctx, cfg.MetricsAddr)
	return nil
}

// holdForScrape keeps the metrics endpoint up after the run until ctx ends
func holdForScrape(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	log.Info().Str("addr", addr).Msg("📈 Run finished, serving final metrics until interrupted")
	<-ctx.Done()
}
