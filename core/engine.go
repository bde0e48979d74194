package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/feeds"
	"github.com/web3guy0/breakoutbot/internal/config"
	"github.com/web3guy0/breakoutbot/metrics"
	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/storage"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - One backtest run
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per candle:
//   Broker.OnCandle (fills, exit legs) → Controller.OnCandle → Broker.Submit
//
// Broker callbacks feed the controller, the controller feeds its listeners
// (journal, metrics, telegram, the engine's own stats). Every run owns its
// analysis, controller and broker; nothing is shared between engines.
//
// ═══════════════════════════════════════════════════════════════════════════════

const recentTradesCap = 50

// Analysis is the precomputed detection output for one candle buffer
type Analysis struct {
	Candles []types.Candle
	Labels  []pivot.Label
	Series  *strategy.Series
	Trend   *feeds.TrendSeries
}

// Analyze labels pivots and computes the signal and trend series once
func Analyze(cfg *config.Config, candles []types.Candle) (*Analysis, error) {
	if err := cfg.Detector.Validate(cfg.PivotWindow); err != nil {
		return nil, err
	}

	labels := pivot.Labels(candles, cfg.PivotWindow)
	series, err := strategy.ComputeSeries(candles, labels, cfg.Detector)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("candles", len(candles)).
		Int("pivot_highs", pivot.Count(labels, pivot.High)).
		Int("pivot_lows", pivot.Count(labels, pivot.Low)).
		Int("buy", series.Count(strategy.SignalBuy)).
		Int("sell", series.Count(strategy.SignalSell)).
		Msg("🔍 Signals computed")

	return &Analysis{
		Candles: candles,
		Labels:  labels,
		Series:  series,
		Trend:   feeds.NewTrendSeries(candles, cfg.ShortMA, cfg.LongMA),
	}, nil
}

// Summary is the outcome of one run
type Summary struct {
	RunID       string
	Number      int
	Candles     int
	BuySignals  int
	SellSignals int
	Trades      int
	Wins        int
	Losses      int
	Gross       decimal.Decimal
	Net         decimal.Decimal
	FinalCash   decimal.Decimal
}

// cashReporter is implemented by brokers that track an account
type cashReporter interface {
	Cash() decimal.Decimal
	Equity(price decimal.Decimal) decimal.Decimal
}

type Engine struct {
	mu sync.RWMutex

	// Components
	run        *execution.RunContext
	cfg        *config.Config
	analysis   *Analysis
	controller *execution.Controller
	broker     execution.Broker
	db         *storage.Database
	recorder   *metrics.Recorder
	breaker    *risk.CircuitBreaker

	paused atomic.Bool

	// Stats
	startCash   decimal.Decimal
	totalTrades int
	winCount    int
	lossCount   int
	totalGross  decimal.Decimal
	totalNet    decimal.Decimal
	recent      []types.TradeRecord
}

// NewEngine wires a controller over analysis to broker. Extra listeners
// receive every intent, order status and trade report.
func NewEngine(run *execution.RunContext, cfg *config.Config, analysis *Analysis, broker execution.Broker, listeners ...execution.Listener) (*Engine, error) {
	if err := cfg.Controller.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		run:        run,
		cfg:        cfg,
		analysis:   analysis,
		broker:     broker,
		startCash:  decimal.NewFromFloat(cfg.Paper.Cash),
		totalGross: decimal.Zero,
		totalNet:   decimal.Zero,
	}

	if cfg.Breaker.Enabled() {
		e.breaker = risk.NewCircuitBreaker(cfg.Breaker)
	}

	e.controller = execution.NewController(run, cfg.Controller, analysis.Series, e)
	for _, l := range listeners {
		e.controller.AddListener(l)
	}

	broker.OnOrder(e.controller.OnOrderEvent)
	broker.OnTrade(func(ev execution.TradeEvent) {
		e.controller.OnTradeClosed(ev)
	})

	return e, nil
}

// SetDatabase enables run persistence and the trade journal
func (e *Engine) SetDatabase(db *storage.Database) {
	e.db = db
	e.controller.AddListener(storage.NewJournal(db))
}

// SetMetrics enables Prometheus recording
func (e *Engine) SetMetrics(r *metrics.Recorder) {
	e.recorder = r
	e.controller.AddListener(r)
}

// Controller returns the run's position controller
func (e *Engine) Controller() *execution.Controller {
	return e.controller
}

// Pause stops new entries; open brackets keep running
func (e *Engine) Pause() {
	e.paused.Store(true)
	log.Info().Msg("⏸️ Entries paused")
}

// Resume allows new entries again
func (e *Engine) Resume() {
	e.paused.Store(false)
	log.Info().Msg("▶️ Entries resumed")
}

// IsPaused reports whether entries are paused
func (e *Engine) IsPaused() bool {
	return e.paused.Load()
}

// ═══════════════════════════════════════════════════════════════════════════════
// RUN LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Run replays the candle buffer through controller and broker. A contract
// violation or broker failure aborts the run and is returned; order
// lifecycle failures are not errors.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	a := e.analysis
	cfg := e.cfg

	log.Info().
		Str("ticker", cfg.Ticker).
		Str("run", e.run.ID).
		Int("run_nr", e.run.Number).
		Int("pivot_window", cfg.PivotWindow).
		Float64("sl_distance", cfg.Controller.Bracket.SLDistance).
		Float64("tp_sl_ratio", cfg.Controller.Bracket.TPSLRatio).
		Msg("▶️ Run started")
	cfg.Detector.LogParams(cfg.Ticker)

	strategy.LogSignals(cfg.SignalLogLevel(), a.Candles, a.Series, cfg.DetectorFilter())
	if e.recorder != nil {
		e.recorder.ObserveSeries(a.Series)
	}

	record := e.startRecord()

	err := e.loop(ctx)

	summary := e.summary()
	e.finishRecord(record, summary, err)

	if err != nil {
		log.Error().Err(err).Str("run", e.run.ID).Msg("❌ Run aborted")
		return summary, err
	}

	log.Info().
		Int("trades", summary.Trades).
		Int("wins", summary.Wins).
		Int("losses", summary.Losses).
		Str("gross", summary.Gross.StringFixed(2)).
		Str("net", summary.Net.StringFixed(2)).
		Str("cash", summary.FinalCash.StringFixed(2)).
		Msg("🏁 Run finished")

	return summary, nil
}

func (e *Engine) loop(ctx context.Context) error {
	a := e.analysis

	for i, c := range a.Candles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.broker.OnCandle(c); err != nil {
			return fmt.Errorf("broker at candle %d: %w", i, err)
		}

		if e.entriesAllowed(i, c) {
			intent, err := e.controller.OnCandle(i, c, a.Trend.At(i))
			if err != nil {
				var cv *execution.ContractViolation
				if errors.As(err, &cv) {
					log.Error().Int("idx", cv.Index).Str("signal", cv.Value.String()).Msg("❌ Contract violation")
				}
				return err
			}
			if intent != nil {
				if err := e.broker.Submit(intent); err != nil {
					return fmt.Errorf("submit at candle %d: %w", i, err)
				}
			}
		}

		if e.recorder != nil {
			e.recorder.SetEquity(e.equityAt(c.Close))
		}
	}

	return e.broker.Finish()
}

// entriesAllowed applies the pause flag and the circuit breaker
func (e *Engine) entriesAllowed(idx int, c types.Candle) bool {
	if e.paused.Load() {
		return false
	}
	if e.breaker != nil && e.breaker.Check(idx, e.equityAt(c.Close)) {
		return false
	}
	return true
}

// equityAt marks the account at price
func (e *Engine) equityAt(price float64) decimal.Decimal {
	if cr, ok := e.broker.(cashReporter); ok {
		return cr.Equity(decimal.NewFromFloat(price))
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startCash.Add(e.totalNet)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LISTENER - engine stats
// ═══════════════════════════════════════════════════════════════════════════════

// OnIntent implements execution.Listener
func (e *Engine) OnIntent(*execution.OrderIntent) {}

// OnOrderStatus implements execution.Listener
func (e *Engine) OnOrderStatus(*execution.OrderIntent, execution.OrderEvent) {}

// OnTradeReport implements execution.Listener
func (e *Engine) OnTradeReport(report execution.TradeReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalTrades++
	if report.IsWin() {
		e.winCount++
	} else {
		e.lossCount++
	}
	e.totalGross = e.totalGross.Add(report.Gross)
	e.totalNet = e.totalNet.Add(report.Net)
	if e.breaker != nil {
		e.breaker.RecordTrade(report.BarClose, report.Net)
	}

	rec := types.TradeRecord{
		ID:        report.IntentID,
		RunID:     report.RunID,
		Direction: report.Direction,
		Entry:     report.EntryPrice,
		Exit:      report.ExitPrice,
		Gross:     report.Gross,
		Net:       report.Net,
		Reason:    string(report.Reason),
		BarOpen:   report.BarOpen,
		BarClose:  report.BarClose,
		Timestamp: time.Now(),
	}
	e.recent = append([]types.TradeRecord{rec}, e.recent...)
	if len(e.recent) > recentTradesCap {
		e.recent = e.recent[:recentTradesCap]
	}
}

// GetStats returns current run statistics
func (e *Engine) GetStats() (trades, wins, losses int, net, equity decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalTrades, e.winCount, e.lossCount, e.totalNet, e.cash()
}

// GetRecentTrades returns up to limit closed trades, newest first
func (e *Engine) GetRecentTrades(limit int) ([]types.TradeRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]types.TradeRecord, limit)
	copy(out, e.recent[:limit])
	return out, nil
}

// cash prefers the broker's account. Caller holds mu.
func (e *Engine) cash() decimal.Decimal {
	if cr, ok := e.broker.(cashReporter); ok {
		return cr.Cash()
	}
	return e.startCash.Add(e.totalNet)
}

func (e *Engine) summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Summary{
		RunID:       e.run.ID,
		Number:      e.run.Number,
		Candles:     len(e.analysis.Candles),
		BuySignals:  e.analysis.Series.Count(strategy.SignalBuy),
		SellSignals: e.analysis.Series.Count(strategy.SignalSell),
		Trades:      e.totalTrades,
		Wins:        e.winCount,
		Losses:      e.lossCount,
		Gross:       e.totalGross,
		Net:         e.totalNet,
		FinalCash:   e.cash(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) startRecord() *storage.Run {
	if e.db == nil {
		return nil
	}

	rec := NewRunRecord(e.run, e.cfg, "backtest", e.analysis)
	if err := e.db.CreateRun(rec); err != nil {
		log.Error().Err(err).Msg("Failed to persist run")
		return nil
	}
	if e.cfg.StoreSignals {
		rows := storage.SignalRows(e.run.ID, e.analysis.Candles, e.analysis.Labels, e.analysis.Series, false)
		if err := e.db.SaveSignals(rows); err != nil {
			log.Error().Err(err).Msg("Failed to persist signals")
		}
	}
	return rec
}

func (e *Engine) finishRecord(rec *storage.Run, s Summary, runErr error) {
	if rec == nil {
		return
	}

	now := time.Now()
	rec.Trades = s.Trades
	rec.Wins = s.Wins
	rec.Losses = s.Losses
	rec.Gross = s.Gross
	rec.Net = s.Net
	rec.FinalCash = s.FinalCash
	rec.FinishedAt = &now
	rec.Status = "done"
	if runErr != nil {
		rec.Status = "failed"
		rec.Error = runErr.Error()
	}
	if err := e.db.SaveRun(rec); err != nil {
		log.Error().Err(err).Msg("Failed to update run")
	}
}

// NewRunRecord builds the storage row describing a run
func NewRunRecord(run *execution.RunContext, cfg *config.Config, mode string, a *Analysis) *storage.Run {
	return &storage.Run{
		ID:             run.ID,
		Number:         run.Number,
		Ticker:         cfg.Ticker,
		Mode:           mode,
		Candles:        len(a.Candles),
		PivotWindow:    cfg.PivotWindow,
		Backcandles:    cfg.Detector.Backcandles,
		GapWindow:      cfg.Detector.GapWindow,
		ZoneHeight:     cfg.Detector.ZoneHeight,
		BreakoutFactor: cfg.Detector.BreakoutFactor,
		SLDistance:     cfg.Controller.Bracket.SLDistance,
		TPSLRatio:      cfg.Controller.Bracket.TPSLRatio,
		BuySignals:     a.Series.Count(strategy.SignalBuy),
		SellSignals:    a.Series.Count(strategy.SignalSell),
	}
}
