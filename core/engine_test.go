package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/feeds"
	"github.com/web3guy0/breakoutbot/internal/config"
	"github.com/web3guy0/breakoutbot/metrics"
	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/storage"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Controller.Bracket.SLDistance = 0.02
	cfg.Controller.Bracket.TPSLRatio = 2
	return cfg
}

func flat(n int) []types.Candle {
	candles := make([]types.Candle, n)
	for i := range candles {
		candles[i] = types.Candle{Index: i, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	return candles
}

// handAnalysis skips detection so the run sees exactly signals
func handAnalysis(candles []types.Candle, signals ...strategy.Signal) *Analysis {
	full := make([]strategy.Signal, len(candles))
	copy(full, signals)
	return &Analysis{
		Candles: candles,
		Labels:  make([]pivot.Label, len(candles)),
		Series:  strategy.NewSeries(full),
		Trend:   feeds.NewTrendSeries(candles, 14, 50),
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, a *Analysis) (*Engine, *execution.PaperBroker) {
	t.Helper()
	broker, err := execution.NewPaperBroker(cfg.Paper)
	require.NoError(t, err)

	var counter execution.RunCounter
	e, err := NewEngine(counter.NewRun(cfg.Ticker), cfg, a, broker)
	require.NoError(t, err)
	return e, broker
}

func TestRunTakeProfit(t *testing.T) {
	cfg := testConfig(t)
	candles := flat(8)
	candles[4].High = 105 // limit at 104

	a := handAnalysis(candles, strategy.SignalNone, strategy.SignalNone, strategy.SignalBuy)
	e, broker := newTestEngine(t, cfg, a)

	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	e.SetDatabase(db)

	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg, cfg.Ticker)
	require.NoError(t, err)
	e.SetMetrics(rec)

	s, err := e.Run(context.Background())
	require.NoError(t, err)

	// 90 units filled at 100, closed at 104
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 0, s.Losses)
	assert.True(t, s.Net.Equal(decimal.NewFromInt(360)), s.Net.String())
	assert.True(t, s.FinalCash.Equal(decimal.NewFromInt(10360)), s.FinalCash.String())
	assert.True(t, broker.Cash().Equal(s.FinalCash))
	assert.Equal(t, 1, s.BuySignals)
	assert.Equal(t, execution.StateFlat, e.Controller().State())

	trades, err := e.GetRecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "TAKE_PROFIT", trades[0].Reason)
	assert.Equal(t, 3, trades[0].BarOpen)
	assert.Equal(t, 4, trades[0].BarClose)

	n, w, l, net, equity := e.GetStats()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, w)
	assert.Equal(t, 0, l)
	assert.True(t, net.Equal(decimal.NewFromInt(360)))
	assert.True(t, equity.Equal(decimal.NewFromInt(10360)))

	run, err := db.GetRun(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, "done", run.Status)
	assert.Equal(t, 1, run.Trades)
	assert.NotNil(t, run.FinishedAt)

	stored, err := db.GetTrades(s.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	assert.Equal(t, 10360.0, gaugeValue(t, reg, "breakout_equity"))
	assert.Equal(t, 360.0, gaugeValue(t, reg, "breakout_net_pnl"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestRunClosesAtEndOfData(t *testing.T) {
	cfg := testConfig(t)
	candles := flat(5)
	candles[4].Close = 100.5

	e, _ := newTestEngine(t, cfg, handAnalysis(candles, strategy.SignalNone, strategy.SignalBuy))
	s, err := e.Run(context.Background())
	require.NoError(t, err)

	trades, _ := e.GetRecentTrades(0)
	require.Len(t, trades, 1)
	assert.Equal(t, "END_OF_DATA", trades[0].Reason)
	assert.True(t, s.Net.Equal(decimal.NewFromInt(45)), s.Net.String())
}

func TestRunAbortsOnContractViolation(t *testing.T) {
	cfg := testConfig(t)
	a := handAnalysis(flat(6), strategy.SignalNone, strategy.Signal(9))
	e, _ := newTestEngine(t, cfg, a)

	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	e.SetDatabase(db)

	s, err := e.Run(context.Background())
	var cv *execution.ContractViolation
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, 1, cv.Index)

	run, err := db.GetRun(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Contains(t, run.Error, "invalid")
}

func TestRunPaused(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, handAnalysis(flat(6), strategy.SignalBuy, strategy.SignalBuy))

	e.Pause()
	assert.True(t, e.IsPaused())
	s, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Trades)
	assert.True(t, s.FinalCash.Equal(decimal.NewFromInt(10000)))

	e.Resume()
	assert.False(t, e.IsPaused())
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, handAnalysis(flat(6)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunsDoNotShareState(t *testing.T) {
	cfg := testConfig(t)
	var counter execution.RunCounter

	var summaries []Summary
	for i := 0; i < 2; i++ {
		broker, err := execution.NewPaperBroker(cfg.Paper)
		require.NoError(t, err)
		e, err := NewEngine(counter.NewRun(cfg.Ticker), cfg, handAnalysis(flat(6), strategy.SignalNone, strategy.SignalBuy), broker)
		require.NoError(t, err)
		s, err := e.Run(context.Background())
		require.NoError(t, err)
		summaries = append(summaries, s)
	}

	assert.Equal(t, 1, summaries[0].Number)
	assert.Equal(t, 2, summaries[1].Number)
	assert.NotEqual(t, summaries[0].RunID, summaries[1].RunID)
	assert.Equal(t, summaries[0].Trades, summaries[1].Trades)
	assert.True(t, summaries[0].Net.Equal(summaries[1].Net))
}

func TestAnalyze(t *testing.T) {
	cfg := testConfig(t)

	candles := make([]types.Candle, 300)
	for i := range candles {
		p := 100 + 5*math.Sin(float64(i)/7)
		candles[i] = types.Candle{Index: i, Open: p, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 1}
	}

	a, err := Analyze(cfg, candles)
	require.NoError(t, err)
	assert.Equal(t, len(candles), a.Series.Len())
	assert.Len(t, a.Labels, len(candles))
	assert.Greater(t, pivot.Count(a.Labels, pivot.High), 0)
	assert.False(t, a.Trend.At(10).Ready)
	assert.True(t, a.Trend.At(100).Ready)

	cfg.Detector.GapWindow = cfg.PivotWindow
	_, err = Analyze(cfg, candles)
	var pe *strategy.ParamError
	assert.True(t, errors.As(err, &pe))
}

func TestRunCircuitBreaker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.MaxConsecutiveLosses = 1
	cfg.Breaker.CooldownBars = 20

	candles := flat(10)
	candles[3].Low = 97 // stop at 98

	signals := make([]strategy.Signal, 10)
	signals[1] = strategy.SignalBuy
	signals[5] = strategy.SignalBuy

	e, _ := newTestEngine(t, cfg, handAnalysis(candles, signals...))
	s, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Losses)
	assert.True(t, s.Net.Equal(decimal.NewFromInt(-180)), s.Net.String())
}
