package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestRunRoundTrip(t *testing.T) {
	db := newTestDB(t)

	run := &Run{ID: "run-1", Number: 1, Ticker: "EURUSD", Mode: "backtest", Candles: 100}
	require.NoError(t, db.CreateRun(run))
	assert.Equal(t, "running", run.Status)
	assert.False(t, run.StartedAt.IsZero())

	now := time.Now()
	run.Status = "done"
	run.Trades = 3
	run.Net = decimal.NewFromFloat(12.5)
	run.FinishedAt = &now
	require.NoError(t, db.SaveRun(run))

	got, err := db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
	assert.Equal(t, 3, got.Trades)
	assert.True(t, got.Net.Equal(decimal.NewFromFloat(12.5)), got.Net.String())

	runs, err := db.GetRecentRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.GetRun("missing")
	assert.Error(t, err)
}

func TestSignalRows(t *testing.T) {
	db := newTestDB(t)

	candles := []types.Candle{
		{Index: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Index: 1, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 11},
		{Index: 2, Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 12},
	}
	labels := []pivot.Label{pivot.None, pivot.High, pivot.None}
	series := strategy.NewSeries([]strategy.Signal{strategy.SignalNone, strategy.SignalBuy, strategy.SignalNone})

	all := SignalRows("run-1", candles, labels, series, false)
	require.Len(t, all, 3)
	assert.Equal(t, "HIGH", all[1].Pivot)
	assert.Equal(t, "BUY", all[1].Signal)

	require.NoError(t, db.SaveSignals(all))
	require.NoError(t, db.SaveSignals(nil))

	triggers, err := db.GetSignals("run-1", true)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, 1, triggers[0].Index)

	rows, err := db.GetSignals("run-1", false)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	assert.Len(t, SignalRows("run-1", candles, labels, series, true), 1)
}

func TestJournal(t *testing.T) {
	db := newTestDB(t)
	j := NewJournal(db)

	intent := &execution.OrderIntent{
		ID:         "intent-1",
		RunID:      "run-1",
		Index:      20,
		Direction:  types.Long,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
		TakeProfit: decimal.NewFromInt(104),
		Signal:     "BUY",
	}
	j.OnIntent(intent)
	j.OnOrderStatus(intent, execution.OrderEvent{
		IntentID: intent.ID,
		Status:   execution.OrderCompleted,
		Index:    21,
		Price:    decimal.NewFromFloat(100.5),
		Value:    decimal.NewFromInt(9045),
	})

	intents, err := db.GetIntents("run-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "COMPLETED", intents[0].Status)
	assert.Equal(t, 21, intents[0].FillIndex)
	assert.True(t, intents[0].FillPrice.Equal(decimal.NewFromFloat(100.5)))

	j.OnTradeReport(execution.TradeReport{
		IntentID:  intent.ID,
		RunID:     "run-1",
		Direction: types.Long,
		Gross:     decimal.NewFromFloat(12.5),
		Net:       decimal.NewFromFloat(12.5),
		Reason:    risk.ExitTakeProfit,
		BarOpen:   21,
		BarClose:  25,
	})

	trades, err := db.GetTrades("run-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "TAKE_PROFIT", trades[0].Reason)

	recent, err := db.GetRecentTrades(5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, types.Long, recent[0].Direction)
	assert.True(t, recent[0].Gross.Equal(decimal.NewFromFloat(12.5)))
}

func TestNewCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	db, err := New(path)
	require.NoError(t, err)
	db.Close()
	assert.FileExists(t, path)
}
