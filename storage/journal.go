package storage

import (
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// JOURNAL - Persists controller output as it happens
// ═══════════════════════════════════════════════════════════════════════════════

// Journal implements execution.Listener on top of a Database. Write errors
// are logged and never reach the controller.
type Journal struct {
	db *Database
}

// NewJournal creates a journal writing to db
func NewJournal(db *Database) *Journal {
	return &Journal{db: db}
}

// OnIntent implements execution.Listener
func (j *Journal) OnIntent(intent *execution.OrderIntent) {
	row := &Intent{
		ID:         intent.ID,
		RunID:      intent.RunID,
		Index:      intent.Index,
		Direction:  string(intent.Direction),
		Signal:     intent.Signal,
		Entry:      intent.Entry,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Status:     "PENDING",
	}
	if err := j.db.SaveIntent(row); err != nil {
		log.Error().Err(err).Str("id", intent.ID).Msg("Failed to persist intent")
	}
}

// OnOrderStatus implements execution.Listener
func (j *Journal) OnOrderStatus(intent *execution.OrderIntent, ev execution.OrderEvent) {
	err := j.db.UpdateIntentStatus(intent.ID, string(ev.Status), ev.Price, ev.Value, ev.Index, ev.Reason)
	if err != nil {
		log.Error().Err(err).Str("id", intent.ID).Msg("Failed to update intent")
	}
}

// OnTradeReport implements execution.Listener
func (j *Journal) OnTradeReport(report execution.TradeReport) {
	row := &Trade{
		RunID:      report.RunID,
		IntentID:   report.IntentID,
		Direction:  string(report.Direction),
		EntryPrice: report.EntryPrice,
		ExitPrice:  report.ExitPrice,
		Gross:      report.Gross,
		Net:        report.Net,
		Reason:     string(report.Reason),
		BarOpen:    report.BarOpen,
		BarClose:   report.BarClose,
	}
	if err := j.db.SaveTrade(row); err != nil {
		log.Error().Err(err).Str("intent", report.IntentID).Msg("Failed to persist trade")
	}
}

// SignalRows flattens a labeled buffer for SaveSignals. With onlyTriggers
// set, candles whose signal is NONE are skipped.
func SignalRows(runID string, candles []types.Candle, labels []pivot.Label, series strategy.SignalSource, onlyTriggers bool) []SignalRow {
	rows := make([]SignalRow, 0, len(candles))
	for i, c := range candles {
		sig := series.At(i)
		if onlyTriggers && sig == strategy.SignalNone {
			continue
		}
		label := pivot.None
		if i < len(labels) {
			label = labels[i]
		}
		rows = append(rows, SignalRow{
			RunID:  runID,
			Index:  i,
			Time:   c.Time,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
			Pivot:  label.String(),
			Signal: sig.String(),
		})
	}
	return rows
}
