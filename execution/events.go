package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

// PositionState is the controller's lifecycle state
type PositionState string

const (
	StateFlat       PositionState = "FLAT"        // No order, no position
	StatePending    PositionState = "PENDING"     // Bracket submitted, outcome unknown
	StateInPosition PositionState = "IN_POSITION" // Entry filled, exit legs live
)

// OrderStatus is reported by the execution engine for the entry order
type OrderStatus string

const (
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderAccepted  OrderStatus = "ACCEPTED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderMargin    OrderStatus = "MARGIN"
	OrderRejected  OrderStatus = "REJECTED"
)

// Failed reports whether the status ends the order without a fill
func (s OrderStatus) Failed() bool {
	switch s {
	case OrderCanceled, OrderMargin, OrderRejected:
		return true
	default:
		return false
	}
}

// OrderIntent is a bracketed entry request. It is produced once, never
// mutated and consumed once by the execution engine. A zero Size leaves
// sizing to the engine.
type OrderIntent struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Index      int             `json:"index"`
	Direction  types.Direction `json:"direction"`
	Entry      decimal.Decimal `json:"entry"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Size       decimal.Decimal `json:"size"`
	Signal     string          `json:"signal"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newIntent(run *RunContext, idx int, sig strategy.Signal, b risk.Bracket) *OrderIntent {
	return &OrderIntent{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		Index:      idx,
		Direction:  b.Direction,
		Entry:      b.Entry,
		StopLoss:   b.StopLoss,
		TakeProfit: b.TakeProfit,
		Size:       decimal.Zero,
		Signal:     sig.String(),
		CreatedAt:  time.Now(),
	}
}

// OrderEvent is an entry-order status notification
type OrderEvent struct {
	IntentID   string          `json:"intent_id"`
	Status     OrderStatus     `json:"status"`
	Index      int             `json:"index"`
	Price      decimal.Decimal `json:"price"`      // executed price
	Value      decimal.Decimal `json:"value"`      // executed cost
	Commission decimal.Decimal `json:"commission"` // executed commission
	Size       decimal.Decimal `json:"size"`
	Reason     string          `json:"reason,omitempty"`
}

// TradeEvent reports a round trip closed by an exit leg or by hand
type TradeEvent struct {
	IntentID   string          `json:"intent_id"`
	PnL        decimal.Decimal `json:"pnl"`        // gross
	Commission decimal.Decimal `json:"commission"` // entry + exit
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Size       decimal.Decimal `json:"size"`
	Reason     risk.ExitReason `json:"reason"`
	BarOpen    int             `json:"bar_open"`
	BarClose   int             `json:"bar_close"`
}

// Fill is the informational record of the last completed entry
type Fill struct {
	IntentID   string
	Direction  types.Direction
	Price      decimal.Decimal
	Value      decimal.Decimal
	Commission decimal.Decimal
	Index      int
}

// TradeReport is the profit report for one closed round trip
type TradeReport struct {
	IntentID   string          `json:"intent_id"`
	RunID      string          `json:"run_id"`
	Direction  types.Direction `json:"direction"`
	Gross      decimal.Decimal `json:"gross"`
	Net        decimal.Decimal `json:"net"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Reason     risk.ExitReason `json:"reason"`
	BarOpen    int             `json:"bar_open"`
	BarClose   int             `json:"bar_close"`
}

// IsWin reports a positive net result
func (r TradeReport) IsWin() bool {
	return r.Net.IsPositive()
}

// ContractViolation is returned when the signal source yields a value
// outside the closed signal set. It is fatal for the run.
type ContractViolation struct {
	Index int
	Value strategy.Signal
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("signal %s at index %d is invalid: must be NONE, BUY or SELL", e.Value, e.Index)
}

// RunContext carries per-run identity. Each backtest run gets its own;
// nothing here is shared between runs.
type RunContext struct {
	ID     string
	Number int
	Ticker string
}

// RunCounter hands out run numbers. Share one counter between runs that
// should be numbered together instead of keeping a global.
type RunCounter struct {
	n atomic.Int64
}

// NewRun returns the next run context
func (c *RunCounter) NewRun(ticker string) *RunContext {
	return &RunContext{
		ID:     uuid.NewString(),
		Number: int(c.n.Add(1)),
		Ticker: ticker,
	}
}

// Broker executes intents against the candle stream and reports back
// through the registered callbacks. PaperBroker and the websocket bridge
// implement it.
type Broker interface {
	Submit(intent *OrderIntent) error
	OnCandle(c types.Candle) error
	Finish() error
	OnOrder(fn func(ev OrderEvent))
	OnTrade(fn func(ev TradeEvent))
}
