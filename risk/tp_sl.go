package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP/SL - Bracket legs fixed at submission
// ═══════════════════════════════════════════════════════════════════════════════
//
// LONG:  stop = close*(1-sl)   limit = close*(1+ratio*sl)
// SHORT: stop = close*(1+sl)   limit = close*(1-ratio*sl)
//
// Legs are computed once from the decision candle's close and never trailed.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ExitReason says which leg (or what else) closed a trade
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitManual     ExitReason = "MANUAL"
	ExitEndOfData  ExitReason = "END_OF_DATA"
)

// Bracket holds the reference entry and both exit legs
type Bracket struct {
	Direction  types.Direction
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// BracketConfig holds the runtime distances
type BracketConfig struct {
	SLDistance float64 `yaml:"sl_distance"` // stop distance as a fraction of close
	TPSLRatio  float64 `yaml:"tp_sl_ratio"` // take-profit distance in multiples of the stop distance
}

// Validate rejects non-positive distances
func (c BracketConfig) Validate() error {
	if c.SLDistance <= 0 {
		return fmt.Errorf("invalid sl_distance=%v: must be > 0", c.SLDistance)
	}
	if c.SLDistance >= 1 {
		return fmt.Errorf("invalid sl_distance=%v: must be < 1", c.SLDistance)
	}
	if c.TPSLRatio <= 0 {
		return fmt.Errorf("invalid tp_sl_ratio=%v: must be > 0", c.TPSLRatio)
	}
	return nil
}

// NewBracket computes the legs for an entry decided at close
func NewBracket(dir types.Direction, close float64, cfg BracketConfig) Bracket {
	var stop, limit float64
	if dir.IsLong() {
		stop = close * (1.0 - cfg.SLDistance)
		limit = close * (1.0 + cfg.TPSLRatio*cfg.SLDistance)
	} else {
		stop = close * (1.0 + cfg.SLDistance)
		limit = close * (1.0 - cfg.TPSLRatio*cfg.SLDistance)
	}

	return Bracket{
		Direction:  dir,
		Entry:      decimal.NewFromFloat(close),
		StopLoss:   decimal.NewFromFloat(stop),
		TakeProfit: decimal.NewFromFloat(limit),
	}
}

// RiskReward returns take-profit distance over stop distance
func (b Bracket) RiskReward() decimal.Decimal {
	risk := b.Entry.Sub(b.StopLoss).Abs()
	reward := b.TakeProfit.Sub(b.Entry).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return reward.Div(risk)
}

// CheckExit determines whether a candle touches either leg. The stop is
// checked first when a single bar spans both. A bar that opens beyond a
// leg fills at the open.
func (b Bracket) CheckExit(c types.Candle) (hit bool, reason ExitReason, price decimal.Decimal) {
	open := decimal.NewFromFloat(c.Open)
	high := decimal.NewFromFloat(c.High)
	low := decimal.NewFromFloat(c.Low)

	if b.Direction.IsLong() {
		if low.LessThanOrEqual(b.StopLoss) {
			return true, ExitStopLoss, decimal.Min(open, b.StopLoss)
		}
		if high.GreaterThanOrEqual(b.TakeProfit) {
			return true, ExitTakeProfit, decimal.Max(open, b.TakeProfit)
		}
		return false, "", decimal.Zero
	}

	if high.GreaterThanOrEqual(b.StopLoss) {
		return true, ExitStopLoss, decimal.Max(open, b.StopLoss)
	}
	if low.LessThanOrEqual(b.TakeProfit) {
		return true, ExitTakeProfit, decimal.Min(open, b.TakeProfit)
	}
	return false, "", decimal.Zero
}
