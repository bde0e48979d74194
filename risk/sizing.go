package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - How many units an accepted bracket buys
// ═══════════════════════════════════════════════════════════════════════════════
//
// percent: size = cash * fraction / price
// risk:    size = equity * risk_pct / |entry - stop|
//
// The controller leaves size to the execution engine; the paper broker asks
// a Sizer at fill time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SizingMode selects the sizing formula
type SizingMode string

const (
	SizePercent SizingMode = "percent"
	SizeRisk    SizingMode = "risk"
)

// Sizer computes position size for a bracket
type Sizer struct {
	mode     SizingMode
	fraction decimal.Decimal // share of cash committed (percent mode)
	riskPct  decimal.Decimal // share of equity lost at the stop (risk mode)
}

// NewPercentSizer commits fraction of available cash to every entry
func NewPercentSizer(fraction float64) *Sizer {
	return &Sizer{mode: SizePercent, fraction: decimal.NewFromFloat(fraction)}
}

// NewRiskSizer risks riskPct of equity between entry and stop
func NewRiskSizer(riskPct float64) *Sizer {
	return &Sizer{mode: SizeRisk, riskPct: decimal.NewFromFloat(riskPct)}
}

// NewSizer builds a sizer from a mode name
func NewSizer(mode SizingMode, value float64) (*Sizer, error) {
	if value <= 0 {
		return nil, fmt.Errorf("invalid sizing value %v: must be > 0", value)
	}
	switch mode {
	case SizePercent, "":
		return NewPercentSizer(value), nil
	case SizeRisk:
		return NewRiskSizer(value), nil
	default:
		return nil, fmt.Errorf("unknown sizing mode %q", mode)
	}
}

// Mode returns the sizing formula in use
func (s *Sizer) Mode() SizingMode {
	return s.mode
}

// Calculate returns the unit count for entering at price with the legs of b
func (s *Sizer) Calculate(b Bracket, price, cash decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) || cash.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	if s.mode == SizeRisk {
		riskPerUnit := price.Sub(b.StopLoss).Abs()
		if riskPerUnit.IsZero() {
			return decimal.Zero
		}
		return cash.Mul(s.riskPct).Div(riskPerUnit).Truncate(6)
	}

	return cash.Mul(s.fraction).Div(price).Truncate(6)
}

// RiskAmount returns the cash lost if the stop is hit
func RiskAmount(size, entry, stop decimal.Decimal) decimal.Decimal {
	return size.Mul(entry.Sub(stop).Abs())
}
