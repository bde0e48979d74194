package strategy

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// DefaultBounceCount is how many same-type pivots make a zone
const DefaultBounceCount = 3

// Params configures the zone breakout detector
type Params struct {
	Backcandles    int     `yaml:"backcandles"`     // width of the trailing scan window
	GapWindow      int     `yaml:"gap_window"`      // offset between scan window and evaluated candle
	ZoneHeight     float64 `yaml:"zone_height"`     // relative tolerance around the zone mean
	BreakoutFactor float64 `yaml:"breakout_factor"` // multiple of the tolerance the close must clear
	BounceCount    int     `yaml:"-"`
}

// DefaultParams returns the defaults used when nothing is configured
func DefaultParams() Params {
	return Params{
		Backcandles:    40,
		GapWindow:      7,
		ZoneHeight:     0.001,
		BreakoutFactor: 1.84,
		BounceCount:    DefaultBounceCount,
	}
}

// ParamError names the parameter that failed validation
type ParamError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Validate rejects configurations the detector must never run with.
// pivotWindow is the half-width used to label the pivots the detector will
// read; GapWindow must exceed it or pivot windows reach past the evaluated
// candle.
func (p Params) Validate(pivotWindow int) error {
	if p.Backcandles <= 0 {
		return &ParamError{Field: "backcandles", Value: p.Backcandles, Reason: "must be > 0"}
	}
	if p.GapWindow < 0 {
		return &ParamError{Field: "gap_window", Value: p.GapWindow, Reason: "must be >= 0"}
	}
	if p.ZoneHeight <= 0 {
		return &ParamError{Field: "zone_height", Value: p.ZoneHeight, Reason: "must be > 0"}
	}
	if p.BreakoutFactor <= 0 {
		return &ParamError{Field: "breakout_factor", Value: p.BreakoutFactor, Reason: "must be > 0"}
	}
	if p.BounceCount < 0 {
		return &ParamError{Field: "bounce_count", Value: p.BounceCount, Reason: "must be >= 0"}
	}
	if pivotWindow < 0 {
		return &ParamError{Field: "pivot_window", Value: pivotWindow, Reason: "must be >= 0"}
	}
	if p.GapWindow <= pivotWindow {
		return &ParamError{
			Field:  "gap_window",
			Value:  p.GapWindow,
			Reason: fmt.Sprintf("must exceed pivot_window=%d (look-ahead)", pivotWindow),
		}
	}
	return nil
}

func (p Params) bounces() int {
	if p.BounceCount <= 0 {
		return DefaultBounceCount
	}
	return p.BounceCount
}

// LogParams writes the detector parameters at debug level
func (p Params) LogParams(ticker string) {
	log.Debug().
		Str("ticker", ticker).
		Int("backcandles", p.Backcandles).
		Int("gap_window", p.GapWindow).
		Float64("zone_height", p.ZoneHeight).
		Float64("breakout_factor", p.BreakoutFactor).
		Int("bounces", p.bounces()).
		Msg("Detector parameters")
}
