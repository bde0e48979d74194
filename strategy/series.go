package strategy

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/types"
)

// Series is the detector output for a whole candle buffer. It is computed
// once, in index order, before anything consumes it and never changes
// afterwards. The signal at i only reads candles and labels before i.
type Series struct {
	signals []Signal
	params  Params
}

// ComputeSeries runs the detector over every index of candles
func ComputeSeries(candles []types.Candle, labels []pivot.Label, params Params) (*Series, error) {
	if len(labels) != len(candles) {
		return nil, fmt.Errorf("label count %d does not match candle count %d", len(labels), len(candles))
	}

	det := NewDetector(params)
	signals := make([]Signal, len(candles))
	for i := range candles {
		signals[i] = det.SignalAt(candles, labels, i)
	}

	return &Series{signals: signals, params: params}, nil
}

// NewSeries wraps precomputed signals, e.g. ones loaded from storage
func NewSeries(signals []Signal) *Series {
	cp := make([]Signal, len(signals))
	copy(cp, signals)
	return &Series{signals: cp}
}

// At returns the signal at idx, SignalNone when out of range
func (s *Series) At(idx int) Signal {
	if idx < 0 || idx >= len(s.signals) {
		return SignalNone
	}
	return s.signals[idx]
}

// Len returns the number of candles covered
func (s *Series) Len() int {
	return len(s.signals)
}

// Signals returns a copy of the signal array
func (s *Series) Signals() []Signal {
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Params returns the parameters the series was computed with
func (s *Series) Params() Params {
	return s.params
}

// Count returns how many candles carry sig
func (s *Series) Count(sig Signal) int {
	n := 0
	for _, v := range s.signals {
		if v == sig {
			n++
		}
	}
	return n
}

// Matching returns the indices whose signal passes f
func (s *Series) Matching(f SignalFilter) []int {
	var idx []int
	for i, v := range s.signals {
		if f.Match(v) {
			idx = append(idx, i)
		}
	}
	return idx
}

// FormatSignal renders the operator diagnostic line
// "index, open, high, low, close, volume, BUY|SELL"
func FormatSignal(c types.Candle, idx int, sig Signal) string {
	return fmt.Sprintf("%d, %v, %v, %v, %v, %v, %s", idx, c.Open, c.High, c.Low, c.Close, c.Volume, sig)
}

// LogSignals writes one line per matching candle at level. Nothing is
// formatted when the level is disabled.
func LogSignals(level zerolog.Level, candles []types.Candle, s *Series, f SignalFilter) int {
	if level < zerolog.GlobalLevel() {
		return 0
	}

	n := 0
	for _, i := range s.Matching(f) {
		if i >= len(candles) {
			break
		}
		log.WithLevel(level).Msg(FormatSignal(candles[i], i, s.At(i)))
		n++
	}
	return n
}
