package strategy

import (
	"math"

	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ZONE BREAKOUT DETECTOR
// ═══════════════════════════════════════════════════════════════════════════════
//
//   [begin ............ end) <- gap -> idx
//    ^ backcandles wide        ^ gap_window
//
// The last N pivot lows (highs) in the scan window form a support
// (resistance) zone when they all sit within zone_height*mean of their
// mean. The close at idx breaks the zone when it clears the mean by more
// than zone_height*mean*breakout_factor.
//
// SELL is tested first; a SELL at idx means BUY is never evaluated.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Detector evaluates one candle at a time against a fixed label array
type Detector struct {
	params Params
}

// NewDetector creates a detector. Params are expected to be validated.
func NewDetector(params Params) *Detector {
	return &Detector{params: params}
}

// Params returns the detector configuration
func (d *Detector) Params() Params {
	return d.params
}

// window returns the half-open scan range for idx, ok=false when there is
// not enough history or the gap would need candles past the buffer.
func (d *Detector) window(n, idx int) (begin, end int, ok bool) {
	begin = idx - d.params.Backcandles - d.params.GapWindow
	end = idx - d.params.GapWindow
	if begin < 0 || idx+d.params.GapWindow >= n {
		return 0, 0, false
	}
	return begin, end, true
}

// SignalAt returns the breakout decision for candles[idx]
func (d *Detector) SignalAt(candles []types.Candle, labels []pivot.Label, idx int) Signal {
	if idx < 0 || idx >= len(candles) || len(labels) != len(candles) {
		return SignalNone
	}

	begin, end, ok := d.window(len(candles), idx)
	if !ok {
		return SignalNone
	}

	n := d.params.bounces()
	cclose := candles[idx].Close

	if lows := lastPivots(candles, labels, begin, end, pivot.Low, n); len(lows) == n {
		if mean, zone := IsZone(lows, d.params.ZoneHeight); zone && (mean-cclose) > d.breakout(mean) {
			return SignalSell
		}
	}

	if highs := lastPivots(candles, labels, begin, end, pivot.High, n); len(highs) == n {
		if mean, zone := IsZone(highs, d.params.ZoneHeight); zone && (cclose-mean) > d.breakout(mean) {
			return SignalBuy
		}
	}

	return SignalNone
}

// breakout is the distance the close must clear beyond a zone at mean
func (d *Detector) breakout(mean float64) float64 {
	return d.params.ZoneHeight * mean * d.params.BreakoutFactor
}

// IsZone reports whether values cluster within zoneHeight*mean of their mean
func IsZone(values []float64, zoneHeight float64) (mean float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	tol := zoneHeight * mean
	for _, v := range values {
		if math.Abs(v-mean) > tol {
			return mean, false
		}
	}
	return mean, true
}

// lastPivots collects, in chronological order, the prices of the last n
// candles in [begin,end) whose label includes kind. Lows are read for LOW
// pivots, highs for HIGH pivots.
func lastPivots(candles []types.Candle, labels []pivot.Label, begin, end int, kind pivot.Label, n int) []float64 {
	out := make([]float64, 0, n)
	for i := end - 1; i >= begin && len(out) < n; i-- {
		if !labels[i].Has(kind) {
			continue
		}
		if kind == pivot.Low {
			out = append(out, candles[i].Low)
		} else {
			out = append(out, candles[i].High)
		}
	}

	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
