package pivot

import (
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PIVOT LABELER - Local highs/lows over a symmetric window
// ═══════════════════════════════════════════════════════════════════════════════
//
//   ------|------
//   ^   window   ^
//
// A candle is a LOW pivot when its Low is the minimum of the window and a
// HIGH pivot when its High is the maximum. Ties count. Candles without a
// full window on both sides are never pivots.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultWindow is the half-width used when none is configured
const DefaultWindow = 6

// Label is a set of pivot flags for one candle
type Label uint8

const (
	None Label = 0
	High Label = 1 << 0
	Low  Label = 1 << 1
	Both       = High | Low
)

// Has reports whether every flag in f is set
func (l Label) Has(f Label) bool {
	return f != None && l&f == f
}

// IsHigh reports whether the candle is a local high
func (l Label) IsHigh() bool { return l.Has(High) }

// IsLow reports whether the candle is a local low
func (l Label) IsLow() bool { return l.Has(Low) }

func (l Label) String() string {
	switch l {
	case None:
		return "NONE"
	case High:
		return "HIGH"
	case Low:
		return "LOW"
	case Both:
		return "BOTH"
	default:
		return "INVALID"
	}
}

// At labels a single candle
func At(candles []types.Candle, idx, window int) Label {
	if window < 0 || idx < window || idx+window >= len(candles) {
		return None
	}

	low, high := Low, High
	c := candles[idx]
	for i := idx - window; i <= idx+window; i++ {
		if candles[i].Low < c.Low {
			low = None
		}
		if candles[i].High > c.High {
			high = None
		}
		if low == None && high == None {
			break
		}
	}

	return low | high
}

// Labels labels the whole buffer. It is computed once per buffer and the
// result is read-only afterwards.
func Labels(candles []types.Candle, window int) []Label {
	labels := make([]Label, len(candles))
	for i := range candles {
		labels[i] = At(candles, i, window)
	}
	return labels
}

// Count returns how many labels include f
func Count(labels []Label, f Label) int {
	n := 0
	for _, l := range labels {
		if l.Has(f) {
			n++
		}
	}
	return n
}
