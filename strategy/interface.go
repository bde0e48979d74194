package strategy

import "fmt"

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNALS - Closed set of per-candle decisions
// ═══════════════════════════════════════════════════════════════════════════════
//
// The detector emits exactly one Signal per candle. Consumers switch over
// the three values and treat anything else as a detector defect.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is the per-candle breakout decision
type Signal uint8

const (
	SignalNone Signal = 0
	SignalBuy  Signal = 1
	SignalSell Signal = 2
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "NONE"
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three defined values
func (s Signal) Valid() bool {
	switch s {
	case SignalNone, SignalBuy, SignalSell:
		return true
	default:
		return false
	}
}

// SignalFilter selects which signals a log or query should include
type SignalFilter uint8

const (
	FilterBuy    SignalFilter = 1
	FilterSell   SignalFilter = 2
	FilterEither              = FilterBuy | FilterSell
)

// Match reports whether s passes the filter
func (f SignalFilter) Match(s Signal) bool {
	switch s {
	case SignalBuy:
		return f&FilterBuy != 0
	case SignalSell:
		return f&FilterSell != 0
	default:
		return false
	}
}

// ParseFilter maps "buy", "sell" or "either" to a filter
func ParseFilter(s string) (SignalFilter, error) {
	switch s {
	case "buy", "BUY":
		return FilterBuy, nil
	case "sell", "SELL":
		return FilterSell, nil
	case "", "either", "EITHER", "both":
		return FilterEither, nil
	default:
		return 0, fmt.Errorf("unknown signal filter %q", s)
	}
}

// SignalSource is what the position controller reads from. Series
// implements it.
type SignalSource interface {
	At(idx int) Signal
	Len() int
}
