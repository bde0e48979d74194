package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Candle is one OHLCV bar. Index is its 0-based position in the buffer and
// is the only addressing the detection pipeline uses; Time is for logs.
type Candle struct {
	Index  int
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Direction of an entry
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// IsLong reports whether d opens a long position
func (d Direction) IsLong() bool {
	return d == Long
}

// Reindex returns a copy of candles with Index rewritten to match slice
// position. Loaders call it after slicing so indices stay 0-based.
func Reindex(candles []Candle) []Candle {
	out := make([]Candle, len(candles))
	for i, c := range candles {
		c.Index = i
		out[i] = c
	}
	return out
}

// Closes extracts the close series
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// TradeRecord for display (Telegram bot, CLI summary)
type TradeRecord struct {
	ID        string
	RunID     string
	Direction Direction
	Entry     decimal.Decimal
	Exit      decimal.Decimal
	Gross     decimal.Decimal
	Net       decimal.Decimal
	Reason    string
	BarOpen   int
	BarClose  int
	Timestamp time.Time
}

// Trend is the moving-average snapshot the entry filter reads at one
// candle. Ready is false until both averages have a full period.
type Trend struct {
	Close   float64
	ShortMA float64
	LongMA  float64
	Ready   bool
}

// Up reports close > short > long
func (t Trend) Up() bool {
	return t.Ready && t.Close > t.ShortMA && t.ShortMA > t.LongMA
}

// Down reports close < short < long
func (t Trend) Down() bool {
	return t.Ready && t.Close < t.ShortMA && t.ShortMA < t.LongMA
}
