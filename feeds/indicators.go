package feeds

import (
	"math"

	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATORS - Moving averages for the trend filter
// ═══════════════════════════════════════════════════════════════════════════════
//
// Batch versions over a full close series. Index i only reads values at or
// before i, so they are as look-ahead safe as the signal series. Entries
// before the first full period are NaN.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SMA computes the simple moving average of values
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average of values, seeded with the
// SMA of the first period values
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	// Multiplier = 2 / (period + 1)
	mult := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out[period-1] = prev

	for i := period; i < len(values); i++ {
		// EMA = (price - prevEMA) * multiplier + prevEMA
		prev = (values[i]-prev)*mult + prev
		out[i] = prev
	}
	return out
}

// TrendSeries precomputes the trend snapshot for each candle: an EMA as the
// short average and an SMA as the long one
type TrendSeries struct {
	closes []float64
	short  []float64
	long   []float64
}

// NewTrendSeries builds the snapshots for candles
func NewTrendSeries(candles []types.Candle, shortPeriod, longPeriod int) *TrendSeries {
	closes := types.Closes(candles)
	return &TrendSeries{
		closes: closes,
		short:  EMA(closes, shortPeriod),
		long:   SMA(closes, longPeriod),
	}
}

// At returns the snapshot at idx
func (ts *TrendSeries) At(idx int) types.Trend {
	if idx < 0 || idx >= len(ts.closes) {
		return types.Trend{}
	}

	t := types.Trend{
		Close:   ts.closes[idx],
		ShortMA: ts.short[idx],
		LongMA:  ts.long[idx],
	}
	t.Ready = !math.IsNaN(t.ShortMA) && !math.IsNaN(t.LongMA)
	return t
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
