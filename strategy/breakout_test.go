package strategy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/types"
)

// flatCandles returns n candles pinned at price with no pivots labelled
func flatCandles(n int, price float64) ([]types.Candle, []pivot.Label) {
	candles := make([]types.Candle, n)
	for i := range candles {
		candles[i] = types.Candle{Index: i, Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return candles, make([]pivot.Label, n)
}

func setLow(candles []types.Candle, labels []pivot.Label, i int, v float64) {
	candles[i].Low = v
	labels[i] |= pivot.Low
}

func setHigh(candles []types.Candle, labels []pivot.Label, i int, v float64) {
	candles[i].High = v
	labels[i] |= pivot.High
}

func scenarioParams() Params {
	return Params{Backcandles: 10, GapWindow: 3, ZoneHeight: 0.001, BreakoutFactor: 1.5, BounceCount: 3}
}

// support zone around 1.1000 with lows inside the 0.1% band
func supportScenario(close float64) ([]types.Candle, []pivot.Label, int) {
	const idx = 20
	candles, labels := flatCandles(25, 1.1)
	setLow(candles, labels, 9, 1.0995)
	setLow(candles, labels, 12, 1.1000)
	setLow(candles, labels, 15, 1.1005)
	candles[idx].Close = close
	return candles, labels, idx
}

func TestSellTrigger(t *testing.T) {
	candles, labels, idx := supportScenario(1.0970)
	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalSell, det.SignalAt(candles, labels, idx))
}

func TestNoBreakout(t *testing.T) {
	candles, labels, idx := supportScenario(1.0995)
	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx))
}

func TestBuyTrigger(t *testing.T) {
	const idx = 20
	candles, labels := flatCandles(25, 1.1)
	setHigh(candles, labels, 8, 1.1004)
	setHigh(candles, labels, 11, 1.0998)
	setHigh(candles, labels, 16, 1.0998)
	candles[idx].Close = 1.1030

	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalBuy, det.SignalAt(candles, labels, idx))

	candles[idx].Close = 1.1010
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx))
}

func TestOnlyLastBouncesCount(t *testing.T) {
	candles, labels, idx := supportScenario(1.0970)
	// an older outlier before the last three lows must not break the zone
	setLow(candles, labels, 7, 1.05)
	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalSell, det.SignalAt(candles, labels, idx))

	// a newer outlier replaces the oldest bounce and does
	setLow(candles, labels, 16, 1.05)
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx))
}

func TestPivotsOutsideScanWindowIgnored(t *testing.T) {
	candles, labels, idx := supportScenario(1.0970)
	// move the newest bounce into the gap: [end, idx) is never scanned
	labels[15] = pivot.None
	setLow(candles, labels, 18, 1.1005)
	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx))
}

func TestSellPriority(t *testing.T) {
	const idx = 20
	candles, labels := flatCandles(25, 1.08)
	// support zone at 1.10 and resistance zone at 1.05; close sits between
	for _, i := range []int{8, 11, 14} {
		setLow(candles, labels, i, 1.10)
		candles[i].High = 1.11
	}
	for _, i := range []int{9, 12, 15} {
		setHigh(candles, labels, i, 1.05)
		candles[i].Low = 1.04
	}
	candles[idx].Close = 1.07

	p := scenarioParams()
	det := NewDetector(p)

	// both groups pass their own tests independently
	lowMean, lowZone := IsZone([]float64{1.10, 1.10, 1.10}, p.ZoneHeight)
	highMean, highZone := IsZone([]float64{1.05, 1.05, 1.05}, p.ZoneHeight)
	require.True(t, lowZone)
	require.True(t, highZone)
	require.Greater(t, lowMean-1.07, det.breakout(lowMean))
	require.Greater(t, 1.07-highMean, det.breakout(highMean))

	assert.Equal(t, SignalSell, det.SignalAt(candles, labels, idx))
}

func TestZoneRejection(t *testing.T) {
	p := scenarioParams()

	// at 1.5x the mean follows the outlier, so the group still clusters
	_, ok := IsZone([]float64{100, 100, 100 * (1 + p.ZoneHeight*1.5)}, p.ZoneHeight)
	require.True(t, ok)

	// third bounce deviates from the group mean by more than zone_height*mean
	outlier := 100 * (1 + p.ZoneHeight*3)
	_, ok = IsZone([]float64{100, 100, outlier}, p.ZoneHeight)
	require.False(t, ok)

	const idx = 20
	for _, close := range []float64{50, 99, 100, 101, 200} {
		candles, labels := flatCandles(25, 100)
		setLow(candles, labels, 9, 100)
		setLow(candles, labels, 12, 100)
		setLow(candles, labels, 15, outlier)
		setHigh(candles, labels, 10, 100)
		setHigh(candles, labels, 13, 100)
		setHigh(candles, labels, 16, outlier)
		candles[idx].Close = close

		det := NewDetector(p)
		assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx), "close %v", close)
	}
}

func TestInsufficientHistory(t *testing.T) {
	candles, labels, _ := supportScenario(1.0970)
	det := NewDetector(scenarioParams())

	// begin < 0
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, 12))
	// idx + gap runs past the buffer
	for i := len(candles) - 3; i < len(candles); i++ {
		candles[i].Close = 1.0
		assert.Equal(t, SignalNone, det.SignalAt(candles, labels, i))
	}
	// out of range or mismatched labels
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, -1))
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels[:10], 20))
}

func TestTooFewBounces(t *testing.T) {
	const idx = 20
	candles, labels := flatCandles(25, 1.1)
	setLow(candles, labels, 10, 1.1)
	setLow(candles, labels, 14, 1.1)
	candles[idx].Close = 1.0
	det := NewDetector(scenarioParams())
	assert.Equal(t, SignalNone, det.SignalAt(candles, labels, idx))
}

func randomWalk(n int, seed int64) []types.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]types.Candle, n)
	price := 1.10
	for i := range out {
		open := price
		price *= 1 + (r.Float64()-0.5)*0.004
		high := max(open, price) * (1 + r.Float64()*0.001)
		low := min(open, price) * (1 - r.Float64()*0.001)
		out[i] = types.Candle{Index: i, Open: open, High: high, Low: low, Close: price, Volume: 1}
	}
	return out
}

func TestNoLookAhead(t *testing.T) {
	const window = 3
	p := Params{Backcandles: 30, GapWindow: window + 1, ZoneHeight: 0.002, BreakoutFactor: 0.5}
	require.NoError(t, p.Validate(window))

	base := randomWalk(400, 42)
	labels := pivot.Labels(base, window)
	det := NewDetector(p)

	r := rand.New(rand.NewSource(3))
	fired := 0
	for idx := 0; idx < len(base); idx += 7 {
		want := det.SignalAt(base, labels, idx)
		if want != SignalNone {
			fired++
		}

		perturbed := make([]types.Candle, len(base))
		copy(perturbed, base)
		for j := idx + 1; j < len(perturbed); j++ {
			f := 0.9 + r.Float64()*0.2
			perturbed[j].Low *= f
			perturbed[j].High *= f
			perturbed[j].Close *= f
		}
		got := det.SignalAt(perturbed, pivot.Labels(perturbed, window), idx)
		assert.Equal(t, want, got, "index %d", idx)
	}
	t.Logf("signals fired at sampled indices: %d", fired)
}

func TestParamsValidate(t *testing.T) {
	ok := DefaultParams()
	require.NoError(t, ok.Validate(pivot.DefaultWindow))

	cases := []struct {
		name   string
		mutate func(*Params)
		window int
		field  string
	}{
		{"backcandles", func(p *Params) { p.Backcandles = 0 }, 6, "backcandles"},
		{"negative gap", func(p *Params) { p.GapWindow = -1 }, 6, "gap_window"},
		{"zone height", func(p *Params) { p.ZoneHeight = 0 }, 6, "zone_height"},
		{"breakout factor", func(p *Params) { p.BreakoutFactor = -1 }, 6, "breakout_factor"},
		{"gap equals pivot window", func(p *Params) { p.GapWindow = 6 }, 6, "gap_window"},
		{"gap below pivot window", func(p *Params) { p.GapWindow = 2 }, 6, "gap_window"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			err := p.Validate(tc.window)
			require.Error(t, err)

			var pe *ParamError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.field, pe.Field)
		})
	}
}

func TestSignalEnum(t *testing.T) {
	assert.Equal(t, "BUY", SignalBuy.String())
	assert.Equal(t, "SELL", SignalSell.String())
	assert.Equal(t, "NONE", SignalNone.String())
	assert.False(t, Signal(7).Valid())
	assert.True(t, FilterEither.Match(SignalBuy))
	assert.True(t, FilterEither.Match(SignalSell))
	assert.False(t, FilterBuy.Match(SignalSell))
	assert.False(t, FilterEither.Match(SignalNone))

	f, err := ParseFilter("sell")
	require.NoError(t, err)
	assert.Equal(t, FilterSell, f)
	_, err = ParseFilter("nope")
	assert.Error(t, err)
}
