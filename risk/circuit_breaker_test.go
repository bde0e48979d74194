package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBreakerConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxConsecutiveLosses: 2, CooldownBars: 10})
	equity := decimal.NewFromInt(10000)

	cb.RecordTrade(5, decimal.NewFromInt(-10))
	assert.False(t, cb.Check(6, equity))

	cb.RecordTrade(7, decimal.NewFromInt(5))
	cb.RecordTrade(8, decimal.NewFromInt(-10))
	assert.False(t, cb.Check(9, equity), "win resets the streak")

	cb.RecordTrade(12, decimal.NewFromInt(-1))
	assert.True(t, cb.IsTripped())
	assert.True(t, cb.Check(13, equity))
	assert.True(t, cb.Check(21, equity))
	assert.False(t, cb.Check(22, equity))

	losses, trips, tripped, reason := cb.GetStats()
	assert.Equal(t, 0, losses)
	assert.Equal(t, 1, trips)
	assert.False(t, tripped)
	assert.Equal(t, "Max consecutive losses", reason)
}

func TestBreakerDrawdown(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxDrawdown: 0.05, CooldownBars: 3})

	assert.False(t, cb.Check(0, decimal.NewFromInt(10000)))
	assert.False(t, cb.Check(1, decimal.NewFromInt(9600)))
	assert.True(t, cb.Check(2, decimal.NewFromInt(9400)))
	assert.True(t, cb.Check(4, decimal.NewFromInt(9400)))

	// peak restarts from the equity at reset
	assert.False(t, cb.Check(5, decimal.NewFromInt(9400)))
	assert.False(t, cb.Check(6, decimal.NewFromInt(9000)))
}

func TestBreakerConfigEnabled(t *testing.T) {
	assert.False(t, BreakerConfig{}.Enabled())
	assert.False(t, BreakerConfig{CooldownBars: 5}.Enabled())
	assert.True(t, BreakerConfig{MaxConsecutiveLosses: 3}.Enabled())
	assert.True(t, BreakerConfig{MaxDrawdown: 0.1}.Enabled())
}
