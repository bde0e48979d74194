package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/breakoutbot/types"
)

func TestPercentSizer(t *testing.T) {
	s := NewPercentSizer(0.9)
	b := NewBracket(types.Long, 100, cfg)

	size := s.Calculate(b, dec(100), dec(10000))
	assert.True(t, size.Equal(dec(90)), size.String())

	assert.True(t, s.Calculate(b, decimal.Zero, dec(10000)).IsZero())
	assert.True(t, s.Calculate(b, dec(100), decimal.Zero).IsZero())
}

func TestRiskSizer(t *testing.T) {
	s := NewRiskSizer(0.01)
	b := NewBracket(types.Long, 100, cfg)

	// 1% of 10000 = 100 at risk, 2 per unit to the stop
	size := s.Calculate(b, dec(100), dec(10000))
	assert.True(t, size.Equal(dec(50)), size.String())
	assert.True(t, RiskAmount(size, dec(100), b.StopLoss).Equal(dec(100)))
}

func TestNewSizer(t *testing.T) {
	s, err := NewSizer("", 0.5)
	require.NoError(t, err)
	assert.Equal(t, SizePercent, s.Mode())

	s, err = NewSizer(SizeRisk, 0.02)
	require.NoError(t, err)
	assert.Equal(t, SizeRisk, s.Mode())

	_, err = NewSizer("kelly", 0.5)
	assert.Error(t, err)
	_, err = NewSizer(SizePercent, 0)
	assert.Error(t, err)
}
