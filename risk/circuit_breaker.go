package risk

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Halts new entries after a losing streak or drawdown
// ═══════════════════════════════════════════════════════════════════════════════
//
// Time is measured in candles so a replay trips and recovers exactly the
// same way every run. Open brackets are never touched.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BreakerConfig holds the trip limits. Zero disables a limit.
type BreakerConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdown          float64 // fraction of peak equity, 0.1 is 10%
	CooldownBars         int
}

// Enabled reports whether any limit is set
func (c BreakerConfig) Enabled() bool {
	return c.MaxConsecutiveLosses > 0 || c.MaxDrawdown > 0
}

type CircuitBreaker struct {
	mu sync.RWMutex

	// Configuration
	maxConsecutiveLosses int
	maxDrawdown          decimal.Decimal
	cooldownBars         int

	// State
	consecutiveLosses int
	peakEquity        decimal.Decimal
	tripped           bool
	trippedAt         int
	reason            string
	trips             int
}

// NewCircuitBreaker creates a breaker with cfg's limits
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		maxDrawdown:          decimal.NewFromFloat(cfg.MaxDrawdown),
		cooldownBars:         cfg.CooldownBars,
	}
}

// Check returns true if entries at candle idx should be skipped
func (cb *CircuitBreaker) Check(idx int, equity decimal.Decimal) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Update peak equity
	if equity.GreaterThan(cb.peakEquity) {
		cb.peakEquity = equity
	}

	// If already tripped, check cooldown
	if cb.tripped {
		if idx-cb.trippedAt >= cb.cooldownBars {
			cb.tripped = false
			cb.consecutiveLosses = 0
			cb.peakEquity = equity
			log.Info().Int("idx", idx).Msg("✅ Circuit breaker reset after cooldown")
			return false
		}
		return true
	}

	// Check drawdown limit
	if cb.maxDrawdown.IsPositive() && cb.peakEquity.IsPositive() {
		drawdown := cb.peakEquity.Sub(equity).Div(cb.peakEquity)
		if drawdown.GreaterThan(cb.maxDrawdown) {
			cb.trip(idx, "Max drawdown exceeded")
			return true
		}
	}

	return false
}

// RecordTrade counts a closed trade's net result at candle idx
func (cb *CircuitBreaker) RecordTrade(idx int, net decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if net.IsPositive() {
		cb.consecutiveLosses = 0
		return
	}

	cb.consecutiveLosses++
	if cb.maxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.maxConsecutiveLosses && !cb.tripped {
		cb.trip(idx, "Max consecutive losses")
	}
}

// trip activates the circuit breaker. Caller holds mu.
func (cb *CircuitBreaker) trip(idx int, reason string) {
	cb.tripped = true
	cb.trippedAt = idx
	cb.reason = reason
	cb.trips++
	log.Warn().
		Str("reason", reason).
		Int("idx", idx).
		Int("consecutive_losses", cb.consecutiveLosses).
		Int("cooldown_bars", cb.cooldownBars).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutiveLosses, trips int, tripped bool, reason string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveLosses, cb.trips, cb.tripped, cb.reason
}
