package execution

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER BROKER - Simulated bracket execution over historical candles
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order Flow:
//   Submit(intent)      → SUBMITTED, ACCEPTED
//   next candle open    → COMPLETED (or MARGIN when the notional exceeds cash)
//   each candle         → stop / limit leg checked on high/low, stop first
//   Finish()            → pending entry CANCELED, open position closed
//
// One bracket at a time. A second submission while busy is REJECTED.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PaperConfig holds simulation settings
type PaperConfig struct {
	Cash        float64         // starting cash
	Commission  float64         // proportional, charged on entry and exit notional
	SlippageBps int             // adverse entry slippage in bps
	Sizing      risk.SizingMode // percent (default) or risk
	SizeValue   float64         // cash fraction or equity risk share
}

// DefaultPaperConfig returns the defaults used when nothing is configured
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		Cash:        10000,
		Commission:  0,
		SlippageBps: 0,
		Sizing:      risk.SizePercent,
		SizeValue:   0.9,
	}
}

// Validate checks the simulation settings
func (c PaperConfig) Validate() error {
	if c.Cash <= 0 {
		return fmt.Errorf("invalid cash=%v: must be > 0", c.Cash)
	}
	if c.Commission < 0 {
		return fmt.Errorf("invalid commission=%v: must be >= 0", c.Commission)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("invalid slippage_bps=%d: must be >= 0", c.SlippageBps)
	}
	_, err := risk.NewSizer(c.Sizing, c.SizeValue)
	return err
}

type paperPosition struct {
	intent     *OrderIntent
	bracket    risk.Bracket
	price      decimal.Decimal
	size       decimal.Decimal
	commission decimal.Decimal // entry side
	barOpen    int
}

// PaperBroker fills intents against the candle stream
type PaperBroker struct {
	mu     sync.Mutex
	config PaperConfig
	sizer  *risk.Sizer

	commission decimal.Decimal
	slippage   decimal.Decimal
	cash       decimal.Decimal

	pending  *OrderIntent
	position *paperPosition
	lastBar  *types.Candle

	// Callbacks
	onOrder func(ev OrderEvent)
	onTrade func(ev TradeEvent)

	// Metrics
	totalOrders    int64
	filledOrders   int64
	rejectedOrders int64
	totalVolume    decimal.Decimal
}

// NewPaperBroker creates a broker holding config.Cash
func NewPaperBroker(config PaperConfig) (*PaperBroker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sizer, _ := risk.NewSizer(config.Sizing, config.SizeValue)

	b := &PaperBroker{
		config:     config,
		sizer:      sizer,
		commission: decimal.NewFromFloat(config.Commission),
		slippage:   decimal.NewFromInt(int64(config.SlippageBps)).Div(decimal.NewFromInt(10000)),
		cash:       decimal.NewFromFloat(config.Cash),
	}

	log.Debug().
		Float64("cash", config.Cash).
		Float64("commission", config.Commission).
		Int("slippage_bps", config.SlippageBps).
		Str("sizing", string(sizer.Mode())).
		Float64("size_value", config.SizeValue).
		Msg("Paper broker initialized")

	return b, nil
}

// OnOrder sets the callback for entry-order status events
func (b *PaperBroker) OnOrder(fn func(ev OrderEvent)) {
	b.onOrder = fn
}

// OnTrade sets the callback for closed round trips
func (b *PaperBroker) OnTrade(fn func(ev TradeEvent)) {
	b.onTrade = fn
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER SUBMISSION
// ═══════════════════════════════════════════════════════════════════════════════

// Submit queues intent for the next candle's open. Busy brokers answer
// with a REJECTED event, never an error.
func (b *PaperBroker) Submit(intent *OrderIntent) error {
	b.mu.Lock()
	b.totalOrders++

	if b.pending != nil || b.position != nil {
		b.rejectedOrders++
		b.mu.Unlock()
		b.emitOrder(OrderEvent{IntentID: intent.ID, Status: OrderRejected, Index: intent.Index, Reason: "broker busy"})
		return nil
	}
	b.pending = intent
	b.mu.Unlock()

	b.emitOrder(OrderEvent{IntentID: intent.ID, Status: OrderSubmitted, Index: intent.Index})
	b.emitOrder(OrderEvent{IntentID: intent.ID, Status: OrderAccepted, Index: intent.Index})
	return nil
}

// OnCandle advances the simulation by one bar: a queued entry fills at the
// open, then an open position's legs are checked against the bar's range.
func (b *PaperBroker) OnCandle(c types.Candle) error {
	b.mu.Lock()
	bar := c
	b.lastBar = &bar

	var events []OrderEvent
	if b.pending != nil {
		events = append(events, b.fill(c))
	}

	var trade *TradeEvent
	if b.position != nil {
		if hit, reason, price := b.position.bracket.CheckExit(c); hit {
			ev := b.close(price, c.Index, reason)
			trade = &ev
		}
	}
	b.mu.Unlock()

	for _, ev := range events {
		b.emitOrder(ev)
	}
	if trade != nil {
		b.emitTrade(*trade)
	}
	return nil
}

// fill executes the pending entry at c.Open. Caller holds mu.
func (b *PaperBroker) fill(c types.Candle) OrderEvent {
	intent := b.pending
	b.pending = nil

	open := decimal.NewFromFloat(c.Open)
	price := open.Mul(decimal.NewFromInt(1).Add(b.slippage))
	if !intent.Direction.IsLong() {
		price = open.Mul(decimal.NewFromInt(1).Sub(b.slippage))
	}

	bracket := risk.Bracket{
		Direction:  intent.Direction,
		Entry:      intent.Entry,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
	}

	size := intent.Size
	if size.IsZero() {
		size = b.sizer.Calculate(bracket, price, b.cash)
	}
	value := price.Mul(size)
	comm := value.Mul(b.commission)

	if size.LessThanOrEqual(decimal.Zero) || value.Add(comm).GreaterThan(b.cash) {
		b.rejectedOrders++
		log.Debug().
			Str("intent", intent.ID).
			Str("value", value.StringFixed(2)).
			Str("cash", b.cash.StringFixed(2)).
			Msg("Paper entry exceeds cash")
		return OrderEvent{
			IntentID: intent.ID,
			Status:   OrderMargin,
			Index:    c.Index,
			Price:    price,
			Size:     size,
			Reason:   "insufficient cash",
		}
	}

	b.cash = b.cash.Sub(comm)
	b.filledOrders++
	b.totalVolume = b.totalVolume.Add(value)
	b.position = &paperPosition{
		intent:     intent,
		bracket:    bracket,
		price:      price,
		size:       size,
		commission: comm,
		barOpen:    c.Index,
	}

	log.Debug().
		Str("intent", intent.ID).
		Str("fill_price", price.StringFixed(5)).
		Str("size", size.StringFixed(4)).
		Msg("Order filled (PAPER)")

	return OrderEvent{
		IntentID:   intent.ID,
		Status:     OrderCompleted,
		Index:      c.Index,
		Price:      price,
		Value:      value,
		Commission: comm,
		Size:       size,
	}
}

// close settles the open position at price. Caller holds mu.
func (b *PaperBroker) close(price decimal.Decimal, idx int, reason risk.ExitReason) TradeEvent {
	pos := b.position
	b.position = nil

	pnl := price.Sub(pos.price).Mul(pos.size)
	if !pos.intent.Direction.IsLong() {
		pnl = pnl.Neg()
	}
	exitComm := price.Mul(pos.size).Mul(b.commission)
	b.cash = b.cash.Add(pnl).Sub(exitComm)
	b.totalVolume = b.totalVolume.Add(price.Mul(pos.size))

	return TradeEvent{
		IntentID:   pos.intent.ID,
		PnL:        pnl,
		Commission: pos.commission.Add(exitComm),
		EntryPrice: pos.price,
		ExitPrice:  price,
		Size:       pos.size,
		Reason:     reason,
		BarOpen:    pos.barOpen,
		BarClose:   idx,
	}
}

// Finish ends the simulation: a queued entry is canceled and an open
// position is closed at the last close.
func (b *PaperBroker) Finish() error {
	b.mu.Lock()

	var canceled *OrderEvent
	if b.pending != nil {
		canceled = &OrderEvent{IntentID: b.pending.ID, Status: OrderCanceled, Reason: "end of data"}
		if b.lastBar != nil {
			canceled.Index = b.lastBar.Index
		}
		b.pending = nil
	}

	var trade *TradeEvent
	if b.position != nil {
		price := b.position.price
		idx := b.position.barOpen
		if b.lastBar != nil {
			price = decimal.NewFromFloat(b.lastBar.Close)
			idx = b.lastBar.Index
		}
		ev := b.close(price, idx, risk.ExitEndOfData)
		trade = &ev
	}
	b.mu.Unlock()

	if canceled != nil {
		b.emitOrder(*canceled)
	}
	if trade != nil {
		b.emitTrade(*trade)
	}
	return nil
}

func (b *PaperBroker) emitOrder(ev OrderEvent) {
	if b.onOrder != nil {
		b.onOrder(ev)
	}
}

func (b *PaperBroker) emitTrade(ev TradeEvent) {
	if b.onTrade != nil {
		b.onTrade(ev)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT & METRICS
// ═══════════════════════════════════════════════════════════════════════════════

// Cash returns realized cash
func (b *PaperBroker) Cash() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// Equity returns cash plus the open position marked at price
func (b *PaperBroker) Equity(price decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.position == nil {
		return b.cash
	}
	unrealized := price.Sub(b.position.price).Mul(b.position.size)
	if !b.position.intent.Direction.IsLong() {
		unrealized = unrealized.Neg()
	}
	return b.cash.Add(unrealized)
}

// HasPosition reports whether a bracket is live
func (b *PaperBroker) HasPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position != nil
}

// GetMetrics returns execution metrics
func (b *PaperBroker) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	fillRate := float64(0)
	if b.totalOrders > 0 {
		fillRate = float64(b.filledOrders) / float64(b.totalOrders) * 100
	}

	return map[string]interface{}{
		"total_orders":    b.totalOrders,
		"filled_orders":   b.filledOrders,
		"rejected_orders": b.rejectedOrders,
		"fill_rate":       fillRate,
		"total_volume":    b.totalVolume.StringFixed(2),
		"cash":            b.cash.StringFixed(2),
	}
}
