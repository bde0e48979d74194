package execution

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/strategy"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION CONTROLLER - Single-position order state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
//            signal + filter          Completed
//   FLAT ───────────────────▶ PENDING ─────────▶ IN_POSITION
//    ▲                           │                    │
//    │   Canceled/Margin/Rejected│                    │ trade closed
//    └───────────────────────────┴────────────────────┘
//
// One candle at a time. At most one intent is outstanding; new entries are
// only considered while FLAT.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ControllerConfig holds the trading parameters
type ControllerConfig struct {
	Bracket     risk.BracketConfig
	AllowLong   bool
	AllowShort  bool
	TrendFilter bool
}

// Validate checks the bracket distances
func (c ControllerConfig) Validate() error {
	return c.Bracket.Validate()
}

// Listener receives controller output. Implementations must not call back
// into the controller.
type Listener interface {
	OnIntent(intent *OrderIntent)
	OnOrderStatus(intent *OrderIntent, ev OrderEvent)
	OnTradeReport(report TradeReport)
}

// Controller drives entries from a signal source
type Controller struct {
	mu sync.Mutex

	run     *RunContext
	config  ControllerConfig
	signals strategy.SignalSource

	state    PositionState
	pending  *OrderIntent // submitted, not yet filled
	active   *OrderIntent // filled, exit legs live
	lastFill *Fill

	listeners []Listener
}

// NewController creates a controller in the FLAT state
func NewController(run *RunContext, config ControllerConfig, signals strategy.SignalSource, listeners ...Listener) *Controller {
	c := &Controller{
		run:       run,
		config:    config,
		signals:   signals,
		state:     StateFlat,
		listeners: listeners,
	}

	log.Debug().
		Str("run", run.ID).
		Int("run_nr", run.Number).
		Float64("sl_distance", config.Bracket.SLDistance).
		Float64("tp_sl_ratio", config.Bracket.TPSLRatio).
		Bool("long", config.AllowLong).
		Bool("short", config.AllowShort).
		Bool("trend_filter", config.TrendFilter).
		Msg("Controller initialized")

	return c
}

// AddListener registers another listener
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State returns the current lifecycle state
func (c *Controller) State() PositionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the outstanding intent, nil when none
func (c *Controller) Pending() *OrderIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Active returns the intent whose position is open, nil when none
func (c *Controller) Active() *OrderIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LastFill returns the most recent entry fill, nil before the first one
func (c *Controller) LastFill() *Fill {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFill
}

// Run returns the run context
func (c *Controller) Run() *RunContext {
	return c.run
}

// ═══════════════════════════════════════════════════════════════════════════════
// NEW CANDLE
// ═══════════════════════════════════════════════════════════════════════════════

// OnCandle decides whether candle idx opens a bracket. It returns the intent
// to hand to the execution engine, or nil. A signal outside the closed set
// returns a *ContractViolation and the run must stop.
func (c *Controller) OnCandle(idx int, candle types.Candle, trend types.Trend) (*OrderIntent, error) {
	c.mu.Lock()

	if c.state != StateFlat {
		c.mu.Unlock()
		return nil, nil
	}

	sig := c.signals.At(idx)
	trend.Close = candle.Close

	var dir types.Direction
	switch sig {
	case strategy.SignalNone:
		c.mu.Unlock()
		return nil, nil
	case strategy.SignalSell:
		if !c.acceptShort(trend) {
			c.mu.Unlock()
			return nil, nil
		}
		dir = types.Short
	case strategy.SignalBuy:
		if !c.acceptLong(trend) {
			c.mu.Unlock()
			return nil, nil
		}
		dir = types.Long
	default:
		c.mu.Unlock()
		return nil, &ContractViolation{Index: idx, Value: sig}
	}

	bracket := risk.NewBracket(dir, candle.Close, c.config.Bracket)
	intent := newIntent(c.run, idx, sig, bracket)

	c.pending = intent
	c.state = StatePending
	listeners := c.listeners
	c.mu.Unlock()

	log.Info().
		Int("idx", idx).
		Str("side", string(dir)).
		Str("close", bracket.Entry.StringFixed(4)).
		Str("stoploss", bracket.StopLoss.StringFixed(4)).
		Str("limit", bracket.TakeProfit.StringFixed(4)).
		Str("intent", intent.ID).
		Msg("📤 OPEN " + sig.String())

	for _, l := range listeners {
		l.OnIntent(intent)
	}

	return intent, nil
}

func (c *Controller) acceptShort(t types.Trend) bool {
	if !c.config.AllowShort {
		return false
	}
	return !c.config.TrendFilter || t.Down()
}

func (c *Controller) acceptLong(t types.Trend) bool {
	if !c.config.AllowLong {
		return false
	}
	return !c.config.TrendFilter || t.Up()
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER / TRADE EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

// OnOrderEvent applies an entry-order status notification
func (c *Controller) OnOrderEvent(ev OrderEvent) {
	c.mu.Lock()

	if c.state != StatePending || c.pending == nil {
		// exit-leg notifications arrive while in position
		state := c.state
		c.mu.Unlock()
		log.Debug().
			Str("status", string(ev.Status)).
			Str("state", string(state)).
			Str("intent", ev.IntentID).
			Msg("Order event ignored")
		return
	}

	intent := c.pending
	if ev.IntentID != "" && ev.IntentID != intent.ID {
		c.mu.Unlock()
		log.Warn().
			Str("status", string(ev.Status)).
			Str("intent", ev.IntentID).
			Str("pending", intent.ID).
			Msg("⚠️ Order event for unknown intent")
		return
	}

	switch ev.Status {
	case OrderSubmitted, OrderAccepted:
		// still pending

	case OrderCompleted:
		c.lastFill = &Fill{
			IntentID:   intent.ID,
			Direction:  intent.Direction,
			Price:      ev.Price,
			Value:      ev.Value,
			Commission: ev.Commission,
			Index:      ev.Index,
		}
		c.active = intent
		c.pending = nil
		c.state = StateInPosition

		action := "BUY"
		if !intent.Direction.IsLong() {
			action = "SELL"
		}
		log.Info().
			Int("idx", ev.Index).
			Str("price", ev.Price.StringFixed(2)).
			Str("cost", ev.Value.StringFixed(2)).
			Str("comm", ev.Commission.StringFixed(2)).
			Msg("✅ " + action + " EXECUTED")

	case OrderCanceled:
		c.clearPending()
		log.Warn().Str("intent", intent.ID).Str("reason", ev.Reason).Msg("Order Canceled")
	case OrderMargin:
		c.clearPending()
		log.Warn().Str("intent", intent.ID).Str("reason", ev.Reason).Msg("Order Margin")
	case OrderRejected:
		c.clearPending()
		log.Warn().Str("intent", intent.ID).Str("reason", ev.Reason).Msg("Order Rejected")

	default:
		c.mu.Unlock()
		log.Warn().Str("status", string(ev.Status)).Msg("⚠️ Unknown order status")
		return
	}

	listeners := c.listeners
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnOrderStatus(intent, ev)
	}
}

// clearPending returns to FLAT after a failed entry. Caller holds mu.
func (c *Controller) clearPending() {
	c.pending = nil
	c.state = StateFlat
}

// OnTradeClosed reports profit for the open position and returns to FLAT.
// ok is false when no position was open.
func (c *Controller) OnTradeClosed(ev TradeEvent) (report TradeReport, ok bool) {
	c.mu.Lock()

	if c.state != StateInPosition || c.active == nil {
		state := c.state
		c.mu.Unlock()
		log.Warn().
			Str("state", string(state)).
			Str("intent", ev.IntentID).
			Msg("⚠️ Trade close without open position")
		return TradeReport{}, false
	}

	intent := c.active
	if ev.IntentID != "" && ev.IntentID != intent.ID {
		c.mu.Unlock()
		log.Warn().
			Str("intent", ev.IntentID).
			Str("active", intent.ID).
			Msg("⚠️ Trade close for unknown intent")
		return TradeReport{}, false
	}

	report = TradeReport{
		IntentID:   intent.ID,
		RunID:      c.run.ID,
		Direction:  intent.Direction,
		Gross:      ev.PnL,
		Net:        ev.PnL.Sub(ev.Commission),
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.ExitPrice,
		Reason:     ev.Reason,
		BarOpen:    ev.BarOpen,
		BarClose:   ev.BarClose,
	}

	c.active = nil
	c.state = StateFlat
	listeners := c.listeners
	c.mu.Unlock()

	log.Info().
		Int("bar_open", report.BarOpen).
		Int("bar_close", report.BarClose).
		Str("reason", string(report.Reason)).
		Msgf("📊 OPERATION PROFIT, GROSS %8.3f, NET %8.3f", report.Gross.InexactFloat64(), report.Net.InexactFloat64())

	for _, l := range listeners {
		l.OnTradeReport(report)
	}

	return report, true
}
