package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION BRIDGE - Lockstep websocket link to an external execution engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Protocol (JSON text frames):
//   → {"type":"candle","seq":n,"candle":{...}}
//   → {"type":"intent","seq":n,"intent":{...}}
//   → {"type":"finish","seq":n}
//   ← {"type":"order","order":{...}}       zero or more
//   ← {"type":"trade","trade":{...}}       zero or more
//   ← {"type":"sync","seq":n}              exactly one per outbound frame
//   ← {"type":"error","seq":n,"error":".."} aborts the run
//
// Every outbound frame blocks until its sync arrives, so order and trade
// callbacks run on the caller's goroutine in candle order.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	dialAttempts       = 3
	reconnectDelay     = 2 * time.Second
	pingInterval       = 30 * time.Second
	writeWait          = 10 * time.Second
	DefaultSyncTimeout = 30 * time.Second
)

// Message types
const (
	MsgCandle = "candle"
	MsgIntent = "intent"
	MsgFinish = "finish"
	MsgOrder  = "order"
	MsgTrade  = "trade"
	MsgSync   = "sync"
	MsgError  = "error"
)

// ErrClosed is returned once the connection is gone
var ErrClosed = errors.New("bridge connection closed")

// Bar is the wire form of a candle
type Bar struct {
	Index  int       `json:"index"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Message is one frame in either direction
type Message struct {
	Type   string                 `json:"type"`
	Seq    int64                  `json:"seq"`
	Candle *Bar                   `json:"candle,omitempty"`
	Intent *execution.OrderIntent `json:"intent,omitempty"`
	Order  *execution.OrderEvent  `json:"order,omitempty"`
	Trade  *execution.TradeEvent  `json:"trade,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Client implements execution.Broker over a websocket
type Client struct {
	mu sync.Mutex // serialises writes and seq

	url  string
	conn *websocket.Conn
	seq  int64

	inbox    chan Message
	done     chan struct{}
	readErr  error
	stopCh   chan struct{}
	stopOnce sync.Once

	syncTimeout time.Duration

	onOrder func(ev execution.OrderEvent)
	onTrade func(ev execution.TradeEvent)
}

var _ execution.Broker = (*Client)(nil)

// Dial connects to the execution engine at url, retrying a few times
func Dial(ctx context.Context, url string) (*Client, error) {
	var (
		conn *websocket.Conn
		err  error
	)
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		log.Error().Err(err).Int("attempt", attempt).Msg("Connection failed, retrying...")
		if attempt == dialAttempts {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}

	c := &Client{
		url:         url,
		conn:        conn,
		inbox:       make(chan Message, 64),
		done:        make(chan struct{}),
		stopCh:      make(chan struct{}),
		syncTimeout: DefaultSyncTimeout,
	}

	go c.readLoop()
	go c.pingLoop()

	log.Info().Str("url", url).Msg("🔌 Bridge connected")
	return c, nil
}

// SetSyncTimeout bounds how long a frame waits for its sync
func (c *Client) SetSyncTimeout(d time.Duration) {
	c.syncTimeout = d
}

// OnOrder sets the callback for entry-order status events
func (c *Client) OnOrder(fn func(ev execution.OrderEvent)) {
	c.onOrder = fn
}

// OnTrade sets the callback for closed round trips
func (c *Client) OnTrade(fn func(ev execution.TradeEvent)) {
	c.onTrade = fn
}

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER
// ═══════════════════════════════════════════════════════════════════════════════

// Submit forwards intent and dispatches the engine's acknowledgements
func (c *Client) Submit(intent *execution.OrderIntent) error {
	return c.roundTrip(Message{Type: MsgIntent, Intent: intent})
}

// OnCandle forwards one candle and dispatches whatever it triggered
func (c *Client) OnCandle(candle types.Candle) error {
	bar := Bar{
		Index:  candle.Index,
		Time:   candle.Time,
		Open:   candle.Open,
		High:   candle.High,
		Low:    candle.Low,
		Close:  candle.Close,
		Volume: candle.Volume,
	}
	return c.roundTrip(Message{Type: MsgCandle, Candle: &bar})
}

// Finish tells the engine the data is exhausted, dispatches the final
// events and closes the connection
func (c *Client) Finish() error {
	err := c.roundTrip(Message{Type: MsgFinish})
	c.Close()
	return err
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.conn.Close()
		log.Info().Msg("Bridge closed")
	})
}

func (c *Client) roundTrip(msg Message) error {
	select {
	case <-c.stopCh:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.seq++
	msg.Seq = c.seq
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(msg)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return c.await(msg.Seq)
}

// await dispatches inbound events until the sync for seq arrives
func (c *Client) await(seq int64) error {
	timer := time.NewTimer(c.syncTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-c.inbox:
			if synced, err := c.dispatch(msg, seq); synced || err != nil {
				return err
			}
		case <-c.done:
			// Frames read before the socket closed still count
			for {
				select {
				case msg := <-c.inbox:
					if synced, err := c.dispatch(msg, seq); synced || err != nil {
						return err
					}
				default:
					if c.readErr != nil {
						return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
					}
					return ErrClosed
				}
			}
		case <-timer.C:
			return fmt.Errorf("no sync for frame %d after %s", seq, c.syncTimeout)
		}
	}
}

// dispatch handles one inbound frame. synced is true once seq is acknowledged.
func (c *Client) dispatch(msg Message, seq int64) (synced bool, err error) {
	switch msg.Type {
	case MsgOrder:
		if msg.Order != nil && c.onOrder != nil {
			c.onOrder(*msg.Order)
		}
	case MsgTrade:
		if msg.Trade != nil && c.onTrade != nil {
			c.onTrade(*msg.Trade)
		}
	case MsgError:
		return false, fmt.Errorf("execution engine: %s", msg.Error)
	case MsgSync:
		if msg.Seq == seq {
			return true, nil
		}
		log.Debug().Int64("seq", msg.Seq).Int64("want", seq).Msg("Stale sync ignored")
	default:
		log.Warn().Str("type", msg.Type).Msg("⚠️ Unknown bridge message")
	}
	return false, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONNECTION LOOPS
// ═══════════════════════════════════════════════════════════════════════════════

// readLoop decodes frames into the inbox until the connection drops
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				log.Warn().Err(err).Msg("Read error")
				c.readErr = err
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Malformed bridge message dropped")
			continue
		}

		select {
		case c.inbox <- msg:
		case <-c.stopCh:
			return
		}
	}
}

// pingLoop keeps the connection alive between candles
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}
