package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/types"
)

// fakeEngine accepts an intent, fills it on the next candle and closes it
// on the one after
type fakeEngine struct {
	pending *execution.OrderIntent
	filled  *execution.OrderIntent
	mute    bool   // never sync
	fail    string // answer every frame with an error
	hangUp  bool   // report a trade, sync and close the socket on finish
}

func (f *fakeEngine) handle(conn *websocket.Conn, msg Message) {
	if f.mute {
		return
	}
	if f.fail != "" {
		conn.WriteJSON(Message{Type: MsgError, Seq: msg.Seq, Error: f.fail})
		return
	}

	// stale sync first, must be skipped
	conn.WriteJSON(Message{Type: MsgSync, Seq: msg.Seq - 100})

	if f.hangUp && msg.Type == MsgFinish {
		conn.WriteJSON(Message{Type: MsgTrade, Trade: &execution.TradeEvent{
			IntentID: "i-1",
			PnL:      decimal.NewFromInt(-5),
			Reason:   risk.ExitEndOfData,
		}})
		conn.WriteJSON(Message{Type: MsgSync, Seq: msg.Seq})
		conn.Close()
		return
	}

	switch msg.Type {
	case MsgIntent:
		f.pending = msg.Intent
		for _, st := range []execution.OrderStatus{execution.OrderSubmitted, execution.OrderAccepted} {
			conn.WriteJSON(Message{Type: MsgOrder, Order: &execution.OrderEvent{IntentID: msg.Intent.ID, Status: st}})
		}
	case MsgCandle:
		switch {
		case f.pending != nil:
			conn.WriteJSON(Message{Type: MsgOrder, Order: &execution.OrderEvent{
				IntentID: f.pending.ID,
				Status:   execution.OrderCompleted,
				Index:    msg.Candle.Index,
				Price:    decimal.NewFromFloat(msg.Candle.Open),
			}})
			f.filled, f.pending = f.pending, nil
		case f.filled != nil:
			conn.WriteJSON(Message{Type: MsgTrade, Trade: &execution.TradeEvent{
				IntentID: f.filled.ID,
				PnL:      decimal.NewFromInt(40),
				Reason:   risk.ExitTakeProfit,
				BarClose: msg.Candle.Index,
			}})
			f.filled = nil
		}
	}
	conn.WriteJSON(Message{Type: MsgSync, Seq: msg.Seq})
}

func startEngine(t *testing.T, engine *fakeEngine) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			engine.handle(conn, msg)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func bar(idx int, open float64) types.Candle {
	return types.Candle{Index: idx, Open: open, High: open + 1, Low: open - 1, Close: open}
}

func TestLockstepRoundTrip(t *testing.T) {
	c, err := Dial(context.Background(), startEngine(t, &fakeEngine{}))
	require.NoError(t, err)
	defer c.Close()

	var orders []execution.OrderStatus
	var trades []execution.TradeEvent
	c.OnOrder(func(ev execution.OrderEvent) { orders = append(orders, ev.Status) })
	c.OnTrade(func(ev execution.TradeEvent) { trades = append(trades, ev) })

	require.NoError(t, c.OnCandle(bar(0, 100)))
	assert.Empty(t, orders)

	intent := &execution.OrderIntent{ID: "i-1", Index: 0, Direction: types.Long}
	require.NoError(t, c.Submit(intent))
	assert.Equal(t, []execution.OrderStatus{execution.OrderSubmitted, execution.OrderAccepted}, orders)

	require.NoError(t, c.OnCandle(bar(1, 101)))
	assert.Equal(t, execution.OrderCompleted, orders[len(orders)-1])

	require.NoError(t, c.OnCandle(bar(2, 104)))
	require.Len(t, trades, 1)
	assert.Equal(t, "i-1", trades[0].IntentID)
	assert.True(t, trades[0].PnL.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 2, trades[0].BarClose)

	require.NoError(t, c.Finish())
	assert.ErrorIs(t, c.OnCandle(bar(3, 104)), ErrClosed)
}

func TestFinishSurvivesHangUpAfterSync(t *testing.T) {
	url := startEngine(t, &fakeEngine{hangUp: true})

	for i := 0; i < 50; i++ {
		c, err := Dial(context.Background(), url)
		require.NoError(t, err)

		var trades int
		c.OnTrade(func(execution.TradeEvent) { trades++ })

		require.NoError(t, c.OnCandle(bar(0, 100)))
		require.NoError(t, c.Finish(), "run %d", i)
		assert.Equal(t, 1, trades)
	}
}

func TestEngineErrorAborts(t *testing.T) {
	c, err := Dial(context.Background(), startEngine(t, &fakeEngine{fail: "unknown instrument"}))
	require.NoError(t, err)
	defer c.Close()

	err = c.OnCandle(bar(0, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown instrument")
}

func TestSyncTimeout(t *testing.T) {
	c, err := Dial(context.Background(), startEngine(t, &fakeEngine{mute: true}))
	require.NoError(t, err)
	defer c.Close()

	c.SetSyncTimeout(50 * time.Millisecond)
	err = c.OnCandle(bar(0, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync")
}

func TestDialCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/none")
	assert.Error(t, err)
}
