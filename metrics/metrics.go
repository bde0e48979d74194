// Package metrics exposes Prometheus counters for the breakout pipeline.
//
//   - breakout_signals_total{ticker,signal}       candles flagged BUY or SELL
//   - breakout_intents_total{ticker,direction}    brackets submitted
//   - breakout_orders_total{ticker,status}        entry-order status events
//   - breakout_trades_total{ticker,result}        closed trades by win|loss
//   - breakout_exit_reasons_total{ticker,reason}  closed trades by exit leg
//   - breakout_net_pnl                            cumulative net profit
//   - breakout_equity                             latest equity snapshot
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/strategy"
)

// Recorder owns one set of collectors and implements execution.Listener
type Recorder struct {
	ticker string

	signals     *prometheus.CounterVec
	intents     *prometheus.CounterVec
	orders      *prometheus.CounterVec
	trades      *prometheus.CounterVec
	exitReasons *prometheus.CounterVec
	netPnL      prometheus.Gauge
	equity      prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to serve them from Handler.
func New(reg prometheus.Registerer, ticker string) (*Recorder, error) {
	r := &Recorder{
		ticker: ticker,
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "breakout_signals_total", Help: "Candles flagged by the detector"},
			[]string{"ticker", "signal"},
		),
		intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "breakout_intents_total", Help: "Bracket orders submitted"},
			[]string{"ticker", "direction"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "breakout_orders_total", Help: "Entry order status events"},
			[]string{"ticker", "status"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "breakout_trades_total", Help: "Closed trades counted by result (win|loss)"},
			[]string{"ticker", "result"},
		),
		exitReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "breakout_exit_reasons_total", Help: "Closed trades split by exit reason"},
			[]string{"ticker", "reason"},
		),
		netPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "breakout_net_pnl", Help: "Cumulative net profit"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "breakout_equity", Help: "Latest equity snapshot"},
		),
	}

	for _, c := range []prometheus.Collector{r.signals, r.intents, r.orders, r.trades, r.exitReasons, r.netPnL, r.equity} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveSeries counts the BUY and SELL candles of s
func (r *Recorder) ObserveSeries(s *strategy.Series) {
	r.signals.WithLabelValues(r.ticker, strategy.SignalBuy.String()).Add(float64(s.Count(strategy.SignalBuy)))
	r.signals.WithLabelValues(r.ticker, strategy.SignalSell.String()).Add(float64(s.Count(strategy.SignalSell)))
}

// SetEquity records the latest equity
func (r *Recorder) SetEquity(v decimal.Decimal) {
	r.equity.Set(v.InexactFloat64())
}

// OnIntent implements execution.Listener
func (r *Recorder) OnIntent(intent *execution.OrderIntent) {
	r.intents.WithLabelValues(r.ticker, string(intent.Direction)).Inc()
}

// OnOrderStatus implements execution.Listener
func (r *Recorder) OnOrderStatus(_ *execution.OrderIntent, ev execution.OrderEvent) {
	r.orders.WithLabelValues(r.ticker, string(ev.Status)).Inc()
}

// OnTradeReport implements execution.Listener
func (r *Recorder) OnTradeReport(report execution.TradeReport) {
	result := "loss"
	if report.IsWin() {
		result = "win"
	}
	r.trades.WithLabelValues(r.ticker, result).Inc()
	r.exitReasons.WithLabelValues(r.ticker, string(report.Reason)).Inc()
	r.netPnL.Add(report.Net.InexactFloat64())
}

// Serve exposes /metrics and /healthz on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("📈 Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
