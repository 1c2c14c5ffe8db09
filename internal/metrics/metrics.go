// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	// Market data
	TicksTotal     prometheus.Counter
	CandlesTotal   prometheus.Counter
	FeedReconnects prometheus.Counter
	DroppedEvents  *prometheus.CounterVec // labels: stage
	FanoutDrops    *prometheus.CounterVec // labels: subscriber
	HistoryEvicted prometheus.Counter

	// Evaluation
	EvaluationsTotal prometheus.Counter
	EvalDur          prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: profile
	AlertsTotal      prometheus.Counter
	AlertHookPanics  prometheus.Counter

	// Orders and positions
	OrdersSubmitted *prometheus.CounterVec // labels: kind=entry|exit
	OrderRejects    prometheus.Counter
	OrderEvents     *prometheus.CounterVec // labels: status
	TradesTotal     *prometheus.CounterVec // labels: reason
	RealizedPnL     prometheus.Gauge
	OpenPositions   prometheus.Gauge
	Balance         prometheus.Gauge

	// Dependencies
	GatewayBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	GatewayBreakerTrips prometheus.Counter
	RedisBufferedWrites prometheus.Counter
	SQLiteCommitDur     prometheus.Histogram

	// Session
	MarketState prometheus.Gauge // 0=closed, 1=premarket, 2=regular
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ticks_total",
			Help: "Total ticks received from the feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_candles_total",
			Help: "Total bars completed by the aggregator or replay",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_feed_reconnects_total",
			Help: "Total market data reconnection attempts",
		}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_dropped_events_total",
			Help: "Events dropped because a channel was full",
		}, []string{"stage"}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fanout_drops_total",
			Help: "Ticks dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		HistoryEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_history_evicted_total",
			Help: "History points evicted from full rings",
		}),

		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_evaluations_total",
			Help: "Condition set evaluations",
		}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_evaluation_duration_seconds",
			Help:    "Condition set evaluation latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals emitted by profile",
		}, []string{"profile"}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_alerts_total",
			Help: "Alerts recorded",
		}),
		AlertHookPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_alert_hook_panics_total",
			Help: "Alert hooks that panicked",
		}),

		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_submitted_total",
			Help: "Orders submitted to the gateway",
		}, []string{"kind"}),
		OrderRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_order_rejects_total",
			Help: "Submits that failed or were refused by the circuit breaker",
		}),
		OrderEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_order_events_total",
			Help: "Order status events received",
		}, []string{"status"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Closed trades by exit reason",
		}, []string{"reason"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_realized_pnl_dollars",
			Help: "Realized gross P&L since start",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Symbols with a pending, open or exiting position",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_account_balance_dollars",
			Help: "Last polled account cash balance",
		}),

		GatewayBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_gateway_circuit_breaker_state",
			Help: "Order gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		GatewayBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_gateway_circuit_breaker_trips_total",
			Help: "Times the gateway circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker was open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_market_state",
			Help: "Market session (0=closed, 1=premarket, 2=regular)",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.FeedReconnects,
		m.DroppedEvents,
		m.FanoutDrops,
		m.HistoryEvicted,
		m.EvaluationsTotal,
		m.EvalDur,
		m.SignalsTotal,
		m.AlertsTotal,
		m.AlertHookPanics,
		m.OrdersSubmitted,
		m.OrderRejects,
		m.OrderEvents,
		m.TradesTotal,
		m.RealizedPnL,
		m.OpenPositions,
		m.Balance,
		m.GatewayBreakerState,
		m.GatewayBreakerTrips,
		m.RedisBufferedWrites,
		m.SQLiteCommitDur,
		m.MarketState,
	)

	return m
}
