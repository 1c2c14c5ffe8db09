package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These decouple the engine from the concrete broker, account, storage and
// alert backends. Replay wires the paper broker and the SQLite reader; live
// mode wires Alpaca (or paper), the websocket feed and Redis.

// OrderGateway submits and cancels orders. Fills and cancels are reported
// only through Events, never synchronously.
type OrderGateway interface {
	// Submit transmits the order (and its children, if any) and returns the
	// order id the lifecycle tracks.
	Submit(ctx context.Context, spec OrderSpec) (string, error)

	// Cancel requests cancellation. Unknown or finished orders are not an error.
	Cancel(ctx context.Context, orderID string) error

	// Events delivers asynchronous order status notifications.
	Events() <-chan OrderEvent
}

// AccountSource reports the current cash balance. It is polled, not streamed.
type AccountSource interface {
	Balance(ctx context.Context) (float64, error)
}

// CandleSource reads historical candles for replay, ordered by timestamp.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)
}

// CandleWriter persists candles produced by the live aggregator.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// AlertSink receives alerts for delivery to an external channel.
type AlertSink interface {
	Publish(ctx context.Context, a Alert) error
}
