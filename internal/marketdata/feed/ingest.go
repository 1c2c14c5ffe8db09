// Package feed ingests a live market-data websocket stream. The wire format
// is the Alpaca market-data v2 stream: JSON arrays of trade ("t"), quote
// ("q") and bar ("b") messages, preceded by an auth and subscribe handshake.
//
//	[{"T":"t","S":"AAPL","p":190.12,"s":100,"t":"2025-03-14T14:30:01.250Z"}]
//
// cmd/tickserver speaks the same protocol for offline runs.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"momentum-trader/internal/model"
)

// Config holds the stream endpoint, credentials and subscription.
type Config struct {
	// URL of the stream, e.g. "wss://stream.data.alpaca.markets/v2/iex"
	// or "ws://localhost:9001/ws".
	URL string

	Key    string
	Secret string

	Symbols []string
	Quotes  bool // subscribe to quotes as well as trades
	Bars    bool // subscribe to minute bars

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// HandshakeTimeout bounds the dial plus auth/subscribe exchange.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Ingest connects to the stream and pushes ticks and bars into channels.
type Ingest struct {
	cfg Config

	// Optional hooks.
	OnReconnect func()
	OnConnect   func(connected bool)
	OnDrop      func(kind string)
}

// New creates a new Ingest. Returns an error if the URL is unparseable or
// no symbols are configured.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: unsupported scheme %q: %w", u.Scheme, model.ErrInvalidInput)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("feed: no symbols: %w", model.ErrInvalidInput)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams until ctx is cancelled, reconnecting with exponential
// backoff. barCh may be nil when bars are not subscribed.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick, barCh chan<- model.Candle) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, tickCh, barCh)
		if err == nil {
			return nil
		}
		if ing.OnConnect != nil {
			ing.OnConnect(false)
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the handshake completed.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick, barCh chan<- model.Candle) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ing.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, ing.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %v: %w", err, model.ErrExternalFailure)
	}
	defer conn.Close()

	if err := ing.handshake(conn); err != nil {
		return false, err
	}
	log.Printf("[feed] connected to %s (%d symbols)", ing.cfg.URL, len(ing.cfg.Symbols))
	if ing.OnConnect != nil {
		ing.OnConnect(true)
	}

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		msgs, err := Decode(raw)
		if err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		for i := range msgs {
			if err := msgs[i].Err(); err != nil {
				return true, err
			}
			ing.route(&msgs[i], tickCh, barCh)
		}
	}
}

func (ing *Ingest) route(m *Message, tickCh chan<- model.Tick, barCh chan<- model.Candle) {
	if m.Symbol == "" {
		return
	}
	if tick, ok := m.Tick(); ok {
		select {
		case tickCh <- tick:
		default:
			ing.dropped("tick")
		}
		return
	}
	if bar, ok := m.Candle(); ok && barCh != nil {
		select {
		case barCh <- bar:
		default:
			ing.dropped("bar")
		}
	}
}

func (ing *Ingest) dropped(kind string) {
	if ing.OnDrop != nil {
		ing.OnDrop(kind)
		return
	}
	log.Printf("[feed] %s channel full, dropping", kind)
}

var errAuth = errors.New("feed: authentication failed")

// handshake waits for the welcome frame, authenticates and subscribes.
func (ing *Ingest) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(ing.cfg.HandshakeTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if err := expect(conn, TypeSuccess, "connected"); err != nil {
		return err
	}

	auth := authRequest{Action: "auth", Key: ing.cfg.Key, Secret: ing.cfg.Secret}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}
	if err := expect(conn, TypeSuccess, "authenticated"); err != nil {
		return fmt.Errorf("%w: %v", errAuth, err)
	}

	sub := subscribeRequest{Action: "subscribe", Trades: ing.cfg.Symbols}
	if ing.cfg.Quotes {
		sub.Quotes = ing.cfg.Symbols
	}
	if ing.cfg.Bars {
		sub.Bars = ing.cfg.Symbols
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	return expect(conn, TypeSubscription, "")
}

// expect reads one frame and checks that it carries a message of type typ
// (and msg, when non-empty).
func expect(conn *websocket.Conn, typ, msg string) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	msgs, err := Decode(raw)
	if err != nil {
		return err
	}
	for i := range msgs {
		if err := msgs[i].Err(); err != nil {
			return err
		}
		if msgs[i].T == typ && (msg == "" || msgs[i].Msg == msg) {
			return nil
		}
	}
	return fmt.Errorf("feed: expected %s %q, got %s", typ, msg, raw)
}
