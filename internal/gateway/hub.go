// Package gateway streams alerts to WebSocket clients and serves the recent
// alert history over REST. Alerts arrive either directly (Hub is an alert
// sink) or from the Redis alert channels written by the scanner.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
)

// AlertSource streams alerts published by another process.
type AlertSource interface {
	SubscribeAlerts(ctx context.Context, out chan<- model.Alert) error
}

// RecentSource returns up to n of the newest alerts, oldest first.
type RecentSource interface {
	RecentAlerts(ctx context.Context, n int64) ([]model.Alert, error)
}

const channelPrefix = "alerts:"

func alertChannel(symbol string) string { return channelPrefix + strings.ToUpper(symbol) }

// Hub manages WebSocket clients and alert fan-out.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// Latency tracks signal time to broadcast.
	Latency     *LatencyTracker
	Broadcaster *Broadcaster

	now func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

var _ model.AlertSink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
		now:         time.Now,
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Publish broadcasts a on its symbol channel.
func (h *Hub) Publish(_ context.Context, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	h.Broadcaster.Broadcast(alertChannel(a.Symbol), data, a.Timestamp)
	return nil
}

// Run forwards alerts from src until ctx is cancelled, resubscribing with
// backoff when the subscription fails.
func (h *Hub) Run(ctx context.Context, src AlertSource) {
	in := make(chan model.Alert, 1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-in:
				h.Publish(ctx, a)
			}
		}
	}()

	delay := 2 * time.Second
	for {
		err := src.SubscribeAlerts(ctx, in)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			delay = 2 * time.Second
		}
		log.Printf("[gateway] alert subscription ended (%v), retrying in %s", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// HandleWS registers an upgraded connection. Channels updated after lastTS
// (RFC 3339, all when empty) are sent first.
func (h *Hub) HandleWS(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// GetLatestAll returns the newest alert per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes of channel with seq in
// [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// GetChannelSeq returns the current sequence number of channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is the periodic status message sent to every client.
type Stats struct {
	Type         string  `json:"type"`
	Clients      int     `json:"clients"`
	Channels     int     `json:"channels"`
	LatencyP50   float64 `json:"latency_p50_ms"`
	LatencyP95   float64 `json:"latency_p95_ms"`
	LatencyP99   float64 `json:"latency_p99_ms"`
	MarketStatus string  `json:"market_status"`
	UptimeSec    int64   `json:"uptime_sec"`
}

// Stats returns the current hub status.
func (h *Hub) Stats(session markethours.Session, start time.Time) Stats {
	now := h.now()
	h.mu.RLock()
	s := Stats{Type: "stats", Clients: len(h.clients), Channels: len(h.latest)}
	h.mu.RUnlock()
	s.LatencyP50, s.LatencyP95, s.LatencyP99 = h.Latency.Percentiles()
	s.MarketStatus = session.StatusString(now)
	s.UptimeSec = int64(now.Sub(start).Seconds())
	return s
}

// StartStatsBroadcast sends Stats to every client each interval.
func (h *Hub) StartStatsBroadcast(ctx context.Context, session markethours.Session, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, _ := json.Marshal(h.Stats(session, start))
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
