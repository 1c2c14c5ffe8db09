package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"momentum-trader/internal/marketdata/feed"
)

// request is any control message a client sends.
type request struct {
	Action string   `json:"action"`
	Key    string   `json:"key"`
	Secret string   `json:"secret"`
	Trades []string `json:"trades"`
	Quotes []string `json:"quotes"`
	Bars   []string `json:"bars"`
}

type subscription struct {
	trades, quotes, bars map[string]bool
}

func newSubscription(r request) subscription {
	set := func(syms []string) map[string]bool {
		m := make(map[string]bool, len(syms))
		for _, s := range syms {
			m[strings.ToUpper(s)] = true
		}
		return m
	}
	return subscription{trades: set(r.Trades), quotes: set(r.Quotes), bars: set(r.Bars)}
}

func (s subscription) wants(m *feed.Message) bool {
	switch m.T {
	case feed.TypeTrade:
		return s.trades[m.Symbol] || s.trades["*"]
	case feed.TypeQuote:
		return s.quotes[m.Symbol] || s.quotes["*"]
	case feed.TypeBar:
		return s.bars[m.Symbol] || s.bars["*"]
	}
	return false
}

type client struct {
	sub subscription
	out chan []byte
}

// hub tracks authenticated clients and fans frames out to them. A slow
// client loses frames rather than stalling the others.
type hub struct {
	key, secret string

	mu    sync.RWMutex
	conns map[*websocket.Conn]*client
}

func newHub(key, secret string) *hub {
	return &hub{key: key, secret: secret, conns: make(map[*websocket.Conn]*client)}
}

func (h *hub) clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// broadcast sends each client the messages it subscribed to, as one frame.
func (h *hub) broadcast(msgs []feed.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		var frame []feed.Message
		for i := range msgs {
			if c.sub.wants(&msgs[i]) {
				frame = append(frame, msgs[i])
			}
		}
		if len(frame) == 0 {
			continue
		}
		b, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		select {
		case c.out <- b:
		default: // slow client, drop frame
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[tickserver] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub, ok := h.handshake(conn)
	if !ok {
		return
	}
	c := &client{sub: sub, out: make(chan []byte, 256)}
	h.mu.Lock()
	h.conns[conn] = c
	h.mu.Unlock()
	log.Printf("[tickserver] client %s subscribed (%d trades, %d quotes, %d bars)",
		r.RemoteAddr, len(sub.trades), len(sub.quotes), len(sub.bars))

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
	}()

	// Read pump: only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// handshake runs welcome, auth and subscribe.
func (h *hub) handshake(conn *websocket.Conn) (subscription, bool) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	if err := send(conn, feed.Message{T: feed.TypeSuccess, Msg: "connected"}); err != nil {
		return subscription{}, false
	}

	var auth request
	if err := conn.ReadJSON(&auth); err != nil || auth.Action != "auth" {
		send(conn, feed.Message{T: feed.TypeError, Code: 401, Msg: "not authenticated"})
		return subscription{}, false
	}
	if h.key != "" && (auth.Key != h.key || auth.Secret != h.secret) {
		send(conn, feed.Message{T: feed.TypeError, Code: 402, Msg: "auth failed"})
		return subscription{}, false
	}
	if err := send(conn, feed.Message{T: feed.TypeSuccess, Msg: "authenticated"}); err != nil {
		return subscription{}, false
	}

	var sub request
	if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" {
		send(conn, feed.Message{T: feed.TypeError, Code: 400, Msg: "invalid syntax"})
		return subscription{}, false
	}
	if err := send(conn, feed.Message{T: feed.TypeSubscription}); err != nil {
		return subscription{}, false
	}
	return newSubscription(sub), true
}

func send(conn *websocket.Conn, m feed.Message) error {
	return conn.WriteJSON([]feed.Message{m})
}
