package gateway

import (
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed symbols, upper case. Empty means every symbol.
	subMu sync.RWMutex
	subs  map[string]bool
}

// SubscribeMsg is the client request to add or remove symbols.
type SubscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	ReqID   string   `json:"req_id,omitempty"`
}

// AckMsg confirms a subscription change.
type AckMsg struct {
	Type    string   `json:"type"`
	ReqID   string   `json:"req_id,omitempty"`
	Symbols []string `json:"symbols"`
}

// ErrorMsg reports a rejected client request.
type ErrorMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Message string `json:"message"`
}

// SendJSON marshals v and queues it without blocking.
func SendJSON(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// SendError queues an error message.
func SendError(c *Client, reqID, msg string) {
	SendJSON(c, ErrorMsg{Type: "error", ReqID: reqID, Message: msg})
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}
	c.sendLatest(cutoff, nil)
}

// sendLatest queues the newest alert of every matching channel updated after
// cutoff. A nil symbols set uses the client's subscriptions.
func (c *Client) sendLatest(cutoff time.Time, symbols map[string]bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if symbols != nil {
			if !symbols[strings.TrimPrefix(channel, channelPrefix)] {
				continue
			}
		} else if !c.matchesChannel(channel) {
			continue
		}

		envelope, _ := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Queued messages share one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE", "UNSUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				SendError(c, "", "invalid "+base.Type+": "+err.Error())
				continue
			}
			if len(sub.Symbols) == 0 {
				SendError(c, sub.ReqID, "symbols are required")
				continue
			}
			if base.Type == "SUBSCRIBE" {
				c.subscribe(sub)
			} else {
				c.unsubscribe(sub)
			}
		default:
			if base.Ping > 0 {
				SendJSON(c, map[string]any{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

func (c *Client) subscribe(msg SubscribeMsg) {
	added := make(map[string]bool, len(msg.Symbols))
	c.subMu.Lock()
	for _, s := range msg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		c.subs[s] = true
		added[s] = true
	}
	current := c.symbolsLocked()
	c.subMu.Unlock()

	SendJSON(c, AckMsg{Type: "subscribed", ReqID: msg.ReqID, Symbols: current})
	c.sendLatest(time.Time{}, added)
	log.Printf("[gateway] client subscribed: %v", current)
}

func (c *Client) unsubscribe(msg SubscribeMsg) {
	c.subMu.Lock()
	for _, s := range msg.Symbols {
		delete(c.subs, strings.ToUpper(strings.TrimSpace(s)))
	}
	current := c.symbolsLocked()
	c.subMu.Unlock()

	SendJSON(c, AckMsg{Type: "unsubscribed", ReqID: msg.ReqID, Symbols: current})
}

func (c *Client) symbolsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// matchesChannel reports whether the client should receive channel.
// Non-alert channels always match.
func (c *Client) matchesChannel(channel string) bool {
	sym, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[sym]
}
