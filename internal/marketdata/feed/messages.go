package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"momentum-trader/internal/model"
)

// Message types on the stream, keyed by the "T" field.
const (
	TypeTrade        = "t"
	TypeQuote        = "q"
	TypeBar          = "b"
	TypeSuccess      = "success"
	TypeError        = "error"
	TypeSubscription = "subscription"
)

// Message is one element of a stream frame. Frames are JSON arrays; each
// element carries only the fields of its type.
type Message struct {
	T      string    `json:"T"`
	Symbol string    `json:"S,omitempty"`
	TS     time.Time `json:"t,omitempty"`

	// trade
	Price float64 `json:"p,omitempty"`
	Size  int64   `json:"s,omitempty"`

	// quote
	BidPrice float64 `json:"bp,omitempty"`
	BidSize  int64   `json:"bs,omitempty"`
	AskPrice float64 `json:"ap,omitempty"`
	AskSize  int64   `json:"as,omitempty"`

	// bar
	Open   float64 `json:"o,omitempty"`
	High   float64 `json:"h,omitempty"`
	Low    float64 `json:"l,omitempty"`
	Close  float64 `json:"c,omitempty"`
	Volume int64   `json:"v,omitempty"`
	VWAP   float64 `json:"vw,omitempty"`
	Count  int     `json:"n,omitempty"`

	// control
	Msg  string `json:"msg,omitempty"`
	Code int    `json:"code,omitempty"`
}

// control messages sent by the client.
type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
	Bars   []string `json:"bars,omitempty"`
}

// Decode parses one frame. A frame may be a JSON array or a single object.
func Decode(raw []byte) ([]Message, error) {
	var msgs []Message
	if len(raw) > 0 && raw[0] == '{' {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return []Message{m}, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Tick converts a trade, quote or bar message into a tick. ok is false for
// control messages.
func (m *Message) Tick() (model.Tick, bool) {
	switch m.T {
	case TypeTrade:
		return model.Tick{Symbol: m.Symbol, TS: m.TS, Price: m.Price, Size: m.Size, Volume: m.Size}, true
	case TypeQuote:
		return model.Tick{Symbol: m.Symbol, TS: m.TS, Bid: m.BidPrice, Ask: m.AskPrice}, true
	default:
		return model.Tick{}, false
	}
}

// Candle converts a bar message into a candle.
func (m *Message) Candle() (model.Candle, bool) {
	if m.T != TypeBar {
		return model.Candle{}, false
	}
	return model.Candle{
		Symbol: m.Symbol,
		TS:     m.TS.UTC(),
		Open:   m.Open,
		High:   m.High,
		Low:    m.Low,
		Close:  m.Close,
		Volume: m.Volume,
		VWAP:   m.VWAP,
		Ticks:  m.Count,
	}, true
}

// Err returns the server error carried by an error message.
func (m *Message) Err() error {
	if m.T != TypeError {
		return nil
	}
	return fmt.Errorf("feed: server error %d: %s", m.Code, m.Msg)
}
