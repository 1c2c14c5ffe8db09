package model

import "time"

// Tick is a single live market data update for one symbol.
// Price, Bid and Ask are in dollars; zero means "not present in this update".
type Tick struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Size   int64     `json:"size"`   // last trade size
	Volume int64     `json:"volume"` // volume value evaluated by the surge conditions
	VWAP   float64   `json:"vwap,omitempty"`
	Bid    float64   `json:"bid,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
}

// IsQuote reports whether the tick carries a bid or ask.
func (t *Tick) IsQuote() bool { return t.Bid > 0 || t.Ask > 0 }

// IsTrade reports whether the tick carries a last-trade price.
func (t *Tick) IsTrade() bool { return t.Price > 0 }
