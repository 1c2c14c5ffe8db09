package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for a single symbol. Prices are in dollars.
type Candle struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	VWAP   float64   `json:"vwap,omitempty"` // 0 when the source did not supply one
	Ticks  int       `json:"ticks,omitempty"`
}

// Bullish reports whether the bar closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Red reports whether the bar closed below its open.
func (c *Candle) Red() bool { return c.Close < c.Open }

// Body returns the absolute size of the candle body.
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick returns the distance between the high and the top of the body.
func (c *Candle) UpperWick() float64 {
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	return c.High - top
}

// TypicalPrice returns (high+low+close)/3.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
