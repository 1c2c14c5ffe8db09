package model

import "time"

// Trade is a completed round trip for one position.
type Trade struct {
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Qty        int64     `json:"qty"`
	Reason     string    `json:"reason"`
	GrossPnL   float64   `json:"gross_pnl"`
	Commission float64   `json:"commission"`
	NetPnL     float64   `json:"net_pnl"`
}

// PnLPct returns the percentage move from entry to exit.
func (t *Trade) PnLPct() float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return (t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100
}

// Alert is a read-only record of a signal raised in scanning mode.
type Alert struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
	VWAP       float64   `json:"vwap"`
	Conditions []string  `json:"conditions"`
}
