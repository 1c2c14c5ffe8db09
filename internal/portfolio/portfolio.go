// Package portfolio sizes entries, gates them against risk limits, and keeps
// the book of open positions and completed trades.
package portfolio

import (
	"sort"
	"sync"
)

// Holding is one open long position.
type Holding struct {
	Symbol    string  `json:"symbol"`
	Qty       int64   `json:"qty"`
	AvgPrice  float64 `json:"avg_price"`
	LastPrice float64 `json:"last_price"`
}

// UnrealizedPnL returns (last - avg)·qty.
func (h *Holding) UnrealizedPnL() float64 {
	if h.LastPrice <= 0 {
		return 0
	}
	return (h.LastPrice - h.AvgPrice) * float64(h.Qty)
}

// Portfolio tracks open positions by symbol.
type Portfolio struct {
	mu       sync.RWMutex
	holdings map[string]*Holding
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{holdings: make(map[string]*Holding)}
}

// Open records a filled entry.
func (pf *Portfolio) Open(symbol string, qty int64, price float64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.holdings[symbol] = &Holding{Symbol: symbol, Qty: qty, AvgPrice: price, LastPrice: price}
}

// Close removes a symbol's holding.
func (pf *Portfolio) Close(symbol string) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	delete(pf.holdings, symbol)
}

// UpdatePrice updates the last traded price for a holding.
func (pf *Portfolio) UpdatePrice(symbol string, price float64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if h, ok := pf.holdings[symbol]; ok && price > 0 {
		h.LastPrice = price
	}
}

// Has reports whether symbol has an open holding.
func (pf *Portfolio) Has(symbol string) bool {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	_, ok := pf.holdings[symbol]
	return ok
}

// Count returns the number of open holdings.
func (pf *Portfolio) Count() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return len(pf.holdings)
}

// Holdings returns a snapshot of all holdings sorted by symbol.
func (pf *Portfolio) Holdings() []Holding {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	out := make([]Holding, 0, len(pf.holdings))
	for _, h := range pf.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalUnrealizedPnL returns the unrealized P&L across all holdings.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, h := range pf.holdings {
		total += h.UnrealizedPnL()
	}
	return total
}
