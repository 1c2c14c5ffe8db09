package portfolio

import (
	"log"
	"sync"
)

// RiskLimits defines configurable entry gates.
type RiskLimits struct {
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`     // dollars, 0 disables
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"` // percent of peak equity, 0 disables
}

// DefaultRiskLimits returns three concurrent positions and no loss gates.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{MaxOpenPositions: 3}
}

// RiskManager gates new entries against limits and tracks equity.
type RiskManager struct {
	mu        sync.RWMutex
	limits    RiskLimits
	portfolio *Portfolio

	dailyPnL   float64
	equity     float64
	peakEquity float64
}

// NewRiskManager creates a RiskManager with the given limits, portfolio, and starting equity.
func NewRiskManager(limits RiskLimits, pf *Portfolio, initialEquity float64) *RiskManager {
	return &RiskManager{
		limits:     limits,
		portfolio:  pf,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// CanEnter checks whether a new position in symbol is allowed.
// Returns true if allowed, false with a reason if not.
func (rm *RiskManager) CanEnter(symbol string) (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.portfolio != nil {
		if rm.portfolio.Has(symbol) {
			return false, "position already open"
		}
		if rm.limits.MaxOpenPositions > 0 && rm.portfolio.Count() >= rm.limits.MaxOpenPositions {
			return false, "max open positions reached"
		}
	}

	if rm.limits.MaxDailyLoss > 0 && rm.dailyPnL <= -rm.limits.MaxDailyLoss {
		return false, "max daily loss reached"
	}

	if rm.limits.MaxDrawdownPct > 0 && rm.peakEquity > 0 {
		drawdown := (rm.peakEquity - rm.equity) / rm.peakEquity * 100
		if drawdown >= rm.limits.MaxDrawdownPct {
			return false, "max drawdown exceeded"
		}
	}

	return true, ""
}

// RecordPnL updates daily P&L and equity tracking.
func (rm *RiskManager) RecordPnL(pnl float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dailyPnL += pnl
	rm.equity += pnl
	if rm.equity > rm.peakEquity {
		rm.peakEquity = rm.equity
	}

	log.Printf("[risk] daily P&L: %.2f, equity: %.2f, peak: %.2f", rm.dailyPnL, rm.equity, rm.peakEquity)
}

// ResetDaily resets the daily P&L counter (call at session open).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = 0
}

// RiskStatus is a point-in-time view of the risk counters.
type RiskStatus struct {
	DailyPnL    float64    `json:"daily_pnl"`
	Equity      float64    `json:"equity"`
	PeakEquity  float64    `json:"peak_equity"`
	DrawdownPct float64    `json:"drawdown_pct"`
	Limits      RiskLimits `json:"limits"`
}

// Status returns current risk status.
func (rm *RiskManager) Status() RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	drawdown := 0.0
	if rm.peakEquity > 0 {
		drawdown = (rm.peakEquity - rm.equity) / rm.peakEquity * 100
	}
	return RiskStatus{
		DailyPnL:    rm.dailyPnL,
		Equity:      rm.equity,
		PeakEquity:  rm.peakEquity,
		DrawdownPct: drawdown,
		Limits:      rm.limits,
	}
}
