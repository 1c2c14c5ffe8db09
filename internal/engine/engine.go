// Package engine drives the signal evaluators and position machines. The
// ReplayRunner walks a historical series deterministically; the LiveRunner
// consumes the feed, the order gateway and a clock concurrently.
package engine

import (
	"fmt"
	"time"

	"momentum-trader/internal/condition"
	"momentum-trader/internal/model"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	"momentum-trader/internal/signal"
)

// Mode selects what the runner does with signals.
type Mode string

const (
	// ModeAlerts records and publishes alerts only.
	ModeAlerts Mode = "alerts"
	// ModeTrade also opens positions.
	ModeTrade Mode = "trade"
)

// ParseMode accepts "alerts"/"scan" and "trade".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "alerts", "scan":
		return ModeAlerts, nil
	case "trade":
		return ModeTrade, nil
	}
	return "", fmt.Errorf("engine: unknown mode %q: %w", s, model.ErrInvalidInput)
}

// Profile returns the condition profile name used by the mode.
func (m Mode) Profile() string {
	if m == ModeTrade {
		return "momentum"
	}
	return "scanner"
}

// SetFactory builds a fresh condition set for a symbol. Sets carry
// per-evaluation results, so every symbol needs its own.
type SetFactory func(symbol string) *condition.Set

// ProfileSets returns a factory for the named built-in profile.
func ProfileSets(profile string, p condition.Params) SetFactory {
	return func(string) *condition.Set { return condition.Profile(profile, p) }
}

// Sizing holds the position sizing fractions.
type Sizing struct {
	RiskPct  float64
	AllocPct float64
}

// DefaultSizing risks 10% of the balance and allocates at most 50%.
func DefaultSizing() Sizing {
	return Sizing{RiskPct: portfolio.DefaultRiskPct, AllocPct: portfolio.DefaultAllocPct}
}

// enter plans and submits an entry for sig. It returns no actions when the
// levels are invalid or the size rounds to zero.
func enter(m *position.Machine, sig *signal.Signal, ask, balance float64, sz Sizing, barTS, now time.Time) ([]position.Action, error) {
	levels, err := m.Plan(ask, sig.StopAnchor)
	if err != nil {
		return nil, err
	}
	qty := portfolio.SizePosition(balance, levels.Entry, levels.Stop, sz.RiskPct, sz.AllocPct)
	if qty < 1 {
		return nil, fmt.Errorf("size %s balance=%.2f entry=%.2f stop=%.2f: %w",
			m.Symbol(), balance, levels.Entry, levels.Stop, model.ErrInvalidInput)
	}
	return m.Enter(levels, qty, barTS, now)
}

// syncHolding mirrors the machine's exposure into the portfolio the risk
// manager counts. Pending entries count as holdings at their limit price and
// are re-based on the fill.
func syncHolding(pf *portfolio.Portfolio, m *position.Machine, before position.State) {
	if pf == nil {
		return
	}
	sym := m.Symbol()
	p := m.Position()
	switch {
	case !m.Active():
		pf.Close(sym)
	case !pf.Has(sym), before != position.Open && p.State == position.Open:
		pf.Open(sym, p.Quantity, p.EntryPrice)
	}
}
