package portfolio

import (
	"math"
	"sync"

	"momentum-trader/internal/model"
)

// CommissionSchedule is a per-share commission with a per-order floor and a
// cap as a fraction of notional.
type CommissionSchedule struct {
	PerShare float64 `yaml:"per_share"`
	Min      float64 `yaml:"min"`
	MaxPct   float64 `yaml:"max_pct"`
}

// DefaultCommission is $0.005/share, $1.00 minimum, 1% of notional maximum.
func DefaultCommission() CommissionSchedule {
	return CommissionSchedule{PerShare: 0.005, Min: 1.00, MaxPct: 0.01}
}

// Commission returns the commission for one side of a trade.
func (c CommissionSchedule) Commission(qty int64, price float64) float64 {
	if qty <= 0 {
		return 0
	}
	fee := float64(qty) * c.PerShare
	if fee < c.Min {
		fee = c.Min
	}
	if c.MaxPct > 0 {
		if ceiling := float64(qty) * price * c.MaxPct; ceiling > 0 && fee > ceiling {
			fee = ceiling
		}
	}
	return fee
}

// Stats summarizes the completed trades.
type Stats struct {
	Trades          int     `json:"trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`      // percent
	ProfitFactor    float64 `json:"profit_factor"` // +Inf when there are no losses
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	TotalCommission float64 `json:"total_commission"`
	GrossPnL        float64 `json:"gross_pnl"`
	NetPnL          float64 `json:"net_pnl"`
	StartCapital    float64 `json:"start_capital"`
	FinalCapital    float64 `json:"final_capital"`
}

// ReturnPct returns the net return on starting capital.
func (s Stats) ReturnPct() float64 {
	if s.StartCapital == 0 {
		return 0
	}
	return s.NetPnL / s.StartCapital * 100
}

// Ledger records completed trades, charges commission on both sides and
// tracks the equity curve.
type Ledger struct {
	mu         sync.RWMutex
	schedule   CommissionSchedule
	start      float64
	capital    float64
	peak       float64
	maxDD      float64
	grossWin   float64
	grossLoss  float64
	commission float64
	trades     []model.Trade
}

// NewLedger creates a ledger starting at capital.
func NewLedger(capital float64, schedule CommissionSchedule) *Ledger {
	return &Ledger{
		schedule: schedule,
		start:    capital,
		capital:  capital,
		peak:     capital,
		trades:   make([]model.Trade, 0, 64),
	}
}

// Record charges commission on t and appends it. The returned trade carries
// Commission and NetPnL.
func (l *Ledger) Record(t model.Trade) model.Trade {
	buy := l.schedule.Commission(t.Qty, t.EntryPrice)
	sell := l.schedule.Commission(t.Qty, t.ExitPrice)
	t.GrossPnL = (t.ExitPrice - t.EntryPrice) * float64(t.Qty)
	t.Commission = buy + sell
	t.NetPnL = t.GrossPnL - t.Commission

	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades = append(l.trades, t)
	l.commission += t.Commission
	l.capital += t.NetPnL
	if t.NetPnL > 0 {
		l.grossWin += t.NetPnL
	} else {
		l.grossLoss += -t.NetPnL
	}
	if l.capital > l.peak {
		l.peak = l.capital
	}
	if l.peak > 0 {
		if dd := (l.peak - l.capital) / l.peak * 100; dd > l.maxDD {
			l.maxDD = dd
		}
	}
	return t
}

// Capital returns the current capital.
func (l *Ledger) Capital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capital
}

// Trades returns a snapshot of all trades.
func (l *Ledger) Trades() []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.Trade, len(l.trades))
	copy(cp, l.trades)
	return cp
}

// Stats returns the current summary.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Trades:          len(l.trades),
		MaxDrawdownPct:  l.maxDD,
		TotalCommission: l.commission,
		StartCapital:    l.start,
		FinalCapital:    l.capital,
		NetPnL:          l.capital - l.start,
	}
	for _, t := range l.trades {
		s.GrossPnL += t.GrossPnL
		if t.NetPnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	switch {
	case l.grossLoss > 0:
		s.ProfitFactor = l.grossWin / l.grossLoss
	case l.grossWin > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
