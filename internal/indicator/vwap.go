package indicator

import (
	"fmt"
	"time"

	"momentum-trader/internal/model"
)

// VWAP returns Σ(typicalPrice·volume)/Σ(volume) over the candles, where
// typicalPrice = (high+low+close)/3.
func VWAP(candles []model.Candle) (float64, error) {
	if len(candles) < 2 {
		return 0, fmt.Errorf("vwap needs 2 candles, have %d: %w", len(candles), model.ErrInsufficientData)
	}
	var pv, vol float64
	for i := range candles {
		v := float64(candles[i].Volume)
		pv += candles[i].TypicalPrice() * v
		vol += v
	}
	if vol == 0 {
		return 0, fmt.Errorf("vwap over zero volume: %w", model.ErrInvalidInput)
	}
	return pv / vol, nil
}

// SessionVWAP accumulates a running VWAP that resets when the calendar day
// (in loc) changes. It gives the same value as VWAP over the day's candles.
type SessionVWAP struct {
	loc   *time.Location
	day   time.Time
	pv    float64
	vol   float64
	count int
}

// NewSessionVWAP creates an accumulator whose day boundary is computed in loc.
// A nil loc means UTC.
func NewSessionVWAP(loc *time.Location) *SessionVWAP {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionVWAP{loc: loc}
}

// Add folds a candle into the running sums.
func (s *SessionVWAP) Add(c model.Candle) {
	t := c.TS.In(s.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	if !day.Equal(s.day) {
		s.day = day
		s.pv, s.vol, s.count = 0, 0, 0
	}
	v := float64(c.Volume)
	s.pv += c.TypicalPrice() * v
	s.vol += v
	s.count++
}

// Value returns the current session VWAP under the same rules as VWAP.
func (s *SessionVWAP) Value() (float64, error) {
	if s.count < 2 {
		return 0, fmt.Errorf("session vwap needs 2 candles, have %d: %w", s.count, model.ErrInsufficientData)
	}
	if s.vol == 0 {
		return 0, fmt.Errorf("session vwap over zero volume: %w", model.ErrInvalidInput)
	}
	return s.pv / s.vol, nil
}

// Count returns the number of candles in the current session.
func (s *SessionVWAP) Count() int { return s.count }
