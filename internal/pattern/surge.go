package pattern

import (
	"fmt"
	"time"

	"momentum-trader/internal/model"
)

// Point is one timestamped sample of a price or volume history.
type Point struct {
	TS    time.Time
	Value float64
}

// Surge is the outcome of PriceSurge or VolumeSurge.
//
// For price, Change is the percentage rise from Base (the window minimum)
// to Current. For volume, Change is the multiple of Current over Base (the
// historical average).
type Surge struct {
	Triggered bool
	Change    float64
	Base      float64
	Current   float64
}

func window(history []Point, now time.Time, lookback time.Duration) []Point {
	cutoff := now.Add(-lookback)
	out := make([]Point, 0, len(history))
	for _, p := range history {
		if !p.TS.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func minValue(points []Point) float64 {
	m := points[0].Value
	for _, p := range points[1:] {
		if p.Value < m {
			m = p.Value
		}
	}
	return m
}

// PriceSurge measures the rise from the lowest price in the lookback window
// to current. It triggers when the rise is at least thresholdPct percent.
func PriceSurge(history []Point, now time.Time, lookback time.Duration, current, thresholdPct float64) (Surge, error) {
	if len(history) < 2 {
		return Surge{}, fmt.Errorf("price history has %d points: %w", len(history), model.ErrInsufficientData)
	}
	recent := window(history, now, lookback)
	if len(recent) < 2 {
		return Surge{}, fmt.Errorf("price window has %d points: %w", len(recent), model.ErrInsufficientData)
	}

	base := minValue(recent)
	out := Surge{Base: base, Current: current}
	if base == 0 {
		return out, nil
	}
	out.Change = (current - base) / base * 100
	out.Triggered = out.Change >= thresholdPct
	return out, nil
}

// VolumeSurge measures current volume against the average of every
// historical value except the last. With fewer than three points the window
// minimum is used as the baseline. It triggers when the multiple is at least
// multiple.
func VolumeSurge(history []Point, now time.Time, lookback time.Duration, current, multiple float64) (Surge, error) {
	if len(history) < 2 {
		return Surge{}, fmt.Errorf("volume history has %d points: %w", len(history), model.ErrInsufficientData)
	}
	recent := window(history, now, lookback)
	if len(recent) < 2 {
		return Surge{}, fmt.Errorf("volume window has %d points: %w", len(recent), model.ErrInsufficientData)
	}

	var base float64
	if len(history) >= 3 {
		var sum float64
		for _, p := range history[:len(history)-1] {
			sum += p.Value
		}
		base = sum / float64(len(history)-1)
	} else {
		base = minValue(recent)
	}

	out := Surge{Base: base, Current: current}
	if base <= 0 {
		return out, nil
	}
	out.Change = current / base
	out.Triggered = out.Change >= multiple
	return out, nil
}
