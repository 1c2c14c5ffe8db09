// Package pattern holds the candle and history detectors the entry
// conditions are built from. Detectors are pure functions over their input.
package pattern

import (
	"fmt"

	"momentum-trader/internal/model"
)

// Default windows for the surge-then-pullback detector.
const (
	DefaultPatternLookback = 20
	DefaultPatternMinBars  = 10
)

// Breakout is the outcome of SurgePullbackBreakout.
type Breakout struct {
	Detected     bool
	Peak         float64
	PeakIndex    int
	PullbackLow  float64
	PullbackPct  float64
	BreakoutHigh float64
	Reason       string
}

// SurgePullbackBreakout looks for a surge to a high, a pullback below it,
// and a final bullish candle breaking the prior candle's high.
//
// Only the last lookback candles are considered. The peak is the last
// occurrence of the highest high before the final candle; a peak on the
// second-to-last candle is treated as "still at high". PullbackLow is the
// structural stop anchor.
func SurgePullbackBreakout(candles []model.Candle, lookback, minBars int) (Breakout, error) {
	if lookback <= 0 {
		lookback = DefaultPatternLookback
	}
	if minBars < 2 {
		minBars = DefaultPatternMinBars
	}
	if len(candles) < minBars {
		return Breakout{Reason: "Not enough bars"},
			fmt.Errorf("pattern needs %d bars, have %d: %w", minBars, len(candles), model.ErrInsufficientData)
	}

	recent := candles
	if len(recent) > lookback {
		recent = recent[len(recent)-lookback:]
	}
	n := len(recent)

	// The final candle is the breakout candidate, so the peak is searched
	// over the candles before it.
	peakIdx := 0
	peak := recent[0].High
	for i := 1; i < n-1; i++ {
		if recent[i].High >= peak {
			peak = recent[i].High
			peakIdx = i
		}
	}

	out := Breakout{Peak: peak, PeakIndex: peakIdx}
	if peakIdx >= n-2 {
		out.Reason = "No pullback detected yet (still at high)"
		return out, nil
	}

	low := peak
	pulled := false
	for i := peakIdx + 1; i < n; i++ {
		if recent[i].Low < low {
			low = recent[i].Low
			pulled = true
		}
	}
	if !pulled {
		out.Reason = "No pullback after surge"
		return out, nil
	}
	out.PullbackLow = low

	last, prev := &recent[n-1], &recent[n-2]
	if !(last.High > prev.High && last.Bullish()) {
		out.Reason = "Waiting for first candle making new high"
		return out, nil
	}

	if peak > 0 {
		out.PullbackPct = (peak - low) / peak * 100
	}
	out.BreakoutHigh = last.High
	out.Detected = true
	out.Reason = fmt.Sprintf("Pattern detected: surge to %.2f, pullback to %.2f (-%.1f%%), new high at %.2f",
		peak, low, out.PullbackPct, last.High)
	return out, nil
}
