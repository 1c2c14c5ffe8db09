package condition

import (
	"errors"
	"fmt"
	"time"

	"momentum-trader/internal/indicator"
	"momentum-trader/internal/model"
	"momentum-trader/internal/pattern"
)

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d/time.Second))
}

func fail(reason string) Result { return Result{Reason: reason} }

func pass(reason string) Result { return Result{Passed: true, Reason: reason} }

// PriceAboveVWAP passes when the snapshot price is strictly above its VWAP.
type PriceAboveVWAP struct{}

func (PriceAboveVWAP) Name() string { return "Price Above VWAP" }

func (PriceAboveVWAP) Evaluate(s *Snapshot) Result {
	if s.VWAP <= 0 {
		return fail("VWAP unavailable")
	}
	if s.Price > s.VWAP {
		return pass(fmt.Sprintf("Price $%.2f > VWAP $%.2f", s.Price, s.VWAP))
	}
	return fail(fmt.Sprintf("Price $%.2f <= VWAP $%.2f", s.Price, s.VWAP))
}

// PriceSurge passes when price rose at least ThresholdPct percent from the
// lowest price within Lookback.
type PriceSurge struct {
	ThresholdPct float64
	Lookback     time.Duration
}

func (c PriceSurge) Name() string { return "Price Surge (Last " + seconds(c.Lookback) + ")" }

func (c PriceSurge) Evaluate(s *Snapshot) Result {
	r, err := pattern.PriceSurge(s.PriceHistory, s.Timestamp, c.Lookback, s.Price, c.ThresholdPct)
	if err != nil {
		return fail(errReason(err))
	}
	if !r.Triggered {
		return fail(fmt.Sprintf("Price change %.2f%% below %.2f%%", r.Change, c.ThresholdPct))
	}
	return pass(fmt.Sprintf("Price surged %.2f%% in last %s ($%.2f -> $%.2f)",
		r.Change, seconds(c.Lookback), r.Base, r.Current))
}

// VolumeSurge passes when the current volume is at least Multiple times the
// historical average.
type VolumeSurge struct {
	Multiple float64
	Lookback time.Duration
}

func (c VolumeSurge) Name() string { return "Volume Surge (Last " + seconds(c.Lookback) + ")" }

func (c VolumeSurge) Evaluate(s *Snapshot) Result {
	r, err := pattern.VolumeSurge(s.VolumeHistory, s.Timestamp, c.Lookback, float64(s.Volume), c.Multiple)
	if err != nil {
		return fail(errReason(err))
	}
	if !r.Triggered {
		return fail(fmt.Sprintf("Volume multiple %.2fx below %.2fx", r.Change, c.Multiple))
	}
	return pass(fmt.Sprintf("Volume surged %.2fx in last %s (Avg: %.0f -> Current: %.0f)",
		r.Change, seconds(c.Lookback), r.Base, r.Current))
}

// PullbackBreakout passes on a surge, pullback and first new-high candle.
// The pullback low is returned as the result Anchor.
type PullbackBreakout struct {
	Lookback int
	MinBars  int
}

func (PullbackBreakout) Name() string { return "Pullback Breakout" }

func (c PullbackBreakout) Evaluate(s *Snapshot) Result {
	b, err := pattern.SurgePullbackBreakout(s.Bars, c.Lookback, c.MinBars)
	if err != nil {
		return fail(b.Reason)
	}
	if !b.Detected {
		return fail(b.Reason)
	}
	r := pass(b.Reason)
	r.Anchor = b.PullbackLow
	return r
}

// MACDPositive passes when MACD is above its signal line with a positive
// histogram.
type MACDPositive struct {
	MinBars int
}

func (MACDPositive) Name() string { return "MACD Positive" }

func (c MACDPositive) Evaluate(s *Snapshot) Result {
	if len(s.Bars) < c.MinBars {
		return fail("Not enough data")
	}
	v, err := indicator.DefaultMACD(indicator.Closes(s.Bars))
	if err != nil {
		return fail("MACD calculation failed")
	}
	if v.MACD <= v.Signal {
		return fail(fmt.Sprintf("MACD negative: %.4f <= %.4f", v.MACD, v.Signal))
	}
	if v.Histogram <= 0 {
		return fail(fmt.Sprintf("MACD crossing down: histogram=%.4f", v.Histogram))
	}
	return pass(fmt.Sprintf("MACD positive: %.4f > %.4f, histogram=%.4f", v.MACD, v.Signal, v.Histogram))
}

// VolumeConfirmation passes when there is neither a volume top nor
// excessive selling pressure.
type VolumeConfirmation struct {
	Window int
}

func (VolumeConfirmation) Name() string { return "Volume Confirmation" }

func (c VolumeConfirmation) Evaluate(s *Snapshot) Result {
	v, err := pattern.VolumeAnomaly(s.Bars, c.Window)
	if err != nil || !v.OK() {
		return fail(v.Reason)
	}
	return pass(v.Reason)
}

func errReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		return "Not enough history"
	case errors.Is(err, model.ErrInvalidInput):
		return "Invalid input"
	}
	return err.Error()
}
