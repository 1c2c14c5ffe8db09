package condition

import (
	"time"

	"momentum-trader/internal/pattern"
)

// Params holds the tunables the built-in profiles are assembled from.
type Params struct {
	PriceSurgePct   float64
	VolumeSurgeMult float64
	SurgeLookback   time.Duration
	PatternLookback int
	PatternMinBars  int
	VolumeWindow    int
	MACDMinBars     int
}

// DefaultParams returns the realtime scanner thresholds (0.5% / 2x over 10s)
// and the momentum pattern windows.
func DefaultParams() Params {
	return Params{
		PriceSurgePct:   0.5,
		VolumeSurgeMult: 2.0,
		SurgeLookback:   10 * time.Second,
		PatternLookback: pattern.DefaultPatternLookback,
		PatternMinBars:  pattern.DefaultPatternMinBars,
		VolumeWindow:    pattern.DefaultVolumeWindow,
		MACDMinBars:     30,
	}
}

// ScannerProfile is the alert scanner set: price above VWAP, price surge and
// volume surge.
func ScannerProfile(p Params) *Set {
	return NewSet("scanner").
		Add(PriceAboveVWAP{}).
		Add(PriceSurge{ThresholdPct: p.PriceSurgePct, Lookback: p.SurgeLookback}).
		Add(VolumeSurge{Multiple: p.VolumeSurgeMult, Lookback: p.SurgeLookback})
}

// MomentumProfile is the trading entry set: pullback breakout, MACD,
// volume confirmation and VWAP.
func MomentumProfile(p Params) *Set {
	return NewSet("momentum").
		Add(PullbackBreakout{Lookback: p.PatternLookback, MinBars: p.PatternMinBars}).
		Add(MACDPositive{MinBars: p.MACDMinBars}).
		Add(VolumeConfirmation{Window: p.VolumeWindow}).
		Add(PriceAboveVWAP{})
}

// Profile returns the named profile, or nil for an unknown name.
func Profile(name string, p Params) *Set {
	switch name {
	case "scanner", "scan", "alerts":
		return ScannerProfile(p)
	case "momentum", "trade":
		return MomentumProfile(p)
	}
	return nil
}
