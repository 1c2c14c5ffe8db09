package pattern

import (
	"fmt"

	"momentum-trader/internal/model"
)

// Volume detector defaults.
const (
	DefaultVolumeWindow  = 10
	minVolumeBars        = 5
	volumeTopMultiple    = 2.0
	volumeTopWickToBody  = 1.5
	sellingPressureBars  = 5
	sellingPressureLimit = 4
)

// VolumeCheck is the outcome of VolumeAnomaly. Either flag blocks entry.
type VolumeCheck struct {
	VolumeTop       bool
	SellingPressure bool
	RedCount        int
	LastVolume      int64
	AvgVolume       float64
	Reason          string
}

// OK reports whether neither blocking flag is set.
func (v VolumeCheck) OK() bool { return !v.VolumeTop && !v.SellingPressure }

// VolumeAnomaly inspects the trailing window for a volume top (heavy volume
// with a topping tail) and for excessive selling pressure (4 of the last 5
// candles red).
func VolumeAnomaly(candles []model.Candle, window int) (VolumeCheck, error) {
	if window < 2 {
		window = DefaultVolumeWindow
	}
	if len(candles) < minVolumeBars {
		return VolumeCheck{Reason: "Not enough bars for volume analysis"},
			fmt.Errorf("volume check needs %d bars, have %d: %w", minVolumeBars, len(candles), model.ErrInsufficientData)
	}

	recent := candles
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	last := &recent[len(recent)-1]

	var sum float64
	for i := 0; i < len(recent)-1; i++ {
		sum += float64(recent[i].Volume)
	}
	avg := sum / float64(len(recent)-1)

	out := VolumeCheck{LastVolume: last.Volume, AvgVolume: avg}

	if float64(last.Volume) > avg*volumeTopMultiple && last.UpperWick() > last.Body()*volumeTopWickToBody {
		out.VolumeTop = true
		out.Reason = fmt.Sprintf("Volume top detected: high volume (%d vs avg %.0f) with topping tail", last.Volume, avg)
		return out, nil
	}

	tail := recent
	if len(tail) > sellingPressureBars {
		tail = tail[len(tail)-sellingPressureBars:]
	}
	for i := range tail {
		if tail[i].Red() {
			out.RedCount++
		}
	}
	if out.RedCount >= sellingPressureLimit {
		out.SellingPressure = true
		out.Reason = fmt.Sprintf("Excessive selling pressure: %d/%d red candles", out.RedCount, sellingPressureBars)
		return out, nil
	}

	out.Reason = fmt.Sprintf("Volume OK: current=%d, avg=%.0f, no topping pattern", last.Volume, avg)
	return out, nil
}
