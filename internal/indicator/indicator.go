// Package indicator computes technical indicators over ordered price and
// candle sequences.
//
// The functions are pure: they read their input, never mutate it, and use no
// values past the last element. SessionVWAP is the one stateful helper and
// exists for streaming callers that cannot keep a full day of candles.
package indicator

import "momentum-trader/internal/model"

// EMA returns the exponential moving average series for the given period.
// The first value is seeded with series[0]; each following value is
// x[i]*α + ema[i-1]*(1-α) with α = 2/(period+1).
func EMA(series []float64, period int) []float64 {
	if len(series) == 0 || period <= 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(series))
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = series[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// Closes extracts close prices from candles.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
