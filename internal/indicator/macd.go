package indicator

import (
	"fmt"

	"momentum-trader/internal/model"
)

// Standard MACD periods.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACDValue is the MACD reading at the latest index.
type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes macdLine = ema(fast) - ema(slow), signalLine = ema(macdLine, signal)
// and histogram = macdLine - signalLine, returning the values at the last index.
// It fails with ErrInsufficientData when len(closes) < slow.
func MACD(closes []float64, fast, slow, signal int) (MACDValue, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDValue{}, fmt.Errorf("macd periods %d/%d/%d: %w", fast, slow, signal, model.ErrInvalidInput)
	}
	if len(closes) < slow {
		return MACDValue{}, fmt.Errorf("macd needs %d closes, have %d: %w", slow, len(closes), model.ErrInsufficientData)
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)

	last := len(closes) - 1
	return MACDValue{
		MACD:      line[last],
		Signal:    sig[last],
		Histogram: line[last] - sig[last],
	}, nil
}

// DefaultMACD runs MACD with the 12/26/9 periods.
func DefaultMACD(closes []float64) (MACDValue, error) {
	return MACD(closes, MACDFast, MACDSlow, MACDSignal)
}
