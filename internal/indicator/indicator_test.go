package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/model"
)

func TestEMA_SeededWithFirstValue(t *testing.T) {
	out := EMA([]float64{10, 20, 30}, 3) // α = 0.5
	require.Len(t, out, 3)
	assert.Equal(t, 10.0, out[0])
	assert.InDelta(t, 15.0, out[1], 1e-9)
	assert.InDelta(t, 22.5, out[2], 1e-9)
}

func TestEMA_EmptyInput(t *testing.T) {
	assert.Nil(t, EMA(nil, 9))
	assert.Nil(t, EMA([]float64{1}, 0))
}

func TestMACD_InsufficientData(t *testing.T) {
	for n := 0; n < MACDSlow; n++ {
		closes := make([]float64, n)
		_, err := DefaultMACD(closes)
		if !errors.Is(err, model.ErrInsufficientData) {
			t.Fatalf("len=%d: expected ErrInsufficientData, got %v", n, err)
		}
	}
}

func TestMACD_ConstantSeriesConverges(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 42.5
	}
	v, err := DefaultMACD(closes)
	require.NoError(t, err)
	assert.InDelta(t, 0, v.MACD, 1e-9)
	assert.InDelta(t, 0, v.Signal, 1e-9)
	assert.InDelta(t, 0, v.Histogram, 1e-9)
}

func TestMACD_RisingSeriesPositive(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10 + float64(i)*0.1
	}
	v, err := DefaultMACD(closes)
	require.NoError(t, err)
	assert.Greater(t, v.MACD, 0.0)
	assert.InDelta(t, v.MACD-v.Signal, v.Histogram, 1e-12)
}

func TestVWAP_TwoCandles(t *testing.T) {
	candles := []model.Candle{
		{High: 10, Low: 10, Close: 10, Volume: 1},
		{High: 20, Low: 20, Close: 20, Volume: 1},
	}
	v, err := VWAP(candles)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, v, 1e-9)
}

func TestVWAP_Failures(t *testing.T) {
	_, err := VWAP([]model.Candle{{High: 1, Low: 1, Close: 1, Volume: 5}})
	assert.ErrorIs(t, err, model.ErrInsufficientData)

	_, err = VWAP([]model.Candle{{High: 1, Low: 1, Close: 1}, {High: 2, Low: 2, Close: 2}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSessionVWAP_MatchesBatchAndResetsDaily(t *testing.T) {
	day1 := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	candles := []model.Candle{
		{TS: day1, High: 10.5, Low: 9.5, Close: 10, Volume: 300},
		{TS: day1.Add(10 * time.Second), High: 11, Low: 10, Close: 10.8, Volume: 500},
		{TS: day1.Add(20 * time.Second), High: 11.2, Low: 10.6, Close: 11.1, Volume: 200},
	}

	s := NewSessionVWAP(time.UTC)
	for _, c := range candles {
		s.Add(c)
	}
	want, err := VWAP(candles)
	require.NoError(t, err)
	got, err := s.Value()
	require.NoError(t, err)
	assert.True(t, math.Abs(want-got) < 1e-9, "want %f got %f", want, got)

	s.Add(model.Candle{TS: day1.Add(24 * time.Hour), High: 5, Low: 5, Close: 5, Volume: 1})
	assert.Equal(t, 1, s.Count())
	_, err = s.Value()
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}
