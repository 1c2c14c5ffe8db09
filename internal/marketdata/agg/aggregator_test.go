package agg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/model"
)

var t0 = time.Date(2025, 3, 14, 14, 30, 0, 0, time.UTC)

func trade(sym string, offset time.Duration, price float64, size int64) model.Tick {
	return model.Tick{Symbol: sym, TS: t0.Add(offset), Price: price, Size: size}
}

func TestAggregator_BuildsBarWithVWAP(t *testing.T) {
	a := New(10)

	_, done := a.Add(trade("AAPL", 0, 10, 100))
	require.False(t, done)
	a.Add(trade("AAPL", 3*time.Second, 12, 100))
	a.Add(trade("AAPL", 9*time.Second, 9, 200))

	bar, done := a.Add(trade("AAPL", 10*time.Second, 11, 50))
	require.True(t, done)

	assert.Equal(t, "AAPL", bar.Symbol)
	assert.Equal(t, t0, bar.TS)
	assert.Equal(t, 10.0, bar.Open)
	assert.Equal(t, 12.0, bar.High)
	assert.Equal(t, 9.0, bar.Low)
	assert.Equal(t, 9.0, bar.Close)
	assert.Equal(t, int64(400), bar.Volume)
	assert.Equal(t, 3, bar.Ticks)
	assert.InDelta(t, 10.0, bar.VWAP, 1e-9)
}

func TestAggregator_IgnoresQuotesAndLateTicks(t *testing.T) {
	a := New(10)
	var late []string
	a.OnLateTick = func(sym string) { late = append(late, sym) }

	_, done := a.Add(model.Tick{Symbol: "AAPL", TS: t0, Bid: 10, Ask: 10.01})
	assert.False(t, done)
	assert.Empty(t, a.FlushAll())

	a.Add(trade("AAPL", 20*time.Second, 10, 1))
	_, done = a.Add(trade("AAPL", 5*time.Second, 99, 1))
	assert.False(t, done)
	assert.Equal(t, []string{"AAPL"}, late)

	bars := a.FlushAll()
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, bars[0].High)
}

func TestAggregator_FlushByClock(t *testing.T) {
	a := New(10)
	a.Add(trade("MSFT", 2*time.Second, 400, 10))
	a.Add(trade("AAPL", 4*time.Second, 190, 10))

	assert.Empty(t, a.Flush(t0.Add(9*time.Second)))

	bars := a.Flush(t0.Add(10 * time.Second))
	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, "MSFT", bars[1].Symbol)
}

func TestAggregator_RunFlushesOnClose(t *testing.T) {
	a := New(10)
	a.Now = func() time.Time { return t0 }

	tickCh := make(chan model.Tick, 10)
	candleCh := make(chan model.Candle, 10)
	tickCh <- trade("AAPL", 0, 10, 5)
	tickCh <- trade("AAPL", 10*time.Second, 11, 5)
	close(tickCh)

	a.Run(context.Background(), tickCh, candleCh)

	require.Len(t, candleCh, 2)
	first := <-candleCh
	second := <-candleCh
	assert.Equal(t, t0, first.TS)
	assert.Equal(t, t0.Add(10*time.Second), second.TS)
}

func TestAggregator_DropsWhenOutputFull(t *testing.T) {
	a := New(1)
	var dropped int
	a.OnDropped = func(string) { dropped++ }

	out := make(chan model.Candle)
	a.emit(model.Candle{Symbol: "AAPL"}, out)
	assert.Equal(t, 1, dropped)
}
