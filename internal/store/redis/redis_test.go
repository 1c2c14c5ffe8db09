package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/circuit"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
	"momentum-trader/internal/position"
)

type fakeSink struct {
	mu      sync.Mutex
	fail    bool
	alerts  []model.Alert
	candles []model.Candle
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *fakeSink) Publish(_ context.Context, a model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *fakeSink) WriteCandle(_ context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.candles = append(s.candles, c)
	return nil
}

func TestKeys_UpperCaseSymbols(t *testing.T) {
	assert.Equal(t, "alerts:AAPL", alertChannel("aapl"))
	assert.Equal(t, "candle:latest:TSLA", candleLatestKey("tsla"))
	assert.Equal(t, "candle:TSLA", candleStreamKey("TSLA"))
	assert.Equal(t, "pub:candle:TSLA", candleChannel("tsla"))
	assert.Equal(t, "position:NVDA", positionKey("nvda"))
}

func TestState_EncodeDecode(t *testing.T) {
	entry := time.Date(2025, 3, 4, 14, 45, 10, 0, time.UTC)
	pos := position.Position{
		Symbol:        "AAPL",
		State:         position.Open,
		EntryPrice:    10.02,
		StopPrice:     9.00,
		ProfitPrice:   11.02,
		Quantity:      100,
		EntryTime:     entry,
		EntryOrderID:  "SIM-1",
		ProfitOrderID: "SIM-2",
		StopOrderID:   "SIM-3",
		SessionMode:   markethours.Regular,
	}

	data, err := EncodeState(pos)
	require.NoError(t, err)

	got, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, pos.Symbol, got.Symbol)
	assert.Equal(t, position.Open, got.State)
	assert.Equal(t, int64(100), got.Quantity)
	assert.Equal(t, "SIM-3", got.StopOrderID)
	assert.True(t, got.EntryTime.Equal(entry))
	assert.True(t, got.Protected())
}

func TestDecodeState_Garbage(t *testing.T) {
	_, err := DecodeState([]byte{0xc1})
	assert.Error(t, err)
}

func TestBufferedPublisher_PassThrough(t *testing.T) {
	sink := &fakeSink{}
	cb := circuit.New("redis", 2, time.Minute)
	bp := NewBufferedPublisher(context.Background(), sink, cb, 10)

	require.NoError(t, bp.Publish(context.Background(), model.Alert{Symbol: "AAPL"}))
	require.NoError(t, bp.WriteCandle(context.Background(), model.Candle{Symbol: "AAPL"}))

	assert.Len(t, sink.alerts, 1)
	assert.Len(t, sink.candles, 1)
	assert.Equal(t, 0, bp.PendingCount())
}

func TestBufferedPublisher_BuffersWhileOpenAndFlushes(t *testing.T) {
	now := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	sink := &fakeSink{fail: true}
	cb := circuit.New("redis", 2, 10*time.Second).WithClock(clock)
	bp := NewBufferedPublisher(context.Background(), sink, cb, 10)

	flushed := make(chan int, 1)
	bp.OnFlush = func(n int) { flushed <- n }

	ctx := context.Background()
	assert.Error(t, bp.Publish(ctx, model.Alert{Symbol: "A"}))
	assert.Error(t, bp.Publish(ctx, model.Alert{Symbol: "B"}))
	require.Equal(t, circuit.Open, cb.State())

	// Open: writes are buffered and reported as accepted.
	require.NoError(t, bp.Publish(ctx, model.Alert{Symbol: "C"}))
	require.NoError(t, bp.WriteCandle(ctx, model.Candle{Symbol: "C"}))
	assert.Equal(t, 2, bp.PendingCount())

	sink.setFail(false)
	clockMu.Lock()
	now = now.Add(11 * time.Second)
	clockMu.Unlock()

	// The probe succeeds, closes the breaker and triggers the flush.
	require.NoError(t, bp.Publish(ctx, model.Alert{Symbol: "D"}))

	select {
	case n := <-flushed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not flushed")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.alerts, 2)
	assert.Equal(t, "D", sink.alerts[0].Symbol)
	assert.Equal(t, "C", sink.alerts[1].Symbol)
	assert.Len(t, sink.candles, 1)
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb := circuit.New("redis", 1, time.Hour)
	bp := NewBufferedPublisher(context.Background(), sink, cb, 2)

	ctx := context.Background()
	_ = bp.Publish(ctx, model.Alert{Symbol: "X"})
	for _, s := range []string{"A", "B", "C"} {
		require.NoError(t, bp.Publish(ctx, model.Alert{Symbol: s}))
	}

	assert.Equal(t, 2, bp.PendingCount())
	assert.Equal(t, "B", bp.buffer[0].alert.Symbol)
	assert.Equal(t, "C", bp.buffer[1].alert.Symbol)
}
