package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/condition"
	"momentum-trader/internal/model"
)

type always struct{ anchor float64 }

func (always) Name() string { return "Always" }

func (a always) Evaluate(s *condition.Snapshot) condition.Result {
	return condition.Result{Passed: true, Reason: "ok", Anchor: a.anchor}
}

var t0 = time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)

func trade(offset time.Duration, price float64) model.Tick {
	return model.Tick{Symbol: "ABCD", TS: t0.Add(offset), Price: price, Volume: 100, VWAP: 9.5}
}

func TestEvaluator_Cooldown(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("always").Add(always{}), DefaultConfig())

	var signals []*Signal
	for _, off := range []time.Duration{0, time.Second, 6 * time.Second} {
		if s := e.OnTick(trade(off, 10)); s != nil {
			signals = append(signals, s)
		}
	}
	require.Len(t, signals, 2)
	assert.Equal(t, t0, signals[0].Timestamp)
	assert.Equal(t, t0.Add(6*time.Second), signals[1].Timestamp)
}

func TestEvaluator_CooldownIsStrict(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("always").Add(always{}), DefaultConfig())
	require.NotNil(t, e.OnTick(trade(0, 10)))
	assert.Nil(t, e.OnTick(trade(5*time.Second, 10)), "exactly the cooldown is not enough")
	assert.NotNil(t, e.OnTick(trade(5*time.Second+time.Millisecond, 10)))
}

func TestEvaluator_QuoteOnlyTickNotEvaluated(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("always").Add(always{}), DefaultConfig())
	assert.Nil(t, e.OnTick(model.Tick{Symbol: "ABCD", TS: t0, Bid: 9.9, Ask: 10.1}))
	assert.Zero(t, e.Evaluations())
	bid, ask := e.Quote()
	assert.Equal(t, 9.9, bid)
	assert.Equal(t, 10.1, ask)
}

func TestEvaluator_SnapshotHistoryWindow(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("always").Add(always{}), DefaultConfig())
	e.OnTick(trade(0, 10))
	e.OnTick(trade(30*time.Second, 10.5))
	s := e.OnTick(trade(70*time.Second, 11))
	require.NotNil(t, s)
	// The first point is older than the 60s window.
	require.Len(t, s.Snapshot.PriceHistory, 2)
	assert.Equal(t, 10.5, s.Snapshot.PriceHistory[0].Value)
}

func TestEvaluator_StopAnchorAndAlert(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("a").Add(always{anchor: 9.25}), DefaultConfig())
	s := e.OnTick(trade(0, 10))
	require.NotNil(t, s)
	assert.Equal(t, 9.25, s.StopAnchor)

	a := s.Alert()
	assert.Equal(t, "ABCD", a.Symbol)
	assert.Equal(t, 10.0, a.Price)
	assert.Equal(t, 9.5, a.VWAP)
	assert.Equal(t, []string{"Always: ok"}, a.Conditions)
}

func TestEvaluator_SessionVWAPFallback(t *testing.T) {
	e := NewEvaluator("ABCD", condition.NewSet("a").Add(always{}), DefaultConfig())
	e.AddBar(model.Candle{TS: t0, High: 10, Low: 10, Close: 10, Volume: 1})
	e.AddBar(model.Candle{TS: t0.Add(10 * time.Second), High: 20, Low: 20, Close: 20, Volume: 1})

	s := e.OnTick(model.Tick{Symbol: "ABCD", TS: t0.Add(15 * time.Second), Price: 21, Volume: 5})
	require.NotNil(t, s)
	assert.InDelta(t, 15.0, s.Snapshot.VWAP, 1e-9)
	assert.Len(t, e.Bars(), 2)
}
