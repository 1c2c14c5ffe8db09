package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/condition"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
	"momentum-trader/internal/position"
)

// greenBar passes on a bullish latest bar and anchors the stop half a
// dollar under its low.
type greenBar struct{}

func (greenBar) Name() string { return "Green Bar" }

func (greenBar) Evaluate(s *condition.Snapshot) condition.Result {
	n := len(s.Bars)
	if n == 0 {
		return condition.Result{Name: "Green Bar", Reason: "no bars"}
	}
	b := s.Bars[n-1]
	if !b.Bullish() {
		return condition.Result{Name: "Green Bar", Reason: "red bar"}
	}
	return condition.Result{Name: "Green Bar", Passed: true, Reason: "green bar", Anchor: b.Low - 0.5}
}

func greenSets(string) *condition.Set { return condition.NewSet("green").Add(greenBar{}) }

func et(hh, mm int) time.Time {
	return time.Date(2025, 3, 4, hh, mm, 0, 0, markethours.NewYork)
}

func ohlc(sym string, at time.Time, o, h, l, c float64) model.Candle {
	return model.Candle{Symbol: sym, TS: at, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func tradeConfig() ReplayConfig {
	mc := position.DefaultConfig()
	mc.NewID = position.SequentialIDs("BT")
	return ReplayConfig{
		Mode:    ModeTrade,
		Sets:    greenSets,
		Machine: mc,
		Paper:   execution.PaperConfig{StartingCash: 10000},
	}
}

func entrySeries(third model.Candle) []model.Candle {
	return []model.Candle{
		ohlc("ABCD", et(9, 31), 10, 10.1, 9.9, 10),
		ohlc("ABCD", et(9, 32), 10, 10.5, 9.8, 10.4),
		third,
	}
}

func TestReplayRunner_ProfitTarget(t *testing.T) {
	r := NewReplayRunner(tradeConfig())
	res, err := r.Run(context.Background(), entrySeries(ohlc("ABCD", et(9, 33), 11.0, 11.6, 10.9, 10.95)))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, position.ReasonProfitTarget, tr.Reason)
	assert.Equal(t, int64(479), tr.Qty)
	assert.InDelta(t, 10.40, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 11.46, tr.ExitPrice, 1e-9)
	assert.Greater(t, tr.Commission, 0.0)
	assert.InDelta(t, tr.GrossPnL-tr.Commission, tr.NetPnL, 1e-9)
	assert.Equal(t, 1, res.Stats.Wins)
	assert.Equal(t, 0, r.Broker().Working())
}

func TestReplayRunner_DynamicExit(t *testing.T) {
	r := NewReplayRunner(tradeConfig())
	res, err := r.Run(context.Background(), entrySeries(ohlc("ABCD", et(9, 33), 10.4, 10.5, 9.7, 10.0)))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, position.ReasonDynamicExit, res.Trades[0].Reason)
	assert.InDelta(t, 10.0, res.Trades[0].ExitPrice, 1e-9)
	assert.Equal(t, 0, r.Broker().Working())
}

func TestReplayRunner_EndOfBacktestClose(t *testing.T) {
	r := NewReplayRunner(tradeConfig())
	res, err := r.Run(context.Background(), entrySeries(ohlc("ABCD", et(9, 33), 10.4, 10.6, 10.3, 10.5)))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ReasonEndOfBacktest, res.Trades[0].Reason)
	assert.InDelta(t, 10.5, res.Trades[0].ExitPrice, 1e-9)
	assert.Equal(t, 2, res.Alerts.Count())
}

func TestReplayRunner_RegularOnlySkipsOutsideWindow(t *testing.T) {
	cfg := tradeConfig()
	cfg.Mode = ModeAlerts
	cfg.RegularOnly = true
	r := NewReplayRunner(cfg)

	res, err := r.Run(context.Background(), []model.Candle{
		ohlc("ABCD", et(9, 0), 10, 11, 9, 10.5),
		ohlc("ABCD", et(9, 30), 10, 11, 9, 10.5),
		ohlc("ABCD", et(15, 29), 10, 11, 9, 10.5),
		ohlc("ABCD", et(15, 30), 10, 11, 9, 10.5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Bars)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Trades)
}

func TestReplayRunner_AlertsModeNeverTrades(t *testing.T) {
	cfg := tradeConfig()
	cfg.Mode = ModeAlerts
	r := NewReplayRunner(cfg)

	res, err := r.Run(context.Background(), entrySeries(ohlc("ABCD", et(9, 33), 10.4, 10.6, 10.3, 10.5)))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 2, res.Alerts.Count())
	assert.Empty(t, r.Broker().Fills())
}

func determinismSeries() []model.Candle {
	var out []model.Candle
	prices := []float64{10, 10.4, 10.2, 10.9, 10.5, 11.2, 10.8, 11.8, 11.1, 12.3, 11.0, 11.6}
	for i, px := range prices {
		at := et(9, 31+i)
		for j, sym := range []string{"AAAA", "BBBB"} {
			open := px - 0.2 + 0.1*float64(i%3) + 0.05*float64(j)
			out = append(out, ohlc(sym, at, open, px+0.3, px-0.4, px))
		}
	}
	return out
}

func runOnce(t *testing.T) ([]byte, []model.Trade) {
	t.Helper()
	r := NewReplayRunner(tradeConfig())
	res, err := r.Run(context.Background(), determinismSeries())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.Alerts.Export(&buf, []string{"AAAA", "BBBB"}))
	return buf.Bytes(), res.Trades
}

func TestReplayRunner_Deterministic(t *testing.T) {
	alerts1, trades1 := runOnce(t)
	alerts2, trades2 := runOnce(t)

	assert.NotEmpty(t, trades1)
	assert.Equal(t, string(alerts1), string(alerts2))
	assert.Equal(t, trades1, trades2)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("scan")
	require.NoError(t, err)
	assert.Equal(t, ModeAlerts, m)
	assert.Equal(t, "scanner", m.Profile())

	m, err = ParseMode("trade")
	require.NoError(t, err)
	assert.Equal(t, "momentum", m.Profile())

	_, err = ParseMode("yolo")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
