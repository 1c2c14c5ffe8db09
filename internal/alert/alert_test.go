package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
)

var ts = time.Date(2025, 3, 4, 14, 35, 12, 345_000_000, time.UTC) // 09:35:12.345 ET

func sample() model.Alert {
	return model.Alert{
		Symbol:     "AAPL",
		Timestamp:  ts,
		Price:      10.5,
		Volume:     1234567,
		VWAP:       10.123,
		Conditions: []string{"Price > VWAP: Price $10.50 > VWAP $10.12"},
	}
}

func TestNewRecord_Format(t *testing.T) {
	r := NewRecord(sample(), markethours.NewYork)
	assert.Equal(t, "AAPL", r.Symbol)
	assert.Equal(t, "2025-03-04 09:35:12.345", r.Timestamp)
	assert.Equal(t, "$10.50", r.Price)
	assert.Equal(t, "1,234,567", r.Volume)
	assert.Equal(t, "$10.12", r.VWAP)
	assert.Len(t, r.Conditions, 1)
}

func TestLog_ExportKeyedBySymbol(t *testing.T) {
	l := NewLog(markethours.NewYork)
	l.Record(sample())
	second := sample()
	second.Timestamp = ts.Add(time.Minute)
	l.Record(second)

	var buf bytes.Buffer
	require.NoError(t, l.Export(&buf, []string{"AAPL", "TSLA"}))

	var out map[string][]Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out["AAPL"], 2)
	assert.Equal(t, "2025-03-04 09:36:12.345", out["AAPL"][1].Timestamp)
	assert.NotNil(t, out["TSLA"])
	assert.Empty(t, out["TSLA"])
	assert.Contains(t, buf.String(), "\n  \"AAPL\": [")
}

func TestLog_ExportIsDeterministic(t *testing.T) {
	build := func() []byte {
		l := NewLog(markethours.NewYork)
		l.Record(sample())
		var buf bytes.Buffer
		require.NoError(t, l.Export(&buf, []string{"TSLA", "AAPL", "NVDA"}))
		return buf.Bytes()
	}
	assert.Equal(t, build(), build())
}

func TestLog_WriteFileDefaultName(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(nil)
	l.Record(sample())

	path, err := l.WriteFile(filepath.Join(dir, DefaultFileName(ts)), ts, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "backtest_alerts_2025-03-04.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{"))
}

func TestLog_Summary(t *testing.T) {
	l := NewLog(markethours.NewYork)
	l.Record(sample())

	s := l.Summary([]string{"AAPL", "TSLA"})
	assert.Contains(t, s, "|   1 alert triggered:")
	assert.Contains(t, s, "|   [1] 09:35:12 - Price: 10.50 | Vol: 1,234,567")
	assert.Contains(t, s, "|   No alerts triggered")
	assert.Contains(t, s, "TOTAL: 1 alert across 2 symbols")
	assert.Equal(t, 1, l.Count())
	assert.Equal(t, []string{"AAPL"}, l.Symbols())
}

func TestFormat(t *testing.T) {
	s := Format(sample(), markethours.NewYork)
	assert.Equal(t, "[2025-03-04 09:35:12.345] ALERT: AAPL\n  Price: $10.50 | Volume: 1,234,567\n  Conditions: Price > VWAP: Price $10.50 > VWAP $10.12", s)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher()
	var calls []string
	var panicked string
	d.OnPanic = func(name string) { panicked = name }

	d.Register("first", func(context.Context, model.Alert) error {
		calls = append(calls, "first")
		panic("bad hook")
	})
	d.Register("second", func(context.Context, model.Alert) error {
		calls = append(calls, "second")
		return errors.New("unreachable endpoint")
	})
	d.Register("third", func(context.Context, model.Alert) error {
		calls = append(calls, "third")
		return nil
	})

	d.Fire(context.Background(), sample())

	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Equal(t, int64(1), d.Panics())
	assert.Equal(t, int64(1), d.Errors())
	assert.Equal(t, "first", panicked)
	assert.Equal(t, 3, d.Len())
}

type recordingSink struct{ got []model.Alert }

func (s *recordingSink) Publish(_ context.Context, a model.Alert) error {
	s.got = append(s.got, a)
	return nil
}

func TestDispatcher_RegisterSink(t *testing.T) {
	d := NewDispatcher()
	sink := &recordingSink{}
	d.RegisterSink("sink", sink)

	d.Fire(context.Background(), sample())
	require.Len(t, sink.got, 1)
	assert.Equal(t, "AAPL", sink.got[0].Symbol)
}
