package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/model"
)

func bar(sym string, ts time.Time, close float64, vol int64) model.Candle {
	return model.Candle{Symbol: sym, TS: ts, Open: close - 0.1, High: close + 0.1, Low: close - 0.2, Close: close, Volume: vol, VWAP: close, Ticks: 3}
}

func TestStore_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	defer w.Close()

	t0 := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	require.NoError(t, w.Insert([]model.Candle{
		bar("AAPL", t0.Add(20*time.Second), 10.3, 300),
		bar("AAPL", t0, 10.1, 100),
		bar("AAPL", t0.Add(10*time.Second), 10.2, 200),
		bar("TSLA", t0, 200, 50),
	}))

	r, err := NewReader(path, 0)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Candles(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].TS.Equal(t0))
	assert.Equal(t, 10.2, got[1].Close)
	assert.Equal(t, int64(300), got[2].Volume)
	assert.Equal(t, 3, got[2].Ticks)

	window, err := r.Candles(context.Background(), "AAPL", t0.Add(10*time.Second), t0.Add(20*time.Second))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 10.2, window[0].Close)

	syms, err := r.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, syms)
}

func TestWriter_UpsertAndLastTimestamp(t *testing.T) {
	w, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	defer w.Close()

	last, err := w.LastTimestamp("AAPL")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	t0 := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	require.NoError(t, w.Insert([]model.Candle{bar("AAPL", t0, 10, 100)}))
	require.NoError(t, w.Insert([]model.Candle{bar("AAPL", t0, 11, 150)}))

	last, err = w.LastTimestamp("AAPL")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0))

	var n int
	require.NoError(t, w.DB().QueryRow(`SELECT COUNT(*) FROM candles`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWriter_RunFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	defer w.Close()

	ch := make(chan model.Candle, 4)
	t0 := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	ch <- bar("NVDA", t0, 100, 10)
	ch <- bar("NVDA", t0.Add(10*time.Second), 101, 20)
	close(ch)

	w.Run(context.Background(), ch)

	last, err := w.LastTimestamp("NVDA")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.Add(10*time.Second)))
}
