package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/model"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_OrdersAndEvents(t *testing.T) {
	j := openJournal(t)

	require.NoError(t, j.RecordOrder(bracket(), t0))
	require.NoError(t, j.RecordEvent(model.OrderEvent{OrderID: "E1", Symbol: "AAPL", Status: model.StatusFilled, FilledQty: 100, AvgFillPrice: 10.02, TS: t0}))

	var orders, events int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM order_events`).Scan(&events))
	assert.Equal(t, 3, orders)
	assert.Equal(t, 1, events)

	var parent string
	require.NoError(t, j.db.QueryRow(`SELECT parent_id FROM orders WHERE order_id = 'S1'`).Scan(&parent))
	assert.Equal(t, "E1", parent)
}

func TestJournal_TradesOldestFirst(t *testing.T) {
	j := openJournal(t)

	for i, reason := range []string{"STOP LOSS", "PROFIT TARGET", "DYNAMIC EXIT"} {
		require.NoError(t, j.RecordTrade(model.Trade{
			Symbol:     "AAPL",
			EntryTime:  t0.Add(time.Duration(i) * time.Minute),
			ExitTime:   t0.Add(time.Duration(i)*time.Minute + 30*time.Second),
			EntryPrice: 10,
			ExitPrice:  10.5,
			Qty:        100,
			Reason:     reason,
			GrossPnL:   50,
			NetPnL:     48,
		}))
	}

	trades, err := j.Trades(2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "PROFIT TARGET", trades[0].Reason)
	assert.Equal(t, "DYNAMIC EXIT", trades[1].Reason)
	assert.True(t, trades[1].EntryTime.Equal(t0.Add(2*time.Minute)))
}

func TestJournal_AlertsRange(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Publish(ctx, model.Alert{Symbol: "AAPL", Timestamp: t0, Price: 10, Volume: 1000, VWAP: 9.9, Conditions: []string{"a", "b"}}))
	require.NoError(t, j.Publish(ctx, model.Alert{Symbol: "TSLA", Timestamp: t0.Add(time.Hour), Price: 200, Volume: 5, Conditions: []string{"c"}}))

	all, err := j.Alerts(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"a", "b"}, all[0].Conditions)

	early, err := j.Alerts(ctx, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.Equal(t, "AAPL", early[0].Symbol)
	assert.True(t, early[0].Timestamp.Equal(t0))
}
