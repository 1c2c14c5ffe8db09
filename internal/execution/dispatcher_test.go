package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/circuit"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
	"momentum-trader/internal/position"
)

type flakyGateway struct {
	fail      bool
	submitted []string
	cancelled []string
	events    chan model.OrderEvent
}

func (g *flakyGateway) Submit(_ context.Context, spec model.OrderSpec) (string, error) {
	if g.fail {
		return "", errors.New("gateway down")
	}
	g.submitted = append(g.submitted, spec.ID)
	return spec.ID, nil
}

func (g *flakyGateway) Cancel(_ context.Context, id string) error {
	g.cancelled = append(g.cancelled, id)
	if g.fail {
		return errors.New("gateway down")
	}
	return nil
}

func (g *flakyGateway) Events() <-chan model.OrderEvent { return g.events }

func entry(id string) position.Action {
	return position.Action{Kind: position.Submit, OrderID: id, Order: model.OrderSpec{ID: id, Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderLimit, Qty: 1, LimitPrice: 10}}
}

func exit(id string) position.Action {
	return position.Action{Kind: position.Submit, OrderID: id, Exit: true, Order: model.OrderSpec{ID: id, Symbol: "AAPL", Side: model.SideSell, Type: model.OrderMarket, Qty: 1}}
}

func TestDispatcher_SubmitAndCancel(t *testing.T) {
	gw := &flakyGateway{}
	d := NewDispatcher(gw, circuit.New("gateway", 3, time.Minute))

	rejected := d.Dispatch(context.Background(), []position.Action{
		{Kind: position.Cancel, OrderID: "C1", Exit: true},
		entry("E1"),
	})
	assert.Empty(t, rejected)
	assert.Equal(t, []string{"E1"}, gw.submitted)
	assert.Equal(t, []string{"C1"}, gw.cancelled)
}

func TestDispatcher_FailedSubmitSynthesizesReject(t *testing.T) {
	gw := &flakyGateway{fail: true}
	d := NewDispatcher(gw, circuit.New("gateway", 3, time.Minute), WithClock(func() time.Time { return t0 }))

	rejected := d.Dispatch(context.Background(), []position.Action{entry("E1")})
	require.Len(t, rejected, 1)
	assert.Equal(t, "E1", rejected[0].OrderID)
	assert.Equal(t, model.StatusRejected, rejected[0].Status)
	assert.True(t, rejected[0].TS.Equal(t0))
	assert.Contains(t, rejected[0].Message, "gateway down")
}

func TestDispatcher_OpenBreakerHaltsEntriesNotExits(t *testing.T) {
	gw := &flakyGateway{fail: true}
	cb := circuit.New("gateway", 2, time.Hour)
	d := NewDispatcher(gw, cb)
	ctx := context.Background()

	d.Dispatch(ctx, []position.Action{entry("E1")})
	d.Dispatch(ctx, []position.Action{entry("E2")})
	require.True(t, d.EntriesHalted())

	gw.fail = false
	rejected := d.Dispatch(ctx, []position.Action{entry("E3")})
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Message, "entries halted")
	assert.Empty(t, gw.submitted)

	rejected = d.Dispatch(ctx, []position.Action{exit("X1")})
	assert.Empty(t, rejected)
	assert.Equal(t, []string{"X1"}, gw.submitted)
}

func TestDispatcher_OCORejectCoversBothLegs(t *testing.T) {
	gw := &flakyGateway{fail: true}
	d := NewDispatcher(gw, circuit.New("gateway", 3, time.Minute))

	oco := position.Action{Kind: position.Submit, OrderID: "O1", Exit: true, Order: model.OrderSpec{
		ID: "O1", Symbol: "AAPL", Side: model.SideSell, Qty: 1,
		Children: []model.OrderSpec{{ID: "P1", Type: model.OrderLimit}, {ID: "S1", Type: model.OrderStop}},
	}}
	rejected := d.Dispatch(context.Background(), []position.Action{oco})
	require.Len(t, rejected, 2)
	assert.Equal(t, "P1", rejected[0].OrderID)
	assert.Equal(t, "S1", rejected[1].OrderID)
}

func TestDispatcher_JournalsOrders(t *testing.T) {
	j := openJournal(t)
	d := NewDispatcher(&flakyGateway{}, circuit.New("gateway", 3, time.Minute), WithJournal(j))

	d.Dispatch(context.Background(), []position.Action{entry("E1")})

	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDispatcher_LateBracketFillKeepsOneSetOfLegs(t *testing.T) {
	ctx := context.Background()
	broker := NewPaperBroker(PaperConfig{StartingCash: 10000})
	d := NewDispatcher(broker, circuit.New("gateway", 3, time.Minute))
	cfg := position.DefaultConfig()
	cfg.NewID = position.SequentialIDs("T")
	m := position.NewMachine("AAPL", cfg)

	start := time.Date(2025, 3, 4, 10, 0, 0, 0, markethours.NewYork)
	broker.OnPrice("AAPL", 10.00, start)

	// Marketable: the parent fills on arrival and its legs go live.
	actions, err := m.Enter(position.Levels{Entry: 10.02, Stop: 9.00, Profit: 11.02}, 50, start, start)
	require.NoError(t, err)
	require.Empty(t, d.Dispatch(ctx, actions))

	// The stale timer fires before the fill report is applied.
	require.Empty(t, d.Dispatch(ctx, m.OnClock(start.Add(301*time.Second))))
	at := start.Add(302 * time.Second)
	for _, ev := range drain(broker.Events()) {
		acts, _ := m.OnOrderEvent(ev, at)
		require.Empty(t, d.Dispatch(ctx, acts))
	}
	require.Equal(t, position.Open, m.State())
	assert.Equal(t, 2, broker.Working())

	broker.OnPrice("AAPL", 8.50, start.Add(10*time.Minute))
	var trade *model.Trade
	for _, ev := range drain(broker.Events()) {
		acts, tr := m.OnOrderEvent(ev, ev.TS)
		d.Dispatch(ctx, acts)
		if tr != nil {
			trade = tr
		}
	}
	require.NotNil(t, trade)
	assert.Equal(t, position.ReasonStopLoss, trade.Reason)
	assert.Equal(t, position.Idle, m.State())
	assert.Zero(t, broker.Working())

	var bought, sold int64
	for _, f := range broker.Fills() {
		if f.Side == model.SideBuy {
			bought += f.Qty
		} else {
			sold += f.Qty
		}
	}
	assert.Equal(t, int64(50), bought)
	assert.Equal(t, int64(50), sold)
}
