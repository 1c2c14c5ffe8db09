package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/alert"
	"momentum-trader/internal/circuit"
	"momentum-trader/internal/condition"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/model"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
)

// always passes and anchors the stop a dollar under the price.
type always struct{}

func (always) Name() string { return "Always" }

func (always) Evaluate(s *condition.Snapshot) condition.Result {
	return condition.Result{Passed: true, Reason: "always", Anchor: s.Price - 1}
}

func alwaysSets(string) *condition.Set { return condition.NewSet("always").Add(always{}) }

type memState struct {
	mu    sync.Mutex
	saved map[string]position.Position
}

func (s *memState) SaveState(_ context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[p.Symbol] = p
	return nil
}

func (s *memState) LoadState(_ context.Context, sym string) (position.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[sym]
	return p, ok, nil
}

func (s *memState) get(sym string) (position.Position, bool) {
	p, ok, _ := s.LoadState(context.Background(), sym)
	return p, ok
}

func TestLiveRunner_AlertsModeFiresHooks(t *testing.T) {
	hooks := alert.NewDispatcher()
	got := make(chan model.Alert, 4)
	hooks.Register("boom", func(context.Context, model.Alert) error { panic("bad hook") })
	hooks.Register("collect", func(_ context.Context, a model.Alert) error {
		got <- a
		return nil
	})
	log := alert.NewLog(nil)

	r, err := NewLiveRunner(LiveConfig{Symbols: []string{"ABCD"}, Sets: alwaysSets},
		LiveDeps{Hooks: hooks, Alerts: log})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.Tick, 4)
	go r.Run(ctx, ticks, nil)

	ticks <- model.Tick{Symbol: "ABCD", TS: et(10, 0), Price: 20, Size: 100, Volume: 100}

	select {
	case a := <-got:
		assert.Equal(t, "ABCD", a.Symbol)
		assert.Equal(t, 20.0, a.Price)
		assert.Equal(t, []string{"Always: always"}, a.Conditions)
	case <-time.After(2 * time.Second):
		t.Fatal("alert hook not called")
	}
	assert.Equal(t, int64(1), hooks.Panics())
	assert.Equal(t, 1, log.Count())
}

func TestLiveRunner_TradeLifecycleWithPaperBroker(t *testing.T) {
	broker := execution.NewPaperBroker(execution.PaperConfig{StartingCash: 10000})
	disp := execution.NewDispatcher(broker, circuit.New("gateway", 3, time.Minute))
	ledger := portfolio.NewLedger(10000, portfolio.DefaultCommission())
	pf := portfolio.New()
	state := &memState{saved: make(map[string]position.Position)}
	trades := make(chan model.Trade, 1)

	mc := position.DefaultConfig()
	mc.NewID = position.SequentialIDs("LV")
	clock := et(10, 0)

	r, err := NewLiveRunner(LiveConfig{
		Mode:    ModeTrade,
		Symbols: []string{"ABCD"},
		Sets:    alwaysSets,
		Machine: mc,
	}, LiveDeps{
		Dispatcher: disp,
		Orders:     broker.Events(),
		Account:    broker,
		Prices:     broker,
		Risk:       portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf, 10000),
		Portfolio:  pf,
		Ledger:     ledger,
		State:      state,
		OnTrade:    func(tr model.Trade) { trades <- tr },
		Now:        func() time.Time { return clock },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.pollBalance(ctx)
	bal, ok := r.Balance()
	require.True(t, ok)
	require.Equal(t, 10000.0, bal)

	ticks := make(chan model.Tick, 4)
	go r.Run(ctx, ticks, nil)

	ticks <- model.Tick{Symbol: "ABCD", TS: clock, Price: 20, Size: 100, Volume: 100}
	require.Eventually(t, func() bool {
		p, _ := r.Position("ABCD")
		return p.State == position.Open
	}, 2*time.Second, 10*time.Millisecond)

	p, _ := r.Position("ABCD")
	assert.Equal(t, 20.0, p.EntryPrice)
	assert.Equal(t, 19.0, p.StopPrice)
	assert.Equal(t, 22.04, p.ProfitPrice)
	assert.Equal(t, int64(249), p.Quantity)
	assert.True(t, pf.Has("ABCD"))

	ticks <- model.Tick{Symbol: "ABCD", TS: clock.Add(time.Second), Price: 25, Size: 100, Volume: 100}

	select {
	case tr := <-trades:
		assert.Equal(t, position.ReasonProfitTarget, tr.Reason)
		assert.Equal(t, 25.0, tr.ExitPrice)
		assert.Greater(t, tr.NetPnL, 0.0)
	case <-time.After(2 * time.Second):
		t.Fatal("no trade closed")
	}

	require.Eventually(t, func() bool { return !pf.Has("ABCD") }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		saved, ok := state.get("ABCD")
		return ok && saved.State == position.Idle
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, ledger.Trades(), 1)
}

type failingAccount struct{}

func (failingAccount) Balance(context.Context) (float64, error) {
	return 0, errors.New("account unavailable")
}

func TestLiveRunner_NoBalanceSkipsEntry(t *testing.T) {
	broker := execution.NewPaperBroker(execution.PaperConfig{StartingCash: 10000})
	disp := execution.NewDispatcher(broker, circuit.New("gateway", 3, time.Minute))
	clock := et(10, 0)

	r, err := NewLiveRunner(LiveConfig{Mode: ModeTrade, Symbols: []string{"ABCD"}, Sets: alwaysSets},
		LiveDeps{Dispatcher: disp, Account: failingAccount{}, Now: func() time.Time { return clock }})
	require.NoError(t, err)

	r.pollBalance(context.Background())
	_, ok := r.Balance()
	require.False(t, ok)

	r.handle(context.Background(), event{kind: evTick, symbol: "ABCD",
		tick: model.Tick{Symbol: "ABCD", TS: clock, Price: 20, Size: 1, Volume: 1}})

	p, _ := r.Position("ABCD")
	assert.Equal(t, position.Idle, p.State)
	assert.Equal(t, 0, broker.Working())
}

func TestLiveRunner_RestoresSavedPosition(t *testing.T) {
	broker := execution.NewPaperBroker(execution.PaperConfig{StartingCash: 10000})
	disp := execution.NewDispatcher(broker, circuit.New("gateway", 3, time.Minute))
	pf := portfolio.New()
	state := &memState{saved: map[string]position.Position{
		"ABCD": {Symbol: "ABCD", State: position.Open, EntryPrice: 20, StopPrice: 19, ProfitPrice: 22, Quantity: 50},
	}}

	r, err := NewLiveRunner(LiveConfig{Mode: ModeTrade, Symbols: []string{"ABCD"}, Sets: alwaysSets},
		LiveDeps{Dispatcher: disp, Account: broker, Portfolio: pf, State: state})
	require.NoError(t, err)

	r.restore(context.Background())
	p, ok := r.Position("ABCD")
	require.True(t, ok)
	assert.Equal(t, position.Open, p.State)
	assert.Equal(t, int64(50), p.Quantity)
	assert.True(t, pf.Has("ABCD"))
}

func TestLiveRunner_FullQueueDrops(t *testing.T) {
	r, err := NewLiveRunner(LiveConfig{Workers: 1, EventBuffer: 1}, LiveDeps{})
	require.NoError(t, err)

	assert.True(t, r.OnTick(model.Tick{Symbol: "ABCD", Price: 1}))
	assert.False(t, r.OnTick(model.Tick{Symbol: "ABCD", Price: 2}))
	assert.Equal(t, int64(1), r.Dropped())
}

func TestLiveRunner_TradeModeNeedsDispatcher(t *testing.T) {
	_, err := NewLiveRunner(LiveConfig{Mode: ModeTrade}, LiveDeps{})
	assert.Error(t, err)
}

func TestLiveRunner_SameSymbolSameShard(t *testing.T) {
	r, err := NewLiveRunner(LiveConfig{Workers: 8}, LiveDeps{})
	require.NoError(t, err)
	assert.Equal(t, r.shard("AAPL"), r.shard("AAPL"))
}
