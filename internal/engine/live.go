package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"momentum-trader/internal/alert"
	"momentum-trader/internal/condition"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/logger"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/metrics"
	"momentum-trader/internal/model"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	"momentum-trader/internal/signal"
)

// StateStore persists open positions across restarts.
type StateStore interface {
	SaveState(ctx context.Context, pos position.Position) error
	LoadState(ctx context.Context, symbol string) (position.Position, bool, error)
}

// PriceSink receives trade prices; the paper broker matches resting orders
// against them.
type PriceSink interface {
	OnPrice(symbol string, price float64, ts time.Time)
}

// LiveConfig configures a LiveRunner.
type LiveConfig struct {
	Mode          Mode
	Symbols       []string
	Sets          SetFactory
	Signal        signal.Config
	Machine       position.Config
	Sizing        Sizing
	Workers       int           // default 4
	EventBuffer   int           // total queued events across workers, default 4096
	ClockInterval time.Duration // default 1s
	BalancePoll   time.Duration // default 30s
}

// LiveDeps are the collaborators of a LiveRunner. Everything except the
// dispatcher and account (in trade mode) is optional.
type LiveDeps struct {
	Dispatcher *execution.Dispatcher
	Orders     <-chan model.OrderEvent
	Account    model.AccountSource
	Prices     PriceSink
	Risk       *portfolio.RiskManager
	Portfolio  *portfolio.Portfolio
	Ledger     *portfolio.Ledger
	Journal    *execution.Journal
	State      StateStore
	Hooks      *alert.Dispatcher
	Alerts     *alert.Log
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	OnTrade    func(model.Trade)
	Now        func() time.Time
}

type eventKind int

const (
	evTick eventKind = iota
	evCandle
	evOrder
	evClock
)

var kindNames = [...]string{"tick", "candle", "order", "clock"}

type event struct {
	kind   eventKind
	symbol string
	tick   model.Tick
	candle model.Candle
	order  model.OrderEvent
}

// symbolState is everything the runner keeps for one symbol. mu is held
// only while the evaluator and machine are updated.
type symbolState struct {
	mu        sync.Mutex
	eval      *signal.Evaluator
	machine   *position.Machine
	lastBarTS time.Time
	lastEvals uint64
}

// LiveRunner processes market data, order events and clock ticks
// concurrently. Events are sharded by symbol so each symbol is handled by
// one worker in arrival order.
type LiveRunner struct {
	cfg  LiveConfig
	deps LiveDeps
	log  *slog.Logger

	mu     sync.Mutex
	states map[string]*symbolState

	shards  []chan event
	dropped atomic.Int64

	balance     atomic.Uint64
	haveBalance atomic.Bool
}

// NewLiveRunner creates a runner. It does not start any goroutines.
func NewLiveRunner(cfg LiveConfig, deps LiveDeps) (*LiveRunner, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAlerts
	}
	if cfg.Mode == ModeTrade && (deps.Dispatcher == nil || deps.Account == nil) {
		return nil, errors.New("engine: trade mode needs a dispatcher and an account source")
	}
	if cfg.Sets == nil {
		cfg.Sets = ProfileSets(cfg.Mode.Profile(), condition.DefaultParams())
	}
	if cfg.Signal.Location == nil {
		cfg.Signal.Location = markethours.NewYork
	}
	if cfg.Sizing.RiskPct <= 0 || cfg.Sizing.AllocPct <= 0 {
		cfg.Sizing = DefaultSizing()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = time.Second
	}
	if cfg.BalancePoll <= 0 {
		cfg.BalancePoll = 30 * time.Second
	}
	if cfg.Machine.Session.Location == nil {
		cfg.Machine.Session = markethours.DefaultSession()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	per := cfg.EventBuffer / cfg.Workers
	if per < 1 {
		per = 1
	}
	r := &LiveRunner{
		cfg:    cfg,
		deps:   deps,
		log:    slog.Default().With("component", "live"),
		states: make(map[string]*symbolState),
		shards: make([]chan event, cfg.Workers),
	}
	for i := range r.shards {
		r.shards[i] = make(chan event, per)
	}
	return r, nil
}

// Dropped returns the number of events dropped on full worker queues.
func (r *LiveRunner) Dropped() int64 { return r.dropped.Load() }

// Position returns the current position for symbol.
func (r *LiveRunner) Position(symbol string) (position.Position, bool) {
	r.mu.Lock()
	st, ok := r.states[symbol]
	r.mu.Unlock()
	if !ok {
		return position.Position{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.machine.Position(), true
}

func (r *LiveRunner) state(symbol string) *symbolState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[symbol]
	if !ok {
		st = &symbolState{
			eval:    signal.NewEvaluator(symbol, r.cfg.Sets(symbol), r.cfg.Signal),
			machine: position.NewMachine(symbol, r.cfg.Machine),
		}
		r.states[symbol] = st
	}
	return st
}

func (r *LiveRunner) shard(symbol string) chan event {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// enqueue hands ev to its worker without blocking; a full queue drops it.
func (r *LiveRunner) enqueue(ev event) bool {
	select {
	case r.shard(ev.symbol) <- ev:
		return true
	default:
		r.dropped.Add(1)
		if m := r.deps.Metrics; m != nil {
			m.DroppedEvents.WithLabelValues(kindNames[ev.kind]).Inc()
		}
		return false
	}
}

// OnTick queues a tick.
func (r *LiveRunner) OnTick(t model.Tick) bool {
	return r.enqueue(event{kind: evTick, symbol: t.Symbol, tick: t})
}

// OnCandle queues a completed bar.
func (r *LiveRunner) OnCandle(c model.Candle) bool {
	return r.enqueue(event{kind: evCandle, symbol: c.Symbol, candle: c})
}

// Run restores saved positions, starts the workers and blocks until ctx is
// cancelled. ticks and bars may be nil.
func (r *LiveRunner) Run(ctx context.Context, ticks <-chan model.Tick, bars <-chan model.Candle) error {
	r.restore(ctx)

	var wg sync.WaitGroup
	for i := range r.shards {
		wg.Add(1)
		go func(ch chan event) {
			defer wg.Done()
			r.worker(ctx, ch)
		}(r.shards[i])
	}

	if ticks != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-ticks:
					if !ok {
						return
					}
					r.OnTick(t)
				}
			}
		}()
	}
	if bars != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case c, ok := <-bars:
					if !ok {
						return
					}
					r.OnCandle(c)
				}
			}
		}()
	}
	if r.cfg.Mode == ModeTrade {
		if r.deps.Orders != nil {
			go r.orderLoop(ctx)
		}
		go r.balanceLoop(ctx)
	}
	go r.clockLoop(ctx)

	r.log.Info("live runner started", "mode", r.cfg.Mode, "symbols", r.cfg.Symbols, "workers", len(r.shards))
	<-ctx.Done()
	wg.Wait()
	r.log.Info("live runner stopped", "dropped", r.dropped.Load())
	return nil
}

func (r *LiveRunner) restore(ctx context.Context) {
	for _, sym := range r.cfg.Symbols {
		st := r.state(sym)
		if r.deps.State == nil || r.cfg.Mode != ModeTrade {
			continue
		}
		pos, ok, err := r.deps.State.LoadState(ctx, sym)
		if err != nil {
			r.log.Warn("load position state", "symbol", sym, "err", err)
			continue
		}
		if !ok {
			continue
		}
		st.mu.Lock()
		st.machine.Restore(pos)
		syncHolding(r.deps.Portfolio, st.machine, position.Idle)
		st.mu.Unlock()
		r.log.Info("restored position", "symbol", sym, "state", pos.State.String(), "qty", pos.Quantity)
	}
}

func (r *LiveRunner) worker(ctx context.Context, ch <-chan event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			r.handle(ctx, ev)
		}
	}
}

// orderLoop routes gateway events to the symbol workers. Order events are
// never dropped, so this send blocks.
func (r *LiveRunner) orderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.deps.Orders:
			if !ok {
				return
			}
			select {
			case r.shard(ev.Symbol) <- event{kind: evOrder, symbol: ev.Symbol, order: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *LiveRunner) clockLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m := r.deps.Metrics; m != nil {
				m.MarketState.Set(float64(r.cfg.Machine.Session.Mode(r.deps.Now())))
			}
			if r.cfg.Mode != ModeTrade {
				continue
			}
			for _, sym := range r.cfg.Symbols {
				r.enqueue(event{kind: evClock, symbol: sym})
			}
		}
	}
}

func (r *LiveRunner) balanceLoop(ctx context.Context) {
	r.pollBalance(ctx)
	ticker := time.NewTicker(r.cfg.BalancePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollBalance(ctx)
		}
	}
}

func (r *LiveRunner) pollBalance(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	bal, err := r.deps.Account.Balance(cctx)
	if h := r.deps.Health; h != nil {
		h.SetBrokerOK(err == nil)
	}
	if err != nil {
		r.haveBalance.Store(false)
		r.log.Warn("balance poll failed", "err", err)
		return
	}
	r.balance.Store(math.Float64bits(bal))
	r.haveBalance.Store(true)
	if m := r.deps.Metrics; m != nil {
		m.Balance.Set(bal)
	}
}

// Balance returns the cached account balance and whether it is current.
func (r *LiveRunner) Balance() (float64, bool) {
	return math.Float64frombits(r.balance.Load()), r.haveBalance.Load()
}

// handle applies one event to its symbol under the symbol lock, then does
// the I/O (dispatch, persistence, hooks) after releasing it.
func (r *LiveRunner) handle(ctx context.Context, ev event) {
	now := r.deps.Now()
	st := r.state(ev.symbol)
	m := r.deps.Metrics

	var (
		actions []position.Action
		sig     *signal.Signal
		trade   *model.Trade
	)

	st.mu.Lock()
	before := st.machine.Position()
	switch ev.kind {
	case evTick:
		t := ev.tick
		if m != nil {
			m.TicksTotal.Inc()
		}
		if r.cfg.Mode == ModeTrade && t.IsQuote() {
			actions = append(actions, st.machine.OnQuote(t.Bid, t.Ask, now)...)
		}
		start := time.Now()
		sig = st.eval.OnTick(t)
		if evals := st.eval.Evaluations(); evals != st.lastEvals {
			st.lastEvals = evals
			if m != nil {
				m.EvaluationsTotal.Inc()
				m.EvalDur.Observe(time.Since(start).Seconds())
			}
		}
		if sig != nil && r.cfg.Mode == ModeTrade && !st.machine.Active() {
			actions = append(actions, r.entry(st, sig, t, now)...)
		}
	case evCandle:
		if m != nil {
			m.CandlesTotal.Inc()
		}
		st.eval.AddBar(ev.candle)
		st.lastBarTS = ev.candle.TS
		if r.cfg.Mode == ModeTrade {
			actions = st.machine.OnCandle(st.eval.Bars(), now)
		}
	case evOrder:
		actions, trade = st.machine.OnOrderEvent(ev.order, now)
	case evClock:
		actions = st.machine.OnClock(now)
	}
	syncHolding(r.deps.Portfolio, st.machine, before.State)
	after := st.machine.Position()
	st.mu.Unlock()

	r.afterUnlock(ctx, ev, sig, trade)

	if len(actions) > 0 && r.deps.Dispatcher != nil {
		for _, rej := range r.deps.Dispatcher.Dispatch(ctx, actions) {
			r.handle(ctx, event{kind: evOrder, symbol: ev.symbol, order: rej})
		}
	}
	if r.deps.State != nil && (before.State != after.State || len(actions) > 0) {
		if err := r.deps.State.SaveState(ctx, after); err != nil {
			log.Printf("[live] save state %s: %v", ev.symbol, err)
		}
	}
	if m != nil && r.deps.Portfolio != nil {
		m.OpenPositions.Set(float64(r.deps.Portfolio.Count()))
	}
}

func (r *LiveRunner) afterUnlock(ctx context.Context, ev event, sig *signal.Signal, trade *model.Trade) {
	m := r.deps.Metrics
	switch ev.kind {
	case evTick:
		if h := r.deps.Health; h != nil {
			h.SetLastTickTime(ev.tick.TS)
		}
		if ev.tick.IsTrade() {
			if r.deps.Portfolio != nil {
				r.deps.Portfolio.UpdatePrice(ev.symbol, ev.tick.Price)
			}
			if r.deps.Prices != nil {
				r.deps.Prices.OnPrice(ev.symbol, ev.tick.Price, ev.tick.TS)
			}
		}
	case evOrder:
		if m != nil {
			m.OrderEvents.WithLabelValues(string(ev.order.Status)).Inc()
		}
		if r.deps.Journal != nil {
			if err := r.deps.Journal.RecordEvent(ev.order); err != nil {
				log.Printf("[live] journal event %s: %v", ev.order.OrderID, err)
			}
		}
	}

	if sig != nil {
		a := sig.Alert()
		if r.deps.Alerts != nil {
			r.deps.Alerts.Record(a)
		}
		if m != nil {
			m.SignalsTotal.WithLabelValues(r.cfg.Mode.Profile()).Inc()
			m.AlertsTotal.Inc()
		}
		tctx := logger.WithTraceID(ctx, logger.NewTraceID(a.Symbol))
		r.log.Info("signal", append(logger.LogWithTrace(tctx),
			"symbol", a.Symbol, "price", a.Price, "conditions", a.Conditions)...)
		if r.deps.Hooks != nil {
			r.deps.Hooks.Fire(tctx, a)
		}
	}

	if trade != nil {
		r.record(*trade)
	}
}

// entry sizes and plans an entry. Called with the symbol lock held.
func (r *LiveRunner) entry(st *symbolState, sig *signal.Signal, t model.Tick, now time.Time) []position.Action {
	sym := sig.Symbol
	if r.deps.Dispatcher.EntriesHalted() {
		r.log.Warn("entry skipped: order gateway breaker open", "symbol", sym)
		return nil
	}
	balance, ok := r.Balance()
	if !ok {
		r.log.Warn("entry skipped: no account balance", "symbol", sym)
		return nil
	}
	if r.deps.Risk != nil {
		if allowed, why := r.deps.Risk.CanEnter(sym); !allowed {
			r.log.Info("entry blocked by risk", "symbol", sym, "reason", why)
			return nil
		}
	}
	_, ask := st.eval.Quote()
	if ask <= 0 {
		ask = t.Price
	}
	barTS := st.lastBarTS
	if barTS.IsZero() {
		barTS = now
	}
	actions, err := enter(st.machine, sig, ask, balance, r.cfg.Sizing, barTS, now)
	if err != nil {
		r.log.Info("no entry", "symbol", sym, "err", err)
		return nil
	}
	return actions
}

func (r *LiveRunner) record(t model.Trade) {
	if r.deps.Ledger != nil {
		t = r.deps.Ledger.Record(t)
	}
	if r.deps.Risk != nil {
		r.deps.Risk.RecordPnL(t.NetPnL)
	}
	if r.deps.Journal != nil {
		if err := r.deps.Journal.RecordTrade(t); err != nil {
			log.Printf("[live] journal trade %s: %v", t.Symbol, err)
		}
	}
	if m := r.deps.Metrics; m != nil {
		m.TradesTotal.WithLabelValues(t.Reason).Inc()
		if r.deps.Ledger != nil {
			m.RealizedPnL.Set(r.deps.Ledger.Stats().NetPnL)
		}
	}
	r.log.Info("trade closed", "symbol", t.Symbol, "reason", t.Reason, "qty", t.Qty,
		"entry", t.EntryPrice, "exit", t.ExitPrice, "net", t.NetPnL)
	if r.deps.OnTrade != nil {
		r.deps.OnTrade(t)
	}
}
