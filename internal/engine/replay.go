package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"momentum-trader/internal/alert"
	"momentum-trader/internal/circuit"
	"momentum-trader/internal/condition"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/metrics"
	"momentum-trader/internal/model"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	"momentum-trader/internal/signal"
)

// ReasonEndOfBacktest closes positions still open when the data runs out.
const ReasonEndOfBacktest = "END OF BACKTEST"

// replayWindowEnd is the last bar time (exclusive) replayed with RegularOnly.
var replayWindowEnd = markethours.Clock{Hour: 15, Minute: 30}

// ReplayConfig configures a ReplayRunner.
type ReplayConfig struct {
	Mode        Mode
	Sets        SetFactory
	Signal      signal.Config
	Machine     position.Config
	Sizing      Sizing
	Limits      portfolio.RiskLimits
	Commission  portfolio.CommissionSchedule
	Paper       execution.PaperConfig
	RegularOnly bool // skip bars outside 09:30-15:30 ET

	Hooks   *alert.Dispatcher // optional
	Metrics *metrics.Metrics  // optional
}

// ReplayResult is the outcome of one replay.
type ReplayResult struct {
	Alerts  *alert.Log
	Trades  []model.Trade
	Stats   portfolio.Stats
	Bars    int
	Skipped int
}

type replaySymbol struct {
	eval    *signal.Evaluator
	machine *position.Machine
}

// ReplayRunner walks a time-ordered candle series through the evaluators,
// the position machines and a paper broker on a single goroutine. Given the
// same input it produces the same alerts and trades.
type ReplayRunner struct {
	cfg ReplayConfig

	broker  *execution.PaperBroker
	disp    *execution.Dispatcher
	ledger  *portfolio.Ledger
	pf      *portfolio.Portfolio
	risk    *portfolio.RiskManager
	alerts  *alert.Log
	symbols map[string]*replaySymbol

	now       time.Time
	lastClose map[string]float64
}

// NewReplayRunner creates a runner with a fresh paper account.
func NewReplayRunner(cfg ReplayConfig) *ReplayRunner {
	if cfg.Mode == "" {
		cfg.Mode = ModeAlerts
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
	if cfg.Commission == (portfolio.CommissionSchedule{}) {
		cfg.Commission = portfolio.DefaultCommission()
	}
	if cfg.Machine.Session.Location == nil {
		cfg.Machine.Session = markethours.DefaultSession()
	}
	if cfg.Paper.StartingCash <= 0 {
		cfg.Paper.StartingCash = 100000
	}

	r := &ReplayRunner{
		cfg:       cfg,
		broker:    execution.NewPaperBroker(cfg.Paper),
		ledger:    portfolio.NewLedger(cfg.Paper.StartingCash, cfg.Commission),
		pf:        portfolio.New(),
		alerts:    alert.NewLog(markethours.NewYork),
		symbols:   make(map[string]*replaySymbol),
		lastClose: make(map[string]float64),
	}
	r.risk = portfolio.NewRiskManager(cfg.Limits, r.pf, cfg.Paper.StartingCash)

	clock := func() time.Time { return r.now }
	cb := circuit.New("paper", 5, time.Minute).WithClock(clock)
	r.disp = execution.NewDispatcher(r.broker, cb, execution.WithClock(clock))
	return r
}

// Broker exposes the paper account.
func (r *ReplayRunner) Broker() *execution.PaperBroker { return r.broker }

func (r *ReplayRunner) symbol(sym string) *replaySymbol {
	s, ok := r.symbols[sym]
	if !ok {
		s = &replaySymbol{
			eval:    signal.NewEvaluator(sym, r.cfg.Sets(sym), r.cfg.Signal),
			machine: position.NewMachine(sym, r.cfg.Machine),
		}
		r.symbols[sym] = s
	}
	return s
}

// Run replays candles, which must be ordered by time (see replay.Sort).
func (r *ReplayRunner) Run(ctx context.Context, candles []model.Candle) (*ReplayResult, error) {
	res := &ReplayResult{Alerts: r.alerts}

	for i, c := range candles {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if r.cfg.RegularOnly && !r.regular(c.TS) {
			res.Skipped++
			continue
		}
		r.step(ctx, c)
		res.Bars++
	}

	r.closeAll(ctx)
	res.Trades = r.ledger.Trades()
	res.Stats = r.ledger.Stats()

	log.Printf("[replay] %d bars (%d skipped), %d alerts, %d trades, net %.2f",
		res.Bars, res.Skipped, r.alerts.Count(), res.Stats.Trades, res.Stats.NetPnL)
	return res, nil
}

func (r *ReplayRunner) regular(t time.Time) bool {
	s := r.cfg.Machine.Session
	return markethours.IsTradingDay(t.In(markethours.NewYork)) && s.Within(t, s.Open, replayWindowEnd)
}

// step runs one bar: broker matching, order events, exits, then the signal
// and a possible entry.
func (r *ReplayRunner) step(ctx context.Context, c model.Candle) {
	r.now = c.TS
	r.lastClose[c.Symbol] = c.Close
	r.pf.UpdatePrice(c.Symbol, c.Close)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.CandlesTotal.Inc()
	}

	r.broker.OnBar(c)
	r.drain(ctx)

	s := r.symbol(c.Symbol)
	m := s.machine
	if r.cfg.Mode == ModeTrade {
		before := m.State()
		r.apply(ctx, m, m.OnClock(c.TS))
		r.apply(ctx, m, m.OnQuote(c.Close, c.Close, c.TS))
		bars := append(s.eval.Bars(), c)
		r.apply(ctx, m, m.OnCandle(bars, c.TS))
		syncHolding(r.pf, m, before)
		r.drain(ctx)
	}

	sig := s.eval.OnCandle(c)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.EvaluationsTotal.Inc()
	}
	if sig == nil {
		return
	}
	a := sig.Alert()
	r.alerts.Record(a)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SignalsTotal.WithLabelValues(r.cfg.Mode.Profile()).Inc()
		r.cfg.Metrics.AlertsTotal.Inc()
	}
	if r.cfg.Hooks != nil {
		r.cfg.Hooks.Fire(ctx, a)
	}

	if r.cfg.Mode != ModeTrade || m.Active() {
		return
	}
	if ok, why := r.risk.CanEnter(c.Symbol); !ok {
		log.Printf("[replay] %s entry blocked: %s", c.Symbol, why)
		return
	}
	balance, _ := r.broker.Balance(ctx)
	actions, err := enter(m, sig, c.Close, balance, r.cfg.Sizing, c.TS, c.TS)
	if err != nil {
		if !errors.Is(err, position.ErrSessionClosed) {
			log.Printf("[replay] %s no entry: %v", c.Symbol, err)
		}
		return
	}
	before := m.State()
	r.apply(ctx, m, actions)
	syncHolding(r.pf, m, before)
	r.drain(ctx)
}

// apply dispatches actions and feeds synthesized rejections back.
func (r *ReplayRunner) apply(ctx context.Context, m *position.Machine, actions []position.Action) {
	if len(actions) == 0 {
		return
	}
	for _, ev := range r.disp.Dispatch(ctx, actions) {
		r.onOrderEvent(ctx, m, ev)
	}
}

// drain handles every order event the broker has queued.
func (r *ReplayRunner) drain(ctx context.Context) {
	for {
		select {
		case ev := <-r.broker.Events():
			s, ok := r.symbols[ev.Symbol]
			if !ok {
				continue
			}
			r.onOrderEvent(ctx, s.machine, ev)
		default:
			return
		}
	}
}

func (r *ReplayRunner) onOrderEvent(ctx context.Context, m *position.Machine, ev model.OrderEvent) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.OrderEvents.WithLabelValues(string(ev.Status)).Inc()
	}
	before := m.State()
	actions, trade := m.OnOrderEvent(ev, r.now)
	syncHolding(r.pf, m, before)
	if trade != nil {
		r.record(*trade)
	}
	r.apply(ctx, m, actions)
}

func (r *ReplayRunner) record(t model.Trade) {
	t = r.ledger.Record(t)
	r.risk.RecordPnL(t.NetPnL)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.TradesTotal.WithLabelValues(t.Reason).Inc()
		r.cfg.Metrics.RealizedPnL.Set(r.ledger.Stats().NetPnL)
	}
}

// closeAll cancels pending entries and closes open positions at the last
// close, in symbol order.
func (r *ReplayRunner) closeAll(ctx context.Context) {
	syms := make([]string, 0, len(r.symbols))
	for sym := range r.symbols {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		m := r.symbols[sym].machine
		p := m.Position()
		switch p.State {
		case position.PendingEntry:
			_ = r.broker.Cancel(ctx, p.EntryOrderID)
		case position.Open, position.Exiting:
			for _, id := range []string{p.ProfitOrderID, p.StopOrderID, p.ExitOrderID} {
				if id != "" {
					_ = r.broker.Cancel(ctx, id)
				}
			}
			if t := m.ForceClose(r.lastClose[sym], ReasonEndOfBacktest, r.now); t != nil {
				r.record(*t)
			}
		}
	}
	// Cancels may have queued events; they refer to orders no machine tracks
	// any more.
	for len(r.broker.Events()) > 0 {
		<-r.broker.Events()
	}
}
