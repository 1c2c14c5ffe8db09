// Package signal turns a per-symbol stream of ticks and candles into
// cooldown-limited entry signals by running a condition set over a rolling
// market snapshot.
package signal

import (
	"time"

	"momentum-trader/internal/condition"
	"momentum-trader/internal/indicator"
	"momentum-trader/internal/model"
	"momentum-trader/internal/ringbuf"
)

// Config controls history retention and signal spacing.
type Config struct {
	Cooldown      time.Duration  // minimum gap between signals (strictly greater)
	HistoryWindow time.Duration  // age limit of snapshot price/volume history
	HistorySize   int            // max retained price/volume points
	BarHistory    int            // max retained candles
	Location      *time.Location // session VWAP day boundary
}

// DefaultConfig returns a 5s cooldown, a 60s/1000-point history and one hour
// of 10s bars.
func DefaultConfig() Config {
	return Config{
		Cooldown:      5 * time.Second,
		HistoryWindow: 60 * time.Second,
		HistorySize:   1000,
		BarHistory:    360,
	}
}

// Signal is an immutable record of a passing evaluation.
type Signal struct {
	Symbol     string             `json:"symbol"`
	Timestamp  time.Time          `json:"timestamp"`
	Snapshot   condition.Snapshot `json:"-"`
	Reasons    []string           `json:"reasons"`
	Labeled    []string           `json:"conditions"`
	Results    []condition.Result `json:"results"`
	StopAnchor float64            `json:"stop_anchor,omitempty"`
}

// Alert converts the signal into the alert record written to the alert log.
func (s *Signal) Alert() model.Alert {
	return model.Alert{
		Symbol:     s.Symbol,
		Timestamp:  s.Timestamp,
		Price:      s.Snapshot.Price,
		Volume:     s.Snapshot.Volume,
		VWAP:       s.Snapshot.VWAP,
		Conditions: append([]string(nil), s.Labeled...),
	}
}

// Evaluator holds one symbol's rolling history and condition set.
// It is not safe for concurrent use; the runner serialises calls per symbol.
type Evaluator struct {
	symbol string
	set    *condition.Set
	cfg    Config

	prices  *ringbuf.Ring[condition.Point]
	volumes *ringbuf.Ring[condition.Point]
	bars    *ringbuf.Ring[model.Candle]
	session *indicator.SessionVWAP

	bid, ask   float64
	lastVWAP   float64
	lastSignal time.Time
	signaled   bool
	evals      uint64
}

// NewEvaluator creates an evaluator for symbol running set.
func NewEvaluator(symbol string, set *condition.Set, cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.BarHistory <= 0 {
		cfg.BarHistory = def.BarHistory
	}
	return &Evaluator{
		symbol:  symbol,
		set:     set,
		cfg:     cfg,
		prices:  ringbuf.New[condition.Point](cfg.HistorySize),
		volumes: ringbuf.New[condition.Point](cfg.HistorySize),
		bars:    ringbuf.New[model.Candle](cfg.BarHistory),
		session: indicator.NewSessionVWAP(cfg.Location),
	}
}

// Symbol returns the evaluated symbol.
func (e *Evaluator) Symbol() string { return e.symbol }

// Set returns the condition set, for reading the last cycle's results.
func (e *Evaluator) Set() *condition.Set { return e.set }

// Evaluations returns how many snapshots have been evaluated.
func (e *Evaluator) Evaluations() uint64 { return e.evals }

// Bars returns a copy of the retained candles, oldest first.
func (e *Evaluator) Bars() []model.Candle { return e.bars.Values() }

// Quote returns the last seen bid and ask.
func (e *Evaluator) Quote() (bid, ask float64) { return e.bid, e.ask }

// OnTick folds a live tick into the history and evaluates it. Quote-only
// ticks update the bid/ask and are not evaluated.
func (e *Evaluator) OnTick(t model.Tick) *Signal {
	if !e.Observe(t) {
		return nil
	}
	return e.evaluate(t.TS, t.Price, t.Volume, t.VWAP)
}

// Observe folds a tick into the history without evaluating. It reports
// whether the tick carried a trade price.
func (e *Evaluator) Observe(t model.Tick) bool {
	if t.Bid > 0 {
		e.bid = t.Bid
	}
	if t.Ask > 0 {
		e.ask = t.Ask
	}
	if !t.IsTrade() {
		return false
	}
	if t.VWAP > 0 {
		e.lastVWAP = t.VWAP
	}
	e.prices.Push(condition.Point{TS: t.TS, Value: t.Price})
	e.volumes.Push(condition.Point{TS: t.TS, Value: float64(t.Volume)})
	return true
}

// OnCandle folds a completed candle into bars and history and evaluates at
// the candle's close price.
func (e *Evaluator) OnCandle(c model.Candle) *Signal {
	e.bars.Push(c)
	e.session.Add(c)
	if c.VWAP > 0 {
		e.lastVWAP = c.VWAP
	}

	e.prices.Push(condition.Point{TS: c.TS, Value: c.Close})
	e.volumes.Push(condition.Point{TS: c.TS, Value: float64(c.Volume)})

	return e.evaluate(c.TS, c.Close, c.Volume, c.VWAP)
}

// AddBar records a candle for the pattern conditions without evaluating.
// Live trading feeds bars this way and evaluates on ticks.
func (e *Evaluator) AddBar(c model.Candle) {
	e.bars.Push(c)
	e.session.Add(c)
}

func (e *Evaluator) evaluate(now time.Time, price float64, volume int64, vwap float64) *Signal {
	snap := e.snapshot(now, price, volume, vwap)
	e.evals++

	if !e.set.Evaluate(&snap) {
		return nil
	}
	if e.signaled && now.Sub(e.lastSignal) <= e.cfg.Cooldown {
		return nil
	}
	e.lastSignal = now
	e.signaled = true

	sig := &Signal{
		Symbol:    e.symbol,
		Timestamp: now,
		Snapshot:  snap,
		Reasons:   e.set.TriggerReasons(),
		Labeled:   e.set.Labeled(),
		Results:   e.set.Results(),
	}
	for _, r := range sig.Results {
		if r.Passed && r.Anchor > 0 {
			sig.StopAnchor = r.Anchor
			break
		}
	}
	return sig
}

func (e *Evaluator) snapshot(now time.Time, price float64, volume int64, vwap float64) condition.Snapshot {
	if vwap <= 0 {
		if v, err := e.session.Value(); err == nil {
			vwap = v
		} else {
			vwap = e.lastVWAP
		}
	}

	cutoff := now.Add(-e.cfg.HistoryWindow)
	recent := func(p condition.Point) bool { return !p.TS.Before(cutoff) }

	return condition.Snapshot{
		Symbol:        e.symbol,
		Price:         price,
		Volume:        volume,
		VWAP:          vwap,
		Bid:           e.bid,
		Ask:           e.ask,
		Timestamp:     now,
		PriceHistory:  e.prices.Since(recent),
		VolumeHistory: e.volumes.Since(recent),
		Bars:          e.bars.Values(),
	}
}
