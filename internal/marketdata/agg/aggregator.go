// Package agg builds fixed-width OHLCV bars from a live trade stream.
package agg

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"momentum-trader/internal/model"
)

// barState holds the in-progress bar for one symbol.
type barState struct {
	bucket   int64 // bucket start, unix seconds
	candle   model.Candle
	notional float64
}

// Aggregator builds bars of a configurable width from trade ticks. Quote-only
// ticks are ignored. A bar is emitted when a later trade opens a new bucket
// or when the clock passes the bucket end.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*barState
	width  int64

	flushInterval time.Duration

	// Now is the clock used for time-based flushing.
	Now func() time.Time

	// Metrics hooks (optional, set externally)
	OnLateTick func(symbol string)
	OnDropped  func(symbol string)
}

// New creates an Aggregator producing bars of barSeconds width.
func New(barSeconds int) *Aggregator {
	if barSeconds <= 0 {
		barSeconds = 1
	}
	return &Aggregator{
		states:        make(map[string]*barState),
		width:         int64(barSeconds),
		flushInterval: 100 * time.Millisecond,
		Now:           time.Now,
	}
}

// Width returns the bar width.
func (a *Aggregator) Width() time.Duration { return time.Duration(a.width) * time.Second }

// Run consumes ticks and sends finalized bars to candleCh until ctx is
// cancelled or tickCh is closed. Open bars are flushed on exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.emitAll(a.FlushAll(), candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.emitAll(a.FlushAll(), candleCh)
				return
			}
			if c, done := a.Add(tick); done {
				a.emit(c, candleCh)
			}

		case <-ticker.C:
			a.emitAll(a.Flush(a.Now()), candleCh)
		}
	}
}

func (a *Aggregator) bucketOf(ts time.Time) int64 {
	s := ts.Unix()
	return s - s%a.width
}

// Add folds a trade tick into its symbol's bar. It returns the previous bar
// when the tick opened a new bucket.
func (a *Aggregator) Add(tick model.Tick) (model.Candle, bool) {
	if !tick.IsTrade() || tick.Symbol == "" {
		return model.Candle{}, false
	}
	bucket := a.bucketOf(tick.TS)

	a.mu.Lock()
	state, exists := a.states[tick.Symbol]

	if exists && bucket < state.bucket {
		a.mu.Unlock()
		if a.OnLateTick != nil {
			a.OnLateTick(tick.Symbol)
		}
		return model.Candle{}, false
	}

	var finished model.Candle
	var rolled bool
	if exists && bucket > state.bucket {
		finished, rolled = state.finish(), true
		exists = false
	}

	if !exists {
		a.states[tick.Symbol] = &barState{
			bucket:   bucket,
			notional: tick.Price * float64(tick.Size),
			candle: model.Candle{
				Symbol: tick.Symbol,
				TS:     time.Unix(bucket, 0).UTC(),
				Open:   tick.Price,
				High:   tick.Price,
				Low:    tick.Price,
				Close:  tick.Price,
				Volume: tick.Size,
				Ticks:  1,
			},
		}
		a.mu.Unlock()
		return finished, rolled
	}

	c := &state.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Size
	c.Ticks++
	state.notional += tick.Price * float64(tick.Size)
	a.mu.Unlock()
	return model.Candle{}, false
}

// Flush finalizes every bar whose bucket ended at or before now.
func (a *Aggregator) Flush(now time.Time) []model.Candle {
	cutoff := now.Unix()
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	for sym, state := range a.states {
		if state.bucket+a.width <= cutoff {
			out = append(out, state.finish())
			delete(a.states, sym)
		}
	}
	sortBars(out)
	return out
}

// FlushAll finalizes every open bar.
func (a *Aggregator) FlushAll() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.Candle, 0, len(a.states))
	for sym, state := range a.states {
		out = append(out, state.finish())
		delete(a.states, sym)
	}
	sortBars(out)
	return out
}

func (s *barState) finish() model.Candle {
	c := s.candle
	if c.Volume > 0 {
		c.VWAP = s.notional / float64(c.Volume)
	}
	return c
}

func (a *Aggregator) emitAll(cs []model.Candle, candleCh chan<- model.Candle) {
	for _, c := range cs {
		a.emit(c, candleCh)
	}
}

// emit sends a finalized bar to candleCh without blocking.
func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		if a.OnDropped != nil {
			a.OnDropped(c.Symbol)
		}
		log.Printf("[agg] candleCh full, dropping bar %s ts=%v", c.Symbol, c.TS)
	}
}

func sortBars(cs []model.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Symbol < cs[j].Symbol })
}
