// Package replay loads historical candles for several symbols into one
// time-ordered series and optionally paces them out at a speed multiplier.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"momentum-trader/internal/model"
)

// Load reads candles for every symbol in [from, to) and merges them ordered
// by (timestamp, symbol). The order is total, so repeated loads of the same
// data produce the same sequence.
func Load(ctx context.Context, src model.CandleSource, symbols []string, from, to time.Time) ([]model.Candle, error) {
	var all []model.Candle
	for _, sym := range symbols {
		cs, err := src.Candles(ctx, sym, from, to)
		if err != nil {
			return nil, fmt.Errorf("replay: load %s: %w", sym, err)
		}
		if len(cs) == 0 {
			log.Printf("[replay] no candles for %s", sym)
		}
		all = append(all, cs...)
	}
	Sort(all)
	return all, nil
}

// Sort orders candles by timestamp, then symbol.
func Sort(cs []model.Candle) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].TS.Equal(cs[j].TS) {
			return cs[i].TS.Before(cs[j].TS)
		}
		return cs[i].Symbol < cs[j].Symbol
	})
}

// Replayer emits a loaded series into a channel, simulating the gaps
// between bars.
type Replayer struct {
	// Speed is the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
	// as possible.
	Speed float64

	// MaxGap caps any single simulated wait. Defaults to 5s.
	MaxGap time.Duration
}

// Run sends candles to outCh in order. It blocks on a full channel and
// returns ctx.Err() when cancelled.
func (r *Replayer) Run(ctx context.Context, candles []model.Candle, outCh chan<- model.Candle) error {
	maxGap := r.MaxGap
	if maxGap <= 0 {
		maxGap = 5 * time.Second
	}

	var prevTS time.Time
	emitted := 0
	for _, c := range candles {
		if r.Speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				wait := time.Duration(float64(gap) / r.Speed)
				if wait > maxGap {
					wait = maxGap
				}
				select {
				case <-ctx.Done():
					log.Printf("[replay] cancelled after %d candles", emitted)
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prevTS = c.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}
