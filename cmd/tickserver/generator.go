package main

import (
	"context"
	"math"
	"math/rand"
	"time"

	"momentum-trader/internal/marketdata/feed"
)

// generator random-walks each instrument and occasionally injects a surge:
// a sharp price step on heavy volume.
type generator struct {
	instruments []instrument
	rng         *rand.Rand

	// SurgePct is the percent chance per instrument per tick of a surge.
	SurgePct float64
}

func newGenerator(instruments []instrument, seed int64) *generator {
	cp := make([]instrument, len(instruments))
	copy(cp, instruments)
	return &generator{instruments: cp, rng: rand.New(rand.NewSource(seed))}
}

// Next advances every instrument one step and returns a trade and a quote
// for each.
func (g *generator) Next(now time.Time) []feed.Message {
	out := make([]feed.Message, 0, 2*len(g.instruments))
	for i := range g.instruments {
		in := &g.instruments[i]
		size := int64(g.rng.Intn(100) + 1)

		// ±0.1% per tick
		step := (g.rng.Float64()*0.2 - 0.1) / 100
		if g.SurgePct > 0 && g.rng.Float64()*100 < g.SurgePct {
			step = 0.01 + g.rng.Float64()*0.01
			size *= 20
		}
		in.Price = math.Max(0.01, round2(in.Price*(1+step)))

		out = append(out,
			feed.Message{T: feed.TypeTrade, Symbol: in.Symbol, TS: now, Price: in.Price, Size: size},
			feed.Message{
				T: feed.TypeQuote, Symbol: in.Symbol, TS: now,
				BidPrice: round2(in.Price - 0.01), BidSize: int64(g.rng.Intn(10) + 1),
				AskPrice: round2(in.Price + 0.01), AskSize: int64(g.rng.Intn(10) + 1),
			})
	}
	return out
}

// Run broadcasts a step every interval until ctx is cancelled.
func (g *generator) Run(ctx context.Context, h *hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.broadcast(g.Next(now.UTC()))
		}
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
