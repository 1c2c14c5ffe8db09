package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"momentum-trader/internal/marketdata/feed"
	"momentum-trader/internal/marketdata/replay"
	"momentum-trader/internal/model"
	sqlitestore "momentum-trader/internal/store/sqlite"
)

// runReplay streams stored bars in time order. Each bar goes out as a bar
// message plus a trade at its close carrying the bar's volume.
func runReplay(ctx context.Context, h *hub, dbPath string, barSecs int, speed float64, symbols []string) error {
	reader, err := sqlitestore.NewReader(dbPath, barSecs)
	if err != nil {
		return err
	}
	defer reader.Close()

	candles, err := replay.Load(ctx, reader, symbols, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no %ds bars for %v in %s", barSecs, symbols, dbPath)
	}

	ch := make(chan model.Candle, 256)
	done := make(chan error, 1)
	go func() {
		r := &replay.Replayer{Speed: speed}
		done <- r.Run(ctx, candles, ch)
		close(ch)
	}()

	for c := range ch {
		h.broadcast(barMessages(c))
	}
	if err := <-done; err != nil && ctx.Err() == nil {
		return err
	}
	log.Printf("[tickserver] replay finished (%d bars)", len(candles))
	return nil
}

func barMessages(c model.Candle) []feed.Message {
	return []feed.Message{
		{
			T: feed.TypeBar, Symbol: c.Symbol, TS: c.TS,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, VWAP: c.VWAP, Count: c.Ticks,
		},
		{T: feed.TypeTrade, Symbol: c.Symbol, TS: c.TS, Price: c.Close, Size: c.Volume},
	}
}
