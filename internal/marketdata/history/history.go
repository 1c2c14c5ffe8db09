// Package history downloads historical bars from the Alpaca market-data API
// for storage in the candle store.
package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"momentum-trader/internal/model"
)

type barsAPI interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Config holds credentials and the data feed.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // empty for the production data endpoint
	Feed      string // "iex" or "sip"
}

// Fetcher pulls bars for one symbol at a time.
type Fetcher struct {
	api  barsAPI
	feed string
}

// NewFetcher creates a Fetcher backed by the Alpaca market-data client.
func NewFetcher(cfg Config) *Fetcher {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newFetcher(client, cfg.Feed)
}

func newFetcher(api barsAPI, feed string) *Fetcher {
	if feed == "" {
		feed = marketdata.IEX
	}
	return &Fetcher{api: api, feed: feed}
}

// TimeFrame maps a bar width to an Alpaca timeframe. Widths must be a whole
// number of minutes.
func TimeFrame(barSeconds int) (marketdata.TimeFrame, error) {
	if barSeconds <= 0 || barSeconds%60 != 0 {
		return marketdata.TimeFrame{}, fmt.Errorf("history: bar width %ds is not whole minutes: %w",
			barSeconds, model.ErrInvalidInput)
	}
	mins := barSeconds / 60
	if mins%60 == 0 {
		return marketdata.NewTimeFrame(mins/60, marketdata.Hour), nil
	}
	return marketdata.NewTimeFrame(mins, marketdata.Min), nil
}

// Fetch returns bars for symbol in [from, to), oldest first.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, from, to time.Time, barSeconds int) ([]model.Candle, error) {
	tf, err := TimeFrame(barSeconds)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, fmt.Errorf("history: empty range %v..%v: %w", from, to, model.ErrInvalidInput)
	}

	type result struct {
		bars []marketdata.Bar
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		bars, err := f.api.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     from,
			End:       to,
			Feed:      f.feed,
		})
		ch <- result{bars, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, fmt.Errorf("history: get bars %s: %v: %w", symbol, res.err, model.ErrExternalFailure)
	}

	out := make([]model.Candle, 0, len(res.bars))
	for _, b := range res.bars {
		if !b.Timestamp.Before(to) {
			continue
		}
		out = append(out, model.Candle{
			Symbol: symbol,
			TS:     b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
			VWAP:   b.VWAP,
			Ticks:  int(b.TradeCount),
		})
	}
	log.Printf("[history] %s: %d bars (%s) %s..%s", symbol, len(out), tf,
		from.Format(time.DateOnly), to.Format(time.DateOnly))
	return out, nil
}
