package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/marketdata/feed"
	"momentum-trader/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_FeedClientReceivesSubscribedSymbols(t *testing.T) {
	h := newHub("", "")
	srv := httptest.NewServer(http.HandlerFunc(h.serveWS))
	defer srv.Close()

	ing, err := feed.New(feed.Config{URL: wsURL(srv), Key: "k", Secret: "s", Symbols: []string{"AAPL"}, Quotes: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.Tick, 16)
	go ing.Start(ctx, ticks, nil)

	require.Eventually(t, func() bool { return h.clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	gen := newGenerator([]instrument{{Symbol: "AAPL", Price: 180}, {Symbol: "TSLA", Price: 200}}, 1)
	h.broadcast(gen.Next(time.Now().UTC()))

	var got []model.Tick
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got = append(got, tk)
		case <-timeout:
			t.Fatalf("received %d ticks", len(got))
		}
	}
	for _, tk := range got {
		assert.Equal(t, "AAPL", tk.Symbol)
	}
	assert.True(t, got[0].IsTrade())
	assert.True(t, got[1].IsQuote())
}

func TestHub_RejectsBadCredentials(t *testing.T) {
	h := newHub("key", "secret")
	srv := httptest.NewServer(http.HandlerFunc(h.serveWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome []feed.Message
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Len(t, welcome, 1)
	assert.Equal(t, "connected", welcome[0].Msg)

	require.NoError(t, conn.WriteJSON(request{Action: "auth", Key: "key", Secret: "wrong"}))
	var reply []feed.Message
	require.NoError(t, conn.ReadJSON(&reply))
	require.Len(t, reply, 1)
	assert.Equal(t, feed.TypeError, reply[0].T)
	assert.Equal(t, 402, reply[0].Code)
	assert.Equal(t, 0, h.clients())
}

func TestGenerator_Surge(t *testing.T) {
	g := newGenerator([]instrument{{Symbol: "AAPL", Price: 100}}, 7)
	g.SurgePct = 100

	msgs := g.Next(time.Now())
	require.Len(t, msgs, 2)
	trade := msgs[0]
	assert.Equal(t, feed.TypeTrade, trade.T)
	assert.GreaterOrEqual(t, trade.Price, 101.0)
	assert.GreaterOrEqual(t, trade.Size, int64(20))

	quote := msgs[1]
	assert.Equal(t, feed.TypeQuote, quote.T)
	assert.Less(t, quote.BidPrice, quote.AskPrice)
}

func TestGenerator_WalkStaysNearPrice(t *testing.T) {
	g := newGenerator([]instrument{{Symbol: "AAPL", Price: 100}}, 3)
	for i := 0; i < 100; i++ {
		g.Next(time.Now())
	}
	p := g.instruments[0].Price
	assert.InDelta(t, 100, p, 15)
}

func TestParseInstruments(t *testing.T) {
	got := parseInstruments("aapl:180, TSLA:200,bad:x, NVDA")
	assert.Equal(t, []instrument{
		{Symbol: "AAPL", Price: 180},
		{Symbol: "TSLA", Price: 200},
		{Symbol: "NVDA", Price: 100},
	}, got)
}

func TestBarMessages(t *testing.T) {
	ts := time.Date(2025, 3, 4, 14, 31, 0, 0, time.UTC)
	msgs := barMessages(model.Candle{Symbol: "AAPL", TS: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 900})
	require.Len(t, msgs, 2)

	bar, ok := msgs[0].Candle()
	require.True(t, ok)
	assert.Equal(t, 1.5, bar.Close)
	assert.Equal(t, int64(900), bar.Volume)

	tk, ok := msgs[1].Tick()
	require.True(t, ok)
	assert.Equal(t, 1.5, tk.Price)
	assert.Equal(t, int64(900), tk.Size)
}
