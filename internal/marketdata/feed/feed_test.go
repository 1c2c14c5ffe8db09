package feed

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

	"momentum-trader/internal/model"
)

func TestDecode_ArrayAndObject(t *testing.T) {
	msgs, err := Decode([]byte(`[{"T":"t","S":"AAPL","p":190.12,"s":100,"t":"2025-03-14T14:30:01.25Z"},` +
		`{"T":"q","S":"AAPL","bp":190.1,"ap":190.14,"t":"2025-03-14T14:30:01.3Z"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	tick, ok := msgs[0].Tick()
	require.True(t, ok)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.Equal(t, 190.12, tick.Price)
	assert.Equal(t, int64(100), tick.Size)
	assert.Equal(t, int64(100), tick.Volume)

	quote, ok := msgs[1].Tick()
	require.True(t, ok)
	assert.True(t, quote.IsQuote())
	assert.False(t, quote.IsTrade())
	assert.Equal(t, 190.14, quote.Ask)

	one, err := Decode([]byte(`{"T":"error","code":402,"msg":"auth failed"}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.ErrorContains(t, one[0].Err(), "auth failed")
}

func TestMessage_Candle(t *testing.T) {
	msgs, err := Decode([]byte(`[{"T":"b","S":"SPY","o":1,"h":2,"l":0.5,"c":1.5,"v":1000,"vw":1.2,"n":7,"t":"2025-03-14T14:31:00Z"}]`))
	require.NoError(t, err)

	c, ok := msgs[0].Candle()
	require.True(t, ok)
	assert.Equal(t, model.Candle{
		Symbol: "SPY", TS: time.Date(2025, 3, 14, 14, 31, 0, 0, time.UTC),
		Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000, VWAP: 1.2, Ticks: 7,
	}, c)

	_, ok = msgs[0].Tick()
	assert.False(t, ok)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{URL: "http://example.com", Symbols: []string{"AAPL"}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = New(Config{URL: "ws://localhost:9001/ws"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	ing, err := New(Config{URL: "ws://localhost:9001/ws", Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, ing.cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, ing.cfg.MaxReconnectDelay)
}

// streamServer speaks the handshake and then writes frames.
func streamServer(t *testing.T, frames ...string) (*httptest.Server, <-chan subscribeRequest) {
	t.Helper()
	subs := make(chan subscribeRequest, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))
		var auth authRequest
		if conn.ReadJSON(&auth) != nil || auth.Key != "k" {
			conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"error","code":402,"msg":"auth failed"}]`))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"authenticated"}]`))

		var sub subscribeRequest
		if conn.ReadJSON(&sub) != nil {
			return
		}
		subs <- sub
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"subscription","trades":["AAPL"]}]`))
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	return srv, subs
}

func TestIngest_StreamsTicksAndBars(t *testing.T) {
	srv, subs := streamServer(t,
		`[{"T":"t","S":"AAPL","p":10,"s":5,"t":"2025-03-14T14:30:01Z"}]`,
		`[{"T":"b","S":"AAPL","o":10,"h":11,"l":9,"c":10.5,"v":500,"t":"2025-03-14T14:30:00Z"}]`,
	)
	defer srv.Close()

	ing, err := New(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Key:     "k",
		Secret:  "s",
		Symbols: []string{"AAPL"},
		Bars:    true,
	})
	require.NoError(t, err)

	connected := make(chan bool, 4)
	ing.OnConnect = func(v bool) { connected <- v }

	tickCh := make(chan model.Tick, 4)
	barCh := make(chan model.Candle, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Start(ctx, tickCh, barCh) }()

	select {
	case tk := <-tickCh:
		assert.Equal(t, 10.0, tk.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
	select {
	case bar := <-barCh:
		assert.Equal(t, int64(500), bar.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("no bar received")
	}

	sub := <-subs
	assert.Equal(t, []string{"AAPL"}, sub.Trades)
	assert.Equal(t, []string{"AAPL"}, sub.Bars)
	assert.Empty(t, sub.Quotes)
	assert.True(t, <-connected)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestIngest_AuthFailureReconnects(t *testing.T) {
	srv, _ := streamServer(t)
	defer srv.Close()

	ing, err := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Key:            "wrong",
		Symbols:        []string{"AAPL"},
		ReconnectDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	reconnects := make(chan struct{}, 8)
	ing.OnReconnect = func() { reconnects <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ing.Start(ctx, make(chan model.Tick, 1), nil)

	select {
	case <-reconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reconnect after auth failure")
	}
}
