package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
)

type envelope struct {
	Type       string          `json:"type"`
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Symbols    []string        `json:"symbols"`
	ReqID      string          `json:"req_id"`
}

func newTestServer(t *testing.T, hub *Hub, recent RecentSource) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, recent, markethours.DefaultSession(), time.Now())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames, splitting coalesced messages, until n envelopes
// satisfying keep have arrived.
func readUntil(t *testing.T, conn *websocket.Conn, n int, keep func(envelope) bool) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(out) < n {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var e envelope
			require.NoError(t, json.Unmarshal(line, &e))
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	return out
}

func isAlert(e envelope) bool { return strings.HasPrefix(e.Channel, channelPrefix) }

func testAlert(sym string, price float64) model.Alert {
	return model.Alert{
		Symbol:     sym,
		Timestamp:  time.Now().UTC(),
		Price:      price,
		Volume:     1000,
		Conditions: []string{"Volume Spike: 3.0x"},
	}
}

func TestHub_SubscribedClientReceivesOnlyItsSymbols(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub, nil)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: "SUBSCRIBE", Symbols: []string{"aapl"}, ReqID: "r1"}))
	ack := readUntil(t, conn, 1, func(e envelope) bool { return e.Type == "subscribed" })
	assert.Equal(t, "r1", ack[0].ReqID)
	assert.Equal(t, []string{"AAPL"}, ack[0].Symbols)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, testAlert("AAPL", 10)))
	require.NoError(t, hub.Publish(ctx, testAlert("TSLA", 20)))
	require.NoError(t, hub.Publish(ctx, testAlert("AAPL", 11)))

	got := readUntil(t, conn, 2, isAlert)
	for _, e := range got {
		assert.Equal(t, "alerts:AAPL", e.Channel)
	}
	assert.Equal(t, []int64{1, 2}, []int64{got[0].ChannelSeq, got[1].ChannelSeq})
	assert.Equal(t, []int64{1, 3}, []int64{got[0].Seq, got[1].Seq})

	var a model.Alert
	require.NoError(t, json.Unmarshal(got[1].Data, &a))
	assert.Equal(t, 11.0, a.Price)
	assert.Equal(t, int64(1), hub.GetChannelSeq("alerts:TSLA"))
	assert.Equal(t, 3, hub.Latency.Count())
}

func TestHub_InitialStateOnConnect(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Publish(context.Background(), testAlert("NVDA", 50)))

	srv := newTestServer(t, hub, nil)
	conn := dial(t, srv)

	got := readUntil(t, conn, 1, isAlert)
	assert.Equal(t, "alerts:NVDA", got[0].Channel)
	assert.Equal(t, int64(1), got[0].ChannelSeq)
}

func TestHub_MissedBackfill(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 4; i++ {
		require.NoError(t, hub.Publish(context.Background(), testAlert("AAPL", float64(10+i))))
	}
	srv := newTestServer(t, hub, nil)

	resp, err := http.Get(srv.URL + "/api/missed?channel=alerts:AAPL&from=2&to=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ChannelSeq int64             `json:"channel_seq"`
		Messages   []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(4), body.ChannelSeq)
	require.Len(t, body.Messages, 2)

	var e envelope
	require.NoError(t, json.Unmarshal(body.Messages[0], &e))
	assert.Equal(t, int64(2), e.ChannelSeq)
}

func TestHub_MissedRequiresRange(t *testing.T) {
	srv := newTestServer(t, NewHub(), nil)
	resp, err := http.Get(srv.URL + "/api/missed?channel=alerts:AAPL")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type fakeRecent struct {
	n      int64
	alerts []model.Alert
}

func (f *fakeRecent) RecentAlerts(_ context.Context, n int64) ([]model.Alert, error) {
	f.n = n
	return f.alerts, nil
}

func TestHub_RecentFromSource(t *testing.T) {
	src := &fakeRecent{alerts: []model.Alert{testAlert("AMD", 5)}}
	srv := newTestServer(t, NewHub(), src)

	resp, err := http.Get(srv.URL + "/api/alerts/recent?n=7")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []model.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "AMD", got[0].Symbol)
	assert.Equal(t, int64(7), src.n)
}

type chanSource struct {
	alerts []model.Alert
}

func (s chanSource) SubscribeAlerts(ctx context.Context, out chan<- model.Alert) error {
	for _, a := range s.alerts {
		out <- a
	}
	<-ctx.Done()
	return nil
}

func TestHub_RunForwardsSource(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx, chanSource{alerts: []model.Alert{testAlert("AAPL", 1), testAlert("TSLA", 2)}})

	require.Eventually(t, func() bool { return len(hub.GetLatestAll()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestAppendEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	buf := appendEnvelope(nil, "alerts:AAPL", []byte(`{"symbol":"AAPL"}`), ts, 42, 7)

	var e envelope
	require.NoError(t, json.Unmarshal(buf, &e))
	assert.Equal(t, "alerts:AAPL", e.Channel)
	assert.JSONEq(t, `{"symbol":"AAPL"}`, string(e.Data))
	assert.Equal(t, "2024-03-15T14:30:00Z", e.TS)
	assert.Equal(t, int64(42), e.Seq)
	assert.Equal(t, int64(7), e.ChannelSeq)
}

func TestClient_MatchesChannel(t *testing.T) {
	c := &Client{subs: map[string]bool{}}
	assert.True(t, c.matchesChannel("alerts:TSLA"))

	c.subs["AAPL"] = true
	assert.True(t, c.matchesChannel("alerts:AAPL"))
	assert.False(t, c.matchesChannel("alerts:TSLA"))
	assert.True(t, c.matchesChannel("stats"))
}
