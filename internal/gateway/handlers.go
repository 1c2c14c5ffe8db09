package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"momentum-trader/internal/markethours"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the stream and REST routes. recent may be nil, in
// which case /api/alerts/recent serves the hub's latest alert per symbol.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, recent RecentSource, session markethours.Session, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWS(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/alerts/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.GetLatestAll())
	})

	mux.HandleFunc("/api/alerts/recent", func(w http.ResponseWriter, r *http.Request) {
		n := int64(50)
		if s := r.URL.Query().Get("n"); s != "" {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 && v <= 1000 {
				n = v
			}
		}
		if recent == nil {
			latest := hub.GetLatestAll()
			keys := make([]string, 0, len(latest))
			for k := range latest {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]json.RawMessage, 0, len(keys))
			for _, k := range keys {
				out = append(out, latest[k])
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		alerts, err := recent.RecentAlerts(r.Context(), n)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	})

	// Backfill of a channel_seq gap: /api/missed?channel=alerts:AAPL&from=3&to=9
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := q.Get("channel")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || err1 != nil || err2 != nil || from > to {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel, from and to are required"})
			return
		}
		entries := hub.GetReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(entries))
		for i, e := range entries {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channel":     channel,
			"channel_seq": hub.GetChannelSeq(channel),
			"messages":    out,
		})
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Stats(session, processStart))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
