// Command tickserver is a local stand-in for the market data stream. It
// speaks the same handshake (welcome, auth, subscribe) and frame format as
// the live feed and broadcasts either a simulated random walk with
// occasional surges or bars replayed from the candle database.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR      listen address (default ":9001")
//	TICK_SYMBOLS          SYMBOL:PRICE pairs (default "AAPL:180,TSLA:200")
//	TICK_INTERVAL_MS      broadcast interval (default 100)
//	TICK_SURGE_PCT        chance per tick of a price/volume surge (default 0.5)
//	TICK_KEY, TICK_SECRET credentials clients must send (any when unset)
//	TICK_REPLAY_DB        replay bars from this database instead of simulating
//	TICK_REPLAY_BAR_SECS  bar width to replay (default 60)
//	TICK_REPLAY_SPEED     replay speed multiplier (default 10)
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("TICK_SYMBOLS", "AAPL:180,TSLA:200"))
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
	}

	h := newHub(os.Getenv("TICK_KEY"), os.Getenv("TICK_SECRET"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if db := os.Getenv("TICK_REPLAY_DB"); db != "" {
		symbols := make([]string, len(instruments))
		for i, in := range instruments {
			symbols[i] = in.Symbol
		}
		barSecs := envIntOrDefault("TICK_REPLAY_BAR_SECS", 60)
		speed := envFloatOrDefault("TICK_REPLAY_SPEED", 10)
		go func() {
			if err := runReplay(ctx, h, db, barSecs, speed, symbols); err != nil {
				log.Printf("[tickserver] replay: %v", err)
			}
		}()
		log.Printf("[tickserver] replaying %s (%ds bars, %.0fx) for %v", db, barSecs, speed, symbols)
	} else {
		gen := newGenerator(instruments, time.Now().UnixNano())
		gen.SurgePct = envFloatOrDefault("TICK_SURGE_PCT", 0.5)
		interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 100)) * time.Millisecond
		go gen.Run(ctx, h, interval)
		log.Printf("[tickserver] simulating %d instruments every %s", len(instruments), interval)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/v2/iex", h.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d}`+"\n", h.clients())
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[tickserver] listening on %s (ws://localhost%s/ws)", addr, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[tickserver] server error: %v", err)
	}
	log.Println("[tickserver] stopped")
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		sym := strings.ToUpper(strings.TrimSpace(seg[0]))
		price := 100.0
		if len(seg) == 2 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
			if err != nil || p <= 0 {
				log.Printf("[tickserver] skipping invalid symbol spec: %q", part)
				continue
			}
			price = p
		}
		result = append(result, instrument{Symbol: sym, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
