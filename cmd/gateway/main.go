// Command gateway streams alerts from Redis to WebSocket clients and serves
// the recent alert history over REST. It runs beside one or more scanners
// that publish to Redis (REDIS_ADDR).
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momentum-trader/config"
	"momentum-trader/internal/gateway"
	"momentum-trader/internal/logger"
	redisstore "momentum-trader/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	processStart := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[gateway] config: %v", err)
	}
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[gateway] %v", err)
	}
	logger.Init("gateway", lvl)

	if cfg.RedisAddr == "" {
		log.Fatal("[gateway] REDIS_ADDR is required")
	}
	session, err := cfg.Session()
	if err != nil {
		log.Fatalf("[gateway] session: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Fatalf("[gateway] redis: %v", err)
	}
	defer rdb.Close()
	slog.Info("redis connected", "addr", cfg.RedisAddr)

	hub := gateway.NewHub()
	go hub.Run(ctx, rdb)
	go hub.StartStatsBroadcast(ctx, session, processStart, 2*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, rdb, session, processStart)
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	go func() {
		slog.Info("listening", "addr", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[gateway] http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[gateway] shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	log.Println("[gateway] shutdown complete")
}
