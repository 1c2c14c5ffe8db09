package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"momentum-trader/config"
	"momentum-trader/internal/alert"
	"momentum-trader/internal/circuit"
	"momentum-trader/internal/engine"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/gateway"
	"momentum-trader/internal/marketdata/agg"
	"momentum-trader/internal/marketdata/bus"
	"momentum-trader/internal/marketdata/feed"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/metrics"
	"momentum-trader/internal/model"
	"momentum-trader/internal/notification"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	redisstore "momentum-trader/internal/store/redis"
	sqlitestore "momentum-trader/internal/store/sqlite"
)

// runLive wires the streaming pipeline:
//
//	feed -> ticks fan-out -> runner
//	                      -> aggregator -> bars fan-out -> runner, sqlite, redis
//
// and blocks until ctx is cancelled. With stream set, alerts are also served
// to WebSocket clients on cfg.GatewayAddr.
func runLive(ctx context.Context, cfg *config.Config, mode engine.Mode, stream bool) error {
	if err := cfg.CheckSymbols(string(mode)); err != nil {
		return err
	}
	session, err := cfg.Session()
	if err != nil {
		return err
	}
	slog.Info("starting", "mode", mode, "symbols", cfg.Symbols, "bar_seconds", cfg.BarSeconds)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(string(mode), cfg.Symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	if mode == engine.ModeAlerts {
		health.SetBrokerOK(true)
	}

	// ---- SQLite candle store ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return err
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, BarSeconds: cfg.BarSeconds})
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer sqlWriter.Close()

	// ---- Journal ----
	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return err
	}
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer journal.Close()

	// ---- Redis (optional) ----
	var (
		rdb      *redisstore.Publisher
		buffered *redisstore.BufferedPublisher
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[trader] WARNING: redis init failed: %v (continuing without redis)", err)
			rdb = nil
		} else {
			defer rdb.Close()
			buffered = redisstore.NewBufferedPublisher(ctx, rdb, circuit.New("redis", 5, 10*time.Second), 10000)
			buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		}
	}
	if rdb != nil {
		health.StartLivenessChecker(ctx, rdb.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Alert hooks ----
	hooks := alert.NewDispatcher()
	hooks.OnPanic = func(string) { prom.AlertHookPanics.Inc() }
	hooks.RegisterSink("journal", journal)
	if buffered != nil {
		hooks.RegisterSink("redis", buffered)
	}
	notifiers := notification.NewSink(buildNotifiers(cfg)...)
	hooks.RegisterSink("notify", notifiers)
	var streamSrv *http.Server
	if stream {
		hub := gateway.NewHub()
		hooks.RegisterSink("stream", hub)
		mux := http.NewServeMux()
		var recent gateway.RecentSource
		if rdb != nil {
			recent = rdb
		}
		gateway.RegisterRoutes(mux, hub, recent, session, time.Now())
		streamSrv = &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
		go hub.StartStatsBroadcast(ctx, session, time.Now(), 5*time.Second)
		go func() {
			log.Printf("[trader] alert stream on %s", cfg.GatewayAddr)
			if err := streamSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[trader] alert stream: %v", err)
			}
		}()
	}
	alerts := alert.NewLog(markethours.NewYork)

	// ---- Runner ----
	lc := engine.LiveConfig{
		Mode:        mode,
		Symbols:     cfg.Symbols,
		Sets:        engine.ProfileSets(mode.Profile(), cfg.Params()),
		Signal:      cfg.SignalConfig(),
		Machine:     cfg.MachineConfig(position.RandomIDs("mt")),
		Sizing:      engine.Sizing{RiskPct: cfg.RiskPct, AllocPct: cfg.AllocPct},
		Workers:     cfg.Workers,
		EventBuffer: cfg.EventBuffer,
		BalancePoll: cfg.BalancePoll,
	}
	lc.Machine.Session = session
	deps := engine.LiveDeps{
		Hooks:   hooks,
		Alerts:  alerts,
		Journal: journal,
		Metrics: prom,
		Health:  health,
		OnTrade: func(t model.Trade) {
			if err := notifiers.Send(ctx, notification.FromTrade(t)); err != nil {
				log.Printf("[trader] trade notification: %v", err)
			}
		},
	}
	if rdb != nil {
		deps.State = rdb
	}

	if mode == engine.ModeTrade {
		if err := wireBroker(ctx, cfg, prom, journal, &deps); err != nil {
			return err
		}
	}

	runner, err := engine.NewLiveRunner(lc, deps)
	if err != nil {
		return err
	}

	// ---- Market data pipeline ----
	tickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)

	tickFan := bus.New[model.Tick](10000)
	tickFan.OnDrop = func(sub string) { prom.FanoutDrops.WithLabelValues("ticks_" + sub).Inc() }
	runnerTicks := tickFan.Subscribe("runner")
	aggTicks := tickFan.Subscribe("agg")
	go tickFan.Run(ctx, tickCh)

	aggregator := agg.New(cfg.BarSeconds)
	aggregator.OnDropped = func(string) { prom.DroppedEvents.WithLabelValues("candle").Inc() }
	aggregator.OnLateTick = func(sym string) { log.Printf("[trader] late tick for %s", sym) }
	go aggregator.Run(ctx, aggTicks, candleCh)

	barFan := bus.New[model.Candle](5000)
	barFan.OnDrop = func(sub string) { prom.FanoutDrops.WithLabelValues("bars_" + sub).Inc() }
	runnerBars := barFan.Subscribe("runner")
	sqliteBars := barFan.Subscribe("sqlite")
	var redisBars <-chan model.Candle
	if buffered != nil {
		redisBars = barFan.Subscribe("redis")
	}
	go barFan.Run(ctx, candleCh)
	go sqlWriter.Run(ctx, sqliteBars)
	if redisBars != nil {
		go buffered.Run(ctx, redisBars)
	}
	go reportSaturation(ctx, tickFan, barFan)

	ingest, err := feed.New(feed.Config{
		URL:     cfg.FeedURL,
		Key:     cfg.AlpacaAPIKey,
		Secret:  cfg.AlpacaSecretKey,
		Symbols: cfg.Symbols,
		Quotes:  true,
	})
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	ingest.OnReconnect = func() { prom.FeedReconnects.Inc() }
	ingest.OnConnect = health.SetFeedConnected
	ingest.OnDrop = func(kind string) { prom.DroppedEvents.WithLabelValues(kind).Inc() }
	go func() {
		if err := ingest.Start(ctx, tickCh, nil); err != nil {
			log.Printf("[trader] feed error: %v", err)
		}
	}()

	log.Printf("[trader] %s", session.StatusString(time.Now()))
	runErr := runner.Run(ctx, runnerTicks, runnerBars)

	// ---- Shutdown ----
	log.Println("[trader] shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if streamSrv != nil {
		streamSrv.Shutdown(shutdownCtx)
	}

	if alerts.Count() > 0 {
		fmt.Print(alerts.Summary(cfg.Symbols))
		path, err := alerts.WriteFile("", time.Now().In(markethours.NewYork), cfg.Symbols)
		if err != nil {
			log.Printf("[trader] alert export: %v", err)
		} else {
			log.Printf("[trader] alerts written to %s", path)
		}
	}
	log.Printf("[trader] shutdown complete (dropped events: %d)", runner.Dropped())
	return runErr
}

// wireBroker installs the order gateway for trade mode.
func wireBroker(ctx context.Context, cfg *config.Config, prom *metrics.Metrics, journal *execution.Journal, deps *engine.LiveDeps) error {
	var gw model.OrderGateway
	switch cfg.Broker {
	case "paper":
		broker := execution.NewPaperBroker(execution.PaperConfig{
			StartingCash: cfg.StartingCash,
			SlippageBps:  cfg.SlippageBps,
			EventBuffer:  cfg.EventBuffer,
		})
		gw = broker
		deps.Orders = broker.Events()
		deps.Account = broker
		deps.Prices = broker
	case "alpaca":
		alp := execution.NewAlpacaGateway(execution.AlpacaConfig{
			APIKey:      cfg.AlpacaAPIKey,
			APISecret:   cfg.AlpacaSecretKey,
			BaseURL:     cfg.AlpacaBaseURL,
			EventBuffer: cfg.EventBuffer,
		})
		go alp.Run(ctx)
		gw = alp
		deps.Orders = alp.Events()
		deps.Account = alp
	default:
		return fmt.Errorf("unknown broker %q: %w", cfg.Broker, model.ErrInvalidInput)
	}

	deps.Dispatcher = execution.NewDispatcher(gw, circuit.New("gateway", 3, 30*time.Second),
		execution.WithJournal(journal), execution.WithMetrics(prom))

	equity := cfg.StartingCash
	if bal, err := deps.Account.Balance(ctx); err == nil {
		equity = bal
	}
	deps.Portfolio = portfolio.New()
	deps.Risk = portfolio.NewRiskManager(cfg.RiskLimits(), deps.Portfolio, equity)
	deps.Ledger = portfolio.NewLedger(equity, portfolio.DefaultCommission())
	return nil
}

func buildNotifiers(cfg *config.Config) []notification.Notifier {
	ns := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return ns
}

type saturating interface {
	ChannelStats() []bus.ChannelStat
}

func reportSaturation(ctx context.Context, fans ...saturating) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, f := range fans {
				for _, s := range f.ChannelStats() {
					if s.Cap > 0 && s.Len*10 >= s.Cap*8 {
						log.Printf("[trader] WARNING: subscriber %s at %d/%d", s.Name, s.Len, s.Cap)
					}
				}
			}
		}
	}
}
