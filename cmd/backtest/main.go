// Command backtest replays stored bars through the scanner or the trader and
// prints the alerts and trade statistics.
//
// Usage:
//
//	go run ./cmd/backtest -mode=trade -symbols=AAPL,TSLA -from=2025-03-03 -to=2025-03-07
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"momentum-trader/config"
	"momentum-trader/internal/engine"
	"momentum-trader/internal/execution"
	"momentum-trader/internal/marketdata/replay"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	sqlitestore "momentum-trader/internal/store/sqlite"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	winStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	modeStr := flag.String("mode", "trade", "alerts or trade")
	fromStr := flag.String("from", "", "first day, YYYY-MM-DD (US/Eastern)")
	toStr := flag.String("to", "", "last day, YYYY-MM-DD (US/Eastern)")
	symbolsStr := flag.String("symbols", "", "comma-separated symbols (default: config, then every stored symbol)")
	barSeconds := flag.Int("bar-seconds", 60, "bar width stored in the database")
	dbPath := flag.String("db", "", "candle database (default: SQLITE_PATH)")
	regularOnly := flag.Bool("regular-only", true, "replay only 09:30-15:30 ET")
	cash := flag.Float64("cash", 0, "starting cash (default: STARTING_CASH)")
	out := flag.String("out", "", "alert JSON file (alerts_YYYYMMDD.json when empty)")
	quiet := flag.Bool("quiet", false, "suppress per-event logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	mode, err := engine.ParseMode(*modeStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	from, to, err := parseRange(*fromStr, *toStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLitePath
	}
	if *cash <= 0 {
		*cash = cfg.StartingCash
	}
	if *quiet {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader, err := sqlitestore.NewReader(*dbPath, *barSeconds)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	symbols := config.ParseSymbols(*symbolsStr)
	if len(symbols) == 0 {
		symbols = cfg.Symbols
	}
	if len(symbols) == 0 {
		if symbols, err = reader.Symbols(ctx); err != nil {
			log.Fatalf("[backtest] list symbols: %v", err)
		}
	}
	if len(symbols) == 0 {
		log.Fatal("[backtest] no symbols to replay")
	}

	candles, err := replay.Load(ctx, reader, symbols, from, to)
	if err != nil {
		log.Fatalf("[backtest] load: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("[backtest] no bars for %v between %s and %s", symbols,
			from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02"))
	}

	machine := cfg.MachineConfig(position.SequentialIDs("BT"))
	runner := engine.NewReplayRunner(engine.ReplayConfig{
		Mode:        mode,
		Sets:        engine.ProfileSets(mode.Profile(), cfg.Params()),
		Signal:      cfg.SignalConfig(),
		Machine:     machine,
		Sizing:      engine.Sizing{RiskPct: cfg.RiskPct, AllocPct: cfg.AllocPct},
		Limits:      cfg.RiskLimits(),
		Commission:  portfolio.DefaultCommission(),
		Paper:       execution.PaperConfig{StartingCash: *cash, SlippageBps: cfg.SlippageBps},
		RegularOnly: *regularOnly,
	})

	start := time.Now()
	res, err := runner.Run(ctx, candles)
	if err != nil {
		log.Fatalf("[backtest] replay: %v", err)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("BACKTEST %s  %s", strings.ToUpper(string(mode)), strings.Join(symbols, ","))))
	fmt.Print(res.Alerts.Summary(symbols))
	if mode == engine.ModeTrade {
		fmt.Println(renderTrades(res.Trades))
	}
	fmt.Println(boxStyle.Render(renderSummary(res, time.Since(start))))

	path, err := res.Alerts.WriteFile(*out, candles[0].TS.In(markethours.NewYork), symbols)
	if err != nil {
		log.Fatalf("[backtest] alert export: %v", err)
	}
	fmt.Println(dimStyle.Render("alerts written to " + path))
}

// parseRange turns inclusive YYYY-MM-DD days into [from, to) in US/Eastern.
// An empty bound is open.
func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromStr != "" {
		t, err := time.ParseInLocation("2006-01-02", fromStr, markethours.NewYork)
		if err != nil {
			return from, to, fmt.Errorf("-from: %w", err)
		}
		from = t
	}
	if toStr != "" {
		t, err := time.ParseInLocation("2006-01-02", toStr, markethours.NewYork)
		if err != nil {
			return from, to, fmt.Errorf("-to: %w", err)
		}
		to = t.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("-from %s is after -to %s: %w", fromStr, toStr, model.ErrInvalidInput)
	}
	return from, to, nil
}

func renderTrades(trades []model.Trade) string {
	if len(trades) == 0 {
		return dimStyle.Render("no trades")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-16s %6s %9s %9s %10s  %s\n", "SYM", "ENTRY", "QTY", "IN", "OUT", "NET", "REASON")
	for _, t := range trades {
		net := fmt.Sprintf("%10.2f", t.NetPnL)
		if t.NetPnL >= 0 {
			net = winStyle.Render(net)
		} else {
			net = lossStyle.Render(net)
		}
		fmt.Fprintf(&b, "%-6s %-16s %6d %9.2f %9.2f %s  %s\n",
			t.Symbol, t.EntryTime.In(markethours.NewYork).Format("01-02 15:04:05"),
			t.Qty, t.EntryPrice, t.ExitPrice, net, t.Reason)
	}
	return b.String()
}

func renderSummary(res *engine.ReplayResult, took time.Duration) string {
	s := res.Stats
	pf := "inf"
	if !math.IsInf(s.ProfitFactor, 1) {
		pf = fmt.Sprintf("%.2f", s.ProfitFactor)
	}
	ret := fmt.Sprintf("%+.2f%%", s.ReturnPct())
	if s.NetPnL >= 0 {
		ret = winStyle.Render(ret)
	} else {
		ret = lossStyle.Render(ret)
	}

	lines := []string{
		fmt.Sprintf("Bars replayed     %d (%d skipped)", res.Bars, res.Skipped),
		fmt.Sprintf("Alerts            %d", res.Alerts.Count()),
		fmt.Sprintf("Trades            %d (%d won, %d lost)", s.Trades, s.Wins, s.Losses),
		fmt.Sprintf("Win rate          %.1f%%", s.WinRate),
		fmt.Sprintf("Profit factor     %s", pf),
		fmt.Sprintf("Max drawdown      %.2f%%", s.MaxDrawdownPct),
		fmt.Sprintf("Commission        $%.2f", s.TotalCommission),
		fmt.Sprintf("Gross P&L         $%.2f", s.GrossPnL),
		fmt.Sprintf("Net P&L           $%.2f", s.NetPnL),
		fmt.Sprintf("Capital           $%.2f -> $%.2f (%s)", s.StartCapital, s.FinalCapital, ret),
		dimStyle.Render(fmt.Sprintf("took %s", took.Round(time.Millisecond))),
	}
	return strings.Join(lines, "\n")
}
