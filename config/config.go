package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"momentum-trader/internal/condition"
	"momentum-trader/internal/markethours"
	"momentum-trader/internal/portfolio"
	"momentum-trader/internal/position"
	"momentum-trader/internal/signal"
)

// Config holds all application configuration. Values come from defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	// Symbols
	Symbols         []string `yaml:"symbols"`
	MaxScanSymbols  int      `yaml:"max_scan_symbols"`
	MaxTradeSymbols int      `yaml:"max_trade_symbols"`

	// Thresholds
	PriceSurgePct   float64       `yaml:"price_surge_pct"`
	VolumeSurgeMult float64       `yaml:"volume_surge_mult"`
	SurgeLookback   time.Duration `yaml:"surge_lookback"`

	// Signal timing
	Cooldown      time.Duration `yaml:"cooldown"`
	HistoryWindow time.Duration `yaml:"history_window"`
	HistorySize   int           `yaml:"history_size"`

	// Bars
	BarSeconds      int `yaml:"bar_seconds"`
	PatternLookback int `yaml:"pattern_lookback"`
	VolumeWindow    int `yaml:"volume_window"`
	MACDMinBars     int `yaml:"macd_min_bars"`

	// Risk
	RiskPct          float64 `yaml:"risk_pct"`
	AllocPct         float64 `yaml:"alloc_pct"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`

	// Orders
	EntryBufferPct    float64       `yaml:"entry_buffer_pct"`
	ProfitPct         float64       `yaml:"profit_pct"`
	StaleOrderTimeout time.Duration `yaml:"stale_order_timeout"`

	// Session (HH:MM, US/Eastern)
	PremarketOpen string `yaml:"premarket_open"`
	SessionOpen   string `yaml:"session_open"`
	FlattenAt     string `yaml:"flatten_at"`
	SessionClose  string `yaml:"session_close"`

	// Broker
	Broker          string        `yaml:"broker"` // "paper" or "alpaca"
	StartingCash    float64       `yaml:"starting_cash"`
	SlippageBps     float64       `yaml:"slippage_bps"`
	AlpacaAPIKey    string        `yaml:"-"`
	AlpacaSecretKey string        `yaml:"-"`
	AlpacaBaseURL   string        `yaml:"alpaca_base_url"`
	DataFeed        string        `yaml:"data_feed"` // "iex" or "sip"
	BalancePoll     time.Duration `yaml:"balance_poll"`

	// Runner
	Workers     int `yaml:"workers"`
	EventBuffer int `yaml:"event_buffer"`

	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	SQLitePath    string `yaml:"sqlite_path"`
	JournalPath   string `yaml:"journal_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	GatewayAddr   string `yaml:"gateway_addr"`
	FeedURL       string `yaml:"feed_url"`
	LogLevel      string `yaml:"log_level"`

	// Notifications
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"-"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Symbols:         nil,
		MaxScanSymbols:  5,
		MaxTradeSymbols: 3,

		PriceSurgePct:   0.5,
		VolumeSurgeMult: 2.0,
		SurgeLookback:   10 * time.Second,

		Cooldown:      5 * time.Second,
		HistoryWindow: 60 * time.Second,
		HistorySize:   1000,

		BarSeconds:      10,
		PatternLookback: 20,
		VolumeWindow:    10,
		MACDMinBars:     30,

		RiskPct:          0.10,
		AllocPct:         0.50,
		MaxOpenPositions: 3,

		EntryBufferPct:    0.002,
		ProfitPct:         0.10,
		StaleOrderTimeout: 300 * time.Second,

		PremarketOpen: "04:00",
		SessionOpen:   "09:30",
		FlattenAt:     "15:25",
		SessionClose:  "16:00",

		Broker:        "paper",
		StartingCash:  100000,
		AlpacaBaseURL: "https://paper-api.alpaca.markets",
		DataFeed:      "iex",
		BalancePoll:   30 * time.Second,

		Workers:     4,
		EventBuffer: 4096,

		RedisAddr:   "",
		SQLitePath:  "data/candles.db",
		JournalPath: "data/journal.db",
		MetricsAddr: ":9090",
		GatewayAddr: ":8080",
		FeedURL:     "wss://stream.data.alpaca.markets/v2/iex",
		LogLevel:    "info",
	}
}

// Load reads .env (if present) and then CONFIG_FILE (if set) and the
// environment on top of the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile overlays the YAML file at path (empty for none) and then the
// environment on top of the defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = ParseSymbols(v)
	}
	c.MaxScanSymbols = getEnvInt("MAX_SCAN_SYMBOLS", c.MaxScanSymbols)
	c.MaxTradeSymbols = getEnvInt("MAX_TRADE_SYMBOLS", c.MaxTradeSymbols)

	c.PriceSurgePct = getEnvFloat("PRICE_SURGE_PCT", c.PriceSurgePct)
	c.VolumeSurgeMult = getEnvFloat("VOLUME_SURGE_MULT", c.VolumeSurgeMult)
	c.SurgeLookback = getEnvDuration("SURGE_LOOKBACK", c.SurgeLookback)

	c.Cooldown = getEnvDuration("COOLDOWN", c.Cooldown)
	c.HistoryWindow = getEnvDuration("HISTORY_WINDOW", c.HistoryWindow)
	c.HistorySize = getEnvInt("HISTORY_SIZE", c.HistorySize)

	c.BarSeconds = getEnvInt("BAR_SECONDS", c.BarSeconds)
	c.PatternLookback = getEnvInt("PATTERN_LOOKBACK", c.PatternLookback)
	c.VolumeWindow = getEnvInt("VOLUME_WINDOW", c.VolumeWindow)
	c.MACDMinBars = getEnvInt("MACD_MIN_BARS", c.MACDMinBars)

	c.RiskPct = getEnvFloat("RISK_PCT", c.RiskPct)
	c.AllocPct = getEnvFloat("ALLOC_PCT", c.AllocPct)
	c.MaxOpenPositions = getEnvInt("MAX_OPEN_POSITIONS", c.MaxOpenPositions)
	c.MaxDailyLoss = getEnvFloat("MAX_DAILY_LOSS", c.MaxDailyLoss)
	c.MaxDrawdownPct = getEnvFloat("MAX_DRAWDOWN_PCT", c.MaxDrawdownPct)

	c.EntryBufferPct = getEnvFloat("ENTRY_BUFFER_PCT", c.EntryBufferPct)
	c.ProfitPct = getEnvFloat("PROFIT_PCT", c.ProfitPct)
	c.StaleOrderTimeout = getEnvDuration("STALE_ORDER_TIMEOUT", c.StaleOrderTimeout)

	c.PremarketOpen = getEnv("PREMARKET_OPEN", c.PremarketOpen)
	c.SessionOpen = getEnv("SESSION_OPEN", c.SessionOpen)
	c.FlattenAt = getEnv("FLATTEN_AT", c.FlattenAt)
	c.SessionClose = getEnv("SESSION_CLOSE", c.SessionClose)

	c.Broker = getEnv("BROKER", c.Broker)
	c.StartingCash = getEnvFloat("STARTING_CASH", c.StartingCash)
	c.SlippageBps = getEnvFloat("SLIPPAGE_BPS", c.SlippageBps)
	c.AlpacaAPIKey = getEnv("ALPACA_API_KEY", c.AlpacaAPIKey)
	c.AlpacaSecretKey = getEnv("ALPACA_SECRET_KEY", c.AlpacaSecretKey)
	c.AlpacaBaseURL = getEnv("ALPACA_BASE_URL", c.AlpacaBaseURL)
	c.DataFeed = getEnv("DATA_FEED", c.DataFeed)
	c.BalancePoll = getEnvDuration("BALANCE_POLL", c.BalancePoll)

	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.EventBuffer = getEnvInt("EVENT_BUFFER", c.EventBuffer)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)
	c.FeedURL = getEnv("FEED_URL", c.FeedURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
}

// Validate checks ranges and the session clocks.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.PriceSurgePct > 0, "price_surge_pct must be > 0")
	check(c.VolumeSurgeMult > 0, "volume_surge_mult must be > 0")
	check(c.SurgeLookback > 0, "surge_lookback must be > 0")
	check(c.Cooldown >= 0, "cooldown must be >= 0")
	check(c.HistorySize > 0, "history_size must be > 0")
	check(c.BarSeconds > 0, "bar_seconds must be > 0")
	check(c.RiskPct > 0 && c.RiskPct <= 1, "risk_pct must be in (0, 1]")
	check(c.AllocPct > 0 && c.AllocPct <= 1, "alloc_pct must be in (0, 1]")
	check(c.MaxOpenPositions > 0, "max_open_positions must be > 0")
	check(c.EntryBufferPct >= 0, "entry_buffer_pct must be >= 0")
	check(c.ProfitPct > 0, "profit_pct must be > 0")
	check(c.StaleOrderTimeout > 0, "stale_order_timeout must be > 0")
	check(c.Broker == "paper" || c.Broker == "alpaca", "broker must be paper or alpaca, got %q", c.Broker)
	check(c.Workers > 0, "workers must be > 0")
	check(c.EventBuffer > 0, "event_buffer must be > 0")

	if _, err := c.Session(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CheckSymbols enforces the per-mode symbol limit.
func (c *Config) CheckSymbols(mode string) error {
	if len(c.Symbols) == 0 {
		return errors.New("config: no symbols configured")
	}
	limit := c.MaxScanSymbols
	if mode == "trade" {
		limit = c.MaxTradeSymbols
	}
	if limit > 0 && len(c.Symbols) > limit {
		return fmt.Errorf("config: %d symbols exceeds the %s limit of %d", len(c.Symbols), mode, limit)
	}
	return nil
}

// Session builds the trading-day boundaries.
func (c *Config) Session() (markethours.Session, error) {
	s := markethours.DefaultSession()
	for _, f := range []struct {
		name string
		raw  string
		dst  *markethours.Clock
	}{
		{"premarket_open", c.PremarketOpen, &s.PremarketOpen},
		{"session_open", c.SessionOpen, &s.Open},
		{"flatten_at", c.FlattenAt, &s.FlattenAt},
		{"session_close", c.SessionClose, &s.Close},
	} {
		clk, err := markethours.ParseClock(f.raw)
		if err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = clk
	}
	return s, nil
}

// Params returns the condition thresholds.
func (c *Config) Params() condition.Params {
	p := condition.DefaultParams()
	p.PriceSurgePct = c.PriceSurgePct
	p.VolumeSurgeMult = c.VolumeSurgeMult
	p.SurgeLookback = c.SurgeLookback
	p.PatternLookback = c.PatternLookback
	p.VolumeWindow = c.VolumeWindow
	p.MACDMinBars = c.MACDMinBars
	return p
}

// SignalConfig returns the evaluator history and cooldown settings.
func (c *Config) SignalConfig() signal.Config {
	sc := signal.DefaultConfig()
	sc.Cooldown = c.Cooldown
	sc.HistoryWindow = c.HistoryWindow
	sc.HistorySize = c.HistorySize
	sc.Location = markethours.NewYork
	return sc
}

// MachineConfig returns the lifecycle pricing and timing rules.
func (c *Config) MachineConfig(newID func() string) position.Config {
	pc := position.DefaultConfig()
	pc.EntryBuffer = c.EntryBufferPct
	pc.ProfitPct = c.ProfitPct
	pc.StaleAfter = c.StaleOrderTimeout
	if s, err := c.Session(); err == nil {
		pc.Session = s
	}
	if newID != nil {
		pc.NewID = newID
	}
	return pc
}

// RiskLimits returns the entry gates.
func (c *Config) RiskLimits() portfolio.RiskLimits {
	return portfolio.RiskLimits{
		MaxOpenPositions: c.MaxOpenPositions,
		MaxDailyLoss:     c.MaxDailyLoss,
		MaxDrawdownPct:   c.MaxDrawdownPct,
	}
}

// ParseSymbols splits a comma-separated list, upper-cases and de-duplicates.
func ParseSymbols(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("300").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
