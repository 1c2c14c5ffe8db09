package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"momentum-trader/internal/model"
)

// Journal persists orders, order events, trades and alerts to SQLite for
// audit and export.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id    TEXT PRIMARY KEY,
		parent_id   TEXT,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		type        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		limit_price REAL,
		stop_price  REAL,
		tif         TEXT,
		extended    INTEGER NOT NULL DEFAULT 0,
		submitted_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS order_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		status      TEXT NOT NULL,
		filled_qty  INTEGER,
		avg_price   REAL,
		message     TEXT,
		ts          INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		entry_time  INTEGER NOT NULL,
		exit_time   INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		qty         INTEGER NOT NULL,
		reason      TEXT,
		gross_pnl   REAL,
		commission  REAL,
		net_pnl     REAL
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		price       REAL NOT NULL,
		volume      INTEGER NOT NULL,
		vwap        REAL,
		conditions  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_order ON order_events(order_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordOrder persists a submitted order and its legs.
func (j *Journal) RecordOrder(spec model.OrderSpec, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO orders
		(order_id, parent_id, symbol, side, type, qty, limit_price, stop_price, tif, extended, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	specs := append([]model.OrderSpec{spec}, spec.Children...)
	for _, s := range specs {
		if s.Type == "" {
			continue // OCO container
		}
		if _, err := stmt.Exec(s.ID, s.ParentID, s.Symbol, string(s.Side), string(s.Type), s.Qty,
			s.LimitPrice, s.StopPrice, string(s.TIF), s.ExtendedHours, at.UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal order %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// RecordEvent persists an order status event.
func (j *Journal) RecordEvent(ev model.OrderEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO order_events (order_id, symbol, status, filled_qty, avg_price, message, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.OrderID, ev.Symbol, string(ev.Status), ev.FilledQty, ev.AvgFillPrice, ev.Message, ev.TS.UnixMilli(),
	)
	return err
}

// RecordTrade persists a completed round trip.
func (j *Journal) RecordTrade(t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (symbol, entry_time, exit_time, entry_price, exit_price, qty, reason, gross_pnl, commission, net_pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.EntryPrice, t.ExitPrice,
		t.Qty, t.Reason, t.GrossPnL, t.Commission, t.NetPnL,
	)
	return err
}

// RecordAlert persists a scanner alert.
func (j *Journal) RecordAlert(a model.Alert) error {
	conds, err := json.Marshal(a.Conditions)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.Exec(
		`INSERT INTO alerts (symbol, ts, price, volume, vwap, conditions) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Symbol, a.Timestamp.UnixMilli(), a.Price, a.Volume, a.VWAP, string(conds),
	)
	return err
}

// Publish records the alert, so the journal can serve as an alert sink.
func (j *Journal) Publish(_ context.Context, a model.Alert) error {
	return j.RecordAlert(a)
}

// Trades returns the last limit trades, oldest first.
func (j *Journal) Trades(limit int) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT symbol, entry_time, exit_time, entry_price, exit_price, qty, reason, gross_pnl, commission, net_pnl
		 FROM (SELECT * FROM trades ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var (
			t           model.Trade
			entry, exit int64
			reason      sql.NullString
		)
		if err := rows.Scan(&t.Symbol, &entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.Qty,
			&reason, &t.GrossPnL, &t.Commission, &t.NetPnL); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		t.Reason = reason.String
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Alerts returns alerts with from <= ts < to, oldest first. A zero bound
// leaves that side open.
func (j *Journal) Alerts(ctx context.Context, from, to time.Time) ([]model.Alert, error) {
	lo, hi := int64(0), int64(1<<63-1)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	if !to.IsZero() {
		hi = to.UnixMilli()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT symbol, ts, price, volume, vwap, conditions FROM alerts
		 WHERE ts >= ? AND ts < ? ORDER BY ts ASC, id ASC`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a     model.Alert
			ts    int64
			conds string
		)
		if err := rows.Scan(&a.Symbol, &ts, &a.Price, &a.Volume, &a.VWAP, &conds); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMilli(ts).UTC()
		if err := json.Unmarshal([]byte(conds), &a.Conditions); err != nil {
			return nil, fmt.Errorf("journal alert conditions: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
