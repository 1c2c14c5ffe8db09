package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"momentum-trader/internal/model"
)

// Reader provides read-only access to stored candles for replay.
type Reader struct {
	db      *sql.DB
	barSecs int
}

// NewReader opens a SQLite connection for reading bars of the given width
// (0 = 10 seconds).
func NewReader(dbPath string, barSeconds int) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if barSeconds <= 0 {
		barSeconds = 10
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db, barSecs: barSeconds}, nil
}

// Candles returns symbol's candles with from <= ts < to, ordered by
// timestamp. A zero from or to leaves that side open.
func (r *Reader) Candles(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	lo := int64(0)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	hi := int64(1<<63 - 1)
	if !to.IsZero() {
		hi = to.UnixMilli()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, vwap, ticks
		FROM candles
		WHERE symbol = ? AND bar_secs = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, r.barSecs, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c     model.Candle
			ms    int64
			vwap  sql.NullFloat64
			ticks sql.NullInt64
		)
		if err := rows.Scan(&c.Symbol, &ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &vwap, &ticks); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.UnixMilli(ms).UTC()
		c.VWAP = vwap.Float64
		c.Ticks = int(ticks.Int64)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Symbols lists the symbols with stored bars, sorted.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM candles WHERE bar_secs = ? ORDER BY symbol`, r.barSecs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
