package alert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"momentum-trader/internal/model"
)

// Record is the exported form of an alert.
type Record struct {
	Symbol     string   `json:"symbol"`
	Timestamp  string   `json:"timestamp"`
	Price      string   `json:"price"`
	Volume     string   `json:"volume"`
	VWAP       string   `json:"vwap"`
	Conditions []string `json:"conditions"`
}

// NewRecord formats a for export with timestamps rendered in loc.
func NewRecord(a model.Alert, loc *time.Location) Record {
	if loc == nil {
		loc = time.UTC
	}
	conds := a.Conditions
	if conds == nil {
		conds = []string{}
	}
	return Record{
		Symbol:     a.Symbol,
		Timestamp:  a.Timestamp.In(loc).Format(TimestampLayout),
		Price:      fmt.Sprintf("$%.2f", a.Price),
		Volume:     model.FormatVolume(a.Volume),
		VWAP:       fmt.Sprintf("$%.2f", a.VWAP),
		Conditions: conds,
	}
}

// DefaultFileName returns backtest_alerts_YYYY-MM-DD.json for date.
func DefaultFileName(date time.Time) string {
	return fmt.Sprintf("backtest_alerts_%s.json", date.Format("2006-01-02"))
}

// Export writes the alerts of symbols as a JSON object keyed by symbol.
// Symbols without alerts get an empty list.
func (l *Log) Export(w io.Writer, symbols []string) error {
	out := make(map[string][]Record, len(symbols))
	for _, sym := range symbols {
		alerts := l.For(sym)
		recs := make([]Record, 0, len(alerts))
		for _, a := range alerts {
			recs = append(recs, NewRecord(a, l.loc))
		}
		out[sym] = recs
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	return nil
}

// WriteFile exports to path, or to DefaultFileName(date) in the current
// directory when path is empty. It returns the path written.
func (l *Log) WriteFile(path string, date time.Time, symbols []string) (string, error) {
	if path == "" {
		path = DefaultFileName(date)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := l.Export(f, symbols); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
