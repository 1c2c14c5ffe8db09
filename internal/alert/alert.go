// Package alert records scanner alerts, exports them as JSON and fans them
// out to registered hooks.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"momentum-trader/internal/model"
)

// TimestampLayout is the alert timestamp format, millisecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000"

// Format renders an alert for the console.
func Format(a model.Alert, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("[%s] ALERT: %s\n  Price: $%.2f | Volume: %s\n  Conditions: %s",
		a.Timestamp.In(loc).Format(TimestampLayout), a.Symbol, a.Price,
		model.FormatVolume(a.Volume), strings.Join(a.Conditions, " | "))
}

// Log keeps every alert raised in a run, grouped by symbol in arrival order.
type Log struct {
	mu       sync.Mutex
	loc      *time.Location
	bySymbol map[string][]model.Alert
	total    int
}

// NewLog creates an empty log. Timestamps are rendered in loc (UTC when nil).
func NewLog(loc *time.Location) *Log {
	if loc == nil {
		loc = time.UTC
	}
	return &Log{loc: loc, bySymbol: make(map[string][]model.Alert)}
}

// Record appends an alert.
func (l *Log) Record(a model.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bySymbol[a.Symbol] = append(l.bySymbol[a.Symbol], a)
	l.total++
}

// For returns the alerts for symbol.
func (l *Log) For(symbol string) []model.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Alert, len(l.bySymbol[symbol]))
	copy(out, l.bySymbol[symbol])
	return out
}

// Count returns the total number of alerts.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Symbols returns the symbols with at least one alert, sorted.
func (l *Log) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.bySymbol))
	for s := range l.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Location returns the rendering time zone.
func (l *Log) Location() *time.Location { return l.loc }

// Summary renders a per-symbol text summary. Every symbol in symbols is
// listed, including those without alerts.
func (l *Log) Summary(symbols []string) string {
	var b strings.Builder
	total := 0
	for _, sym := range symbols {
		alerts := l.For(sym)
		total += len(alerts)

		fmt.Fprintf(&b, "+-- %s %s\n", sym, strings.Repeat("-", max(1, 64-len(sym))))
		if len(alerts) == 0 {
			b.WriteString("|   No alerts triggered\n")
		} else {
			fmt.Fprintf(&b, "|   %d %s triggered:\n|\n", len(alerts), plural(len(alerts), "alert"))
			for i, a := range alerts {
				fmt.Fprintf(&b, "|   [%d] %s - Price: %.2f | Vol: %s\n",
					i+1, a.Timestamp.In(l.loc).Format("15:04:05"), a.Price, model.FormatVolume(a.Volume))
				if len(a.Conditions) > 0 {
					reason := a.Conditions[0]
					if len(reason) > 60 {
						reason = reason[:57] + "..."
					}
					fmt.Fprintf(&b, "|       +-- %s\n", reason)
				}
			}
		}
		fmt.Fprintf(&b, "+%s\n\n", strings.Repeat("-", 68))
	}
	fmt.Fprintf(&b, "TOTAL: %d %s across %d %s",
		total, plural(total, "alert"), len(symbols), plural(len(symbols), "symbol"))
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
