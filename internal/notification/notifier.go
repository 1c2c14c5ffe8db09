// Package notification delivers scanner alerts and trading events to
// external channels (log, webhook, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"momentum-trader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// FromSignal formats a scanner alert for a notifier.
func FromSignal(a model.Alert) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("ALERT: %s", a.Symbol),
		Message: fmt.Sprintf("Price: $%.2f | Volume: %s\nConditions: %s",
			a.Price, model.FormatVolume(a.Volume), strings.Join(a.Conditions, " | ")),
	}
}

// FromTrade formats a closed trade for a notifier. Losing trades are warnings.
func FromTrade(t model.Trade) Alert {
	level := AlertInfo
	if t.NetPnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s closed: %s", t.Symbol, t.Reason),
		Message: fmt.Sprintf("qty %d  %.2f -> %.2f  net $%.2f (%.2f%%)",
			t.Qty, t.EntryPrice, t.ExitPrice, t.NetPnL, t.PnLPct()),
	}
}

// Sink adapts notifiers to an alert sink. Every notifier is tried; the
// errors are joined.
type Sink struct {
	notifiers []Notifier
}

var _ model.AlertSink = (*Sink)(nil)

// NewSink creates a sink that fans out to ns.
func NewSink(ns ...Notifier) *Sink {
	return &Sink{notifiers: ns}
}

// Publish sends the alert to every notifier.
func (s *Sink) Publish(ctx context.Context, a model.Alert) error {
	return s.Send(ctx, FromSignal(a))
}

// Send delivers a preformatted alert to every notifier.
func (s *Sink) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range s.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of notifiers.
func (s *Sink) Len() int { return len(s.notifiers) }
