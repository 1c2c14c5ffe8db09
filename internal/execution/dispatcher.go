package execution

import (
	"context"
	"errors"
	"log"
	"time"

	"momentum-trader/internal/circuit"
	"momentum-trader/internal/metrics"
	"momentum-trader/internal/model"
	"momentum-trader/internal/position"
)

// Dispatcher executes position actions against a gateway. Entries go
// through the circuit breaker; exits, protective orders and cancels bypass
// it and are always attempted.
type Dispatcher struct {
	gw      model.OrderGateway
	cb      *circuit.Breaker
	journal *Journal
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJournal records every submitted order.
func WithJournal(j *Journal) DispatcherOption {
	return func(d *Dispatcher) { d.journal = j }
}

// WithMetrics counts submits and rejects.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeout bounds each gateway call (default 10s).
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithClock sets the time stamped on synthesized events.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher for gw guarded by cb.
func NewDispatcher(gw model.OrderGateway, cb *circuit.Breaker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gw:      gw,
		cb:      cb,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics != nil {
		m := d.metrics
		prev := cb.OnStateChange
		cb.OnStateChange = func(name string, from, to circuit.State) {
			if prev != nil {
				prev(name, from, to)
			}
			m.GatewayBreakerState.Set(float64(to))
			if to == circuit.Open {
				m.GatewayBreakerTrips.Inc()
			}
		}
	}
	return d
}

// EntriesHalted reports whether the breaker currently refuses new entries.
func (d *Dispatcher) EntriesHalted() bool {
	return !d.cb.Allow()
}

// Dispatch executes actions in order. A failed or refused submit produces a
// synthesized REJECTED event for the order id; the caller feeds those back
// into the position machine.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []position.Action) []model.OrderEvent {
	var rejected []model.OrderEvent
	for _, a := range actions {
		switch a.Kind {
		case position.Cancel:
			d.cancel(ctx, a.OrderID)
		case position.Submit:
			if err := d.submit(ctx, a); err != nil {
				log.Printf("[dispatcher] submit %s %s failed: %v", a.Order.Symbol, a.OrderID, err)
				if d.metrics != nil {
					d.metrics.OrderRejects.Inc()
				}
				rejected = append(rejected, d.reject(a.Order, err)...)
			}
		}
	}
	return rejected
}

func (d *Dispatcher) submit(ctx context.Context, a position.Action) error {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	call := func() error {
		_, err := d.gw.Submit(cctx, a.Order)
		return err
	}

	var err error
	kind := "entry"
	if a.Exit {
		kind = "exit"
		err = call()
	} else {
		err = d.cb.Execute(call)
	}
	if err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.OrdersSubmitted.WithLabelValues(kind).Inc()
	}
	if d.journal != nil {
		if jerr := d.journal.RecordOrder(a.Order, d.now()); jerr != nil {
			log.Printf("[dispatcher] journal order %s: %v", a.OrderID, jerr)
		}
	}
	return nil
}

func (d *Dispatcher) cancel(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.gw.Cancel(cctx, id); err != nil {
		log.Printf("[dispatcher] cancel %s failed: %v", id, err)
	}
}

// reject builds the REJECTED events for a failed submit. OCO pairs reject
// both legs since the machine tracks them individually.
func (d *Dispatcher) reject(spec model.OrderSpec, err error) []model.OrderEvent {
	msg := err.Error()
	if errors.Is(err, circuit.ErrOpen) {
		msg = "entries halted: " + msg
	}
	ids := []string{spec.ID}
	if spec.IsOCO() {
		ids = []string{spec.Children[0].ID, spec.Children[1].ID}
	}
	events := make([]model.OrderEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, model.OrderEvent{
			OrderID: id,
			Symbol:  spec.Symbol,
			Status:  model.StatusRejected,
			TS:      d.now(),
			Message: msg,
		})
	}
	return events
}
