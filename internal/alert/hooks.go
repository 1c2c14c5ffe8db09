package alert

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"momentum-trader/internal/model"
)

// Hook is called for every alert.
type Hook func(ctx context.Context, a model.Alert) error

type namedHook struct {
	name string
	fn   Hook
}

// Dispatcher calls registered hooks for each alert. A hook that fails or
// panics is logged and skipped; the remaining hooks still run.
type Dispatcher struct {
	mu     sync.RWMutex
	hooks  []namedHook
	panics atomic.Int64
	errs   atomic.Int64

	// OnPanic, if set, is called after a hook panic is recovered.
	OnPanic func(name string)
}

// NewDispatcher creates an empty hook dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a hook.
func (d *Dispatcher) Register(name string, fn Hook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, namedHook{name: name, fn: fn})
	d.mu.Unlock()
}

// RegisterSink adds an alert sink as a hook.
func (d *Dispatcher) RegisterSink(name string, sink model.AlertSink) {
	d.Register(name, sink.Publish)
}

// Len returns the number of hooks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hooks)
}

// Fire runs every hook for a, in registration order.
func (d *Dispatcher) Fire(ctx context.Context, a model.Alert) {
	d.mu.RLock()
	hooks := make([]namedHook, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.RUnlock()

	for _, h := range hooks {
		d.call(ctx, h, a)
	}
}

func (d *Dispatcher) call(ctx context.Context, h namedHook, a model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			log.Printf("[alert] hook %s panicked on %s: %v", h.name, a.Symbol, r)
			if d.OnPanic != nil {
				d.OnPanic(h.name)
			}
		}
	}()
	if err := h.fn(ctx, a); err != nil {
		d.errs.Add(1)
		log.Printf("[alert] hook %s failed on %s: %v", h.name, a.Symbol, err)
	}
}

// Panics returns the number of recovered hook panics.
func (d *Dispatcher) Panics() int64 { return d.panics.Load() }

// Errors returns the number of hook errors.
func (d *Dispatcher) Errors() int64 { return d.errs.Load() }
