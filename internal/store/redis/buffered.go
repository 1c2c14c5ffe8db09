package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"momentum-trader/internal/circuit"
	"momentum-trader/internal/model"
)

// sink is the subset of Publisher the buffered wrapper drives.
type sink interface {
	Publish(ctx context.Context, a model.Alert) error
	WriteCandle(ctx context.Context, c model.Candle) error
}

// pendingWrite is a write held back while the breaker is open.
type pendingWrite struct {
	alert  *model.Alert
	candle *model.Candle
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// breaker is open, writes are buffered locally and flushed once it closes.
type BufferedPublisher struct {
	sink sink
	cb   *circuit.Breaker
	ctx  context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // oldest writes are dropped beyond this

	// Callbacks
	OnBuffer func()          // called when a write is buffered
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedPublisher creates a BufferedPublisher around s.
func NewBufferedPublisher(ctx context.Context, s sink, cb *circuit.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		sink:   s,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to circuit.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == circuit.Closed {
			go bp.flush()
		}
	}
	return bp
}

// Publish sends an alert through the breaker, buffering it while open.
func (bp *BufferedPublisher) Publish(ctx context.Context, a model.Alert) error {
	err := bp.cb.Execute(func() error { return bp.sink.Publish(ctx, a) })
	if errors.Is(err, circuit.ErrOpen) {
		bp.push(pendingWrite{alert: &a})
		return nil
	}
	return err
}

// WriteCandle writes a candle through the breaker, buffering it while open.
func (bp *BufferedPublisher) WriteCandle(ctx context.Context, c model.Candle) error {
	err := bp.cb.Execute(func() error { return bp.sink.WriteCandle(ctx, c) })
	if errors.Is(err, circuit.ErrOpen) {
		bp.push(pendingWrite{candle: &c})
		return nil
	}
	return err
}

// Run reads candles from candleCh and writes them through the breaker.
func (bp *BufferedPublisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := bp.WriteCandle(ctx, c); err != nil {
				log.Printf("[buffered-publisher] %v", err)
			}
		}
	}
}

func (bp *BufferedPublisher) push(w pendingWrite) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, w)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered writes in order.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for _, w := range toFlush {
		var err error
		switch {
		case w.alert != nil:
			err = bp.sink.Publish(bp.ctx, *w.alert)
		case w.candle != nil:
			err = bp.sink.WriteCandle(bp.ctx, *w.candle)
		}
		if err != nil {
			log.Printf("[buffered-publisher] flush: %v", err)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered writes", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
