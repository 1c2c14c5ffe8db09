// Package execution routes position actions to an order gateway. It holds
// the paper broker used by replay and paper trading, the Alpaca gateway,
// the dispatcher that guards entries with a circuit breaker, and the SQLite
// trade journal.
package execution

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"momentum-trader/internal/model"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID  string     `json:"order_id"`
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Qty      int64      `json:"qty"`
	Price    float64    `json:"price"`
	Slippage float64    `json:"slippage"`
	FilledAt time.Time  `json:"filled_at"`
}

// PaperConfig configures the paper broker.
type PaperConfig struct {
	StartingCash float64
	SlippageBps  float64 // basis points against the trader (e.g. 5 = 0.05%)
	EventBuffer  int     // capacity of the event channel, 0 = 4096
}

// working is an order resting at the paper broker.
type working struct {
	spec   model.OrderSpec
	seq    int64
	held   bool   // bracket leg waiting for its parent to fill
	armed  int64  // bar count when the order went live; matches from the next bar
	group  string // OCO group; a fill cancels every other member
	parent string
}

// PaperBroker simulates an exchange in memory. Market and marketable limit
// orders fill against the last known price on submit; resting orders are
// matched against each bar or price update. Fills are reported only through
// Events, like a real gateway.
type PaperBroker struct {
	mu      sync.Mutex
	cfg     PaperConfig
	cash    float64
	seq     int64
	bars    int64
	last    map[string]float64
	now     map[string]time.Time
	orders  map[string]*working
	fills   []Fill
	events  chan model.OrderEvent
	dropped int64
}

var _ model.OrderGateway = (*PaperBroker)(nil)
var _ model.AccountSource = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}
	return &PaperBroker{
		cfg:    cfg,
		cash:   cfg.StartingCash,
		last:   make(map[string]float64),
		now:    make(map[string]time.Time),
		orders: make(map[string]*working),
		fills:  make([]Fill, 0, 256),
		events: make(chan model.OrderEvent, cfg.EventBuffer),
	}
}

// Events delivers fills, cancels and rejections.
func (p *PaperBroker) Events() <-chan model.OrderEvent { return p.events }

// Balance returns the simulated cash balance.
func (p *PaperBroker) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

// Fills returns a snapshot of all fills.
func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Working returns the number of resting orders.
func (p *PaperBroker) Working() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Dropped returns how many events were lost to a full event channel.
func (p *PaperBroker) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Submit accepts an order. The returned id is spec.ID, or a generated
// PAPER-n id when the spec carries none.
func (p *PaperBroker) Submit(_ context.Context, spec model.OrderSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if spec.ID == "" {
		p.seq++
		spec.ID = fmt.Sprintf("PAPER-%d", p.seq)
	}
	if spec.Symbol == "" {
		return "", fmt.Errorf("paper submit %s: empty symbol: %w", spec.ID, model.ErrInvalidInput)
	}

	if spec.IsOCO() {
		group := spec.ID
		for _, child := range spec.Children {
			if err := validate(child); err != nil {
				return "", err
			}
		}
		for _, child := range spec.Children {
			p.rest(child, false, group, "")
		}
		log.Printf("[paper] %s OCO %s accepted (%s, %s)", spec.Symbol, spec.ID, spec.Children[0].ID, spec.Children[1].ID)
		return spec.ID, nil
	}

	if err := validate(spec); err != nil {
		return "", err
	}
	if spec.Type == model.OrderMarket && p.last[spec.Symbol] <= 0 {
		return "", fmt.Errorf("paper submit %s: no price for %s: %w", spec.ID, spec.Symbol, model.ErrExternalFailure)
	}

	p.rest(spec, false, "", "")
	for _, child := range spec.Children {
		p.rest(child, true, spec.ID, spec.ID)
	}

	// Marketable on arrival.
	if px := p.last[spec.Symbol]; px > 0 {
		if fillPx, ok := p.marketable(spec, px); ok {
			p.fill(p.orders[spec.ID], fillPx, p.now[spec.Symbol])
		}
	}
	return spec.ID, nil
}

func validate(spec model.OrderSpec) error {
	if spec.Qty <= 0 {
		return fmt.Errorf("paper submit %s: qty %d: %w", spec.ID, spec.Qty, model.ErrInvalidInput)
	}
	switch spec.Type {
	case model.OrderMarket:
	case model.OrderLimit:
		if spec.LimitPrice <= 0 {
			return fmt.Errorf("paper submit %s: limit price %.2f: %w", spec.ID, spec.LimitPrice, model.ErrInvalidInput)
		}
	case model.OrderStop:
		if spec.StopPrice <= 0 {
			return fmt.Errorf("paper submit %s: stop price %.2f: %w", spec.ID, spec.StopPrice, model.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("paper submit %s: order type %q: %w", spec.ID, spec.Type, model.ErrInvalidInput)
	}
	return nil
}

func (p *PaperBroker) rest(spec model.OrderSpec, held bool, group, parent string) {
	p.seq++
	w := &working{spec: spec, seq: p.seq, held: held, armed: p.bars, group: group, parent: parent}
	w.spec.Children = nil
	p.orders[spec.ID] = w
	p.emit(model.OrderEvent{OrderID: spec.ID, Symbol: spec.Symbol, Status: model.StatusNew, TS: p.now[spec.Symbol]})
}

// marketable reports whether spec would execute immediately at price px,
// and at what fill price.
func (p *PaperBroker) marketable(spec model.OrderSpec, px float64) (float64, bool) {
	switch spec.Type {
	case model.OrderMarket:
		return p.slip(spec.Side, px), true
	case model.OrderLimit:
		if spec.Side == model.SideBuy && px <= spec.LimitPrice {
			return math.Min(spec.LimitPrice, p.slip(spec.Side, px)), true
		}
		if spec.Side == model.SideSell && px >= spec.LimitPrice {
			return math.Max(spec.LimitPrice, p.slip(spec.Side, px)), true
		}
	case model.OrderStop:
		if spec.Side == model.SideSell && px <= spec.StopPrice {
			return p.slip(spec.Side, px), true
		}
		if spec.Side == model.SideBuy && px >= spec.StopPrice {
			return p.slip(spec.Side, px), true
		}
	}
	return 0, false
}

func (p *PaperBroker) slip(side model.Side, px float64) float64 {
	if p.cfg.SlippageBps <= 0 {
		return px
	}
	s := px * p.cfg.SlippageBps / 10000
	if side == model.SideBuy {
		return model.Round2(px + s) // buy higher
	}
	return model.Round2(px - s) // sell lower
}

// Cancel removes a resting order. Cancelling a bracket parent also cancels
// its held legs. Unknown or finished orders are ignored.
func (p *PaperBroker) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.orders[orderID]
	if !ok {
		return nil
	}
	p.cancelLocked(w, "cancelled by client")
	for _, id := range p.sortedIDs() {
		if child, ok := p.orders[id]; ok && child.parent == orderID && child.held {
			p.cancelLocked(child, "parent cancelled")
		}
	}
	return nil
}

func (p *PaperBroker) cancelLocked(w *working, msg string) {
	delete(p.orders, w.spec.ID)
	p.emit(model.OrderEvent{
		OrderID: w.spec.ID,
		Symbol:  w.spec.Symbol,
		Status:  model.StatusCancelled,
		TS:      p.now[w.spec.Symbol],
		Message: msg,
	})
}

// OnBar records c as the latest price for its symbol and matches resting
// orders against the bar's range. Stops are checked before limits so a bar
// touching both legs of an OCO pair fills the stop. Orders activated by a
// fill in this bar are matched from the next bar on.
func (p *PaperBroker) OnBar(c model.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bars++
	p.last[c.Symbol] = c.Close
	p.now[c.Symbol] = c.TS

	ids := p.sortedIDs()
	for _, pass := range []model.OrderType{model.OrderStop, model.OrderLimit} {
		for _, id := range ids {
			w, ok := p.orders[id]
			if !ok || w.held || w.armed >= p.bars || w.spec.Symbol != c.Symbol || w.spec.Type != pass {
				continue
			}
			if px, ok := barFill(w.spec, c); ok {
				p.fill(w, p.slipBar(w.spec, px), c.TS)
			}
		}
	}
}

// OnPrice records a trade or quote price and matches resting orders at it.
func (p *PaperBroker) OnPrice(symbol string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	p.OnBar(model.Candle{Symbol: symbol, TS: ts, Open: price, High: price, Low: price, Close: price})
}

// barFill returns the fill price of a resting order touched by bar c.
// Gaps through the order price fill at the open.
func barFill(spec model.OrderSpec, c model.Candle) (float64, bool) {
	switch {
	case spec.Type == model.OrderLimit && spec.Side == model.SideBuy && c.Low <= spec.LimitPrice:
		return math.Min(spec.LimitPrice, c.Open), true
	case spec.Type == model.OrderLimit && spec.Side == model.SideSell && c.High >= spec.LimitPrice:
		return math.Max(spec.LimitPrice, c.Open), true
	case spec.Type == model.OrderStop && spec.Side == model.SideSell && c.Low <= spec.StopPrice:
		return math.Min(spec.StopPrice, c.Open), true
	case spec.Type == model.OrderStop && spec.Side == model.SideBuy && c.High >= spec.StopPrice:
		return math.Max(spec.StopPrice, c.Open), true
	case spec.Type == model.OrderMarket:
		return c.Open, true
	}
	return 0, false
}

// slipBar applies slippage to stop and market fills; limits fill at their price.
func (p *PaperBroker) slipBar(spec model.OrderSpec, px float64) float64 {
	if spec.Type == model.OrderLimit {
		return px
	}
	return p.slip(spec.Side, px)
}

func (p *PaperBroker) fill(w *working, px float64, ts time.Time) {
	spec := w.spec
	delete(p.orders, spec.ID)

	slippage := 0.0
	if last := p.last[spec.Symbol]; last > 0 && spec.Type != model.OrderLimit {
		slippage = math.Abs(px - last)
	}
	p.fills = append(p.fills, Fill{
		OrderID:  spec.ID,
		Symbol:   spec.Symbol,
		Side:     spec.Side,
		Qty:      spec.Qty,
		Price:    px,
		Slippage: slippage,
		FilledAt: ts,
	})
	notional := px * float64(spec.Qty)
	if spec.Side == model.SideBuy {
		p.cash -= notional
	} else {
		p.cash += notional
	}

	log.Printf("[paper] %s %s %s qty=%d @ %.2f order=%s", spec.Symbol, spec.Side, spec.Type, spec.Qty, px, spec.ID)
	p.emit(model.OrderEvent{
		OrderID:      spec.ID,
		Symbol:       spec.Symbol,
		Status:       model.StatusFilled,
		FilledQty:    spec.Qty,
		AvgFillPrice: px,
		TS:           ts,
	})

	for _, id := range p.sortedIDs() {
		other, ok := p.orders[id]
		if !ok {
			continue
		}
		switch {
		case other.parent == spec.ID && other.held:
			// Bracket legs go live once the entry fills.
			other.held = false
			other.armed = p.bars
		case w.group != "" && other.group == w.group && other.parent == w.parent:
			p.cancelLocked(other, "OCO sibling filled")
		}
	}
}

// sortedIDs returns working order ids in submission order.
func (p *PaperBroker) sortedIDs() []string {
	ids := make([]string, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return p.orders[ids[i]].seq < p.orders[ids[j]].seq })
	return ids
}

func (p *PaperBroker) emit(ev model.OrderEvent) {
	select {
	case p.events <- ev:
	default:
		p.dropped++
		log.Printf("[paper] WARNING: event channel full, dropped %s %s", ev.OrderID, ev.Status)
	}
}
