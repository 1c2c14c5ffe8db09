package position

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
)

// Config holds the order pricing and timing rules of a Machine.
type Config struct {
	EntryBuffer float64       // entry limit = ask·(1+EntryBuffer)
	ProfitPct   float64       // profit = entry·(1+ProfitPct)
	StaleAfter  time.Duration // pending entries older than this are cancelled
	Session     markethours.Session
	NewID       func() string // client order id generator
}

// DefaultConfig returns a 0.2% entry buffer, a 10% target and a 300s stale
// timeout, with sequential ids.
func DefaultConfig() Config {
	return Config{
		EntryBuffer: 0.002,
		ProfitPct:   0.10,
		StaleAfter:  300 * time.Second,
		Session:     markethours.DefaultSession(),
		NewID:       SequentialIDs("SIM"),
	}
}

// SequentialIDs returns a generator of "<prefix>-1", "<prefix>-2", ...
// Safe for concurrent use.
func SequentialIDs(prefix string) func() string {
	var seq atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
	}
}

// RandomIDs returns a generator of "<prefix>-<uuid>" ids, unique across
// restarts. Live gateways require this.
func RandomIDs(prefix string) func() string {
	return func() string {
		return prefix + "-" + uuid.NewString()
	}
}

// Machine is the lifecycle of one symbol. It is not safe for concurrent use.
type Machine struct {
	symbol string
	cfg    Config
	pos    Position

	// Entries cancelled as stale or at the flatten time, by order id. A late
	// fill of one of these is adopted as an open position.
	cancelled map[string]cancelledEntry

	lastBid   float64
	lastPrice float64
}

// NewMachine creates an Idle machine for symbol.
func NewMachine(symbol string, cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.EntryBuffer < 0 {
		cfg.EntryBuffer = 0
	}
	if cfg.ProfitPct <= 0 {
		cfg.ProfitPct = def.ProfitPct
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.Session.Location == nil {
		cfg.Session = def.Session
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	return &Machine{
		symbol:    symbol,
		cfg:       cfg,
		pos:       Position{Symbol: symbol},
		cancelled: make(map[string]cancelledEntry),
	}
}

// cancelledEntry is an entry the machine cancelled while the broker may
// still report fills for it.
type cancelledEntry struct {
	Levels
	qty      int64
	filled   int64  // shares reported filled before the cancel
	profitID string // bracket legs; empty for extended-hours entries
	stopID   string
	at       time.Time
}

func (c cancelledEntry) hasLegs() bool { return c.profitID != "" || c.stopID != "" }

// cancelledTTL bounds how long a cancelled entry waits for a late report.
const cancelledTTL = 24 * time.Hour

// Symbol returns the machine's symbol.
func (m *Machine) Symbol() string { return m.symbol }

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.pos.State }

// Position returns a copy of the current position.
func (m *Machine) Position() Position { return m.pos }

// Active reports whether the symbol is blocked from re-entry.
func (m *Machine) Active() bool { return m.pos.State != Idle && m.pos.State != Closed }

// Plan computes entry, stop and profit levels from the current ask and the
// structural stop anchor.
func (m *Machine) Plan(ask, stopAnchor float64) (Levels, error) {
	if ask <= 0 || stopAnchor <= 0 {
		return Levels{}, fmt.Errorf("plan %s ask=%.4f anchor=%.4f: %w", m.symbol, ask, stopAnchor, model.ErrInvalidInput)
	}
	entry := model.Round2(ask * (1 + m.cfg.EntryBuffer))
	l := Levels{
		Entry:  entry,
		Stop:   model.Round2(stopAnchor),
		Profit: model.Round2(entry * (1 + m.cfg.ProfitPct)),
	}
	if l.Stop >= l.Entry {
		return l, fmt.Errorf("plan %s stop %.2f >= entry %.2f: %w", m.symbol, l.Stop, l.Entry, model.ErrInvalidInput)
	}
	return l, nil
}

// Enter submits an entry for qty shares at the planned levels.
//
// In the regular session the entry is a bracket: a DAY limit parent with
// GTC profit-limit and stop children transmitted together. In premarket
// only the extended-hours limit entry is sent and the stop and profit are
// enforced against the bid until protective orders can be placed.
func (m *Machine) Enter(l Levels, qty int64, barTS, now time.Time) ([]Action, error) {
	if m.Active() {
		return nil, fmt.Errorf("enter %s in %s: %w", m.symbol, m.pos.State, ErrPositionActive)
	}
	if qty < 1 || l.Entry <= 0 || l.Stop >= l.Entry {
		return nil, fmt.Errorf("enter %s qty=%d entry=%.2f stop=%.2f: %w", m.symbol, qty, l.Entry, l.Stop, model.ErrInvalidInput)
	}
	mode := m.cfg.Session.Mode(now)
	if mode == markethours.Closed || m.cfg.Session.FlattenDue(now) {
		return nil, fmt.Errorf("enter %s at %s: %w", m.symbol, now.In(markethours.NewYork).Format("15:04:05"), ErrSessionClosed)
	}

	m.pruneCancelled(now)

	entryID := m.cfg.NewID()
	spec := model.OrderSpec{
		ID:         entryID,
		Symbol:     m.symbol,
		Side:       model.SideBuy,
		Type:       model.OrderLimit,
		Qty:        qty,
		LimitPrice: l.Entry,
		TIF:        model.TIFDay,
	}

	m.pos = Position{
		Symbol:       m.symbol,
		State:        PendingEntry,
		LimitPrice:   l.Entry,
		EntryPrice:   l.Entry,
		StopPrice:    l.Stop,
		ProfitPrice:  l.Profit,
		Quantity:     qty,
		EntryOrderID: entryID,
		SessionMode:  mode,
		PendingSince: now,
		EntryBarTS:   barTS,
	}

	if mode == markethours.Regular {
		profit, stop := m.protective(entryID, qty, l.Profit, l.Stop)
		spec.Children = []model.OrderSpec{profit, stop}
		m.pos.ProfitOrderID = profit.ID
		m.pos.StopOrderID = stop.ID
	} else {
		spec.ExtendedHours = true
	}

	log.Printf("[position] %s entry %s qty=%d entry=%.2f stop=%.2f profit=%.2f session=%s",
		m.symbol, entryID, qty, l.Entry, l.Stop, l.Profit, mode)
	return []Action{submit(spec, false)}, nil
}

func (m *Machine) protective(parentID string, qty int64, profitPx, stopPx float64) (model.OrderSpec, model.OrderSpec) {
	profit := model.OrderSpec{
		ID:         m.cfg.NewID(),
		Symbol:     m.symbol,
		Side:       model.SideSell,
		Type:       model.OrderLimit,
		Qty:        qty,
		LimitPrice: profitPx,
		TIF:        model.TIFGTC,
		ParentID:   parentID,
	}
	stop := model.OrderSpec{
		ID:        m.cfg.NewID(),
		Symbol:    m.symbol,
		Side:      model.SideSell,
		Type:      model.OrderStop,
		Qty:       qty,
		StopPrice: stopPx,
		TIF:       model.TIFGTC,
		ParentID:  parentID,
	}
	return profit, stop
}

// OnOrderEvent applies a gateway status update. It returns follow-up
// actions and, when the position closed, the completed trade.
func (m *Machine) OnOrderEvent(ev model.OrderEvent, now time.Time) ([]Action, *model.Trade) {
	at := ev.TS
	if at.IsZero() {
		at = now
	}
	p := &m.pos

	switch {
	case ev.OrderID == "":
		return nil, nil

	case ev.OrderID == p.EntryOrderID && p.State == PendingEntry:
		switch {
		case ev.Status == model.StatusFilled:
			m.open(ev, at)
			log.Printf("[position] %s entry filled qty=%d @ %.2f", m.symbol, p.Quantity, p.EntryPrice)
		case ev.Status == model.StatusPartiallyFilled:
			p.FilledQty = max(p.FilledQty, ev.FilledQty)
		case ev.Status.Dead():
			log.Printf("[position] %s entry %s %s %s", m.symbol, ev.OrderID, ev.Status, ev.Message)
			if qty := max(p.FilledQty, ev.FilledQty); qty > 0 {
				return m.adopt(ev.OrderID, m.pendingEntry(at), qty, ev.AvgFillPrice, false, at), nil
			}
			m.reset()
		}
		return nil, nil

	case m.isCancelledEntry(ev.OrderID):
		return m.onCancelledEntry(ev, at), nil

	case ev.OrderID == p.ProfitOrderID || ev.OrderID == p.StopOrderID:
		return m.onProtective(ev, at)

	case ev.OrderID == p.ExitOrderID && p.ExitOrderID != "":
		switch {
		case ev.Status == model.StatusFilled:
			return nil, m.close(ev.AvgFillPrice, p.ExitReason, at)
		case ev.Status.Dead():
			log.Printf("[position] %s exit %s %s, back to open: %s", m.symbol, ev.OrderID, ev.Status, ev.Message)
			p.State = Open
			p.ExitOrderID = ""
			p.ExitReason = ""
		}
	}
	return nil, nil
}

func (m *Machine) onProtective(ev model.OrderEvent, at time.Time) ([]Action, *model.Trade) {
	p := &m.pos
	isProfit := ev.OrderID == p.ProfitOrderID

	if ev.Status.Dead() {
		if isProfit {
			p.ProfitOrderID = ""
		} else {
			p.StopOrderID = ""
		}
		return nil, nil
	}
	if ev.Status != model.StatusFilled || (p.State != Open && p.State != Exiting) {
		return nil, nil
	}

	reason := ReasonStopLoss
	sibling := p.ProfitOrderID
	if isProfit {
		reason = ReasonProfitTarget
		sibling = p.StopOrderID
	}
	var actions []Action
	if sibling != "" {
		actions = append(actions, cancel(sibling))
	}
	if p.ExitOrderID != "" {
		actions = append(actions, cancel(p.ExitOrderID))
	}
	return actions, m.close(ev.AvgFillPrice, reason, at)
}

func (m *Machine) open(ev model.OrderEvent, at time.Time) {
	p := &m.pos
	p.State = Open
	p.FilledQty = 0
	if ev.FilledQty > 0 {
		p.Quantity = ev.FilledQty
	}
	if ev.AvgFillPrice > 0 {
		p.EntryPrice = ev.AvgFillPrice
	}
	p.EntryTime = at
}

func (m *Machine) isCancelledEntry(id string) bool {
	_, ok := m.cancelled[id]
	return ok
}

func (m *Machine) pendingEntry(at time.Time) cancelledEntry {
	p := &m.pos
	return cancelledEntry{
		Levels:   Levels{Entry: p.LimitPrice, Stop: p.StopPrice, Profit: p.ProfitPrice},
		qty:      p.Quantity,
		filled:   p.FilledQty,
		profitID: p.ProfitOrderID,
		stopID:   p.StopOrderID,
		at:       at,
	}
}

func (m *Machine) pruneCancelled(now time.Time) {
	for id, c := range m.cancelled {
		if now.Sub(c.at) > cancelledTTL {
			delete(m.cancelled, id)
		}
	}
}

// onCancelledEntry handles a report for an entry the machine already
// cancelled. Any filled shares become an open position.
func (m *Machine) onCancelledEntry(ev model.OrderEvent, at time.Time) []Action {
	c := m.cancelled[ev.OrderID]
	switch {
	case ev.Status == model.StatusPartiallyFilled:
		c.filled = max(c.filled, ev.FilledQty)
		m.cancelled[ev.OrderID] = c
		return nil

	case ev.Status == model.StatusFilled:
		delete(m.cancelled, ev.OrderID)
		qty := ev.FilledQty
		if qty <= 0 {
			qty = c.qty
		}
		// The parent filled before the cancel landed, so its bracket legs
		// are working for the full quantity.
		return m.adoptLate(ev, c, qty, c.hasLegs() && qty == c.qty, at)

	case ev.Status.Dead():
		delete(m.cancelled, ev.OrderID)
		if qty := max(c.filled, ev.FilledQty); qty > 0 {
			return m.adoptLate(ev, c, qty, false, at)
		}
	}
	return nil
}

func (m *Machine) adoptLate(ev model.OrderEvent, c cancelledEntry, qty int64, legsLive bool, at time.Time) []Action {
	if m.Active() {
		log.Printf("[position] WARNING: %s late fill of %s qty=%d while %s, not adopted",
			m.symbol, ev.OrderID, qty, m.pos.State)
		return nil
	}
	return m.adopt(ev.OrderID, c, qty, ev.AvgFillPrice, legsLive, at)
}

// adopt turns qty filled shares of a dead or cancelled entry into an open
// position so the exit rules cover it. With legsLive the entry's bracket
// legs already protect exactly qty shares and are kept. Otherwise any legs
// are cancelled and a fresh OCO sized to qty goes out in the regular
// session.
func (m *Machine) adopt(id string, c cancelledEntry, qty int64, avgPx float64, legsLive bool, at time.Time) []Action {
	m.pos = Position{
		Symbol:       m.symbol,
		State:        Open,
		LimitPrice:   c.Entry,
		EntryPrice:   c.Entry,
		StopPrice:    c.Stop,
		ProfitPrice:  c.Profit,
		Quantity:     qty,
		EntryTime:    at,
		EntryOrderID: id,
		SessionMode:  m.cfg.Session.Mode(at),
		EntryBarTS:   at,
	}
	if avgPx > 0 {
		m.pos.EntryPrice = avgPx
	}
	log.Printf("[position] %s adopted %d filled shares of entry %s @ %.2f",
		m.symbol, qty, id, m.pos.EntryPrice)

	if legsLive {
		m.pos.ProfitOrderID = c.profitID
		m.pos.StopOrderID = c.stopID
		return nil
	}
	var actions []Action
	for _, leg := range []string{c.profitID, c.stopID} {
		if leg != "" {
			actions = append(actions, cancel(leg))
		}
	}
	if m.pos.SessionMode == markethours.Regular && !m.cfg.Session.FlattenDue(at) {
		actions = append(actions, m.protect()...)
	}
	return actions
}

// OnClock runs the time-driven rules: stale entry expiry, the flatten time
// and retroactive protective orders once the regular session opens.
func (m *Machine) OnClock(now time.Time) []Action {
	p := &m.pos
	switch p.State {
	case PendingEntry:
		if m.cfg.Session.FlattenDue(now) {
			log.Printf("[position] %s cancelling pending entry %s at flatten time", m.symbol, p.EntryOrderID)
			return m.expire(now)
		}
		if age := now.Sub(p.PendingSince); age > m.cfg.StaleAfter {
			log.Printf("[position] %s entry %s pending %s: %v", m.symbol, p.EntryOrderID, age.Truncate(time.Second), model.ErrStaleOrder)
			return m.expire(now)
		}
	case Open:
		if m.cfg.Session.FlattenDue(now) {
			return m.exit(ReasonEndOfDay, now)
		}
		if !p.Protected() && m.cfg.Session.Mode(now) == markethours.Regular {
			return m.protect()
		}
	}
	return nil
}

// OnQuote checks the synthetic stop and target against the bid. They only
// apply while no live protective orders exist.
func (m *Machine) OnQuote(bid, ask float64, now time.Time) []Action {
	if bid > 0 {
		m.lastBid = bid
	}
	if m.pos.State != Open {
		return nil
	}
	if reason, ok := m.checkExits(bid, nil, now); ok {
		return m.exit(reason, now)
	}
	return nil
}

// OnCandle runs the exit rules against the completed bars, oldest first.
func (m *Machine) OnCandle(bars []model.Candle, now time.Time) []Action {
	if n := len(bars); n > 0 {
		m.lastPrice = bars[n-1].Close
	}
	if m.pos.State != Open {
		return nil
	}
	if reason, ok := m.checkExits(m.lastBid, bars, now); ok {
		return m.exit(reason, now)
	}
	return nil
}

// checkExits evaluates the exit rules in order and returns the first match:
// synthetic stop, synthetic target, dynamic exit, session close.
func (m *Machine) checkExits(bid float64, bars []model.Candle, now time.Time) (string, bool) {
	p := &m.pos
	if !p.Protected() && bid > 0 {
		if p.StopPrice > 0 && bid <= p.StopPrice {
			log.Printf("[position] %s synthetic stop: bid %.2f <= stop %.2f", m.symbol, bid, p.StopPrice)
			return ReasonStopLoss, true
		}
		if p.ProfitPrice > 0 && bid >= p.ProfitPrice {
			log.Printf("[position] %s synthetic target: bid %.2f >= profit %.2f", m.symbol, bid, p.ProfitPrice)
			return ReasonProfitTarget, true
		}
	}
	if bars != nil {
		if ok, msg := CheckDynamicExit(m.barsSinceEntry(bars)); ok {
			log.Printf("[position] %s %s", m.symbol, msg)
			return ReasonDynamicExit, true
		}
	}
	if m.cfg.Session.FlattenDue(now) {
		return ReasonEndOfDay, true
	}
	return "", false
}

func (m *Machine) barsSinceEntry(bars []model.Candle) []model.Candle {
	from := m.pos.EntryBarTS
	for i := range bars {
		if !bars[i].TS.Before(from) {
			return bars[i:]
		}
	}
	return nil
}

// exit cancels the standing protective orders and sends a full-quantity
// exit: market in regular hours, limit at the bid otherwise.
func (m *Machine) exit(reason string, now time.Time) []Action {
	p := &m.pos
	var actions []Action
	if p.ProfitOrderID != "" {
		actions = append(actions, cancel(p.ProfitOrderID))
	}
	if p.StopOrderID != "" {
		actions = append(actions, cancel(p.StopOrderID))
	}

	spec := model.OrderSpec{
		ID:     m.cfg.NewID(),
		Symbol: m.symbol,
		Side:   model.SideSell,
		Type:   model.OrderMarket,
		Qty:    p.Quantity,
		TIF:    model.TIFDay,
	}
	if m.cfg.Session.Mode(now) != markethours.Regular {
		px := m.lastBid
		if px <= 0 {
			px = m.lastPrice
		}
		if px <= 0 {
			px = p.StopPrice
		}
		spec.Type = model.OrderLimit
		spec.LimitPrice = model.Round2(px)
		spec.ExtendedHours = true
	}

	p.State = Exiting
	p.ExitOrderID = spec.ID
	p.ExitReason = reason

	log.Printf("[position] %s exit %s (%s) %s qty=%d", m.symbol, spec.ID, reason, spec.Type, spec.Qty)
	return append(actions, submit(spec, true))
}

// protect submits an OCO profit-limit and stop pair for an open position.
func (m *Machine) protect() []Action {
	p := &m.pos
	profit, stop := m.protective("", p.Quantity, p.ProfitPrice, p.StopPrice)
	oco := model.OrderSpec{
		ID:       m.cfg.NewID(),
		Symbol:   m.symbol,
		Side:     model.SideSell,
		Qty:      p.Quantity,
		TIF:      model.TIFGTC,
		Children: []model.OrderSpec{profit, stop},
	}
	p.ProfitOrderID = profit.ID
	p.StopOrderID = stop.ID
	log.Printf("[position] %s protective OCO %s profit=%.2f stop=%.2f", m.symbol, oco.ID, p.ProfitPrice, p.StopPrice)
	return []Action{submit(oco, true)}
}

// expire cancels the pending entry and returns to Idle.
func (m *Machine) expire(now time.Time) []Action {
	id := m.pos.EntryOrderID
	m.cancelled[id] = m.pendingEntry(now)
	m.reset()
	return []Action{cancel(id)}
}

func (m *Machine) close(exitPrice float64, reason string, at time.Time) *model.Trade {
	p := m.pos
	if exitPrice <= 0 {
		exitPrice = p.EntryPrice
	}
	t := &model.Trade{
		Symbol:     m.symbol,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Qty:        p.Quantity,
		Reason:     reason,
		GrossPnL:   (exitPrice - p.EntryPrice) * float64(p.Quantity),
	}
	m.pos.State = Closed
	log.Printf("[position] %s closed (%s) qty=%d %.2f -> %.2f gross=%.2f",
		m.symbol, reason, t.Qty, t.EntryPrice, t.ExitPrice, t.GrossPnL)
	m.reset()
	return t
}

func (m *Machine) reset() {
	m.pos = Position{Symbol: m.symbol}
}

// Restore replaces the machine state, used when recovering a position from
// the state store.
func (m *Machine) Restore(p Position) {
	p.Symbol = m.symbol
	m.pos = p
}

// ForceClose closes an open position at price without an order, used by
// replay at the end of the data.
func (m *Machine) ForceClose(price float64, reason string, at time.Time) *model.Trade {
	if m.pos.State != Open && m.pos.State != Exiting {
		return nil
	}
	return m.close(price, reason, at)
}
