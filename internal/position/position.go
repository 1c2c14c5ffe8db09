// Package position implements the per-symbol order lifecycle:
// Idle → PendingEntry → Open → Exiting → Closed.
//
// A Machine performs no I/O. Every transition returns the Actions (order
// submissions and cancels) the caller must dispatch once it has released the
// symbol lock. Fills and cancels come back through OnOrderEvent.
package position

import (
	"errors"
	"fmt"
	"time"

	"momentum-trader/internal/markethours"
	"momentum-trader/internal/model"
)

// Exit reasons recorded on trades.
const (
	ReasonStopLoss     = "STOP LOSS"
	ReasonProfitTarget = "PROFIT TARGET"
	ReasonDynamicExit  = "DYNAMIC EXIT"
	ReasonEndOfDay     = "END OF DAY"
)

var (
	// ErrPositionActive means the symbol already has a pending, open or
	// exiting position.
	ErrPositionActive = errors.New("position already active")

	// ErrSessionClosed means entries are not allowed at this time.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a symbol's position.
type State int

const (
	Idle State = iota
	PendingEntry
	Open
	Exiting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case PendingEntry:
		return "PENDING_ENTRY"
	case Open:
		return "OPEN"
	case Exiting:
		return "EXITING"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Position is the state of one symbol's current trade.
type Position struct {
	Symbol        string           `json:"symbol" msgpack:"symbol"`
	State         State            `json:"state" msgpack:"state"`
	LimitPrice    float64          `json:"limit_price" msgpack:"limit_price"`
	EntryPrice    float64          `json:"entry_price" msgpack:"entry_price"`
	StopPrice     float64          `json:"stop_price" msgpack:"stop_price"`
	ProfitPrice   float64          `json:"profit_price" msgpack:"profit_price"`
	Quantity      int64            `json:"quantity" msgpack:"quantity"`
	EntryTime     time.Time        `json:"entry_time" msgpack:"entry_time"`
	EntryOrderID  string           `json:"entry_order_id" msgpack:"entry_order_id"`
	ProfitOrderID string           `json:"profit_order_id,omitempty" msgpack:"profit_order_id"`
	StopOrderID   string           `json:"stop_order_id,omitempty" msgpack:"stop_order_id"`
	ExitOrderID   string           `json:"exit_order_id,omitempty" msgpack:"exit_order_id"`
	SessionMode   markethours.Mode `json:"session_mode" msgpack:"session_mode"`
	PendingSince  time.Time        `json:"pending_since" msgpack:"pending_since"`
	EntryBarTS    time.Time        `json:"entry_bar_ts" msgpack:"entry_bar_ts"`
	ExitReason    string           `json:"exit_reason,omitempty" msgpack:"exit_reason"`

	// FilledQty counts shares filled while the entry is still pending.
	FilledQty int64 `json:"filled_qty,omitempty" msgpack:"filled_qty"`
}

// Protected reports whether live protective orders are working.
func (p Position) Protected() bool {
	return p.ProfitOrderID != "" || p.StopOrderID != ""
}

// Levels are the planned entry, stop and profit prices, rounded to cents.
type Levels struct {
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"stop"`
	Profit float64 `json:"profit"`
}

// RiskPerShare returns entry minus stop.
func (l Levels) RiskPerShare() float64 { return l.Entry - l.Stop }

// ActionKind tells the dispatcher what to do with an Action.
type ActionKind int

const (
	Submit ActionKind = iota
	Cancel
)

func (k ActionKind) String() string {
	if k == Cancel {
		return "CANCEL"
	}
	return "SUBMIT"
}

// Action is one order operation produced by the Machine.
// Exit marks orders that reduce or close a position; those bypass the
// entry circuit breaker.
type Action struct {
	Kind    ActionKind
	Order   model.OrderSpec
	OrderID string
	Exit    bool
}

func submit(spec model.OrderSpec, exit bool) Action {
	return Action{Kind: Submit, Order: spec, OrderID: spec.ID, Exit: exit}
}

func cancel(id string) Action {
	return Action{Kind: Cancel, OrderID: id, Exit: true}
}
