package model

import (
	"math"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderMarket OrderType = "MKT"
	OrderLimit  OrderType = "LMT"
	OrderStop   OrderType = "STP"
)

// TimeInForce controls how long a working order stays live.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
)

// OrderSpec describes an order to submit.
//
// A spec with Children is a bracket: the parent is the entry and the children
// are its profit and stop legs, transmitted together. A spec with an empty
// Type and two Children is an OCO exit pair with no parent leg.
type OrderSpec struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Qty           int64       `json:"qty"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TIF           TimeInForce `json:"tif"`
	ExtendedHours bool        `json:"extended_hours,omitempty"`
	ParentID      string      `json:"parent_id,omitempty"`
	Children      []OrderSpec `json:"children,omitempty"`
}

// IsOCO reports whether the spec is a parentless pair of exit legs.
func (o *OrderSpec) IsOCO() bool { return o.Type == "" && len(o.Children) == 2 }

// IsBracket reports whether the spec is an entry with attached legs.
func (o *OrderSpec) IsBracket() bool { return o.Type != "" && len(o.Children) > 0 }

// OrderStatus is the lifecycle status reported by a gateway.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further events will follow for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Dead reports whether the order ended without a full fill.
func (s OrderStatus) Dead() bool {
	return s == StatusCancelled || s == StatusRejected || s == StatusExpired
}

// OrderEvent is an asynchronous status notification from a gateway.
type OrderEvent struct {
	OrderID      string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Status       OrderStatus `json:"status"`
	FilledQty    int64       `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	TS           time.Time   `json:"ts"`
	Message      string      `json:"message,omitempty"`
}

// Round2 rounds a dollar amount to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
