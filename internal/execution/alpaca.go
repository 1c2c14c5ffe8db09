package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"momentum-trader/internal/model"
)

// alpacaAPI is the subset of *alpaca.Client the gateway uses.
type alpacaAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetOrder(orderID string) (*alpaca.Order, error)
	GetAccount() (*alpaca.Account, error)
}

// AlpacaConfig configures the Alpaca gateway.
type AlpacaConfig struct {
	APIKey       string
	APISecret    string
	BaseURL      string        // e.g. https://paper-api.alpaca.markets
	PollInterval time.Duration // order status polling, 0 = 1s
	EventBuffer  int
}

// tracked maps a client order id to the broker's order.
type tracked struct {
	clientID  string
	alpacaID  string // empty until the leg id is known
	symbol    string
	legType   alpaca.OrderType
	parent    string
	status    model.OrderStatus
	filledQty int64
}

// AlpacaGateway submits orders through the Alpaca trading API and turns
// order-status polling into OrderEvents keyed by client order id.
type AlpacaGateway struct {
	api      alpacaAPI
	interval time.Duration

	mu     sync.Mutex
	orders map[string]*tracked // client id -> order
	seq    []string            // client ids in submission order
	events chan model.OrderEvent
}

var _ model.OrderGateway = (*AlpacaGateway)(nil)
var _ model.AccountSource = (*AlpacaGateway)(nil)

// NewAlpacaGateway creates a gateway backed by the Alpaca REST client.
func NewAlpacaGateway(cfg AlpacaConfig) *AlpacaGateway {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newAlpacaGateway(client, cfg)
}

func newAlpacaGateway(api alpacaAPI, cfg AlpacaConfig) *AlpacaGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	return &AlpacaGateway{
		api:      api,
		interval: cfg.PollInterval,
		orders:   make(map[string]*tracked),
		events:   make(chan model.OrderEvent, cfg.EventBuffer),
	}
}

// Events delivers order status changes.
func (g *AlpacaGateway) Events() <-chan model.OrderEvent { return g.events }

// Balance returns the account's cash balance.
func (g *AlpacaGateway) Balance(ctx context.Context) (float64, error) {
	acct, err := callWithContext(ctx, g.api.GetAccount)
	if err != nil {
		return 0, fmt.Errorf("alpaca get account: %v: %w", err, model.ErrExternalFailure)
	}
	return acct.Cash.InexactFloat64(), nil
}

// Submit places spec. Brackets and OCO pairs go out as one Alpaca order
// class; their legs are tracked under the children's client ids.
func (g *AlpacaGateway) Submit(ctx context.Context, spec model.OrderSpec) (string, error) {
	req, err := buildRequest(spec)
	if err != nil {
		return "", err
	}

	order, err := callWithContext(ctx, func() (*alpaca.Order, error) { return g.api.PlaceOrder(req) })
	if err != nil {
		return "", fmt.Errorf("alpaca place %s %s: %v: %w", spec.Symbol, spec.ID, err, model.ErrExternalFailure)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case spec.IsOCO():
		// The OCO order itself is the take-profit leg; the stop is its leg.
		profit, stop := splitLegs(spec.Children)
		g.track(profit.ID, order.ID, spec.Symbol, alpaca.Limit, "")
		g.track(stop.ID, "", spec.Symbol, alpaca.Stop, profit.ID)
		g.resolveLegs(profit.ID, order)
	default:
		g.track(spec.ID, order.ID, spec.Symbol, req.Type, "")
		for _, child := range spec.Children {
			g.track(child.ID, "", spec.Symbol, alpacaType(child.Type), spec.ID)
		}
		g.resolveLegs(spec.ID, order)
	}

	log.Printf("[alpaca] %s %s submitted client=%s broker=%s class=%s", spec.Symbol, spec.Side, spec.ID, order.ID, req.OrderClass)
	return spec.ID, nil
}

func (g *AlpacaGateway) track(clientID, alpacaID, symbol string, typ alpaca.OrderType, parent string) {
	g.orders[clientID] = &tracked{
		clientID: clientID,
		alpacaID: alpacaID,
		symbol:   symbol,
		legType:  typ,
		parent:   parent,
		status:   model.StatusNew,
	}
	g.seq = append(g.seq, clientID)
}

// resolveLegs assigns broker ids to the legs of parentID by order type.
func (g *AlpacaGateway) resolveLegs(parentID string, order *alpaca.Order) {
	for _, leg := range order.Legs {
		for _, id := range g.seq {
			t := g.orders[id]
			if t != nil && t.parent == parentID && t.alpacaID == "" && t.legType == leg.Type {
				t.alpacaID = leg.ID
				break
			}
		}
	}
}

func splitLegs(children []model.OrderSpec) (profit, stop model.OrderSpec) {
	for _, c := range children {
		if c.Type == model.OrderStop {
			stop = c
		} else {
			profit = c
		}
	}
	return profit, stop
}

func buildRequest(spec model.OrderSpec) (alpaca.PlaceOrderRequest, error) {
	if spec.IsOCO() {
		profit, stop := splitLegs(spec.Children)
		if profit.LimitPrice <= 0 || stop.StopPrice <= 0 {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("alpaca OCO %s: missing leg prices: %w", spec.ID, model.ErrInvalidInput)
		}
		qty := decimal.NewFromInt(spec.Qty)
		limit := price(profit.LimitPrice)
		stopPx := price(stop.StopPrice)
		return alpaca.PlaceOrderRequest{
			Symbol:        spec.Symbol,
			Qty:           &qty,
			Side:          alpacaSide(spec.Side),
			Type:          alpaca.Limit,
			TimeInForce:   alpacaTIF(spec.TIF),
			ClientOrderID: spec.ID,
			OrderClass:    alpaca.OCO,
			TakeProfit:    &alpaca.TakeProfit{LimitPrice: &limit},
			StopLoss:      &alpaca.StopLoss{StopPrice: &stopPx},
		}, nil
	}

	if spec.Qty <= 0 {
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("alpaca order %s: qty %d: %w", spec.ID, spec.Qty, model.ErrInvalidInput)
	}
	qty := decimal.NewFromInt(spec.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        spec.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(spec.Side),
		Type:          alpacaType(spec.Type),
		TimeInForce:   alpacaTIF(spec.TIF),
		ExtendedHours: spec.ExtendedHours,
		ClientOrderID: spec.ID,
	}
	if spec.LimitPrice > 0 {
		lp := price(spec.LimitPrice)
		req.LimitPrice = &lp
	}
	if spec.StopPrice > 0 {
		sp := price(spec.StopPrice)
		req.StopPrice = &sp
	}

	if spec.IsBracket() {
		profit, stop := splitLegs(spec.Children)
		limit := price(profit.LimitPrice)
		stopPx := price(stop.StopPrice)
		req.OrderClass = alpaca.Bracket
		req.TakeProfit = &alpaca.TakeProfit{LimitPrice: &limit}
		req.StopLoss = &alpaca.StopLoss{StopPrice: &stopPx}
	}
	return req, nil
}

func price(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(2) }

func alpacaSide(s model.Side) alpaca.Side {
	if s == model.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaType(t model.OrderType) alpaca.OrderType {
	switch t {
	case model.OrderLimit:
		return alpaca.Limit
	case model.OrderStop:
		return alpaca.Stop
	}
	return alpaca.Market
}

func alpacaTIF(t model.TimeInForce) alpaca.TimeInForce {
	if t == model.TIFGTC {
		return alpaca.GTC
	}
	return alpaca.Day
}

// Cancel cancels a tracked order. Unknown, finished or not-yet-resolved
// orders are ignored.
func (g *AlpacaGateway) Cancel(ctx context.Context, orderID string) error {
	g.mu.Lock()
	t, ok := g.orders[orderID]
	var alpacaID string
	if ok && !t.status.Terminal() {
		alpacaID = t.alpacaID
	}
	g.mu.Unlock()

	if alpacaID == "" {
		return nil
	}
	_, err := callWithContext(ctx, func() (struct{}, error) { return struct{}{}, g.api.CancelOrder(alpacaID) })
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnprocessableEntity || apiErr.StatusCode == http.StatusNotFound) {
			return nil // already filled or gone
		}
		return fmt.Errorf("alpaca cancel %s: %v: %w", orderID, err, model.ErrExternalFailure)
	}
	return nil
}

// Run polls working orders until ctx is cancelled.
func (g *AlpacaGateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Poll(ctx)
		}
	}
}

// Poll fetches the status of every working order once and emits an event
// for each change.
func (g *AlpacaGateway) Poll(ctx context.Context) {
	g.mu.Lock()
	var pending []tracked
	for _, id := range g.seq {
		if t := g.orders[id]; t != nil && t.alpacaID != "" && !t.status.Terminal() {
			pending = append(pending, *t)
		}
	}
	g.mu.Unlock()

	for _, t := range pending {
		order, err := callWithContext(ctx, func() (*alpaca.Order, error) { return g.api.GetOrder(t.alpacaID) })
		if err != nil {
			log.Printf("[alpaca] poll %s: %v", t.clientID, err)
			continue
		}
		g.apply(t.clientID, order)
	}
}

func (g *AlpacaGateway) apply(clientID string, order *alpaca.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.orders[clientID]
	if t == nil {
		return
	}
	if len(order.Legs) > 0 {
		g.resolveLegs(clientID, order)
	}

	status, ok := mapStatus(order.Status)
	if !ok {
		return
	}
	filled := order.FilledQty.IntPart()
	if status == t.status && filled == t.filledQty {
		return
	}
	t.status = status
	t.filledQty = filled

	ev := model.OrderEvent{
		OrderID:   clientID,
		Symbol:    t.symbol,
		Status:    status,
		FilledQty: filled,
		TS:        order.UpdatedAt,
	}
	if order.FilledAvgPrice != nil {
		ev.AvgFillPrice = order.FilledAvgPrice.InexactFloat64()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}

	select {
	case g.events <- ev:
	default:
		log.Printf("[alpaca] WARNING: event channel full, dropped %s %s", clientID, status)
	}
}

// mapStatus converts an Alpaca order status. ok is false for statuses that
// carry no lifecycle meaning (e.g. replaced).
func mapStatus(s string) (model.OrderStatus, bool) {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held", "calculated", "pending_replace":
		return model.StatusNew, true
	case "partially_filled":
		return model.StatusPartiallyFilled, true
	case "filled":
		return model.StatusFilled, true
	case "canceled":
		return model.StatusCancelled, true
	case "rejected":
		return model.StatusRejected, true
	case "expired", "done_for_day":
		return model.StatusExpired, true
	}
	return "", false
}

// callWithContext runs a blocking client call and gives up when ctx ends.
// The call itself keeps running; its result is discarded.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
