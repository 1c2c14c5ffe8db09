package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"momentum-trader/internal/model"
)

// RecentAlerts returns up to n of the newest alerts from the alert stream,
// oldest first.
func (p *Publisher) RecentAlerts(ctx context.Context, n int64) ([]model.Alert, error) {
	msgs, err := p.client.XRevRangeN(ctx, alertStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", alertStream, err)
	}
	out := make([]model.Alert, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		a, ok := decodeAlert(msgs[i])
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func decodeAlert(msg goredis.XMessage) (model.Alert, bool) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return model.Alert{}, false
	}
	var a model.Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		log.Printf("[redis] skip malformed alert %s: %v", msg.ID, err)
		return model.Alert{}, false
	}
	return a, true
}

// SubscribeAlerts forwards alerts published on alerts:* to out until ctx is
// cancelled. Slow consumers drop alerts rather than block the subscription.
func (p *Publisher) SubscribeAlerts(ctx context.Context, out chan<- model.Alert) error {
	pubsub := p.client.PSubscribe(ctx, "alerts:*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis PSUBSCRIBE alerts:*: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var a model.Alert
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				continue
			}
			select {
			case out <- a:
			default:
			}
		}
	}
}
