// Package redis publishes alerts, live candles and position state to Redis
// for dashboards and restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"momentum-trader/internal/model"
	"momentum-trader/internal/position"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	StateTTL time.Duration // position state expiry, 0 = 24h
}

// Publisher writes alerts, candles and position state.
type Publisher struct {
	client   *goredis.Client
	stateTTL time.Duration
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client, stateTTL: ttl}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// Publish sends an alert to its symbol channel and appends it to the alert
// stream in one pipeline.
func (p *Publisher) Publish(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	payload := string(data)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: alertStream,
		MaxLen: alertStreamMax,
		Approx: true,
		Values: map[string]interface{}{"symbol": a.Symbol, "data": payload},
	})
	pipe.Publish(ctx, alertChannel(a.Symbol), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis alert pipeline %s: %w", a.Symbol, err)
	}
	return nil
}

// Run reads completed candles from candleCh and writes them.
// Blocks until ctx is cancelled or candleCh is closed.
func (p *Publisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := p.WriteCandle(ctx, c); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// WriteCandle performs pipelined SET latest, XADD and PUBLISH for a candle.
func (p *Publisher) WriteCandle(ctx context.Context, c model.Candle) error {
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, candleLatestKey(c.Symbol), jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: candleStreamKey(c.Symbol),
		MaxLen: candleStream,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, candleChannel(c.Symbol), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("candle pipeline %s: %w", c.Symbol, err)
	}
	return nil
}

// SaveState stores a msgpack-encoded position under position:<symbol>.
// Idle positions delete the key.
func (p *Publisher) SaveState(ctx context.Context, pos position.Position) error {
	if pos.State == position.Idle || pos.State == position.Closed {
		return p.client.Del(ctx, positionKey(pos.Symbol)).Err()
	}
	data, err := EncodeState(pos)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, positionKey(pos.Symbol), data, p.stateTTL).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", positionKey(pos.Symbol), err)
	}
	return nil
}

// LoadState reads a stored position. ok is false when none is stored.
func (p *Publisher) LoadState(ctx context.Context, symbol string) (pos position.Position, ok bool, err error) {
	data, err := p.client.Get(ctx, positionKey(symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return position.Position{}, false, nil
	}
	if err != nil {
		return position.Position{}, false, fmt.Errorf("redis GET %s: %w", positionKey(symbol), err)
	}
	pos, err = DecodeState(data)
	if err != nil {
		return position.Position{}, false, err
	}
	return pos, true, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// EncodeState msgpack-encodes a position.
func EncodeState(pos position.Position) ([]byte, error) {
	data, err := msgpack.Marshal(&pos)
	if err != nil {
		return nil, fmt.Errorf("encode position %s: %w", pos.Symbol, err)
	}
	return data, nil
}

// DecodeState decodes a msgpack-encoded position.
func DecodeState(data []byte) (position.Position, error) {
	var pos position.Position
	if err := msgpack.Unmarshal(data, &pos); err != nil {
		return position.Position{}, fmt.Errorf("decode position: %w", err)
	}
	return pos, nil
}
