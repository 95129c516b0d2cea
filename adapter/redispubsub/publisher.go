package redispubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrelay/internal/redisconn"
)

// Publisher sends log lines to a Redis Pub/Sub topic. The relay itself never
// publishes; emitters and tests use this.
type Publisher struct {
	client *redis.Client
}

// NewPublisher connects to Redis.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("config: addr required")
	}
	client, err := redisconn.New(cfg.connOptions())
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client}, nil
}

// Publish sends payload on topic and returns the number of receiving clients.
func (p *Publisher) Publish(ctx context.Context, topic, payload string) (int64, error) {
	return p.client.Publish(ctx, topic, payload).Result()
}

// Close closes the underlying client.
func (p *Publisher) Close() error { return p.client.Close() }
