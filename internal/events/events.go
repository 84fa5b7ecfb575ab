// Package events publishes live events to per-account private streams.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const mainStreamPrefix = "mainstream:"

// Publisher delivers events to an account's private stream.
type Publisher interface {
	PublishMainStream(ctx context.Context, accountID, eventType string, body any) error
}

// RedisPublisher fans events out over Redis pub/sub, the transport the
// streaming gateway subscribes to.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher builds a Redis-backed event publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

type envelope struct {
	Type string `json:"type"`
	Body any    `json:"body"`
}

// PublishMainStream publishes the event on the account's main stream channel.
func (p *RedisPublisher) PublishMainStream(ctx context.Context, accountID, eventType string, body any) error {
	payload, err := json.Marshal(envelope{Type: eventType, Body: body})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, mainStreamPrefix+accountID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// LoggerPublisher writes events to the structured logger. Used when no
// Redis is configured.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher stub.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

func (p *LoggerPublisher) PublishMainStream(_ context.Context, accountID, eventType string, body any) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("main stream event", "account_id", accountID, "type", eventType, "body", body)
	return nil
}
