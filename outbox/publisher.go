package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Publisher delivers a relayed message to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// RedisPublisher appends each message to a Redis list named
// "<prefix>:<topic>". Consumers pop from the head.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "escrowflow"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

type envelope struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      int64           `json:"created_at"`
}

func (p *RedisPublisher) QueueName(topic string) string {
	return p.prefix + ":" + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(envelope{ID: msg.ID, Topic: msg.Topic, Payload: msg.Payload, At: msg.CreatedAt.Unix()})
	if err != nil {
		return fmt.Errorf("outbox: encode envelope: %w", err)
	}
	if err := p.client.RPush(ctx, p.QueueName(msg.Topic), data).Err(); err != nil {
		return fmt.Errorf("outbox: push %s: %w", msg.Topic, err)
	}
	return nil
}
