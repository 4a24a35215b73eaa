package registry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Broadcaster carries (account, payload) pairs between server processes so a
// push originating here reaches sockets held elsewhere.
type Broadcaster interface {
	// Publish emits the pair exactly once to sibling processes.
	Publish(ctx context.Context, accountID string, payload []byte) error

	// Subscribe starts feeding pairs published by sibling processes into
	// handler. Pairs published by this process are filtered out.
	Subscribe(ctx context.Context, handler func(accountID string, payload []byte)) error

	Close() error
}

const broadcastChannel = "gateway:push"

type envelope struct {
	Origin    string          `json:"origin"`
	AccountID string          `json:"accountId"`
	Payload   json.RawMessage `json:"payload"`
}

// RedisBroadcaster fans pushes across processes over one Redis pub/sub
// channel. Each instance stamps an origin ID so it skips its own traffic.
type RedisBroadcaster struct {
	client *redis.Client
	origin string
	pubsub *redis.PubSub
	logger *slog.Logger
}

func NewRedisBroadcaster(client *redis.Client, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: client,
		origin: uuid.New().String(),
		logger: logger,
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, accountID string, payload []byte) error {
	env := envelope{
		Origin:    b.origin,
		AccountID: accountID,
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, broadcastChannel, data).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, handler func(accountID string, payload []byte)) error {
	b.pubsub = b.client.Subscribe(ctx, broadcastChannel)

	// Force the subscription before returning so pushes are not lost during
	// startup.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		for msg := range b.pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("malformed broadcast envelope dropped", "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			handler(env.AccountID, env.Payload)
		}
	}()

	return nil
}

func (b *RedisBroadcaster) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

// NopBroadcaster satisfies Broadcaster for single-process runs and tests.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(context.Context, string, []byte) error { return nil }
func (NopBroadcaster) Subscribe(context.Context, func(string, []byte)) error {
	return nil
}
func (NopBroadcaster) Close() error { return nil }
