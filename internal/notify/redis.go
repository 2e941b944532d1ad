package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport implements Transport and Publisher over Redis pub/sub,
// one channel per target scope.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(redisURL string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisTransport{client: redis.NewClient(opts)}, nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func (t *RedisTransport) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, change.Target().Scope(), payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, scope string, h Handler) (Handle, error) {
	sub := t.client.Subscribe(ctx, scope)

	// Confirm the subscription before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	handle := &redisHandle{sub: sub, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.Warn("dropping malformed change notification", "scope", scope, "error", err)
				continue
			}
			h(change)
		}
		// Channel drained: either an explicit Close or a lost connection.
		handle.mu.Lock()
		if !handle.closed {
			handle.err = ErrSubscriptionClosed
		}
		handle.mu.Unlock()
	}()

	return handle, nil
}

type redisHandle struct {
	sub    *redis.PubSub
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	err    error
}

func (h *redisHandle) Done() <-chan struct{} { return h.done }

func (h *redisHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *redisHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	_ = h.sub.Close()
}
