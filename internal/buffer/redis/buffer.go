// Package redis implements the durable conversation buffer on Redis: a
// capped list of recent turns shared across processes, with a TTL so stale
// sessions expire on their own.
package redis

import (
	"context"
	"encoding/json"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// Buffer implements ports.ConversationBuffer using a Redis list.
type Buffer struct {
	client   *backend.Client
	key      string
	ttl      time.Duration
	maxItems int
}

type Option func(*Buffer)

// WithKey sets the session list key.
func WithKey(key string) Option {
	return func(b *Buffer) {
		if key != "" {
			b.key = key
		}
	}
}

// WithTTL sets the session expiration.
func WithTTL(ttl time.Duration) Option {
	return func(b *Buffer) { b.ttl = ttl }
}

// WithMaxItems caps the retained turn count.
func WithMaxItems(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxItems = n
		}
	}
}

// New creates a buffer connected to address.
func New(address, password string, db int, opts ...Option) *Buffer {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a buffer from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Buffer {
	b := &Buffer{
		client:   client,
		key:      "nexus:session:default",
		ttl:      24 * time.Hour,
		maxItems: 24,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append pushes one turn, trims to the cap, and refreshes the TTL in a
// single pipeline round trip.
func (b *Buffer) Append(ctx context.Context, msg domain.Message) error {
	row, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := b.client.Pipeline()
	pipe.RPush(ctx, b.key, row)
	pipe.LTrim(ctx, b.key, int64(-b.maxItems), -1)
	if b.ttl > 0 {
		pipe.Expire(ctx, b.key, b.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Read returns up to maxItems recent turns, oldest first. Rows that fail to
// decode are skipped.
func (b *Buffer) Read(ctx context.Context, maxItems int) ([]domain.Message, error) {
	if maxItems <= 0 {
		maxItems = b.maxItems
	}
	rows, err := b.client.LRange(ctx, b.key, int64(-maxItems), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		var msg domain.Message
		if err := json.Unmarshal([]byte(row), &msg); err != nil {
			continue
		}
		if msg.Role == "" {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping probes connectivity.
func (b *Buffer) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
