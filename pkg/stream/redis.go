package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/logger"
)

// RedisBufferConfig configures a Redis-backed buffer.
type RedisBufferConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	// IdleTTL, when positive, lets Redis expire a conversation's log
	// after it has gone quiet. Zero disables expiry; active eviction
	// stays outside this package either way.
	IdleTTL time.Duration
}

// RedisBuffer stores each conversation's log as a Redis list, with the
// sequence counter kept in a companion key so appends from multiple
// relay instances assign globally unique, strictly increasing numbers.
type RedisBuffer struct {
	client    *redis.Client
	keyPrefix string
	idleTTL   time.Duration
}

// NewRedisBuffer connects to Redis and verifies the connection.
func NewRedisBuffer(cfg RedisBufferConfig) (*RedisBuffer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "parley:"
	}

	return &RedisBuffer{
		client:    client,
		keyPrefix: prefix + "stream:",
		idleTTL:   cfg.IdleTTL,
	}, nil
}

// NewRedisBufferWithClient wraps an existing client. Used by tests.
func NewRedisBufferWithClient(client *redis.Client, keyPrefix string, idleTTL time.Duration) *RedisBuffer {
	if keyPrefix == "" {
		keyPrefix = "parley:"
	}
	return &RedisBuffer{
		client:    client,
		keyPrefix: keyPrefix + "stream:",
		idleTTL:   idleTTL,
	}
}

func (b *RedisBuffer) Close() error {
	return b.client.Close()
}

func (b *RedisBuffer) seqKey(convID string) string {
	return b.keyPrefix + "seq:" + convID
}

func (b *RedisBuffer) logKey(convID string) string {
	return b.keyPrefix + "log:" + convID
}

// Append assigns the next sequence number via INCR and pushes the
// chunk onto the conversation's list. INCR is atomic server-side, so
// concurrent appends for one conversation serialize there.
func (b *RedisBuffer) Append(ctx context.Context, convID string, chunk chat.Chunk) (int64, error) {
	seq, err := b.client.Incr(ctx, b.seqKey(convID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to assign sequence number: %w", err)
	}

	chunk.Seq = seq
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal chunk: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.RPush(ctx, b.logKey(convID), data)
	if b.idleTTL > 0 {
		pipe.Expire(ctx, b.logKey(convID), b.idleTTL)
		pipe.Expire(ctx, b.seqKey(convID), b.idleTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append chunk: %w", err)
	}

	return seq, nil
}

// Snapshot returns the conversation's buffered chunks in append order.
// Entries that fail to decode are skipped, not fatal: one corrupt
// payload must not take down a resume.
func (b *RedisBuffer) Snapshot(ctx context.Context, convID string) ([]chat.Chunk, error) {
	raw, err := b.client.LRange(ctx, b.logKey(convID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}

	chunks := make([]chat.Chunk, 0, len(raw))
	for _, entry := range raw {
		var chunk chat.Chunk
		if err := json.Unmarshal([]byte(entry), &chunk); err != nil {
			logger.Warn("Skipping malformed buffer entry for conversation %s: %v", convID, err)
			continue
		}
		chunks = append(chunks, chunk)
	}

	// Appends from different instances can interleave between INCR and
	// RPUSH, so list order is not guaranteed to be sequence order.
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

// Clear drops the conversation's log. The sequence key is left in
// place so sequence numbers are never reused.
func (b *RedisBuffer) Clear(ctx context.Context, convID string) error {
	if err := b.client.Del(ctx, b.logKey(convID)).Err(); err != nil {
		return fmt.Errorf("failed to clear buffer: %w", err)
	}
	return nil
}

var _ Buffer = (*MemoryBuffer)(nil)
var _ Buffer = (*RedisBuffer)(nil)
