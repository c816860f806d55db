package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/npezzotti/go-readroom/internal/types"
)

const DefaultHistoryLimit = 200

var ErrInvalidLimit = errors.New("chatstore: limit must be positive")

// Store buffers the most recent chat messages of each room.
type Store interface {
	Append(ctx context.Context, roomId string, msg types.ChatMessage) error
	// Recent returns at most limit messages, most recent first.
	Recent(ctx context.Context, roomId string, limit int) ([]types.ChatMessage, error)
	Clear(ctx context.Context, roomId string) error
}

type RedisStore struct {
	client *redis.Client
	max    int64
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and keeps up to max messages per room.
func NewRedisStore(addr string, max int) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewRedisStoreWithClient(c, max), nil
}

func NewRedisStoreWithClient(c *redis.Client, max int) *RedisStore {
	if max <= 0 {
		max = DefaultHistoryLimit
	}
	return &RedisStore{client: c, max: int64(max)}
}

func roomKey(roomId string) string {
	return "readroom:chat:" + roomId
}

func (s *RedisStore) Append(ctx context.Context, roomId string, msg types.ChatMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}

	key := roomKey(roomId)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, roomId string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	raw, err := s.client.LRange(ctx, roomKey(roomId), 0, int64(limit)-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read chat history: %w", err)
	}

	msgs := make([]types.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m types.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, roomId string) error {
	return s.client.Del(ctx, roomKey(roomId)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
