package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veildata-systems/veilpipe/internal/model"
)

const (
	redisLatestKey  = "veilpipe:checkpoint:latest"
	redisHistoryKey = "veilpipe:checkpoint:history"
)

// RedisStore keeps checkpoints in Redis: the latest under a single key
// (replaced atomically by SET) and a capped history list. Safe for use
// across pipeline restarts on shared infrastructure.
type RedisStore struct {
	client     *redis.Client
	maxHistory int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, maxHistory int) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, maxHistory: maxHistory}, nil
}

// Save replaces the latest checkpoint and pushes it onto the history list.
func (s *RedisStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisLatestKey, data, 0)
	pipe.LPush(ctx, redisHistoryKey, data)
	pipe.LTrim(ctx, redisHistoryKey, 0, int64(s.maxHistory-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint, or nil if the key is absent.
func (s *RedisStore) Latest(ctx context.Context) (*model.Checkpoint, error) {
	data, err := s.client.Get(ctx, redisLatestKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse latest checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns up to limit history entries, newest first.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*model.Checkpoint, error) {
	if limit <= 0 {
		limit = s.maxHistory
	}

	items, err := s.client.LRange(ctx, redisHistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}

	checkpoints := make([]*model.Checkpoint, 0, len(items))
	for _, item := range items {
		var cp model.Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
