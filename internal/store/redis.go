package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mosiko1234/cfa/console/internal/logger"
)

// RedisStore implements Store on a Redis instance. Keys never expire; the credential's
// lifetime is governed by the agent, not by the cache.
type RedisStore struct {
	client *redis.Client
	logger *logger.Logger
}

// OpenRedis connects to addr and verifies the connection with PING
func OpenRedis(ctx context.Context, addr string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          db,
		PoolSize:    4,
		MaxRetries:  2,
		DialTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log := logger.NewComponentLogger("Store")
	log.Info("Using redis credential store at %s (db %d)", addr, db)

	return &RedisStore{client: client, logger: log}, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: logger.NewComponentLogger("Store")}
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, namespaced(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from redis: %w", key, err)
	}
	return value, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, namespaced(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", key, err)
	}
	return nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, namespaced(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// Batch implements Store with a MULTI/EXEC pipeline
func (s *RedisStore) Batch(ctx context.Context, ops []Op) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Type {
			case OpSet:
				pipe.Set(ctx, namespaced(op.Key), op.Value, 0)
			case OpDelete:
				pipe.Del(ctx, namespaced(op.Key))
			default:
				return fmt.Errorf("unknown batch operation %d", op.Type)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply %d operations in redis: %w", len(ops), err)
	}
	return nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
