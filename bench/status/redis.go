package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loadbench/loadbench/bench"
)

// KeyPrefix namespaces node status keys.
const KeyPrefix = "loadbench:status:"

// RedisStore keeps each node's latest batch under a single key.
// SET replaces the value atomically, so readers never see a partial batch.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the server with a PING.
func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Key returns the key holding nodeID's status.
func Key(nodeID string) string {
	return KeyPrefix + nodeID
}

// Save implements bench.StatusStore.
func (s *RedisStore) Save(ctx context.Context, batch bench.ReportBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding status for %s: %w", batch.NodeID, err)
	}
	if err := s.client.Set(ctx, Key(batch.NodeID), data, 0).Err(); err != nil {
		return fmt.Errorf("storing status for %s: %w", batch.NodeID, err)
	}
	return nil
}

// Load implements bench.StatusStore.
func (s *RedisStore) Load(ctx context.Context, nodeID string) (bench.ReportBatch, error) {
	data, err := s.client.Get(ctx, Key(nodeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return bench.ReportBatch{}, fmt.Errorf("%s: %w", nodeID, ErrNotFound)
		}
		return bench.ReportBatch{}, fmt.Errorf("reading status for %s: %w", nodeID, err)
	}
	var batch bench.ReportBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return bench.ReportBatch{}, fmt.Errorf("decoding status for %s: %w", nodeID, err)
	}
	return batch, nil
}

// remove deletes a node's key.
func (s *RedisStore) remove(ctx context.Context, nodeID string) error {
	return s.client.Del(ctx, Key(nodeID)).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
