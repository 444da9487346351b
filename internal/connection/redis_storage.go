package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage provides Redis-backed persistence for connection records.
// Records are stored as JSON under a hash keyed by connection ID so that
// multiple service instances share one view.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage creates a new Redis storage backend.
// Returns error if connection fails.
func NewRedisStorage(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		key:    "prism:connections",
	}, nil
}

func (rs *RedisStorage) Save(conn *Connection) error {
	ctx, cancel := opContext()
	defer cancel()

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	if err := rs.client.HSet(ctx, rs.key, conn.ID, data).Err(); err != nil {
		return fmt.Errorf("saving connection: %w", err)
	}

	return nil
}

func (rs *RedisStorage) Load(id string) (*Connection, error) {
	ctx, cancel := opContext()
	defer cancel()

	data, err := rs.client.HGet(ctx, rs.key, id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}

	var conn Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}

	return &conn, nil
}

func (rs *RedisStorage) LoadAll() ([]*Connection, error) {
	ctx, cancel := opContext()
	defer cancel()

	entries, err := rs.client.HGetAll(ctx, rs.key).Result()
	if err != nil {
		return nil, fmt.Errorf("loading connections: %w", err)
	}

	connections := make([]*Connection, 0, len(entries))
	for _, data := range entries {
		var conn Connection
		if err := json.Unmarshal([]byte(data), &conn); err != nil {
			continue // Skip invalid records
		}
		connections = append(connections, &conn)
	}

	return connections, nil
}

func (rs *RedisStorage) Delete(id string) error {
	ctx, cancel := opContext()
	defer cancel()

	if err := rs.client.HDel(ctx, rs.key, id).Err(); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}

	return nil
}

func (rs *RedisStorage) Exists(id string) bool {
	ctx, cancel := opContext()
	defer cancel()

	exists, err := rs.client.HExists(ctx, rs.key, id).Result()
	return err == nil && exists
}

// Close releases the Redis client.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
