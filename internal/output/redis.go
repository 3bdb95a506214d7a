// internal/output/redis.go - Redis list failure sink
package output

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/config"
	"github.com/valpere/tilecutter/internal/tile"
)

// RedisWriter pushes JSON failure records onto a Redis list so a later run can retry them
type RedisWriter struct {
	client    *redis.Client
	key       string
	formatter Formatter
}

// NewRedisWriter connects to the configured Redis server and checks it is reachable
func NewRedisWriter(ctx context.Context, cfg config.FailuresConfig) (*RedisWriter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, internal.NewError(internal.ErrorCodeNetwork, fmt.Sprintf("redis at %s unreachable", cfg.RedisAddr), err)
	}

	return NewRedisWriterWithClient(client, cfg.RedisKey), nil
}

// NewRedisWriterWithClient wraps an existing client
func NewRedisWriterWithClient(client *redis.Client, key string) *RedisWriter {
	return &RedisWriter{client: client, key: key, formatter: JSONFormatter{}}
}

// Write appends one failure record to the list
func (w *RedisWriter) Write(ctx context.Context, failure tile.Failure) error {
	data, err := w.formatter.Format(failure)
	if err != nil {
		return err
	}

	// Trailing newline is only useful in files
	if err := w.client.RPush(ctx, w.key, data[:len(data)-1]).Err(); err != nil {
		return fmt.Errorf("redis push to %s failed: %w", w.key, err)
	}
	return nil
}

// Len returns the number of records on the list
func (w *RedisWriter) Len(ctx context.Context) (int64, error) {
	return w.client.LLen(ctx, w.key).Result()
}

// Close closes the Redis client
func (w *RedisWriter) Close() error {
	return w.client.Close()
}
