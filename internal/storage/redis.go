package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bullion-pipeline/internal/config"
)

// Redis keeps each object in a hash and indexes keys in a sorted set so
// prefix listing is a ZRANGEBYLEX instead of a SCAN.
type Redis struct {
	client *redis.Client
	bucket string
}

// NewRedis wires an existing client.
func NewRedis(client *redis.Client, bucket string) *Redis {
	return &Redis{client: client, bucket: bucket}
}

// OpenRedis dials the configured server.
func OpenRedis(cfg config.RedisConfig, bucket string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedis(client, bucket)
}

// Ping checks the connection to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) objectKey(key string) string {
	return fmt.Sprintf("%s:blob:%s", r.bucket, key)
}

func (r *Redis) indexKey() string {
	return fmt.Sprintf("%s:index", r.bucket)
}

// Put stores the object and its index entry in one transaction.
func (r *Redis) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.objectKey(key), "body", body, "content_type", contentType)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put redis %s: %w", key, err)
	}
	return nil
}

// Get reads the object body.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := r.client.HGet(ctx, r.objectKey(key), "body").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get redis %s: %w", key, err)
	}
	return body, nil
}

// List returns indexed keys starting with prefix.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	rng := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		rng = &redis.ZRangeBy{Min: "[" + prefix, Max: "(" + prefix + "\xff"}
	}
	keys, err := r.client.ZRangeByLex(ctx, r.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("list redis %s: %w", prefix, err)
	}
	return keys, nil
}

var _ BlobStore = (*Redis)(nil)
