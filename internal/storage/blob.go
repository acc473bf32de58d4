// Package storage persists pipeline partitions in a key/value blob store.
//
// Keys are UTF-8 strings using "/" as the hierarchy separator. Every backend
// lists keys in ascending lexical order so stage output is deterministic.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bullion-pipeline/internal/config"
)

// ContentTypeJSON is the content type of every record the pipeline writes.
const ContentTypeJSON = "application/json"

var (
	// ErrNotFound reports a Get on a missing key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrNotConfigured indicates the backend handle was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

//go:generate mockgen -package=storagemock -destination=storagemock/blob_store.go -source=blob.go BlobStore

// BlobStore is the minimal object store the stages share.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New opens the backend selected by cfg.Backend. The returned func releases it.
func New(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (BlobStore, func(), error) {
	logger = logger.With().Str("component", "storage").Str("backend", cfg.Backend).Str("bucket", cfg.Bucket).Logger()
	noop := func() {}

	switch cfg.Backend {
	case config.BackendFS:
		return NewOSFS(cfg.FS.Root, cfg.Bucket), noop, nil
	case config.BackendMemory:
		logger.Warn().Msg("memory backend selected; nothing is persisted beyond this process")
		return NewMemFS(), noop, nil
	case config.BackendS3:
		store, err := OpenS3(ctx, cfg.Bucket, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgres(pool, cfg.Postgres.Table, cfg.Bucket)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendRedis:
		store := OpenRedis(cfg.Redis, cfg.Bucket)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis client")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
	}
}
