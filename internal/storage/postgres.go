package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bullion-pipeline/internal/config"
)

const (
	createBlobsSQL = `CREATE TABLE IF NOT EXISTS %[1]s (
        bucket       TEXT        NOT NULL,
        key          TEXT        NOT NULL,
        body         BYTEA       NOT NULL,
        content_type TEXT        NOT NULL,
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (bucket, key)
    );`

	putBlobSQL = `INSERT INTO %[1]s (bucket, key, body, content_type)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (bucket, key) DO UPDATE
    SET body         = EXCLUDED.body,
        content_type = EXCLUDED.content_type,
        updated_at   = now();`

	getBlobSQL = `SELECT body FROM %[1]s WHERE bucket = $1 AND key = $2;`

	listBlobsSQL = `SELECT key FROM %[1]s
    WHERE bucket = $1
      AND left(key, length($2)) = $2
    ORDER BY key COLLATE "C";`
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Postgres keeps objects as rows of a (bucket, key) keyed table.
type Postgres struct {
	pool   *pgxpool.Pool
	table  string
	bucket string
}

// NewPostgres wires a pgx pool into a blob store. An invalid table name falls back to "blobs".
func NewPostgres(pool *pgxpool.Pool, table, bucket string) *Postgres {
	if !tableNamePattern.MatchString(table) {
		table = "blobs"
	}
	return &Postgres{pool: pool, table: table, bucket: bucket}
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Postgres) getPool() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotConfigured
	}
	return p.pool, nil
}

func (p *Postgres) sql(tmpl string) string {
	return fmt.Sprintf(tmpl, pgx.Identifier{p.table}.Sanitize())
}

// EnsureSchema creates the blob table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, p.sql(createBlobsSQL)); err != nil {
		return fmt.Errorf("create blob table: %w", err)
	}
	return nil
}

// Put upserts the object at key.
func (p *Postgres) Put(ctx context.Context, key string, body []byte, contentType string) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, p.sql(putBlobSQL), p.bucket, key, body, contentType); err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}
	var body []byte
	if err := pool.QueryRow(ctx, p.sql(getBlobSQL), p.bucket, key).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return body, nil
}

// List returns every key under prefix in byte order.
func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, p.sql(listBlobsSQL), p.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list blobs %s: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan blob keys: %w", err)
	}
	return keys, nil
}

var _ BlobStore = (*Postgres)(nil)
