package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bullion-pipeline/internal/config"
)

func TestRedisBlobStore(t *testing.T) {
	srv := miniredis.RunT(t)

	store := OpenRedis(config.RedisConfig{Addr: srv.Addr()}, "bullion")
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping 失败: %v", err)
	}
	exerciseBlobStore(t, store)

	if !srv.Exists("bullion:index") {
		t.Fatal("应维护 key 索引")
	}
	if got := srv.HGet("bullion:blob:raw/2025-06-01/gold_00-00.json", "content_type"); got != ContentTypeJSON {
		t.Fatalf("content type 未保存: %q", got)
	}
}

func TestRedisBucketsAreIsolated(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := NewRedis(client, "a")
	b := NewRedis(client, "b")

	if err := a.Put(ctx, "raw/2025-06-01/gold_00-00.json", []byte("{}"), ContentTypeJSON); err != nil {
		t.Fatalf("put 失败: %v", err)
	}
	keys, err := b.List(ctx, "raw/")
	if err != nil || len(keys) != 0 {
		t.Fatalf("不同 bucket 不应互相可见: %v %v", keys, err)
	}
}
