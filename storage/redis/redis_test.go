package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/tokengate/storage"
	"github.com/ggoodman/tokengate/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		mr := miniredis.RunT(t)
		s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
		if err != nil {
			t.Fatalf("Failed to create Redis storage: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), KeyPrefix: "gw:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	if err := s.Save(t.Context(), "https://issuer/certs", storage.NewDocument([]byte("x"), time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	key := "gw:jwks:https://issuer/certs"
	if !mr.Exists(key) {
		t.Fatalf("expected key %s, have %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("redis ttl = %v", ttl)
	}
}

func TestSave_AlreadyExpiredDeletes(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	ctx := t.Context()
	if err := s.Save(ctx, "src", storage.NewDocument([]byte("x"), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	stale := &storage.Document{Body: []byte("y"), FetchedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)}
	if err := s.Save(ctx, "src", stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	if mr.Exists(DefaultKeyPrefix + "jwks:src") {
		t.Fatal("stale save should remove the key")
	}
}
