// Package redis stores JWKS documents in Redis so that several gateway
// replicas share fetched key material.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/tokengate/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "tokengate:"

// Config configures a Storage.
type Config struct {
	Client *redis.Client
	// KeyPrefix is prepended to every key. Default DefaultKeyPrefix.
	KeyPrefix string
}

// Storage is a Redis-backed storage.Storage. Documents are JSON values under
// <prefix>jwks:<source>, expired by Redis itself.
type Storage struct {
	client *redis.Client
	prefix string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis storage: client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Storage{client: cfg.Client, prefix: cfg.KeyPrefix}, nil
}

func (s *Storage) Load(ctx context.Context, source string) (*storage.Document, error) {
	if source == "" {
		return nil, storage.ErrNoSource
	}
	raw, err := s.client.Get(ctx, s.key(source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis storage: get %s: %w", source, err)
	}
	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("redis storage: decode %s: %w", source, err)
	}
	// Redis expiry has millisecond precision; the document's own stamp wins.
	if doc.Expired(time.Now()) {
		return nil, nil
	}
	return &doc, nil
}

func (s *Storage) Save(ctx context.Context, source string, doc *storage.Document) error {
	if source == "" {
		return storage.ErrNoSource
	}
	if doc == nil {
		return fmt.Errorf("redis storage: nil document for %s", source)
	}
	ttl := doc.TTL(time.Now())
	if !doc.ExpiresAt.IsZero() && ttl <= 0 {
		return s.Delete(ctx, source)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis storage: encode %s: %w", source, err)
	}
	if err := s.client.Set(ctx, s.key(source), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis storage: set %s: %w", source, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, source string) error {
	if source == "" {
		return storage.ErrNoSource
	}
	if err := s.client.Del(ctx, s.key(source)).Err(); err != nil {
		return fmt.Errorf("redis storage: del %s: %w", source, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error { return s.client.Close() }

func (s *Storage) key(source string) string { return s.prefix + "jwks:" + source }

var _ storage.Storage = (*Storage)(nil)
