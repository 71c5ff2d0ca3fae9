// Package memory keeps JWKS documents in a bounded LRU inside the process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/tokengate/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage is an in-process storage.Storage. Expired documents are dropped on
// Load and by a periodic sweep.
type Storage struct {
	docs *lru.Cache[string, storage.Document]
	done chan struct{}
	once sync.Once
}

// New returns a Storage holding at most maxSources documents.
func New(maxSources int) (*Storage, error) {
	docs, err := lru.New[string, storage.Document](maxSources)
	if err != nil {
		return nil, fmt.Errorf("memory storage: %w", err)
	}
	s := &Storage{docs: docs, done: make(chan struct{})}
	go s.sweep(5 * time.Minute)
	return s, nil
}

func (s *Storage) Load(ctx context.Context, source string) (*storage.Document, error) {
	if source == "" {
		return nil, storage.ErrNoSource
	}
	doc, ok := s.docs.Get(source)
	if !ok {
		return nil, nil
	}
	if doc.Expired(time.Now()) {
		s.docs.Remove(source)
		return nil, nil
	}
	doc.Body = append([]byte(nil), doc.Body...)
	return &doc, nil
}

func (s *Storage) Save(ctx context.Context, source string, doc *storage.Document) error {
	if source == "" {
		return storage.ErrNoSource
	}
	if doc == nil {
		return fmt.Errorf("memory storage: nil document for %s", source)
	}
	dup := *doc
	dup.Body = append([]byte(nil), doc.Body...)
	s.docs.Add(source, dup)
	return nil
}

func (s *Storage) Delete(ctx context.Context, source string) error {
	if source == "" {
		return storage.ErrNoSource
	}
	s.docs.Remove(source)
	return nil
}

// Close purges all documents and stops the sweeper. Safe to call twice.
func (s *Storage) Close() error {
	s.once.Do(func() { close(s.done) })
	s.docs.Purge()
	return nil
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, src := range s.docs.Keys() {
				if doc, ok := s.docs.Peek(src); ok && doc.Expired(now) {
					s.docs.Remove(src)
				}
			}
		}
	}
}

var _ storage.Storage = (*Storage)(nil)
