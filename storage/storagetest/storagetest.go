// Package storagetest holds a conformance suite shared by storage backends.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/tokengate/storage"
)

// Factory creates a fresh storage instance for a single subtest.
type Factory func(t *testing.T) storage.Storage

const (
	sourceA = "https://a.example/realms/demo/protocol/openid-connect/certs"
	sourceB = "https://b.example/realms/demo/protocol/openid-connect/certs"
)

// RunStorageTests runs the suite against storages produced by factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, factory(t)) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, factory(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, factory(t)) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory(t)) })
	t.Run("SourcesIsolated", func(t *testing.T) { testSourcesIsolated(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("EmptySource", func(t *testing.T) { testEmptySource(t, factory(t)) })
}

func testSaveAndLoad(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	body := []byte(`{"keys":[]}`)
	if err := s.Save(ctx, sourceA, storage.NewDocument(body, 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := s.Load(ctx, sourceA)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a document, got nil")
	}
	if string(doc.Body) != string(body) {
		t.Errorf("body = %s, want %s", doc.Body, body)
	}
	if doc.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
	if !doc.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be zero without a ttl")
	}
}

func testLoadMissing(t *testing.T, s storage.Storage) {
	doc, err := s.Load(context.Background(), sourceA)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for unknown source, got %+v", doc)
	}
}

func testReplace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Save(ctx, sourceA, storage.NewDocument([]byte("old"), 0)); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := s.Save(ctx, sourceA, storage.NewDocument([]byte("new"), 0)); err != nil {
		t.Fatalf("save new: %v", err)
	}
	doc, err := s.Load(ctx, sourceA)
	if err != nil || doc == nil || string(doc.Body) != "new" {
		t.Fatalf("load after replace: doc=%v err=%v", doc, err)
	}
}

func testExpiry(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond
	if err := s.Save(ctx, sourceA, storage.NewDocument([]byte("short"), ttl)); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := s.Load(ctx, sourceA)
	if err != nil || doc == nil {
		t.Fatalf("load before expiry: doc=%v err=%v", doc, err)
	}
	if doc.ExpiresAt.IsZero() {
		t.Fatal("ExpiresAt should be set with a ttl")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	doc, err = s.Load(ctx, sourceA)
	if err != nil {
		t.Fatalf("load after expiry: %v", err)
	}
	if doc != nil {
		t.Error("expected nil for an expired document")
	}
}

func testSourcesIsolated(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Save(ctx, sourceA, storage.NewDocument([]byte("a"), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc, err := s.Load(ctx, sourceB)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc != nil {
		t.Errorf("source b must not see source a's document, got %s", doc.Body)
	}
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Save(ctx, sourceA, storage.NewDocument([]byte("a"), 0)); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.Save(ctx, sourceB, storage.NewDocument([]byte("b"), 0)); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := s.Delete(ctx, sourceA); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if doc, err := s.Load(ctx, sourceA); err != nil || doc != nil {
		t.Fatalf("deleted source still loads: doc=%v err=%v", doc, err)
	}
	if doc, err := s.Load(ctx, sourceB); err != nil || doc == nil {
		t.Fatalf("unrelated source lost: doc=%v err=%v", doc, err)
	}
	if err := s.Delete(ctx, "https://never.example/certs"); err != nil {
		t.Fatalf("deleting unknown source: %v", err)
	}
}

func testEmptySource(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if _, err := s.Load(ctx, ""); !errors.Is(err, storage.ErrNoSource) {
		t.Errorf("load: want ErrNoSource, got %v", err)
	}
	if err := s.Save(ctx, "", storage.NewDocument(nil, 0)); !errors.Is(err, storage.ErrNoSource) {
		t.Errorf("save: want ErrNoSource, got %v", err)
	}
	if err := s.Delete(ctx, ""); !errors.Is(err, storage.ErrNoSource) {
		t.Errorf("delete: want ErrNoSource, got %v", err)
	}
}
