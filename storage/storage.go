// Package storage persists fetched JWKS documents so that gateway replicas
// can share, and warm-start from, the last document any of them retrieved.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNoSource is returned when a document is addressed by an empty source.
var ErrNoSource = errors.New("storage: source is required")

// Storage keeps at most one Document per source, where a source is the URL
// the document was fetched from. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Load returns the document stored for source. A missing or expired
	// document yields (nil, nil); errors are reserved for backend failures.
	Load(ctx context.Context, source string) (*Document, error)

	// Save replaces the document stored for source.
	Save(ctx context.Context, source string, doc *Document) error

	// Delete forgets source. Deleting an unknown source is not an error.
	Delete(ctx context.Context, source string) error

	Close() error
}

// Document is a raw JWKS body plus bookkeeping.
type Document struct {
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
	// ExpiresAt is when the document stops being served. Zero never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// NewDocument stamps body as fetched now and usable for ttl. A non-positive
// ttl never expires.
func NewDocument(body []byte, ttl time.Duration) *Document {
	now := time.Now()
	d := &Document{Body: append([]byte(nil), body...), FetchedAt: now}
	if ttl > 0 {
		d.ExpiresAt = now.Add(ttl)
	}
	return d
}

// Expired reports whether d is past its expiry at now.
func (d *Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// TTL is the remaining lifetime at now, or 0 when d never expires.
func (d *Document) TTL(now time.Time) time.Duration {
	if d.ExpiresAt.IsZero() {
		return 0
	}
	return d.ExpiresAt.Sub(now)
}
