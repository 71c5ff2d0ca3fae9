// Package keycache resolves issuer signing keys by key id.
//
// Three Resolver implementations are provided: Cache fetches the issuer's
// JWKS document over HTTP and refreshes it when a token references an
// unknown key id; File serves a pinned JWKS document from disk and reloads it
// when the file changes; Static serves a fixed set and is intended for tests.
package keycache

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	// ErrKeyNotFound indicates no key with the requested kid is known, even
	// after any refresh the resolver was allowed to perform.
	ErrKeyNotFound = errors.New("keycache: key not found")

	// ErrFetch indicates the JWKS document could not be retrieved or parsed.
	ErrFetch = errors.New("keycache: jwks fetch failed")
)

// Key is a public verification key published by the issuer.
type Key struct {
	KID       string
	Algorithm string // "alg" member of the JWK; may be empty
	Use       string // "use" member of the JWK; may be empty
	Public    crypto.PublicKey
}

// Resolver resolves a key id to public key material. Implementations must be
// safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, kid string) (Key, error)
}

// Static is a fixed key set.
type Static map[string]Key

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, kid string) (Key, error) {
	k, ok := s[kid]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return k, nil
}

// ParseKeySet decodes a JWKS document into a kid-indexed key set. Entries
// that cannot be used for signature verification are skipped: encryption
// keys, keys without a kid, symmetric keys and entries go-jose cannot parse.
// Private members are discarded.
func ParseKeySet(doc []byte) (map[string]Key, error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	if raw.Keys == nil {
		return nil, errors.New("decode jwks: missing keys member")
	}

	out := make(map[string]Key, len(raw.Keys))
	for _, entry := range raw.Keys {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(entry, &jwk); err != nil {
			continue
		}
		if jwk.KeyID == "" || jwk.Use == "enc" || !jwk.Valid() {
			continue
		}
		pub := jwk.Public()
		if !pub.Valid() {
			continue
		}
		out[jwk.KeyID] = Key{
			KID:       jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Use:       jwk.Use,
			Public:    pub.Key,
		}
	}
	return out, nil
}
