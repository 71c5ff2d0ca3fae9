// Package jwtauth verifies JWT access tokens offline against issuer signing
// keys resolved through a keycache.Resolver.
package jwtauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/tokengate/internal/keycache"
	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. Every error returned by Verifier.Verify wraps
// exactly one of these.
var (
	ErrMalformed     = errors.New("jwtauth: malformed token")
	ErrKeyResolution = errors.New("jwtauth: key resolution failed")
	ErrSignature     = errors.New("jwtauth: signature invalid")
	ErrExpired       = errors.New("jwtauth: token expired")
	ErrNotYetValid   = errors.New("jwtauth: token not yet valid")
	ErrIssuer        = errors.New("jwtauth: issuer mismatch")
	ErrAudience      = errors.New("jwtauth: audience mismatch")
)

// Config controls offline validation.
type Config struct {
	// ExpectedIssuer must equal the token's iss claim exactly.
	ExpectedIssuer string
	// ExpectedAudience must appear in the token's aud claim unless
	// SkipAudience is set.
	ExpectedAudience string
	// SkipAudience disables the audience check. Insecure: any token minted
	// by the issuer for any client is then accepted.
	SkipAudience bool
	// Algorithms the verifier accepts. The token header's alg must be one of
	// these. Symmetric algorithms and "none" are refused.
	Algorithms []string
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// DefaultConfig returns a Config accepting RS256 with no leeway.
func DefaultConfig() *Config {
	return &Config{Algorithms: []string{"RS256"}}
}

// Verifier validates tokens against keys from a Resolver. It is safe for
// concurrent use.
type Verifier struct {
	cfg    Config
	keys   keycache.Resolver
	parser *jwt.Parser
}

// New constructs a Verifier. cfg is copied.
func New(cfg *Config, keys keycache.Resolver) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if cfg.ExpectedIssuer == "" {
		return nil, errors.New("expected issuer is required")
	}
	if !cfg.SkipAudience && cfg.ExpectedAudience == "" {
		return nil, errors.New("expected audience is required unless the audience check is skipped")
	}
	c := *cfg
	c.Algorithms = slices.Clone(cfg.Algorithms)
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"RS256"}
	}
	for _, alg := range c.Algorithms {
		if !asymmetric(alg) {
			return nil, fmt.Errorf("algorithm %q is not allowed", alg)
		}
	}
	if c.Leeway < 0 {
		return nil, errors.New("leeway must not be negative")
	}

	return &Verifier{
		cfg:  c,
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(c.Algorithms),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(c.Leeway),
		),
	}, nil
}

// Verify checks structure, signature, temporal claims, issuer and (unless
// skipped) audience, in that order. On success the full decoded payload is
// returned. Network I/O happens only when the key id is not yet cached.
func (v *Verifier) Verify(ctx context.Context, tok string) (jwt.MapClaims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(tok, claims, v.keyfunc(ctx)); err != nil {
		return nil, classify(err)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != v.cfg.ExpectedIssuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuer, iss)
	}

	if !v.cfg.SkipAudience {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, v.cfg.ExpectedAudience) {
			return nil, fmt.Errorf("%w: %q not in %v", ErrAudience, v.cfg.ExpectedAudience, []string(aud))
		}
	}

	return claims, nil
}

func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token header has no kid", ErrKeyResolution)
		}
		key, err := v.keys.Resolve(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyResolution, err)
		}
		alg := t.Method.Alg()
		if key.Algorithm != "" && key.Algorithm != alg {
			return nil, fmt.Errorf("%w: key %q is published for %s, token uses %s", ErrSignature, kid, key.Algorithm, alg)
		}
		if !keyFitsMethod(key, t.Method) {
			return nil, fmt.Errorf("%w: key %q (%T) cannot verify %s", ErrSignature, kid, key.Public, alg)
		}
		return key.Public, nil
	}
}

// classify maps a golang-jwt parse error onto this package's sentinels.
// Sentinels raised by keyfunc take precedence.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyResolution), errors.Is(err, ErrSignature):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	default:
		// Claims of the wrong JSON type (e.g. a string exp) land here.
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func asymmetric(alg string) bool {
	return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS") ||
		strings.HasPrefix(alg, "ES") || alg == "EdDSA"
}

func keyFitsMethod(key keycache.Key, m jwt.SigningMethod) bool {
	switch m.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		_, ok := key.Public.(*rsa.PublicKey)
		return ok
	case *jwt.SigningMethodECDSA:
		_, ok := key.Public.(*ecdsa.PublicKey)
		return ok
	case *jwt.SigningMethodEd25519:
		_, ok := key.Public.(ed25519.PublicKey)
		return ok
	default:
		return false
	}
}
