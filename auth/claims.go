package auth

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the verified payload of an accepted token. Claims the
// gateway consumes have named fields; everything else is kept in Extra.
type TokenClaims struct {
	Issuer   string
	Subject  string
	Username string // preferred_username, falling back to username
	Scope    string
	ClientID string // client_id, falling back to azp
	Audience []string

	ExpiresAt *time.Time
	IssuedAt  *time.Time
	NotBefore *time.Time

	Extra map[string]any

	raw map[string]any
}

var namedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {},
	"scope": {}, "preferred_username": {}, "username": {}, "client_id": {}, "azp": {},
}

// newTokenClaims copies a verified payload. Claims with unexpected JSON types
// leave their named field empty but stay available through Raw.
func newTokenClaims(payload map[string]any) *TokenClaims {
	raw := maps.Clone(payload)
	if raw == nil {
		raw = map[string]any{}
	}
	mc := jwt.MapClaims(raw)

	c := &TokenClaims{raw: raw, Extra: map[string]any{}}
	c.Issuer, _ = mc.GetIssuer()
	c.Subject, _ = mc.GetSubject()
	if aud, err := mc.GetAudience(); err == nil && len(aud) > 0 {
		c.Audience = []string(aud)
	}
	c.ExpiresAt = numericDate(mc.GetExpirationTime())
	c.IssuedAt = numericDate(mc.GetIssuedAt())
	c.NotBefore = numericDate(mc.GetNotBefore())
	c.Scope = firstString(raw, "scope")
	c.Username = firstString(raw, "preferred_username", "username")
	c.ClientID = firstString(raw, "client_id", "azp")

	for k, v := range raw {
		if _, named := namedClaims[k]; !named {
			c.Extra[k] = v
		}
	}
	return c
}

// UserID returns the subject.
func (c *TokenClaims) UserID() string { return c.Subject }

// Raw returns a copy of the full decoded payload.
func (c *TokenClaims) Raw() map[string]any { return maps.Clone(c.raw) }

// Claims decodes the full payload into ref.
func (c *TokenClaims) Claims(ref any) error {
	b, err := json.Marshal(c.raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

func numericDate(d *jwt.NumericDate, err error) *time.Time {
	if err != nil || d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
