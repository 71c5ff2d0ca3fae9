// Package authtest provides a mock Keycloak-style issuer for tests: a realm
// serving a JWKS document, an RFC 7662 introspection endpoint and an OIDC
// discovery document, plus helpers to mint RS256 access tokens.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultRealm is the realm name used by NewIssuer.
const DefaultRealm = "demo-realm"

// IntrospectFunc decides the introspection response for a submitted form.
type IntrospectFunc func(form url.Values) (status int, body any)

// Issuer is a mock identity provider backed by httptest.
type Issuer struct {
	Server *httptest.Server
	Realm  string

	mu         sync.Mutex
	keys       map[string]*rsa.PrivateKey
	order      []string
	signingKID string
	jwksStatus int
	introspect IntrospectFunc
	jwksHits   int
	introHits  int
	lastForm   url.Values
}

// NewIssuer starts a mock issuer with a single RS256 signing key. The server
// is closed when the test ends.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	iss := &Issuer{Realm: DefaultRealm, keys: map[string]*rsa.PrivateKey{}}
	iss.AddKey(t, "test-key")

	mux := http.NewServeMux()
	base := "/realms/" + iss.Realm
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/certs", iss.handleCerts)
	mux.HandleFunc("POST "+base+"/protocol/openid-connect/token/introspect", iss.handleIntrospect)
	mux.HandleFunc("GET "+base+"/.well-known/openid-configuration", iss.handleDiscovery)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)
	return iss
}

// BaseURL is the server root (the KEYCLOAK_URL equivalent).
func (i *Issuer) BaseURL() string { return i.Server.URL }

// IssuerURL is the realm issuer identifier tokens are minted with.
func (i *Issuer) IssuerURL() string { return i.Server.URL + "/realms/" + i.Realm }

// JWKSURL is the realm certs endpoint.
func (i *Issuer) JWKSURL() string { return i.IssuerURL() + "/protocol/openid-connect/certs" }

// IntrospectionURL is the realm introspection endpoint.
func (i *Issuer) IntrospectionURL() string {
	return i.IssuerURL() + "/protocol/openid-connect/token/introspect"
}

// AddKey generates a new RSA key, publishes it in the JWKS document and makes
// it the signing key.
func (i *Issuer) AddKey(t testing.TB, kid string) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.keys[kid]; !exists {
		i.order = append(i.order, kid)
	}
	i.keys[kid] = pk
	i.signingKID = kid
	return pk
}

// RemoveKey withdraws kid from the published JWKS document.
func (i *Issuer) RemoveKey(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, kid)
	for n, k := range i.order {
		if k == kid {
			i.order = append(i.order[:n], i.order[n+1:]...)
			break
		}
	}
}

// Key returns the private key for kid, or nil.
func (i *Issuer) Key(kid string) *rsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[kid]
}

// SigningKID returns the kid used by Sign.
func (i *Issuer) SigningKID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.signingKID
}

// JWKS returns the currently published JWKS document. An encryption key is
// always included so consumers exercise use=enc filtering.
func (i *Issuer) JWKS(t testing.TB) []byte {
	t.Helper()
	b, err := i.jwksDocument()
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func (i *Issuer) jwksDocument() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	set := jose.JSONWebKeySet{}
	for _, kid := range i.order {
		pk := i.keys[kid]
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid + "-enc", Algorithm: "RSA-OAEP", Use: "enc"})
	}
	return json.Marshal(set)
}

// FailJWKS makes the certs endpoint answer with status; 0 restores normal
// behaviour.
func (i *Issuer) FailJWKS(status int) {
	i.mu.Lock()
	i.jwksStatus = status
	i.mu.Unlock()
}

// JWKSHits reports how many times the certs endpoint was called.
func (i *Issuer) JWKSHits() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.jwksHits
}

// SetIntrospection installs the introspection behaviour.
func (i *Issuer) SetIntrospection(fn IntrospectFunc) {
	i.mu.Lock()
	i.introspect = fn
	i.mu.Unlock()
}

// IntrospectionHits reports how many times the introspection endpoint was called.
func (i *Issuer) IntrospectionHits() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.introHits
}

// LastIntrospectionForm returns the form of the most recent introspection call.
func (i *Issuer) LastIntrospectionForm() url.Values {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastForm
}

// Claims returns a standard Keycloak-shaped claim set for sub, valid for ttl
// (negative ttl yields an expired token).
func (i *Issuer) Claims(sub string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                i.IssuerURL(),
		"sub":                sub,
		"aud":                "account",
		"azp":                "demo-client",
		"exp":                now.Add(ttl).Unix(),
		"iat":                now.Add(-time.Minute).Unix(),
		"preferred_username": "alice",
		"scope":              "openid profile email",
		"realm_access":       map[string]any{"roles": []any{"user"}},
	}
}

// Sign mints an RS256 token with the current signing key.
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	kid := i.SigningKID()
	return SignToken(t, jwt.SigningMethodRS256, i.Key(kid), kid, claims)
}

// SignToken signs claims with an arbitrary method and key, setting kid when
// non-empty.
func SignToken(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (i *Issuer) handleCerts(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	i.jwksHits++
	status := i.jwksStatus
	i.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	doc, err := i.jwksDocument()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (i *Issuer) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	i.mu.Lock()
	i.introHits++
	i.lastForm = r.PostForm
	fn := i.introspect
	i.mu.Unlock()

	if fn == nil {
		fn = func(url.Values) (int, any) { return http.StatusOK, map[string]any{"active": false} }
	}
	status, body := fn(r.PostForm)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                i.IssuerURL(),
		"jwks_uri":                              i.JWKSURL(),
		"introspection_endpoint":                i.IntrospectionURL(),
		"authorization_endpoint":                i.IssuerURL() + "/protocol/openid-connect/auth",
		"token_endpoint":                        i.IssuerURL() + "/protocol/openid-connect/token",
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
	})
}
