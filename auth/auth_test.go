package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/ggoodman/tokengate/auth/authtest"
	"github.com/ggoodman/tokengate/internal/keycache"
	"github.com/ggoodman/tokengate/storage/memory"
	"github.com/golang-jwt/jwt/v5"
)

func testConfig(iss *authtest.Issuer, mode Mode) Config {
	return Config{
		Mode:         mode,
		BaseURL:      iss.BaseURL(),
		Realm:        iss.Realm,
		ClientID:     "demo-client",
		ClientSecret: "secret",
	}
}

func newProvider(t *testing.T, cfg Config, opts ...Option) Provider {
	t.Helper()
	p, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return p
}

func TestNew_SelectsStrategy(t *testing.T) {
	iss := authtest.NewIssuer(t)
	for _, mode := range []Mode{ModeOffline, ModeIntrospect} {
		p := newProvider(t, testConfig(iss, mode))
		if p.Mode() != mode {
			t.Fatalf("mode = %v, want %v", p.Mode(), mode)
		}
		if _, warm := p.(Warmer); warm != (mode == ModeOffline) {
			t.Fatalf("%v: unexpected Warmer implementation", mode)
		}
	}
	if _, err := New(context.Background(), Config{BaseURL: iss.BaseURL(), Realm: "r"}); err == nil {
		t.Fatal("expected error for missing mode")
	}
}

func TestOffline_Valid(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := newProvider(t, testConfig(iss, ModeOffline))

	out := p.Verify(context.Background(), iss.Sign(t, iss.Claims("user-123", time.Hour)))
	if !out.OK() {
		t.Fatalf("want valid, got %s: %v", out.Reason, out.Err)
	}
	c := out.Claims
	if c.Subject != "user-123" || c.Username != "alice" || c.Scope != "openid profile email" || c.ClientID != "demo-client" {
		t.Fatalf("claims = %+v", c)
	}
	if c.Issuer != iss.IssuerURL() {
		t.Fatalf("iss = %q", c.Issuer)
	}
}

func TestOffline_Reasons(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := newProvider(t, testConfig(iss, ModeOffline))
	ctx := context.Background()

	expired := iss.Sign(t, iss.Claims("user-123", -time.Minute))
	wrongIss := iss.Claims("user-123", time.Hour)
	wrongIss["iss"] = "http://elsewhere/realms/demo-realm"
	wrongAud := iss.Claims("user-123", time.Hour)
	wrongAud["aud"] = "another-client"
	future := iss.Claims("user-123", time.Hour)
	future["nbf"] = time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		tok  string
		want Reason
	}{
		{"malformed", "not-a-jwt", ReasonMalformedToken},
		{"expired", expired, ReasonExpired},
		{"issuer", iss.Sign(t, wrongIss), ReasonIssuerMismatch},
		{"audience", iss.Sign(t, wrongAud), ReasonAudienceMismatch},
		{"not yet valid", iss.Sign(t, future), ReasonNotYetValid},
		{"unknown kid", authtest.SignToken(t, jwt.SigningMethodRS256, iss.Key("test-key"), "ghost", iss.Claims("u", time.Hour)), ReasonKeyResolutionFailed},
		{"tampered", expired[:len(expired)-4] + "AAAA", ReasonSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Verify(ctx, tt.tok)
			if out.OK() || out.Claims != nil {
				t.Fatalf("want rejection, got valid")
			}
			if out.Reason != tt.want {
				t.Fatalf("reason = %s, want %s (err=%v)", out.Reason, tt.want, out.Err)
			}
			if !errors.Is(out.Err, ErrUnauthorized) {
				t.Fatalf("err should join ErrUnauthorized: %v", out.Err)
			}
		})
	}
}

func TestOffline_SkipAudience(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cfg := testConfig(iss, ModeOffline)
	cfg.InsecureSkipAudience = true
	p := newProvider(t, cfg)

	claims := iss.Claims("user-123", time.Hour)
	claims["aud"] = "another-client"
	if out := p.Verify(context.Background(), iss.Sign(t, claims)); !out.OK() {
		t.Fatalf("want valid with audience check skipped, got %s", out.Reason)
	}
}

func TestOffline_WithKeyResolver(t *testing.T) {
	iss := authtest.NewIssuer(t)
	keys, err := keycache.ParseKeySet(iss.JWKS(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	iss.FailJWKS(http.StatusInternalServerError)

	p := newProvider(t, testConfig(iss, ModeOffline), WithKeyResolver(keycache.Static(keys)))
	if out := p.Verify(context.Background(), iss.Sign(t, iss.Claims("user-123", time.Hour))); !out.OK() {
		t.Fatalf("want valid, got %s: %v", out.Reason, out.Err)
	}
	if hits := iss.JWKSHits(); hits != 0 {
		t.Fatalf("static resolver must not hit the network, hits=%d", hits)
	}
	if err := p.(Warmer).Warm(context.Background()); err != nil {
		t.Fatalf("warm with static keys: %v", err)
	}
}

func TestOffline_WarmAndStore(t *testing.T) {
	iss := authtest.NewIssuer(t)
	store, err := memory.New(16)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	p := newProvider(t, testConfig(iss, ModeOffline), WithStore(store))
	if err := p.(Warmer).Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if hits := iss.JWKSHits(); hits != 1 {
		t.Fatalf("warm should fetch once, hits=%d", hits)
	}

	// A second replica sharing the store starts without touching the issuer.
	replica := newProvider(t, testConfig(iss, ModeOffline), WithStore(store))
	if out := replica.Verify(context.Background(), iss.Sign(t, iss.Claims("user-123", time.Hour))); !out.OK() {
		t.Fatalf("replica: %s: %v", out.Reason, out.Err)
	}
	if hits := iss.JWKSHits(); hits != 1 {
		t.Fatalf("replica fetched despite stored keys, hits=%d", hits)
	}
}

func TestIntrospect_Outcomes(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := newProvider(t, testConfig(iss, ModeIntrospect))
	ctx := context.Background()

	if out := p.Verify(ctx, "opaque"); out.Reason != ReasonTokenInactive || !errors.Is(out.Err, ErrUnauthorized) {
		t.Fatalf("default inactive: %s %v", out.Reason, out.Err)
	}

	iss.SetIntrospection(func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"active": true, "preferred_username": "alice", "scope": "profile"}
	})
	out := p.Verify(ctx, "opaque")
	if !out.OK() || out.Claims.Username != "alice" || out.Claims.Scope != "profile" {
		t.Fatalf("active: %+v", out)
	}

	iss.SetIntrospection(func(url.Values) (int, any) { return http.StatusInternalServerError, nil })
	out = p.Verify(ctx, "opaque")
	if out.OK() || out.Reason != ReasonIntrospectionUnavailable {
		t.Fatalf("500: %+v", out)
	}
	if !errors.Is(out.Err, ErrUnavailable) {
		t.Fatalf("unavailable outcome should join ErrUnavailable: %v", out.Err)
	}
}

func TestIntrospect_Timeout(t *testing.T) {
	iss := authtest.NewIssuer(t)
	block := make(chan struct{})
	defer close(block)
	iss.SetIntrospection(func(url.Values) (int, any) {
		<-block
		return http.StatusOK, map[string]any{"active": true}
	})
	cfg := testConfig(iss, ModeIntrospect)
	cfg.HTTPTimeout = 50 * time.Millisecond
	p := newProvider(t, cfg)

	if out := p.Verify(context.Background(), "opaque"); out.Reason != ReasonIntrospectionUnavailable {
		t.Fatalf("timeout must fail closed, got %+v", out)
	}
}

func TestNew_Discovery(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cfg := testConfig(iss, ModeOffline)
	cfg.Discovery = true
	p := newProvider(t, cfg)

	got := p.Config()
	if got.JWKSURL != iss.JWKSURL() || got.IntrospectionURL != iss.IntrospectionURL() {
		t.Fatalf("discovered endpoints not applied: %+v", got)
	}
	if out := p.Verify(context.Background(), iss.Sign(t, iss.Claims("user-123", time.Hour))); !out.OK() {
		t.Fatalf("verify: %s: %v", out.Reason, out.Err)
	}

	cfg.JWKSURL = "http://pinned.invalid/certs"
	if got := newProvider(t, cfg).Config().JWKSURL; got != "http://pinned.invalid/certs" {
		t.Fatalf("explicit override lost: %q", got)
	}
}

func TestNew_DiscoveryFailureIsFatal(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cfg := testConfig(iss, ModeOffline)
	cfg.Realm = "missing-realm"
	cfg.Discovery = true
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected discovery error")
	}
}
