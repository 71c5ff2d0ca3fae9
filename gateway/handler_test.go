package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/tokengate/auth"
	"github.com/ggoodman/tokengate/auth/authtest"
)

// countingVerifier records calls and returns a fixed outcome.
type countingVerifier struct {
	mode  auth.Mode
	out   auth.Outcome
	calls atomic.Int32
}

func (v *countingVerifier) Mode() auth.Mode { return v.mode }
func (v *countingVerifier) Verify(ctx context.Context, tok string) auth.Outcome {
	v.calls.Add(1)
	return v.out
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServer(t *testing.T, v auth.Verifier) *httptest.Server {
	t.Helper()
	h, err := New("http://gateway.test", v, WithLogger(quietLogger()), WithRealm("demo-realm"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path, authz string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp, body
}

func newProvider(t *testing.T, iss *authtest.Issuer, mode auth.Mode) auth.Provider {
	t.Helper()
	p, err := auth.New(context.Background(), auth.Config{
		Mode:         mode,
		BaseURL:      iss.BaseURL(),
		Realm:        iss.Realm,
		ClientID:     "demo-client",
		ClientSecret: "secret",
	}, auth.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	return p
}

func TestPublic_AnyMode(t *testing.T) {
	for _, mode := range []auth.Mode{auth.ModeOffline, auth.ModeIntrospect} {
		v := &countingVerifier{mode: mode}
		srv := newServer(t, v)
		resp, body := get(t, srv, "/public", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%v: status = %d", mode, resp.StatusCode)
		}
		if body["message"] != "This is a public endpoint." {
			t.Fatalf("%v: body = %v", mode, body)
		}
		if v.calls.Load() != 0 {
			t.Fatalf("public route must not verify")
		}
	}
}

func TestSecure_ExtractionFailures(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantError string
		wantCode  string
	}{
		{"missing", "", "Missing Authorization Header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid Header Type", ""},
		{"scheme only", "Bearer", "Token Missing", `error="invalid_request"`},
		{"too many segments", "Bearer a b", "Invalid Header Format", `error="invalid_request"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &countingVerifier{mode: auth.ModeOffline}
			srv := newServer(t, v)
			resp, body := get(t, srv, "/secure", tt.header)

			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if len(body) != 1 || body["error"] != tt.wantError {
				t.Fatalf("body = %v, want {error: %q}", body, tt.wantError)
			}
			if v.calls.Load() != 0 {
				t.Fatalf("verifier must not run on extraction failure")
			}
			ch := resp.Header.Get("WWW-Authenticate")
			if !strings.HasPrefix(ch, `Bearer realm="demo-realm"`) {
				t.Fatalf("challenge = %q", ch)
			}
			if tt.wantCode == "" && strings.Contains(ch, "error=") {
				t.Fatalf("no error code expected without credentials: %q", ch)
			}
			if tt.wantCode != "" && !strings.Contains(ch, tt.wantCode) {
				t.Fatalf("challenge %q missing %s", ch, tt.wantCode)
			}
			if resp.Header.Get("X-Request-Id") == "" {
				t.Fatalf("missing request id")
			}
		})
	}
}

func TestSecure_VerifierRejectionIsOpaque(t *testing.T) {
	v := &countingVerifier{
		mode: auth.ModeIntrospect,
		out:  auth.Invalid(auth.ReasonIntrospectionUnavailable, io.ErrUnexpectedEOF),
	}
	srv := newServer(t, v)
	resp, body := get(t, srv, "/secure", "Bearer tok")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "Token validation unavailable" {
		t.Fatalf("body = %v", body)
	}
	if v.calls.Load() != 1 {
		t.Fatalf("verifier calls = %d", v.calls.Load())
	}
}

func TestSecure_OfflineValid(t *testing.T) {
	iss := authtest.NewIssuer(t)
	srv := newServer(t, newProvider(t, iss, auth.ModeOffline))

	tok := iss.Sign(t, iss.Claims("user-123", time.Hour))
	resp, body := get(t, srv, "/secure", "Bearer "+tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	want := map[string]any{
		"message": "Access Granted via OFFLINE validation!",
		"user":    "alice",
		"sub":     "user-123",
		"scope":   "openid profile email",
		"iss":     iss.IssuerURL(),
		"mode":    "OFFLINE",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, body[k], v)
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
}

func TestSecure_OfflineExpired(t *testing.T) {
	iss := authtest.NewIssuer(t)
	srv := newServer(t, newProvider(t, iss, auth.ModeOffline))

	tok := iss.Sign(t, iss.Claims("user-123", -time.Minute))
	for i := 0; i < 3; i++ {
		resp, body := get(t, srv, "/secure", "Bearer "+tok)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i, resp.StatusCode)
		}
		if body["error"] != "Token is invalid or expired" {
			t.Fatalf("body = %v", body)
		}
		if ch := resp.Header.Get("WWW-Authenticate"); !strings.Contains(ch, `error="invalid_token"`) {
			t.Fatalf("challenge = %q", ch)
		}
	}
}

func TestSecure_IntrospectActive(t *testing.T) {
	iss := authtest.NewIssuer(t)
	iss.SetIntrospection(func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"active":             true,
			"preferred_username": "alice",
			"scope":              "profile",
			"iss":                iss.IssuerURL(),
			"client_id":          "demo-client",
		}
	})
	srv := newServer(t, newProvider(t, iss, auth.ModeIntrospect))

	resp, body := get(t, srv, "/secure", "Bearer opaque-token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	if body["mode"] != "INTROSPECT" || body["user"] != "alice" || body["scope"] != "profile" {
		t.Fatalf("body = %v", body)
	}
	if body["message"] != "Access Granted via INTROSPECT validation!" {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestSecure_IntrospectInactive(t *testing.T) {
	iss := authtest.NewIssuer(t)
	srv := newServer(t, newProvider(t, iss, auth.ModeIntrospect))
	resp, body := get(t, srv, "/secure", "Bearer revoked")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Token is invalid or expired" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, &countingVerifier{mode: auth.ModeIntrospect})
	resp, body := get(t, srv, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["mode"] != "introspect" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	iss := authtest.NewIssuer(t)
	srv := newServer(t, newProvider(t, iss, auth.ModeOffline))

	resp, body := get(t, srv, "/.well-known/oauth-protected-resource", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["resource"] != "http://gateway.test" {
		t.Fatalf("resource = %v", body["resource"])
	}
	if body["jwks_uri"] != iss.JWKSURL() {
		t.Fatalf("jwks_uri = %v", body["jwks_uri"])
	}
	servers, _ := body["authorization_servers"].([]any)
	if len(servers) != 1 || servers[0] != iss.IssuerURL() {
		t.Fatalf("authorization_servers = %v", body["authorization_servers"])
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// Challenges point at the document.
	resp, _ = get(t, srv, "/secure", "")
	if ch := resp.Header.Get("WWW-Authenticate"); !strings.Contains(ch, `resource_metadata="http://gateway.test/.well-known/oauth-protected-resource"`) {
		t.Fatalf("challenge = %q", ch)
	}
}

func TestNew_Validation(t *testing.T) {
	v := &countingVerifier{mode: auth.ModeOffline}
	if _, err := New("http://x", nil); err == nil {
		t.Error("expected error for nil verifier")
	}
	if _, err := New("ftp://x", v); err == nil {
		t.Error("expected error for non-http scheme")
	}
	if _, err := New("://bad", v); err == nil {
		t.Error("expected error for unparsable url")
	}
}
