package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/tokengate/internal/discovery"
	"github.com/ggoodman/tokengate/internal/introspect"
	"github.com/ggoodman/tokengate/internal/jwtauth"
	"github.com/ggoodman/tokengate/internal/keycache"
	"github.com/ggoodman/tokengate/storage"
)

// Option configures New.
type Option func(*options)

type options struct {
	keys   keycache.Resolver
	client *http.Client
	log    *slog.Logger
	store  storage.Storage
}

// WithKeyResolver replaces the HTTP-backed JWKS cache, e.g. with a pinned
// file or a fixed key set. Offline mode only.
func WithKeyResolver(r keycache.Resolver) Option {
	return func(o *options) { o.keys = r }
}

// WithHTTPClient sets the client used for JWKS, introspection and discovery
// calls. Per-call timeouts still come from Config.HTTPTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStore persists fetched JWKS documents so other processes sharing the
// store start warm. Offline mode only.
func WithStore(s storage.Storage) Option {
	return func(o *options) { o.store = s }
}

// New selects and constructs the verifier for cfg.Mode. It is called once at
// startup; the returned Provider never changes strategy.
func New(ctx context.Context, cfg Config, opts ...Option) (Provider, error) {
	o := options{client: &http.Client{}, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cc := cfg.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}

	if cc.Discovery {
		meta, err := discovery.Discover(ctx, discovery.Config{
			URL:        cc.RealmURL(),
			Issuer:     cc.ExpectedIssuer,
			HTTPClient: o.client,
			Timeout:    cc.HTTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		if cfg.JWKSURL == "" {
			cc.JWKSURL = meta.JWKSURI
		}
		if cfg.IntrospectionURL == "" {
			cc.IntrospectionURL = meta.IntrospectionEndpoint
		}
		o.log.InfoContext(ctx, "auth.discovery.ok",
			slog.String("jwks_uri", cc.JWKSEndpoint()),
			slog.String("introspection_endpoint", cc.IntrospectionEndpoint()),
		)
	}

	switch cc.Mode {
	case ModeOffline:
		return newOffline(cc, o)
	case ModeIntrospect:
		return newIntrospect(cc, o)
	}
	return nil, fmt.Errorf("auth: unknown mode %v", cc.Mode)
}

func newOffline(cfg Config, o options) (*offlineVerifier, error) {
	keys := o.keys
	if keys == nil {
		cache, err := keycache.New(keycache.Config{
			URL:                cfg.JWKSEndpoint(),
			HTTPClient:         o.client,
			Timeout:            cfg.HTTPTimeout,
			MinRefreshInterval: cfg.JWKSMinRefresh,
			Store:              o.store,
			Logger:             o.log,
		})
		if err != nil {
			return nil, err
		}
		keys = cache
	}
	v, err := jwtauth.New(&jwtauth.Config{
		ExpectedIssuer:   cfg.ExpectedIssuer,
		ExpectedAudience: cfg.ExpectedAudience,
		SkipAudience:     cfg.InsecureSkipAudience,
		Algorithms:       cfg.Algorithms,
		Leeway:           cfg.Leeway,
	}, keys)
	if err != nil {
		return nil, err
	}
	if cfg.InsecureSkipAudience {
		o.log.Warn("auth.audience.disabled", slog.String("issuer", cfg.ExpectedIssuer))
	}
	return &offlineVerifier{v: v, keys: keys, cfg: cfg, log: o.log}, nil
}

func newIntrospect(cfg Config, o options) (*introspectVerifier, error) {
	c, err := introspect.New(introspect.Config{
		URL:          cfg.IntrospectionEndpoint(),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HTTPClient:   o.client,
		Timeout:      cfg.HTTPTimeout,
		Logger:       o.log,
	})
	if err != nil {
		return nil, err
	}
	return &introspectVerifier{c: c, cfg: cfg, log: o.log}, nil
}

var (
	_ Provider = (*offlineVerifier)(nil)
	_ Provider = (*introspectVerifier)(nil)
	_ Warmer   = (*offlineVerifier)(nil)
)
