// Package discovery reads an issuer's OpenID Provider metadata.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrDiscovery wraps every failure to obtain usable metadata.
var ErrDiscovery = errors.New("discovery: failed")

// Metadata is the subset of the discovery document the gateway consumes.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	JWKSURI               string   `json:"jwks_uri"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported"`
}

// Config configures a discovery call.
type Config struct {
	// URL the document is fetched from: <URL>/.well-known/openid-configuration.
	URL string
	// Issuer the document must declare. Defaults to URL. Set it when the
	// issuer is reached through an internal address that differs from the
	// public issuer identifier minted into tokens.
	Issuer string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Discover fetches and validates the discovery document.
func Discover(ctx context.Context, cfg Config) (*Metadata, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url required", ErrDiscovery)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	if cfg.Issuer != "" && cfg.Issuer != cfg.URL {
		ctx = oidc.InsecureIssuerURLContext(ctx, cfg.Issuer)
	}

	provider, err := oidc.NewProvider(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var meta Metadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata: %v", ErrDiscovery, err)
	}
	if meta.JWKSURI == "" {
		return nil, fmt.Errorf("%w: metadata missing jwks_uri", ErrDiscovery)
	}
	return &meta, nil
}
