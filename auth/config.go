package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Config is the immutable description of how tokens are verified. A zero
// value is invalid; populate it and call Normalize then Validate (New does
// both on a copy).
type Config struct {
	Mode Mode

	// BaseURL is where the issuer is reached on the network, e.g.
	// http://keycloak:8080. Realm is appended to form the realm URL.
	BaseURL string
	Realm   string

	// ClientID and ClientSecret authenticate introspection calls.
	ClientID     string
	ClientSecret string

	// ExpectedIssuer must equal the iss claim exactly. Defaults to the realm
	// URL.
	ExpectedIssuer string
	// ExpectedAudience must appear in aud. Default "account".
	ExpectedAudience string
	// InsecureSkipAudience disables the audience check. Do not set this in
	// production: tokens minted for any client of the realm are accepted.
	InsecureSkipAudience bool

	Algorithms []string      // default ["RS256"]
	Leeway     time.Duration // clock skew tolerance, default 0

	// HTTPTimeout bounds each outbound call. Default 5s.
	HTTPTimeout time.Duration

	// JWKSURL and IntrospectionURL override the endpoints derived from the
	// realm URL or learned through discovery.
	JWKSURL          string
	IntrospectionURL string

	// JWKSMinRefresh limits how often an unknown kid may trigger a JWKS
	// fetch. Zero means unlimited.
	JWKSMinRefresh time.Duration

	// Discovery reads the realm's OpenID configuration at startup and uses
	// its jwks_uri and introspection_endpoint.
	Discovery bool
}

// Normalize fills defaults.
func (c *Config) Normalize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ExpectedIssuer == "" && c.BaseURL != "" && c.Realm != "" {
		c.ExpectedIssuer = c.RealmURL()
	}
	if c.ExpectedAudience == "" {
		c.ExpectedAudience = "account"
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"RS256"}
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 5 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeOffline, ModeIntrospect:
	default:
		errs = append(errs, fmt.Errorf("config: unknown mode %v", c.Mode))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("config: issuer base url required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: issuer base url %q is not absolute", c.BaseURL))
	}
	if c.Realm == "" {
		errs = append(errs, errors.New("config: realm required"))
	}
	if c.Mode == ModeOffline {
		if c.ExpectedIssuer == "" {
			errs = append(errs, errors.New("config: expected issuer required"))
		}
		if !c.InsecureSkipAudience && c.ExpectedAudience == "" {
			errs = append(errs, errors.New("config: expected audience required"))
		}
	}
	if c.Mode == ModeIntrospect && c.ClientID == "" {
		errs = append(errs, errors.New("config: client id required for introspection"))
	}
	if c.Leeway < 0 {
		errs = append(errs, errors.New("config: leeway must not be negative"))
	}
	return errors.Join(errs...)
}

// Copy returns a deep copy safe for mutation by the caller.
func (c Config) Copy() Config {
	dup := c
	dup.Algorithms = slices.Clone(c.Algorithms)
	return dup
}

// RealmURL is <BaseURL>/realms/<Realm>.
func (c Config) RealmURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realms/" + url.PathEscape(c.Realm)
}

// JWKSEndpoint is the certs endpoint, honoring JWKSURL.
func (c Config) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return c.RealmURL() + "/protocol/openid-connect/certs"
}

// IntrospectionEndpoint is the RFC 7662 endpoint, honoring IntrospectionURL.
func (c Config) IntrospectionEndpoint() string {
	if c.IntrospectionURL != "" {
		return c.IntrospectionURL
	}
	return c.RealmURL() + "/protocol/openid-connect/token/introspect"
}

// LogValue renders c for slog with the client secret redacted.
func (c Config) LogValue() slog.Value {
	secret := ""
	if c.ClientSecret != "" {
		secret = "[redacted]"
	}
	return slog.GroupValue(
		slog.String("mode", c.Mode.String()),
		slog.String("realm_url", c.RealmURL()),
		slog.String("issuer", c.ExpectedIssuer),
		slog.String("audience", c.ExpectedAudience),
		slog.Bool("skip_audience", c.InsecureSkipAudience),
		slog.Any("algs", c.Algorithms),
		slog.Duration("leeway", c.Leeway),
		slog.String("client_id", c.ClientID),
		slog.String("client_secret", secret),
	)
}
