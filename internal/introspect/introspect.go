// Package introspect asks the issuer whether an access token is currently
// active (RFC 7662). Every call is a fresh round-trip; responses are never
// cached so that revocation is observed immediately.
package introspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/tokengate/internal/httpx"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnavailable means no trustworthy verdict was obtained: transport
	// failure, timeout, non-2xx status or an undecodable body.
	ErrUnavailable = errors.New("introspect: endpoint unavailable")
	// ErrInactive means the issuer did not report the token as active.
	ErrInactive = errors.New("introspect: token inactive")
)

// Config configures a Client.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string

	HTTPClient *http.Client
	// Timeout bounds one introspection call. Default 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client calls an introspection endpoint. It holds no per-token state and is
// safe for concurrent use.
type Client struct {
	url          string
	clientID     string
	clientSecret string
	client       *http.Client
	timeout      time.Duration
	log          *slog.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("introspect: endpoint url required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("introspect: client id required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		url:          cfg.URL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       cfg.HTTPClient,
		timeout:      cfg.Timeout,
		log:          cfg.Logger,
	}, nil
}

// Introspect returns the issuer's claims for an active token. An inactive
// token yields ErrInactive; anything that prevents a verdict yields
// ErrUnavailable.
func (c *Client) Introspect(ctx context.Context, tok string) (jwt.MapClaims, error) {
	body, err := c.call(ctx, tok)
	if err != nil {
		c.log.WarnContext(ctx, "introspect.call.fail", slog.String("url", c.url), slog.String("err", err.Error()))
		return nil, err
	}
	return parseClaims(body)
}

func (c *Client) call(ctx context.Context, tok string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{
		"client_id":       {c.clientID},
		"client_secret":   {c.clientSecret},
		"token":           {tok},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if !httpx.IsSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := httpx.CheckJSON(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, nil
}

// parseClaims decodes an introspection response. active must be the JSON
// literal true; a missing or non-boolean member counts as inactive.
func parseClaims(body []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if active, _ := claims["active"].(bool); !active {
		return nil, ErrInactive
	}
	for _, k := range []string{"sub", "scope", "iss", "username", "preferred_username", "client_id"} {
		if s, ok := claims[k].(string); ok {
			claims[k] = strings.TrimSpace(s)
		}
	}
	return claims, nil
}
