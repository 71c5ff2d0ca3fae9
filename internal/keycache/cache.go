package keycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/tokengate/internal/httpx"
	"github.com/ggoodman/tokengate/storage"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// errRateLimited is returned from a refresh that was skipped because the
// previous unknown-kid refresh happened less than MinRefreshInterval ago.
var errRateLimited = errors.New("keycache: refresh rate limited")

// Config configures an HTTP-backed Cache.
type Config struct {
	// URL of the issuer's JWKS document. Required.
	URL string

	// HTTPClient used for fetches. Defaults to a client without its own
	// timeout; each fetch is bounded by Timeout instead.
	HTTPClient *http.Client

	// Timeout bounds a single fetch. Default 5s.
	Timeout time.Duration

	// MinRefreshInterval limits how often an unknown kid may trigger a
	// fetch. Zero disables the limit.
	MinRefreshInterval time.Duration

	// Store optionally persists the last fetched document so that a cold
	// cache (new process, other replica) can start without a network fetch.
	Store storage.Storage
	// StoreTTL is how long a persisted document stays usable. Default 1h.
	StoreTTL time.Duration

	Logger *slog.Logger
}

// Cache is a kid-indexed JWKS cache that refreshes on miss.
//
// The key set is replaced wholesale on every successful fetch. There is no
// background refresh and no per-key expiry: a key the issuer has withdrawn
// stays usable until some token references an unknown kid and triggers the
// next fetch.
type Cache struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	store    storage.Storage
	storeTTL time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	keys    map[string]Key
	fetched time.Time

	sf      singleflight.Group
	limiter *rate.Limiter
	warm    sync.Once
}

// New constructs a Cache. No I/O is performed until the first Resolve or
// Refresh.
func New(cfg Config) (*Cache, error) {
	if cfg.URL == "" {
		return nil, errors.New("keycache: jwks url required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.StoreTTL <= 0 {
		cfg.StoreTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.MinRefreshInterval > 0 {
		limit = rate.Every(cfg.MinRefreshInterval)
	}
	return &Cache{
		url:      cfg.URL,
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		store:    cfg.Store,
		storeTTL: cfg.StoreTTL,
		log:      cfg.Logger,
		keys:     map[string]Key{},
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Resolve implements Resolver. A miss triggers at most one refresh for the
// calling request; concurrent misses share a single in-flight fetch.
func (c *Cache) Resolve(ctx context.Context, kid string) (Key, error) {
	// Detached: a cancelled first request must not spend the one-shot load.
	c.warm.Do(func() { c.loadFromStore(context.WithoutCancel(ctx)) })

	if k, ok := c.lookup(kid); ok {
		return k, nil
	}

	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		if !c.limiter.Allow() {
			return nil, errRateLimited
		}
		return nil, c.fetchAndStore(ctx)
	})
	switch {
	case errors.Is(err, errRateLimited):
		// Another refresh happened recently; the current set is authoritative.
	case err != nil:
		return Key{}, err
	}

	if k, ok := c.lookup(kid); ok {
		return k, nil
	}
	return Key{}, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

// Refresh unconditionally fetches the JWKS document, bypassing the refresh
// rate limit. It shares the in-flight fetch with concurrent misses.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		return nil, c.fetchAndStore(ctx)
	})
	return err
}

// Keys returns the currently cached key ids in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keys))
	for kid := range c.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// FetchedAt reports when the current key set was installed.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

func (c *Cache) lookup(kid string) (Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

func (c *Cache) install(keys map[string]Key, at time.Time) {
	c.mu.Lock()
	c.keys = keys
	c.fetched = at
	c.mu.Unlock()
}

// installIfNewer installs keys only when nothing fetched at or after at is
// already in place.
func (c *Cache) installIfNewer(keys map[string]Key, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched.IsZero() && !at.After(c.fetched) {
		return false
	}
	c.keys = keys
	c.fetched = at
	return true
}

func (c *Cache) fetchAndStore(ctx context.Context) error {
	doc, keys, err := c.fetch(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "keycache.fetch.fail", slog.String("url", c.url), slog.String("err", err.Error()))
		return err
	}
	c.install(keys, time.Now())
	c.log.InfoContext(ctx, "keycache.fetch.ok", slog.String("url", c.url), slog.Int("keys", len(keys)))

	if c.store != nil {
		if err := c.store.Save(ctx, c.url, storage.NewDocument(doc, c.storeTTL)); err != nil {
			c.log.WarnContext(ctx, "keycache.store.fail", slog.String("err", err.Error()))
		}
	}
	return nil
}

func (c *Cache) fetch(ctx context.Context) ([]byte, map[string]Key, error) {
	// Shared by all singleflight waiters; detached from the initiating request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if !httpx.IsSuccess(resp.StatusCode) {
		return nil, nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	if err := httpx.CheckJSON(resp); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	doc, err := httpx.ReadBody(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	keys, err := ParseKeySet(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return doc, keys, nil
}

func (c *Cache) loadFromStore(ctx context.Context) {
	if c.store == nil {
		return
	}
	doc, err := c.store.Load(ctx, c.url)
	if err != nil {
		c.log.WarnContext(ctx, "keycache.store.load.fail", slog.String("err", err.Error()))
		return
	}
	if doc == nil {
		return
	}
	keys, err := ParseKeySet(doc.Body)
	if err != nil {
		c.log.WarnContext(ctx, "keycache.store.load.fail", slog.String("err", err.Error()))
		return
	}
	if !c.installIfNewer(keys, doc.FetchedAt) {
		return
	}
	c.log.InfoContext(ctx, "keycache.store.load.ok", slog.Int("keys", len(keys)))
}

var _ Resolver = (*Cache)(nil)
