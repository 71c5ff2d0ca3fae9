// Command tokengate serves a public route and a bearer-protected route,
// verifying access tokens offline against the issuer's JWKS or through
// RFC 7662 introspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/tokengate/auth"
	"github.com/ggoodman/tokengate/gateway"
	"github.com/ggoodman/tokengate/internal/keycache"
	"github.com/ggoodman/tokengate/internal/logctx"
	redisstore "github.com/ggoodman/tokengate/storage/redis"
	"github.com/joeshaw/envdecode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Config is read from the environment.
type Config struct {
	KeycloakURL  string `env:"KEYCLOAK_URL,default=http://keycloak:8080"`
	Realm        string `env:"REALM_NAME,default=demo-realm"`
	ClientID     string `env:"CLIENT_ID,default=demo-client"`
	ClientSecret string `env:"CLIENT_SECRET"`

	Mode             string        `env:"VALIDATION_MODE,default=offline"`
	// ExpectedIssuer defaults to defaultIssuerBase + Realm.
	ExpectedIssuer   string        `env:"EXPECTED_ISSUER"`
	ExpectedAudience string        `env:"EXPECTED_AUDIENCE,default=account"`
	VerifyAudience   bool          `env:"VERIFY_AUDIENCE,default=true"`
	AllowedAlgs      string        `env:"ALLOWED_ALGS,default=RS256"`
	ClockSkew        time.Duration `env:"CLOCK_SKEW,default=0s"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT,default=5s"`

	JWKSURL          string        `env:"JWKS_URL"`
	IntrospectionURL string        `env:"INTROSPECTION_URL"`
	JWKSFile         string        `env:"JWKS_FILE"`
	JWKSMinRefresh   time.Duration `env:"JWKS_MIN_REFRESH,default=10s"`
	Discovery        bool          `env:"OIDC_DISCOVERY,default=false"`

	RedisAddr       string `env:"REDIS_ADDR"`
	JWKSStorePrefix string `env:"JWKS_STORE_PREFIX,default=tokengate:"`

	ListenAddr string `env:"LISTEN_ADDR,default=:5000"`
	PublicURL  string `env:"PUBLIC_URL,default=http://localhost:5000"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
}

// defaultIssuerBase is the host Keycloak stamps into iss when tokens are
// minted inside the compose network. It does not follow KEYCLOAK_URL, which
// may point at the same server through another address.
const defaultIssuerBase = "http://keycloak:8080/realms/"

func loadConfig() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// authConfig maps the environment onto auth.Config.
func (c *Config) authConfig() (auth.Config, error) {
	mode, err := auth.ParseMode(c.Mode)
	if err != nil {
		return auth.Config{}, err
	}
	var algs []string
	for _, a := range strings.Split(c.AllowedAlgs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			algs = append(algs, a)
		}
	}
	issuer := c.ExpectedIssuer
	if issuer == "" {
		issuer = defaultIssuerBase + url.PathEscape(c.Realm)
	}
	return auth.Config{
		Mode:                 mode,
		BaseURL:              c.KeycloakURL,
		Realm:                c.Realm,
		ClientID:             c.ClientID,
		ClientSecret:         c.ClientSecret,
		ExpectedIssuer:       issuer,
		ExpectedAudience:     c.ExpectedAudience,
		InsecureSkipAudience: !c.VerifyAudience,
		Algorithms:           algs,
		Leeway:               c.ClockSkew,
		HTTPTimeout:          c.HTTPTimeout,
		JWKSURL:              c.JWKSURL,
		IntrospectionURL:     c.IntrospectionURL,
		JWKSMinRefresh:       c.JWKSMinRefresh,
		Discovery:            c.Discovery,
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config.load.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("config.load.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, log *slog.Logger) error {
	ac, err := cfg.authConfig()
	if err != nil {
		return err
	}

	opts := []auth.Option{auth.WithLogger(log)}
	if cfg.JWKSFile != "" {
		f, err := keycache.NewFile(cfg.JWKSFile, log)
		if err != nil {
			return err
		}
		defer f.Close()
		opts = append(opts, auth.WithKeyResolver(f))
	}
	if cfg.RedisAddr != "" {
		cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cl.Close()
		if err := cl.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store, err := redisstore.New(redisstore.Config{Client: cl, KeyPrefix: cfg.JWKSStorePrefix})
		if err != nil {
			return err
		}
		opts = append(opts, auth.WithStore(store))
	}

	provider, err := auth.New(ctx, ac, opts...)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "auth.config", slog.Any("config", provider.Config()))

	// The issuer may still be starting; unknown kids refetch on demand.
	if w, ok := provider.(auth.Warmer); ok {
		if err := w.Warm(ctx); err != nil {
			log.WarnContext(ctx, "auth.warm.fail", slog.String("err", err.Error()))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := gateway.NewMetrics(reg)
	if err != nil {
		return err
	}

	h, err := gateway.New(cfg.PublicURL, provider,
		gateway.WithLogger(log),
		gateway.WithRealm(ac.Realm),
		gateway.WithResourceName("tokengate"),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.listen", slog.String("addr", cfg.ListenAddr), slog.String("mode", provider.Mode().String()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log.InfoContext(shutdownCtx, "server.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
