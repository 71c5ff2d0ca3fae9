package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/tokengate/auth"
	"github.com/ggoodman/tokengate/internal/logctx"
	"github.com/ggoodman/tokengate/internal/wellknown"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"
)

// Option configures a Handler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	realm        string
	resourceName string
	metrics      *Metrics
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. Empty
// omits the attribute.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = realm }
}

// WithResourceName sets the human-readable name in the protected resource
// metadata document.
func WithResourceName(name string) Option {
	return func(c *newConfig) { c.resourceName = name }
}

// WithMetrics records check outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *newConfig) { c.metrics = m }
}

// Handler serves the public and bearer-protected routes.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	verifier auth.Verifier
	realm    string
	metrics  *Metrics

	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL
}

// New constructs a Handler.
//
// publicURL is the externally visible base URL of this service; it names the
// resource in the RFC 9728 document. verifier decides every /secure request;
// when it also implements auth.Descriptor its issuer and JWKS endpoint are
// advertised.
func New(publicURL string, verifier auth.Verifier, opts ...Option) (*Handler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	base, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("invalid public URL %q: %w", publicURL, err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("public URL must use HTTP or HTTPS scheme, got %q", base.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	lh := cfg.logger.Handler()
	if _, ok := lh.(logctx.Handler); !ok {
		lh = logctx.Handler{Handler: lh}
	}

	h := &Handler{
		log:      slog.New(lh),
		verifier: verifier,
		realm:    cfg.realm,
		metrics:  cfg.metrics,
		prmDocumentURL: &url.URL{
			Scheme: base.Scheme,
			Host:   base.Host,
			Path:   wellknown.ProtectedResourcePath,
		},
	}

	var issuer, jwks string
	var algs []string
	if d, ok := verifier.(auth.Descriptor); ok {
		sc := d.Config()
		issuer = sc.ExpectedIssuer
		algs = sc.Algorithms
		if verifier.Mode() == auth.ModeOffline {
			jwks = sc.JWKSEndpoint()
		}
	}
	h.prmDocument = wellknown.NewProtectedResourceMetadata(base.String(), issuer, jwks, algs)
	h.prmDocument.ResourceName = cfg.resourceName

	mux := http.NewServeMux()
	mux.HandleFunc("GET /public", h.handlePublic)
	mux.HandleFunc("GET /secure", h.handleSecure)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET "+wellknown.ProtectedResourcePath, h.handleGetProtectedResourceMetadata)
	mux.HandleFunc("OPTIONS "+wellknown.ProtectedResourcePath, h.handleOptionsProtectedResourceMetadata)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	w.Header().Set(requestIDHeader, id)
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handlePublic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "This is a public endpoint."})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": h.verifier.Mode().String()})
}

// secureResponse is the body returned for an accepted token.
type secureResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
	Subject string `json:"sub,omitempty"`
	Scope   string `json:"scope"`
	Issuer  string `json:"iss"`
	Mode    string `json:"mode"`
}

func (h *Handler) handleSecure(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	mode := h.verifier.Mode()

	tok, err := auth.ExtractBearer(r.Header.Get(authorizationHeader))
	if err != nil {
		reason := auth.ReasonOf(err)
		ctx = logctx.WithVerifyData(ctx, &logctx.VerifyData{Mode: mode.String(), Reason: string(reason)})
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", err.Error()))
		h.metrics.observe(mode, reason, time.Since(start))
		h.reject(w, reason)
		return
	}

	out := h.verifier.Verify(ctx, tok)
	if !out.OK() {
		ctx = logctx.WithVerifyData(ctx, &logctx.VerifyData{Mode: mode.String(), Reason: string(out.Reason)})
		h.log.InfoContext(ctx, "auth.check.fail", slog.Duration("duration", time.Since(start)))
		h.metrics.observe(mode, out.Reason, time.Since(start))
		h.reject(w, out.Reason)
		return
	}

	c := out.Claims
	ctx = logctx.WithVerifyData(ctx, &logctx.VerifyData{Mode: mode.String(), Subject: c.Subject})
	h.log.InfoContext(ctx, "auth.check.ok", slog.Duration("duration", time.Since(start)))
	h.metrics.observe(mode, "", time.Since(start))
	writeJSON(w, http.StatusOK, secureResponse{
		Message: fmt.Sprintf("Access Granted via %s validation!", mode.Label()),
		User:    c.Username,
		Subject: c.Subject,
		Scope:   c.Scope,
		Issuer:  c.Issuer,
		Mode:    mode.Label(),
	})
}

func (h *Handler) reject(w http.ResponseWriter, reason auth.Reason) {
	w.Header().Add(wwwAuthenticateHeader, auth.Challenge(h.realm, h.prmDocumentURL.String(), reason))
	writeJSONError(w, http.StatusUnauthorized, reason.Message())
}

func (h *Handler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the RFC 9728 document.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	writeJSON(w, http.StatusOK, h.prmDocument)
}

// writeJSONError emits {"error":"<msg>"}. msg must be safe to show callers.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
