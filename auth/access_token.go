package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/tokengate/internal/introspect"
	"github.com/ggoodman/tokengate/internal/jwtauth"
	"github.com/ggoodman/tokengate/internal/keycache"
)

// offlineVerifier adapts jwtauth to the public Verifier contract.
type offlineVerifier struct {
	v    *jwtauth.Verifier
	keys keycache.Resolver
	cfg  Config
	log  *slog.Logger
}

func (o *offlineVerifier) Mode() Mode     { return ModeOffline }
func (o *offlineVerifier) Config() Config { return o.cfg.Copy() }

func (o *offlineVerifier) Verify(ctx context.Context, tok string) Outcome {
	payload, err := o.v.Verify(ctx, tok)
	if err != nil {
		r := offlineReason(err)
		o.log.InfoContext(ctx, "auth.verify.fail",
			slog.String("mode", ModeOffline.String()),
			slog.String("reason", string(r)),
			slog.String("err", err.Error()),
		)
		return Invalid(r, errors.Join(ErrUnauthorized, err))
	}
	return Valid(newTokenClaims(payload))
}

// Warm fetches the key set ahead of the first request when the resolver
// supports it.
func (o *offlineVerifier) Warm(ctx context.Context) error {
	type refresher interface{ Refresh(context.Context) error }
	if r, ok := o.keys.(refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}

func offlineReason(err error) Reason {
	switch {
	case errors.Is(err, jwtauth.ErrKeyResolution):
		return ReasonKeyResolutionFailed
	case errors.Is(err, jwtauth.ErrSignature):
		return ReasonSignatureInvalid
	case errors.Is(err, jwtauth.ErrExpired):
		return ReasonExpired
	case errors.Is(err, jwtauth.ErrNotYetValid):
		return ReasonNotYetValid
	case errors.Is(err, jwtauth.ErrIssuer):
		return ReasonIssuerMismatch
	case errors.Is(err, jwtauth.ErrAudience):
		return ReasonAudienceMismatch
	default:
		return ReasonMalformedToken
	}
}

// introspectVerifier adapts the introspection client to the public Verifier
// contract.
type introspectVerifier struct {
	c   *introspect.Client
	cfg Config
	log *slog.Logger
}

func (i *introspectVerifier) Mode() Mode     { return ModeIntrospect }
func (i *introspectVerifier) Config() Config { return i.cfg.Copy() }

func (i *introspectVerifier) Verify(ctx context.Context, tok string) Outcome {
	payload, err := i.c.Introspect(ctx, tok)
	switch {
	case err == nil:
		return Valid(newTokenClaims(payload))
	case errors.Is(err, introspect.ErrInactive):
		i.log.InfoContext(ctx, "auth.verify.fail",
			slog.String("mode", ModeIntrospect.String()),
			slog.String("reason", string(ReasonTokenInactive)),
		)
		return Invalid(ReasonTokenInactive, errors.Join(ErrUnauthorized, err))
	default:
		i.log.WarnContext(ctx, "auth.verify.unavailable",
			slog.String("mode", ModeIntrospect.String()),
			slog.String("err", err.Error()),
		)
		return Invalid(ReasonIntrospectionUnavailable, errors.Join(ErrUnavailable, err))
	}
}
