package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is joined into the Err of every Outcome whose token was
// rejected on its merits.
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable is joined into the Err of an Outcome for which no verdict
// could be obtained from the issuer.
var ErrUnavailable = errors.New("verification unavailable")

// Reason classifies why a request was not authenticated.
type Reason string

const (
	ReasonMissingHeader            Reason = "MissingHeader"
	ReasonInvalidScheme            Reason = "InvalidScheme"
	ReasonTokenMissing             Reason = "TokenMissing"
	ReasonMalformedHeader          Reason = "MalformedHeader"
	ReasonMalformedToken           Reason = "MalformedToken"
	ReasonKeyResolutionFailed      Reason = "KeyResolutionFailed"
	ReasonSignatureInvalid         Reason = "SignatureInvalid"
	ReasonExpired                  Reason = "Expired"
	ReasonNotYetValid              Reason = "NotYetValid"
	ReasonIssuerMismatch           Reason = "IssuerMismatch"
	ReasonAudienceMismatch         Reason = "AudienceMismatch"
	ReasonIntrospectionUnavailable Reason = "IntrospectionUnavailable"
	ReasonTokenInactive            Reason = "TokenInactive"
)

// Message is the caller-facing text for r. It never carries internal detail.
func (r Reason) Message() string {
	switch r {
	case ReasonMissingHeader:
		return "Missing Authorization Header"
	case ReasonInvalidScheme:
		return "Invalid Header Type"
	case ReasonTokenMissing:
		return "Token Missing"
	case ReasonMalformedHeader:
		return "Invalid Header Format"
	case ReasonIntrospectionUnavailable:
		return "Token validation unavailable"
	default:
		return "Token is invalid or expired"
	}
}

// Extraction reports whether r arose from parsing the Authorization header,
// before any verifier ran.
func (r Reason) Extraction() bool {
	switch r {
	case ReasonMissingHeader, ReasonInvalidScheme, ReasonTokenMissing, ReasonMalformedHeader:
		return true
	}
	return false
}

// Outcome is the uniform result of verification. Exactly one of Claims and
// Reason is set.
type Outcome struct {
	Claims *TokenClaims
	Reason Reason
	// Err carries internal detail for logs. Never render it to a caller.
	Err error
}

// Valid builds a successful Outcome.
func Valid(c *TokenClaims) Outcome { return Outcome{Claims: c} }

// Invalid builds a rejected Outcome.
func Invalid(r Reason, err error) Outcome { return Outcome{Reason: r, Err: err} }

// OK reports whether the token was accepted.
func (o Outcome) OK() bool { return o.Reason == "" && o.Claims != nil }

// Verifier decides whether a bearer token is acceptable.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, tok string) Outcome
	Mode() Mode
}

// Descriptor exposes the effective configuration (after defaults and
// discovery) for outer layers to advertise.
type Descriptor interface{ Config() Config }

// Provider combines verification with its descriptor. Returned by New.
type Provider interface {
	Verifier
	Descriptor
}

// Warmer is implemented by verifiers that can prefetch key material.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Mode selects the verification strategy for the whole process.
type Mode int

const (
	ModeOffline Mode = iota + 1
	ModeIntrospect
)

// ParseMode accepts "offline" or "introspect", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline":
		return ModeOffline, nil
	case "introspect":
		return ModeIntrospect, nil
	}
	return 0, fmt.Errorf("auth: unknown validation mode %q (want offline or introspect)", s)
}

func (m Mode) String() string {
	switch m {
	case ModeOffline:
		return "offline"
	case ModeIntrospect:
		return "introspect"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Label is the upper-case form used in response bodies.
func (m Mode) Label() string { return strings.ToUpper(m.String()) }
