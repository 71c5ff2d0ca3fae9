// Package auth verifies OAuth 2.0 bearer access tokens for a resource server
// that delegates authentication to an external OpenID Connect issuer laid out
// like Keycloak (<base>/realms/<realm>).
//
// Two strategies are available and one is chosen per process:
//
//   - ModeOffline checks the JWT signature against the issuer's published
//     JWKS (cached, refreshed when an unknown kid appears) and validates exp,
//     nbf, iat, iss and aud locally. No issuer round-trip happens once keys
//     are cached.
//   - ModeIntrospect asks the issuer's RFC 7662 endpoint on every request and
//     trusts its active verdict, so revocation is observed immediately at the
//     cost of coupling every request to the issuer's availability.
//
// Example:
//
//	cfg := auth.Config{
//	    Mode:    auth.ModeOffline,
//	    BaseURL: "http://keycloak:8080",
//	    Realm:   "demo-realm",
//	}
//	v, err := auth.New(ctx, cfg)
//	if err != nil { log.Fatal(err) }
//
//	tok, err := auth.BearerFromRequest(r)
//	if err != nil { reject(auth.ReasonOf(err)) }
//	out := v.Verify(r.Context(), tok)
//	if !out.OK() { reject(out.Reason) }
//
// # Algorithms
//
// The accepted algorithms come from Config.Algorithms (default RS256), never
// from the token header alone. Symmetric algorithms and "none" are refused.
// A JWK that declares an alg must match the token's.
//
// # Audience
//
// The aud claim must contain Config.ExpectedAudience. Setting
// InsecureSkipAudience turns the check off; any token the realm issued to any
// client is then accepted, which is unsafe outside demonstrations.
//
// # Errors
//
// Every rejection is an Outcome with a Reason. Reason.Message is safe to show
// callers; Outcome.Err carries the internal cause for logs and joins
// ErrUnauthorized, or ErrUnavailable when the issuer could not be reached.
package auth
