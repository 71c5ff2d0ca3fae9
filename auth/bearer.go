package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingHeader   = errors.New("auth: missing authorization header")
	ErrInvalidScheme   = errors.New("auth: authorization scheme is not bearer")
	ErrTokenMissing    = errors.New("auth: bearer token missing")
	ErrMalformedHeader = errors.New("auth: malformed authorization header")
)

// ExtractBearer parses an Authorization header value. The value is split on
// whitespace and exactly two fields, the first being "bearer" in any case,
// are required.
func ExtractBearer(header string) (string, error) {
	parts := strings.Fields(header)
	switch {
	case len(parts) == 0:
		return "", ErrMissingHeader
	case !strings.EqualFold(parts[0], "bearer"):
		return "", ErrInvalidScheme
	case len(parts) == 1:
		return "", ErrTokenMissing
	case len(parts) > 2:
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}

// BearerFromRequest extracts the bearer token from r's Authorization header.
func BearerFromRequest(r *http.Request) (string, error) {
	return ExtractBearer(r.Header.Get("Authorization"))
}

// ReasonOf maps an ExtractBearer error to its Reason. It returns "" for
// errors ExtractBearer does not produce.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrMissingHeader):
		return ReasonMissingHeader
	case errors.Is(err, ErrInvalidScheme):
		return ReasonInvalidScheme
	case errors.Is(err, ErrTokenMissing):
		return ReasonTokenMissing
	case errors.Is(err, ErrMalformedHeader):
		return ReasonMalformedHeader
	}
	return ""
}
