// Package httpx holds small helpers shared by the outbound issuer clients.
package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
)

// MaxBodyBytes bounds how much of an issuer response is read.
const MaxBodyBytes = 1 << 20

// ErrNotJSON reports an upstream response that declared a non-JSON media type.
var ErrNotJSON = errors.New("response is not JSON")

// CheckJSON accepts an absent Content-Type, application/json and any
// structured "+json" subtype. Everything else (HTML error pages from proxies,
// text/plain) is rejected.
func CheckJSON(resp *http.Response) error {
	raw := resp.Header.Get("Content-Type")
	if raw == "" {
		return nil
	}
	mt := contenttype.NewMediaType(raw)
	if strings.EqualFold(mt.Type, "application") &&
		(strings.EqualFold(mt.Subtype, "json") || strings.HasSuffix(strings.ToLower(mt.Subtype), "+json")) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNotJSON, raw)
}

// ReadBody reads at most MaxBodyBytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
