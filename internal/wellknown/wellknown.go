// Package wellknown holds documents served under /.well-known.
package wellknown

import "slices"

// ProtectedResourcePath is the RFC 9728 metadata location.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 document describing how a client
// obtains tokens this gateway accepts.
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}

// NewProtectedResourceMetadata describes resource as protected by issuer.
// Tokens are accepted in the Authorization header only.
func NewProtectedResourceMetadata(resource, issuer, jwksURI string, algs []string) ProtectedResourceMetadata {
	m := ProtectedResourceMetadata{
		Resource:                          resource,
		JwksURI:                           jwksURI,
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: slices.Clone(algs),
	}
	if issuer != "" {
		m.AuthorizationServers = []string{issuer}
	}
	return m
}
