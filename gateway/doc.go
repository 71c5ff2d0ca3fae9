// Package gateway exposes the HTTP surface of tokengate: a public route, a
// bearer-protected route that reports the verified identity, a health probe
// and the RFC 9728 protected resource metadata document.
//
// Every /secure request goes through auth.ExtractBearer and then the single
// auth.Verifier chosen at startup. Rejections are 401 with a short JSON body
// {"error": "..."} and a WWW-Authenticate challenge; internal causes are
// logged, never returned. WithMetrics adds Prometheus counters for each
// check.
package gateway
