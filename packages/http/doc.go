// Package http issues the HTTP calls of a scenario.
//
// It wraps the standard library's client with a shared connection pool,
// per-request timeouts and redirect policy, scenario-level TLS
// configuration, pluggable authenticators, and typed timeout/transport
// errors. The request builder materializes a stage's request model into a
// wire-ready request, encoding the body per its variant.
package http
