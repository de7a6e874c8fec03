// Package httpserver provides the HTTP API for the wallet attached storage
// service.
//
// The API exposes space and resource management routes. Write operations
// and metadata reads require a Cavage-style HTTP signature in the
// Authorization header whose keyId is a did:key identifier; resource
// content reads are public. Errors are rendered as application/problem+json
// documents with a fixed mapping from the service's sentinel errors to
// status codes.
//
// The server also serves operational endpoints: /livez and /readyz health
// checks, /drain and /undrain for load-balancer rotation, and optional
// pprof profiling under /debug.
package httpserver
