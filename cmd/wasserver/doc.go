// Command wasserver runs the wallet attached storage HTTP service.
//
// The server persists spaces and resources in a backend selected by the
// --storage-uri flag and exposes the space/resource API together with
// health checks, metrics and optional profiling endpoints.
//
// Usage:
//
//	wasserver --storage-uri badger:///var/lib/was --listen-addr 0.0.0.0:8080
package main
