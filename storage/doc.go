// Package storage provides the concrete backends implementing the
// interfaces.StorageBackend contract, and a factory that creates a backend
// from a location URI.
//
// Supported media:
//
//   - memory://                       in-process map, for tests and development
//   - file:///path                    local filesystem, rename-on-write atomicity
//   - badger:///path                  embedded Badger key-value store
//   - sqlite:///path/db.sqlite       relational store via GORM
//   - s3://[KEY:SECRET@]bucket/...    Amazon S3 or compatible object storage
//   - ipfs://host:port/path           IPFS node, mutable files (MFS) API
//   - vault://host:port/mount/path    HashiCorp Vault KV v2
//
// Every backend satisfies the same consistency invariants regardless of the
// medium's native primitives: atomic create-or-overwrite for spaces and
// resources, cascading space deletion as a single logical operation, and
// idempotent resource deletion. The backend is selected once at startup by
// configuration.
package storage
