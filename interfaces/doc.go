// Package interfaces defines the domain types, the storage backend contract,
// and the shared error taxonomy of the wallet attached storage service.
//
// A Space is a tenant-scoped container identified by a UUID and controlled by
// exactly one did:key identifier. A Resource is a named byte blob with a
// content type, stored under a space. Every storage medium implements the
// StorageBackend interface with identical consistency semantics, so backends
// are interchangeable without weakening authorization or data guarantees.
package interfaces
