package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a space or resource does not exist.
	// Any operation targeting a non-existent space (other than the creating
	// PutSpace) fails with this error, uniformly across backends.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a verified signer is not the controller
	// of the targeted space.
	ErrForbidden = errors.New("forbidden")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages. The core never retries; a backend either
	// resolves the call or reports this.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides persistence for spaces and resources.
//
// All implementations must satisfy the same invariants regardless of medium:
// PutSpace and PutResource are atomic create-or-overwrite operations (a
// concurrent reader observes either the prior or the new record, never a
// mixture); DeleteSpace removes the space and every resource under it as a
// single logical operation; DeleteResource is idempotent. Backends may cache
// lookups internally only if staleness cannot violate these invariants, and
// any cache entry touching a deleted entity must be invalidated at delete
// time.
type StorageBackend interface {
	// PutSpace atomically creates or overwrites a space record.
	PutSpace(ctx context.Context, space Space) error

	// GetSpace returns the space or ErrNotFound.
	GetSpace(ctx context.Context, spaceUUID string) (Space, error)

	// DeleteSpace removes the space and all its resources.
	// Returns ErrNotFound if the space does not exist.
	DeleteSpace(ctx context.Context, spaceUUID string) error

	// ListSpaces returns all spaces with the given controller. The result is
	// stable and free of duplicates and omissions even if the backend
	// paginates internally.
	ListSpaces(ctx context.Context, controller string) ([]Space, error)

	// PutResource atomically creates or overwrites a resource.
	// Returns ErrNotFound if the space does not exist.
	PutResource(ctx context.Context, spaceUUID, path string, res Resource) error

	// GetResource returns the resource or ErrNotFound.
	GetResource(ctx context.Context, spaceUUID, path string) (Resource, error)

	// DeleteResource removes a resource. Deleting an absent path succeeds;
	// only an absent space yields ErrNotFound.
	DeleteResource(ctx context.Context, spaceUUID, path string) error

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}
