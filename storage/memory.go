package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// MemoryBackend implements an in-process storage backend backed by maps.
// All operations are guarded by a single RWMutex, which trivially satisfies
// the atomicity invariants.
type MemoryBackend struct {
	mu     sync.RWMutex
	spaces map[string]*memorySpace
	log    *slog.Logger
}

type memorySpace struct {
	space     interfaces.Space
	resources map[string]interfaces.Resource
}

// NewMemoryBackend creates an empty in-memory storage backend.
func NewMemoryBackend(log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		spaces: make(map[string]*memorySpace),
		log:    log,
	}
}

// PutSpace atomically creates or overwrites a space record. Existing
// resources are kept when only the controller changes.
func (b *MemoryBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.spaces[space.UUID]; ok {
		existing.space.Controller = space.Controller
		return nil
	}
	b.spaces[space.UUID] = &memorySpace{
		space:     space,
		resources: make(map[string]interfaces.Resource),
	}
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *MemoryBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.spaces[spaceUUID]
	if !ok {
		return interfaces.Space{}, interfaces.ErrNotFound
	}
	return s.space, nil
}

// DeleteSpace removes the space and all its resources in one step.
func (b *MemoryBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.spaces[spaceUUID]; !ok {
		return interfaces.ErrNotFound
	}
	delete(b.spaces, spaceUUID)
	return nil
}

// ListSpaces returns all spaces with the given controller.
func (b *MemoryBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []interfaces.Space
	for _, s := range b.spaces {
		if s.space.Controller == controller {
			result = append(result, s.space)
		}
	}
	return result, nil
}

// PutResource atomically creates or overwrites a resource.
func (b *MemoryBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.spaces[spaceUUID]
	if !ok {
		return interfaces.ErrNotFound
	}
	s.resources[path] = res
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *MemoryBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.spaces[spaceUUID]
	if !ok {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	res, ok := s.resources[path]
	if !ok {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	return res, nil
}

// DeleteResource removes a resource; deleting an absent path succeeds.
func (b *MemoryBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.spaces[spaceUUID]
	if !ok {
		return interfaces.ErrNotFound
	}
	delete(s.resources, path)
	return nil
}

// Available always reports true for the in-memory backend.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
