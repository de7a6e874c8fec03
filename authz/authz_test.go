package authz

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/wallet-attached-storage/interfaces"
	"github.com/ruteri/wallet-attached-storage/storage"
)

const (
	controllerDID = "did:key:zAbc"
	strangerDID   = "did:key:zXyz"
)

func newAuthorizer(t *testing.T) (*Authorizer, interfaces.StorageBackend) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := storage.NewMemoryBackend(log)
	return New(backend, log), backend
}

func TestAuthorizeUpsertNewSpace(t *testing.T) {
	a, _ := newAuthorizer(t)

	// On a creating upsert the signer becomes the controller.
	err := a.AuthorizeUpsert(context.Background(), strangerDID, "11111111-1111-1111-1111-111111111111", strangerDID)
	require.NoError(t, err)
}

func TestAuthorizeUpsertNewSpaceForeignController(t *testing.T) {
	a, _ := newAuthorizer(t)

	// A creating upsert may not hand the space to someone else.
	err := a.AuthorizeUpsert(context.Background(), strangerDID, "11111111-1111-1111-1111-111111111111", controllerDID)
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestAuthorizeUpsertExistingSpace(t *testing.T) {
	a, backend := newAuthorizer(t)
	space := interfaces.Space{
		UUID:       "11111111-1111-1111-1111-111111111111",
		ID:         interfaces.MakeURNUUID("11111111-1111-1111-1111-111111111111"),
		Controller: controllerDID,
	}
	require.NoError(t, backend.PutSpace(context.Background(), space))

	require.NoError(t, a.AuthorizeUpsert(context.Background(), controllerDID, space.UUID, controllerDID))

	// The current controller may hand the space over.
	require.NoError(t, a.AuthorizeUpsert(context.Background(), controllerDID, space.UUID, strangerDID))

	err := a.AuthorizeUpsert(context.Background(), strangerDID, space.UUID, strangerDID)
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestAuthorizeExisting(t *testing.T) {
	a, backend := newAuthorizer(t)
	space := interfaces.Space{
		UUID:       "22222222-2222-2222-2222-222222222222",
		ID:         interfaces.MakeURNUUID("22222222-2222-2222-2222-222222222222"),
		Controller: controllerDID,
	}
	require.NoError(t, backend.PutSpace(context.Background(), space))

	got, err := a.AuthorizeExisting(context.Background(), controllerDID, space.UUID)
	require.NoError(t, err)
	assert.Equal(t, space, got)

	_, err = a.AuthorizeExisting(context.Background(), strangerDID, space.UUID)
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestAuthorizeExistingMissingSpace(t *testing.T) {
	a, _ := newAuthorizer(t)

	// A missing space surfaces as NotFound before any controller check.
	_, err := a.AuthorizeExisting(context.Background(), strangerDID, "33333333-3333-3333-3333-333333333333")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
