// Package authz decides whether a verified signer may operate on a space.
//
// Space creation, update and deletion, space-metadata reads, resource
// mutations and space listing all require a verified signer identity.
// Reading a resource's content never does: resource bytes are public once
// the space and path are known.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// Authorizer compares verified signer identities against space controllers.
type Authorizer struct {
	storage interfaces.StorageBackend
	log     *slog.Logger
}

// New creates an Authorizer over the given storage backend.
func New(storage interfaces.StorageBackend, log *slog.Logger) *Authorizer {
	return &Authorizer{storage: storage, log: log}
}

// AuthorizeUpsert authorizes an upsert that would record controller on the
// space. If the space does not exist yet the signer becomes the new
// controller, so a creating upsert naming anyone else is Forbidden. On an
// existing space the signer must equal the current controller; the recorded
// controller may then differ, which is how control is handed over.
func (a *Authorizer) AuthorizeUpsert(ctx context.Context, signer, spaceUUID, controller string) error {
	space, err := a.storage.GetSpace(ctx, spaceUUID)
	if errors.Is(err, interfaces.ErrNotFound) {
		if controller != signer {
			a.log.Debug("Creating upsert names a controller other than the signer",
				slog.String("space", spaceUUID),
				slog.String("signer", signer))
			return interfaces.ErrForbidden
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading space %s: %w", spaceUUID, err)
	}
	return a.requireController(signer, space)
}

// AuthorizeExisting authorizes an operation on an existing space and returns
// its record. A missing space surfaces as ErrNotFound before any controller
// comparison, so callers can distinguish "does not exist" from "not yours";
// this matches the reference behavior and is a documented policy choice.
func (a *Authorizer) AuthorizeExisting(ctx context.Context, signer, spaceUUID string) (interfaces.Space, error) {
	space, err := a.storage.GetSpace(ctx, spaceUUID)
	if err != nil {
		return interfaces.Space{}, err
	}
	if err := a.requireController(signer, space); err != nil {
		return interfaces.Space{}, err
	}
	return space, nil
}

func (a *Authorizer) requireController(signer string, space interfaces.Space) error {
	if signer != space.Controller {
		a.log.Debug("Signer does not match space controller",
			slog.String("space", space.ID),
			slog.String("signer", signer))
		return interfaces.ErrForbidden
	}
	return nil
}
