package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// VaultBackend implements a storage backend using HashiCorp Vault's KV v2
// secrets engine. Each record is one secret version; Vault writes a secret
// atomically, so the resource's content and content type always change
// together.
//
// Secret layout under the mount:
//
//	{prefix}/spaces/{space_uuid}/_meta
//	{prefix}/spaces/{space_uuid}/resources/{escaped_path}
type VaultBackend struct {
	client      *vaultapi.Client
	mountPath   string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend. The token may be
// empty, in which case the client relies on the VAULT_TOKEN environment
// variable.
func NewVaultBackend(vaultAddr, token, mountPath, prefix string, log *slog.Logger) (*VaultBackend, error) {
	config := vaultapi.DefaultConfig()
	config.Address = vaultAddr

	client, err := vaultapi.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	if mountPath == "" {
		mountPath = "secret"
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "was"
	}

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", vaultAddr, mountPath, prefix),
	}, nil
}

// dataPath is the KV v2 read/write path for a secret.
func (b *VaultBackend) dataPath(rel string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.prefix, rel)
}

// metadataPath is the KV v2 path for listing and permanent deletion.
func (b *VaultBackend) metadataPath(rel string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.prefix, rel)
}

func (b *VaultBackend) metaRel(spaceUUID string) string {
	return fmt.Sprintf("spaces/%s/_meta", spaceUUID)
}

func (b *VaultBackend) resourceRel(spaceUUID, path string) string {
	return fmt.Sprintf("spaces/%s/resources/%s", spaceUUID, url.PathEscape(path))
}

// writeSecret stores fields as one KV v2 secret version.
func (b *VaultBackend) writeSecret(ctx context.Context, rel string, fields map[string]interface{}) error {
	_, err := b.client.Logical().WriteWithContext(ctx, b.dataPath(rel), map[string]interface{}{
		"data": fields,
	})
	if err != nil {
		return fmt.Errorf("%w: vault write failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// readSecret returns the secret's fields or interfaces.ErrNotFound.
func (b *VaultBackend) readSecret(ctx context.Context, rel string) (map[string]interface{}, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.dataPath(rel))
	if err != nil {
		return nil, fmt.Errorf("%w: vault read failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	fields, ok := secret.Data["data"].(map[string]interface{})
	if !ok || fields == nil {
		// KV v2 keeps tombstones for deleted versions.
		return nil, interfaces.ErrNotFound
	}
	return fields, nil
}

// deleteSecret permanently removes a secret and its version history.
func (b *VaultBackend) deleteSecret(ctx context.Context, rel string) error {
	_, err := b.client.Logical().DeleteWithContext(ctx, b.metadataPath(rel))
	if err != nil {
		return fmt.Errorf("%w: vault delete failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// listKeys lists the direct children under a metadata path. A missing path
// lists as empty.
func (b *VaultBackend) listKeys(ctx context.Context, rel string) ([]string, error) {
	secret, err := b.client.Logical().ListWithContext(ctx, b.metadataPath(rel))
	if err != nil {
		return nil, fmt.Errorf("%w: vault list failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	rawKeys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(rawKeys))
	for _, k := range rawKeys {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// PutSpace writes the space metadata secret.
func (b *VaultBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	err := b.writeSecret(ctx, b.metaRel(space.UUID), map[string]interface{}{
		"id":         space.ID,
		"controller": space.Controller,
	})
	if err != nil {
		return err
	}

	b.log.Debug("Stored space metadata in Vault",
		slog.String("space", space.UUID),
		slog.String("mount", b.mountPath))
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *VaultBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	fields, err := b.readSecret(ctx, b.metaRel(spaceUUID))
	if err != nil {
		return interfaces.Space{}, err
	}

	id, _ := fields["id"].(string)
	controller, _ := fields["controller"].(string)
	if controller == "" {
		return interfaces.Space{}, fmt.Errorf("corrupt space metadata for %s: missing controller", spaceUUID)
	}
	return interfaces.Space{UUID: spaceUUID, ID: id, Controller: controller}, nil
}

// DeleteSpace removes the space metadata and every resource secret under
// the space.
func (b *VaultBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	if _, err := b.readSecret(ctx, b.metaRel(spaceUUID)); err != nil {
		return err
	}

	resources, err := b.listKeys(ctx, fmt.Sprintf("spaces/%s/resources", spaceUUID))
	if err != nil {
		return err
	}
	for _, key := range resources {
		if err := b.deleteSecret(ctx, fmt.Sprintf("spaces/%s/resources/%s", spaceUUID, key)); err != nil {
			return err
		}
	}
	if err := b.deleteSecret(ctx, b.metaRel(spaceUUID)); err != nil {
		return err
	}

	b.log.Debug("Deleted space from Vault", slog.String("space", spaceUUID))
	return nil
}

// ListSpaces lists the space folders and returns the matching records.
func (b *VaultBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	keys, err := b.listKeys(ctx, "spaces")
	if err != nil {
		return nil, err
	}

	var result []interfaces.Space
	for _, key := range keys {
		uuid := strings.TrimSuffix(key, "/")
		space, err := b.GetSpace(ctx, uuid)
		if err == interfaces.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if space.Controller == controller {
			result = append(result, space)
		}
	}
	return result, nil
}

// PutResource writes the resource secret. The content travels base64
// encoded since Vault secret fields are JSON values.
func (b *VaultBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	if _, err := b.readSecret(ctx, b.metaRel(spaceUUID)); err != nil {
		return err
	}

	err := b.writeSecret(ctx, b.resourceRel(spaceUUID, path), map[string]interface{}{
		"content":      base64.StdEncoding.EncodeToString(res.Content),
		"content_type": res.ContentType,
	})
	if err != nil {
		return err
	}

	// A space delete may have raced the write; re-check and undo so the
	// resource cannot outlive its space.
	if _, err := b.readSecret(ctx, b.metaRel(spaceUUID)); err != nil {
		b.deleteSecret(ctx, b.resourceRel(spaceUUID, path))
		return err
	}
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *VaultBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	fields, err := b.readSecret(ctx, b.resourceRel(spaceUUID, path))
	if err != nil {
		return interfaces.Resource{}, err
	}

	encoded, _ := fields["content"].(string)
	contentType, _ := fields["content_type"].(string)
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return interfaces.Resource{}, fmt.Errorf("corrupt resource record: %w", err)
	}
	return interfaces.Resource{Content: content, ContentType: contentType}, nil
}

// DeleteResource removes the resource secret; deleting an absent path
// succeeds.
func (b *VaultBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	if _, err := b.readSecret(ctx, b.metaRel(spaceUUID)); err != nil {
		return err
	}
	return b.deleteSecret(ctx, b.resourceRel(spaceUUID, path))
}

// Available checks if the Vault server is accessible and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Warn("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
