package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// IPFSBackend implements a storage backend over the mutable files (MFS)
// API of an IPFS node. MFS gives per-path mutable files, which is what the
// space/resource model needs; plain content addressing cannot express
// overwrite-by-path.
//
// MFS layout:
//
//	{root}/spaces/{space_uuid}/_meta.json
//	{root}/spaces/{space_uuid}/resources/{escaped_path}.json
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the
// specified node API address, rooted at root within the node's MFS.
func NewIPFSBackend(host, port, root string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	root = "/" + strings.Trim(root, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, root),
	}, nil
}

func (b *IPFSBackend) spaceDir(spaceUUID string) string {
	return fmt.Sprintf("%s/spaces/%s", b.root, spaceUUID)
}

func (b *IPFSBackend) metaPath(spaceUUID string) string {
	return b.spaceDir(spaceUUID) + "/_meta.json"
}

func (b *IPFSBackend) resourcePath(spaceUUID, path string) string {
	return fmt.Sprintf("%s/resources/%s.json", b.spaceDir(spaceUUID), url.PathEscape(path))
}

// isMFSNotFound reports whether an MFS error denotes a missing path.
func isMFSNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

// writeFile writes an MFS file, creating parents and truncating any prior
// content.
func (b *IPFSBackend) writeFile(ctx context.Context, path string, data []byte) error {
	err := b.shell.FilesWrite(ctx, path, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("%w: files write failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// readFile reads an MFS file in full.
func (b *IPFSBackend) readFile(ctx context.Context, path string) ([]byte, error) {
	r, err := b.shell.FilesRead(ctx, path)
	if isMFSNotFound(err) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: files read failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// statSpace verifies the space metadata file exists.
func (b *IPFSBackend) statSpace(ctx context.Context, spaceUUID string) error {
	_, err := b.shell.FilesStat(ctx, b.metaPath(spaceUUID))
	if isMFSNotFound(err) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: files stat failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// PutSpace writes the space metadata file.
func (b *IPFSBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	meta, err := json.Marshal(spaceMeta{ID: space.ID, Controller: space.Controller})
	if err != nil {
		return fmt.Errorf("failed to encode space metadata: %w", err)
	}
	if err := b.writeFile(ctx, b.metaPath(space.UUID), meta); err != nil {
		return err
	}

	b.log.Debug("Stored space metadata in IPFS",
		slog.String("space", space.UUID),
		slog.String("path", b.metaPath(space.UUID)))
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *IPFSBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	raw, err := b.readFile(ctx, b.metaPath(spaceUUID))
	if err != nil {
		return interfaces.Space{}, err
	}

	var meta spaceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return interfaces.Space{}, fmt.Errorf("corrupt space metadata for %s: %w", spaceUUID, err)
	}
	return interfaces.Space{UUID: spaceUUID, ID: meta.ID, Controller: meta.Controller}, nil
}

// DeleteSpace removes the whole space directory.
func (b *IPFSBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	if err := b.statSpace(ctx, spaceUUID); err != nil {
		return err
	}
	if err := b.shell.FilesRm(ctx, b.spaceDir(spaceUUID), true); err != nil {
		return fmt.Errorf("%w: files rm failed: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Deleted space from IPFS", slog.String("space", spaceUUID))
	return nil
}

// ListSpaces lists the space directories and returns the matching records.
func (b *IPFSBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	entries, err := b.shell.FilesLs(ctx, b.root+"/spaces")
	if isMFSNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: files ls failed: %v", interfaces.ErrBackendUnavailable, err)
	}

	var result []interfaces.Space
	for _, entry := range entries {
		space, err := b.GetSpace(ctx, entry.Name)
		if err != nil {
			// A space deleted mid-scan is not an error.
			continue
		}
		if space.Controller == controller {
			result = append(result, space)
		}
	}
	return result, nil
}

// PutResource writes the resource document.
func (b *IPFSBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	if err := b.statSpace(ctx, spaceUUID); err != nil {
		return err
	}

	raw, err := json.Marshal(resourceRecord{Content: res.Content, ContentType: res.ContentType})
	if err != nil {
		return fmt.Errorf("failed to encode resource: %w", err)
	}
	if err := b.writeFile(ctx, b.resourcePath(spaceUUID, path), raw); err != nil {
		return err
	}

	// A space delete may have raced the write; re-check and undo so the
	// resource cannot outlive its space.
	if err := b.statSpace(ctx, spaceUUID); err != nil {
		b.shell.FilesRm(ctx, b.resourcePath(spaceUUID, path), true)
		return err
	}
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *IPFSBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	raw, err := b.readFile(ctx, b.resourcePath(spaceUUID, path))
	if err != nil {
		return interfaces.Resource{}, err
	}

	var rec resourceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return interfaces.Resource{}, fmt.Errorf("corrupt resource record: %w", err)
	}
	return interfaces.Resource{Content: rec.Content, ContentType: rec.ContentType}, nil
}

// DeleteResource removes the resource file; deleting an absent path
// succeeds.
func (b *IPFSBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	if err := b.statSpace(ctx, spaceUUID); err != nil {
		return err
	}

	err := b.shell.FilesRm(ctx, b.resourcePath(spaceUUID, path), true)
	if err != nil && !isMFSNotFound(err) {
		return fmt.Errorf("%w: files rm failed: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
