package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// FileBackend implements a storage backend using the local file system.
//
// Layout:
//
//	{baseDir}/spaces/{space_uuid}/_meta.json
//	{baseDir}/spaces/{space_uuid}/resources/{escaped_path}.json
//
// Each record is a single JSON document written via a temp file and an
// atomic rename, so a concurrent reader observes either the prior or the
// new record, never a partial write, and the resource's content and content
// type always change together.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// spaceMeta is the on-disk shape of a space record.
type spaceMeta struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
}

// resourceRecord is the on-disk shape of a resource.
type resourceRecord struct {
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
}

// NewFileBackend creates a new file storage backend rooted at baseDir.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "spaces"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) spaceDir(spaceUUID string) string {
	return filepath.Join(b.baseDir, "spaces", spaceUUID)
}

func (b *FileBackend) metaPath(spaceUUID string) string {
	return filepath.Join(b.spaceDir(spaceUUID), "_meta.json")
}

func (b *FileBackend) resourcePath(spaceUUID, path string) string {
	return filepath.Join(b.spaceDir(spaceUUID), "resources", url.PathEscape(path)+".json")
}

// atomicWrite writes data to target via a temp file and rename.
func atomicWrite(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// PutSpace atomically creates or overwrites the space metadata file.
func (b *FileBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	meta, err := json.Marshal(spaceMeta{ID: space.ID, Controller: space.Controller})
	if err != nil {
		return fmt.Errorf("failed to encode space metadata: %w", err)
	}
	if err := atomicWrite(b.metaPath(space.UUID), meta); err != nil {
		return err
	}

	b.log.Debug("Stored space metadata",
		slog.String("space", space.UUID),
		slog.String("controller", space.Controller))
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *FileBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	raw, err := os.ReadFile(b.metaPath(spaceUUID))
	if os.IsNotExist(err) {
		return interfaces.Space{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Space{}, fmt.Errorf("failed to read space metadata: %w", err)
	}

	var meta spaceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return interfaces.Space{}, fmt.Errorf("corrupt space metadata for %s: %w", spaceUUID, err)
	}
	return interfaces.Space{UUID: spaceUUID, ID: meta.ID, Controller: meta.Controller}, nil
}

// DeleteSpace removes the space directory and everything under it.
func (b *FileBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	dir := b.spaceDir(spaceUUID)
	if _, err := os.Stat(b.metaPath(spaceUUID)); os.IsNotExist(err) {
		return interfaces.ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove space directory: %w", err)
	}

	b.log.Debug("Deleted space", slog.String("space", spaceUUID))
	return nil
}

// ListSpaces scans the spaces directory and returns the matching records.
func (b *FileBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "spaces"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spaces directory: %w", err)
	}

	var result []interfaces.Space
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		space, err := b.GetSpace(ctx, entry.Name())
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

// PutResource atomically creates or overwrites a resource document.
func (b *FileBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	if _, err := os.Stat(b.metaPath(spaceUUID)); os.IsNotExist(err) {
		return interfaces.ErrNotFound
	}

	raw, err := json.Marshal(resourceRecord{Content: res.Content, ContentType: res.ContentType})
	if err != nil {
		return fmt.Errorf("failed to encode resource: %w", err)
	}
	if err := atomicWrite(b.resourcePath(spaceUUID, path), raw); err != nil {
		return err
	}

	// A space delete may have raced the write; re-check and undo so the
	// resource cannot outlive its space.
	if _, err := os.Stat(b.metaPath(spaceUUID)); os.IsNotExist(err) {
		os.Remove(b.resourcePath(spaceUUID, path))
		return interfaces.ErrNotFound
	}

	b.log.Debug("Stored resource",
		slog.String("space", spaceUUID),
		slog.String("path", path),
		slog.Int("size", len(res.Content)))
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *FileBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	raw, err := os.ReadFile(b.resourcePath(spaceUUID, path))
	if os.IsNotExist(err) {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Resource{}, fmt.Errorf("failed to read resource: %w", err)
	}

	var rec resourceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return interfaces.Resource{}, fmt.Errorf("corrupt resource record: %w", err)
	}
	return interfaces.Resource{Content: rec.Content, ContentType: rec.ContentType}, nil
}

// DeleteResource removes a resource file; deleting an absent path succeeds.
func (b *FileBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	if _, err := os.Stat(b.metaPath(spaceUUID)); os.IsNotExist(err) {
		return interfaces.ErrNotFound
	}

	err := os.Remove(b.resourcePath(spaceUUID, path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove resource: %w", err)
	}
	return nil
}

// Available checks if the file backend is accessible by verifying the base
// directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
