package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// Key prefixes for the two record kinds. Resource keys embed the space UUID
// so a whole space can be removed with one prefix scan.
const (
	badgerSpacePrefix    = "space/"
	badgerResourcePrefix = "res/"
)

// BadgerBackend implements a storage backend over an embedded Badger
// key-value store. Badger transactions give the create-or-overwrite and
// cascade-delete operations their atomicity.
type BadgerBackend struct {
	db          *badger.DB
	log         *slog.Logger
	locationURI string
}

// NewBadgerBackend opens (creating if needed) a Badger database at dir.
func NewBadgerBackend(dir string, log *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerBackend{
		db:          db,
		log:         log,
		locationURI: fmt.Sprintf("badger://%s", dir),
	}, nil
}

// Close releases the underlying database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func badgerSpaceKey(spaceUUID string) []byte {
	return []byte(badgerSpacePrefix + spaceUUID)
}

func badgerResourceKey(spaceUUID, path string) []byte {
	return []byte(badgerResourcePrefix + spaceUUID + "/" + path)
}

// PutSpace atomically creates or overwrites a space record.
func (b *BadgerBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	val, err := json.Marshal(spaceMeta{ID: space.ID, Controller: space.Controller})
	if err != nil {
		return fmt.Errorf("failed to encode space record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerSpaceKey(space.UUID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to store space record: %w", err)
	}
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *BadgerBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	var meta spaceMeta
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerSpaceKey(spaceUUID))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &meta)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.Space{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Space{}, fmt.Errorf("failed to read space record: %w", err)
	}
	return interfaces.Space{UUID: spaceUUID, ID: meta.ID, Controller: meta.Controller}, nil
}

// DeleteSpace removes the space record and every resource key under its
// prefix within a single transaction.
func (b *BadgerBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerSpaceKey(spaceUUID)); err != nil {
			return err
		}

		prefix := []byte(badgerResourcePrefix + spaceUUID + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(badgerSpaceKey(spaceUUID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete space: %w", err)
	}

	b.log.Debug("Deleted space", slog.String("space", spaceUUID))
	return nil
}

// ListSpaces scans the space prefix and returns the matching records.
func (b *BadgerBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	var result []interfaces.Space
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSpacePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			uuid := strings.TrimPrefix(string(item.Key()), badgerSpacePrefix)
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var meta spaceMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("corrupt space record %s: %w", uuid, err)
			}
			if meta.Controller == controller {
				result = append(result, interfaces.Space{UUID: uuid, ID: meta.ID, Controller: meta.Controller})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	return result, nil
}

// PutResource atomically creates or overwrites a resource record.
func (b *BadgerBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	val, err := json.Marshal(resourceRecord{Content: res.Content, ContentType: res.ContentType})
	if err != nil {
		return fmt.Errorf("failed to encode resource record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerSpaceKey(spaceUUID)); err != nil {
			return err
		}
		return txn.Set(badgerResourceKey(spaceUUID, path), val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to store resource record: %w", err)
	}
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *BadgerBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	var rec resourceRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerResourceKey(spaceUUID, path))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Resource{}, fmt.Errorf("failed to read resource record: %w", err)
	}
	return interfaces.Resource{Content: rec.Content, ContentType: rec.ContentType}, nil
}

// DeleteResource removes a resource key; deleting an absent path succeeds.
func (b *BadgerBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerSpaceKey(spaceUUID)); err != nil {
			return err
		}
		return txn.Delete(badgerResourceKey(spaceUUID, path))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete resource record: %w", err)
	}
	return nil
}

// Available reports whether the database is open.
func (b *BadgerBackend) Available(ctx context.Context) bool {
	return !b.db.IsClosed()
}

// Name returns a unique identifier for this storage backend.
func (b *BadgerBackend) Name() string {
	return fmt.Sprintf("badger-%s", filepath.Base(strings.TrimPrefix(b.locationURI, "badger://")))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *BadgerBackend) LocationURI() string {
	return b.locationURI
}
