package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// spaceRow is the relational shape of a space record.
type spaceRow struct {
	SpaceUUID  string `gorm:"column:space_uuid;primaryKey"`
	SpaceID    string `gorm:"column:space_id;not null"`
	Controller string `gorm:"column:controller;not null;index"`
}

func (spaceRow) TableName() string { return "was_spaces" }

// resourceRow is the relational shape of a resource, keyed by
// (space_uuid, path).
type resourceRow struct {
	SpaceUUID   string `gorm:"column:space_uuid;primaryKey"`
	Path        string `gorm:"column:path;primaryKey"`
	Content     []byte `gorm:"column:content"`
	ContentType string `gorm:"column:content_type;not null"`
}

func (resourceRow) TableName() string { return "was_resources" }

// SQLBackend implements a storage backend over a relational database via
// GORM. Database transactions provide the atomicity and cascade guarantees.
type SQLBackend struct {
	db          *gorm.DB
	log         *slog.Logger
	locationURI string
}

// NewSQLiteBackend opens (creating if needed) a SQLite database at dsn and
// migrates the schema.
func NewSQLiteBackend(dsn string, log *slog.Logger) (*SQLBackend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&spaceRow{}, &resourceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLBackend{
		db:          db,
		log:         log,
		locationURI: fmt.Sprintf("sqlite://%s", dsn),
	}, nil
}

// PutSpace inserts or updates a space record. Only the controller column is
// updated on conflict; the space ID is immutable.
func (b *SQLBackend) PutSpace(ctx context.Context, space interfaces.Space) error {
	row := spaceRow{SpaceUUID: space.UUID, SpaceID: space.ID, Controller: space.Controller}
	result := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "space_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"controller"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert space: %w", result.Error)
	}
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *SQLBackend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	var row spaceRow
	result := b.db.WithContext(ctx).First(&row, "space_uuid = ?", spaceUUID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return interfaces.Space{}, interfaces.ErrNotFound
	}
	if result.Error != nil {
		return interfaces.Space{}, fmt.Errorf("failed to query space: %w", result.Error)
	}
	return interfaces.Space{UUID: row.SpaceUUID, ID: row.SpaceID, Controller: row.Controller}, nil
}

// DeleteSpace removes the space row and all its resource rows in one
// transaction.
func (b *SQLBackend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&spaceRow{}, "space_uuid = ?", spaceUUID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete space: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return interfaces.ErrNotFound
		}
		if err := tx.Delete(&resourceRow{}, "space_uuid = ?", spaceUUID).Error; err != nil {
			return fmt.Errorf("failed to delete space resources: %w", err)
		}
		return nil
	})
}

// ListSpaces returns all spaces with the given controller.
func (b *SQLBackend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	var rows []spaceRow
	result := b.db.WithContext(ctx).Where("controller = ?", controller).Order("space_uuid").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", result.Error)
	}

	spaces := make([]interfaces.Space, 0, len(rows))
	for _, row := range rows {
		spaces = append(spaces, interfaces.Space{UUID: row.SpaceUUID, ID: row.SpaceID, Controller: row.Controller})
	}
	return spaces, nil
}

// PutResource inserts or updates a resource row after verifying the space
// exists, inside one transaction.
func (b *SQLBackend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&spaceRow{}).Where("space_uuid = ?", spaceUUID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to query space: %w", err)
		}
		if count == 0 {
			return interfaces.ErrNotFound
		}

		row := resourceRow{SpaceUUID: spaceUUID, Path: path, Content: res.Content, ContentType: res.ContentType}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "space_uuid"}, {Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "content_type"}),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to upsert resource: %w", result.Error)
		}
		return nil
	})
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *SQLBackend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	var row resourceRow
	result := b.db.WithContext(ctx).First(&row, "space_uuid = ? AND path = ?", spaceUUID, path)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	if result.Error != nil {
		return interfaces.Resource{}, fmt.Errorf("failed to query resource: %w", result.Error)
	}
	return interfaces.Resource{Content: row.Content, ContentType: row.ContentType}, nil
}

// DeleteResource removes a resource row; deleting an absent path succeeds.
func (b *SQLBackend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&spaceRow{}).Where("space_uuid = ?", spaceUUID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to query space: %w", err)
		}
		if count == 0 {
			return interfaces.ErrNotFound
		}
		if err := tx.Delete(&resourceRow{}, "space_uuid = ? AND path = ?", spaceUUID, path).Error; err != nil {
			return fmt.Errorf("failed to delete resource: %w", err)
		}
		return nil
	})
}

// Available checks if the backend is accessible by pinging the database.
func (b *SQLBackend) Available(ctx context.Context) bool {
	sqlDB, err := b.db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		b.log.Debug("SQL backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *SQLBackend) Name() string {
	return "sql"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *SQLBackend) LocationURI() string {
	return b.locationURI
}
