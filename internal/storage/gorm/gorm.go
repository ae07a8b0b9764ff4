// Package gormstorage implements storage.Backend on any GORM dialect by
// keeping each key as a row of the settings table.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/transitlive/livemap/internal/model"
	"github.com/transitlive/livemap/internal/storage"
)

// Backend stores values in model.Setting rows. Values must be JSON.
type Backend struct {
	db *gorm.DB
}

// New creates a new GORM storage backend.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.db }

// Init migrates the tables the backend writes to.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close is a no-op; the owner of the connection closes it.
func (b *Backend) Close() error {
	return nil
}

// Get returns the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var s model.Setting
	err := b.db.WithContext(ctx).Where("name = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return []byte(s.Value), nil
}

// Set upserts value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("setting %q: value is not valid JSON", key)
	}
	s := model.Setting{Name: key, Value: value}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.db.WithContext(ctx).Where("name = ?", key).Delete(&model.Setting{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// LogSnapshot appends a snapshot outcome row.
func (b *Backend) LogSnapshot(ctx context.Context, entry model.SnapshotLog) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if err := b.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to log snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns the newest n snapshot log rows, newest first.
func (b *Backend) RecentSnapshots(ctx context.Context, n int) ([]model.SnapshotLog, error) {
	var out []model.SnapshotLog
	err := b.db.WithContext(ctx).Order("id desc").Limit(n).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot log: %w", err)
	}
	return out, nil
}

var (
	_ storage.Backend        = (*Backend)(nil)
	_ storage.SnapshotLogger = (*Backend)(nil)
)
