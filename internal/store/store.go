// Package store persists entries in SQLite.
//
// Entries and their items live in two tables. Entry ids come from an
// AUTOINCREMENT column, so they grow monotonically and are never reused,
// even after the newest entry is deleted.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go.klb.dev/clipstash/internal/item"
)

// ErrNotFound is returned for a missing entry or description.
var ErrNotFound = errors.New("entry not found")

type entryModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Timestamp int64  `gorm:"not null"`
	Source    string
	Items     []itemModel `gorm:"foreignKey:EntryID"`
}

func (entryModel) TableName() string { return "entries" }

type itemModel struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	EntryID  uint64 `gorm:"index;not null"`
	Position int    `gorm:"not null"`
	Type     string `gorm:"not null"`
	Name     string
	Data     *string
	Path     *string `gorm:"index"`
}

func (itemModel) TableName() string { return "items" }

func toModel(e item.Entry) (entryModel, error) {
	m := entryModel{ID: e.ID, Timestamp: e.Timestamp, Source: e.Meta.Source}
	for i, it := range e.Items {
		im := itemModel{Position: i, Type: it.Type, Name: it.Name}
		switch it.Kind() {
		case item.KindInline:
			d, _ := it.Data()
			im.Data = &d
		case item.KindReferenced:
			p, _ := it.Path()
			im.Path = &p
		default:
			return entryModel{}, fmt.Errorf("%w: %s item cannot be stored", item.ErrInvalidItem, it.Kind())
		}
		m.Items = append(m.Items, im)
	}
	return m, nil
}

func (m entryModel) entry() item.Entry {
	e := item.Entry{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Meta:      item.Meta{Source: m.Source},
		Items:     make([]item.Item, 0, len(m.Items)),
	}
	for _, im := range m.Items {
		switch {
		case im.Data != nil:
			e.Items = append(e.Items, item.NewInline(im.Type, *im.Data, im.Name))
		case im.Path != nil:
			e.Items = append(e.Items, item.NewReferenced(im.Type, *im.Path, im.Name))
		}
	}
	return e
}

// Store is the entry store. It is safe for concurrent use.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entryModel{}, &itemModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, log: slog.Default(), now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

// Add stores a new entry and returns it with its id and timestamp.
func (s *Store) Add(ctx context.Context, items []item.Item, meta item.Meta) (item.Entry, error) {
	m, err := toModel(item.Entry{Timestamp: s.now().UnixMilli(), Items: items, Meta: meta})
	if err != nil {
		return item.Entry{}, err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return item.Entry{}, fmt.Errorf("add entry: %w", err)
	}
	s.log.Debug("entry stored", "entry", m.ID, "items", len(m.Items))
	return m.entry(), nil
}

// List returns every entry in ascending id order.
func (s *Store) List(ctx context.Context) ([]item.Entry, error) {
	var ms []entryModel
	if err := preloadItems(s.db.WithContext(ctx)).Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]item.Entry, len(ms))
	for i, m := range ms {
		out[i] = m.entry()
	}
	return out, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entryModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Get returns entry id.
func (s *Store) Get(ctx context.Context, id uint64) (item.Entry, error) {
	var m entryModel
	err := preloadItems(s.db.WithContext(ctx)).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item.Entry{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return item.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return m.entry(), nil
}

// Latest returns the entry with the highest id.
func (s *Store) Latest(ctx context.Context) (item.Entry, error) {
	var m entryModel
	err := preloadItems(s.db.WithContext(ctx)).Last(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item.Entry{}, ErrNotFound
	}
	if err != nil {
		return item.Entry{}, fmt.Errorf("latest entry: %w", err)
	}
	return m.entry(), nil
}

// Delete removes the given entries and returns the ones that existed, so
// the caller can release their payloads. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []uint64) ([]item.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var removed []entryModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := preloadItems(tx).Where("id IN ?", ids).Order("id").Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		found := make([]uint64, len(removed))
		for i, m := range removed {
			found[i] = m.ID
		}
		if err := tx.Where("entry_id IN ?", found).Delete(&itemModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", found).Delete(&entryModel{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete entries: %w", err)
	}
	out := make([]item.Entry, len(removed))
	for i, m := range removed {
		out[i] = m.entry()
	}
	s.log.Debug("entries deleted", "requested", len(ids), "deleted", len(out))
	return out, nil
}

// SetDescription replaces the inline description payload of entry id in
// place. Other items, the id and the timestamp are untouched. It returns
// ErrNotFound when the entry has no inline description.
func (s *Store) SetDescription(ctx context.Context, id uint64, text string) (item.Entry, error) {
	var out item.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var desc itemModel
		err := tx.Where("entry_id = ? AND type = ? AND data IS NOT NULL", id, item.TypeDescription).
			Order("position").First(&desc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no description on entry %d", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&desc).Update("data", text).Error; err != nil {
			return err
		}
		var m entryModel
		if err := preloadItems(tx).First(&m, id).Error; err != nil {
			return err
		}
		out = m.entry()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return item.Entry{}, err
		}
		return item.Entry{}, fmt.Errorf("set description: %w", err)
	}
	return out, nil
}

// ItemByPath returns the referenced item stored under path.
func (s *Store) ItemByPath(ctx context.Context, path string) (item.Item, error) {
	var im itemModel
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&im).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item.Item{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("item by path: %w", err)
	}
	return item.NewReferenced(im.Type, path, im.Name), nil
}
