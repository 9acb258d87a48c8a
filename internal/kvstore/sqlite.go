package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnStringKey = "kv_key"
	columnHashKey   = "hash_key"
	columnHashField = "field"
	columnHashValue = "value"
	queryStringKey  = columnStringKey + " = ?"
	queryHashKey    = columnHashKey + " = ?"
)

var errMissingDatabase = errors.New("kvstore: database handle is required")

// StringEntry stores one string value.
type StringEntry struct {
	Key   string `gorm:"column:kv_key;primaryKey;size:512;not null"`
	Value string `gorm:"column:kv_value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StringEntry) TableName() string {
	return "kv_strings"
}

// HashField stores one field of a hash.
type HashField struct {
	HashKey string `gorm:"column:hash_key;primaryKey;size:512;not null"`
	Field   string `gorm:"column:field;primaryKey;size:64;not null"`
	Value   string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HashField) TableName() string {
	return "kv_hash_fields"
}

// Models lists the tables the SQLite backend needs.
func Models() []any {
	return []any{&StringEntry{}, &HashField{}}
}

// SQLiteStore implements Store on top of GORM tables.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps an opened database whose schema already includes Models.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var entry StringEntry
	err := s.db.WithContext(ctx).Where(queryStringKey, key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return entry.Value, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := keyExists(s.db.WithContext(ctx), key)
	if err != nil {
		return false, fmt.Errorf("kvstore: exists %q: %w", key, err)
	}
	return exists, nil
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hashFields int64
		if err := tx.Model(&HashField{}).Where(queryHashKey, key).Count(&hashFields).Error; err != nil {
			return err
		}
		if hashFields > 0 {
			return nil
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&StringEntry{Key: key, Value: value})
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kvstore: set if absent %q: %w", key, err)
	}
	return created, nil
}

func (s *SQLiteStore) HashSet(ctx context.Context, key string, fields map[string]string) (bool, error) {
	if len(fields) == 0 {
		return false, ErrEmptyHash
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]HashField, 0, len(names))
	for _, name := range names {
		rows = append(rows, HashField{HashKey: key, Field: name, Value: fields[name]})
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnHashKey}, {Name: columnHashField}},
			DoUpdates: clause.AssignmentColumns([]string{columnHashValue}),
		}).
		Create(&rows)
	if result.Error != nil {
		return false, fmt.Errorf("kvstore: hash set %q: %w", key, result.Error)
	}
	return result.RowsAffected == int64(len(rows)), nil
}

func (s *SQLiteStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	var rows []HashField
	if err := s.db.WithContext(ctx).Where(queryHashKey, key).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("kvstore: hash get all %q: %w", key, err)
	}
	fields := make(map[string]string, len(rows))
	for _, row := range rows {
		fields[row.Field] = row.Value
	}
	return fields, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func keyExists(db *gorm.DB, key string) (bool, error) {
	var count int64
	if err := db.Model(&StringEntry{}).Where(queryStringKey, key).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := db.Model(&HashField{}).Where(queryHashKey, key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
