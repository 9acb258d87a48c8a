// Package kvstore provides the key-value and hash primitives the sync protocol is built on.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DriverRedis stores data in a Redis server.
	DriverRedis = "redis"
	// DriverSQLite stores data in a local SQLite database.
	DriverSQLite = "sqlite"
	// DriverMemory keeps data in process memory only.
	DriverMemory = "memory"
)

var (
	// ErrNotFound indicates that a string key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrEmptyHash indicates a hash write without any fields.
	ErrEmptyHash = errors.New("kvstore: hash write requires at least one field")
	// ErrUnsupportedDriver indicates an unknown store driver name.
	ErrUnsupportedDriver = errors.New("kvstore: unsupported driver")
)

// Store is the capability every backend offers. Each method is atomic on its own;
// no method spans more than one store command.
type Store interface {
	// Get returns the string value at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Exists reports whether key holds any value.
	Exists(ctx context.Context, key string) (bool, error)
	// SetIfAbsent stores value at key only when key does not exist yet.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	// HashSet writes all fields of the hash at key in one operation. A false result
	// without error means the store acknowledged the write but did not apply it.
	HashSet(ctx context.Context, key string, fields map[string]string) (bool, error)
	// HashGetAll returns every field of the hash at key; an absent key yields an empty map.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeDriver lowercases and validates a driver name.
func NormalizeDriver(raw string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(raw))
	switch driver {
	case DriverRedis, DriverSQLite, DriverMemory:
		return driver, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, raw)
	}
}
