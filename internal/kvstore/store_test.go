package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: DriverMemory, open: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: DriverSQLite, open: openTestSQLiteStore},
		{name: DriverRedis, open: openTestRedisStore},
	}
}

func openTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kv.db")), &gorm.Config{})
	require.NoError(t, err, "failed to open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(Models()...), "failed to migrate kv schema")
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openTestRedisStore(t *testing.T) Store {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + server.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get-missing", func(t *testing.T) {
				store := factory.open(t)
				_, err := store.Get(ctx, "user:nobody:key")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set-if-absent", func(t *testing.T) {
				store := factory.open(t)
				created, err := store.SetIfAbsent(ctx, "user:alice:key", "secret1")
				require.NoError(t, err)
				assert.True(t, created)

				created, err = store.SetIfAbsent(ctx, "user:alice:key", "other")
				require.NoError(t, err)
				assert.False(t, created, "second write must not replace the value")

				value, err := store.Get(ctx, "user:alice:key")
				require.NoError(t, err)
				assert.Equal(t, "secret1", value)

				exists, err := store.Exists(ctx, "user:alice:key")
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("hash-roundtrip", func(t *testing.T) {
				store := factory.open(t)
				key := "user:alice:document:bookA"

				fields, err := store.HashGetAll(ctx, key)
				require.NoError(t, err)
				assert.Empty(t, fields)

				exists, err := store.Exists(ctx, key)
				require.NoError(t, err)
				assert.False(t, exists)

				ok, err := store.HashSet(ctx, key, map[string]string{"progress": "p1", "device": "phone"})
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = store.HashSet(ctx, key, map[string]string{"progress": "p2", "device": "kobo"})
				require.NoError(t, err)
				assert.True(t, ok)

				fields, err = store.HashGetAll(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, map[string]string{"progress": "p2", "device": "kobo"}, fields)

				exists, err = store.Exists(ctx, key)
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("hash-requires-fields", func(t *testing.T) {
				store := factory.open(t)
				_, err := store.HashSet(ctx, "user:alice:document:empty", map[string]string{})
				assert.True(t, errors.Is(err, ErrEmptyHash))
			})

			t.Run("ping", func(t *testing.T) {
				store := factory.open(t)
				assert.NoError(t, store.Ping(ctx))
			})
		})
	}
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.open(t)
			ctx := context.Background()

			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					created, err := store.SetIfAbsent(ctx, "user:race:key", "secret")
					if err == nil && created {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	store, err := NewRedisStoreFromClient(client)
	require.NoError(t, err)
	defer store.Close()

	server.Close()

	_, err = store.Get(context.Background(), "user:alice:key")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound), "connection failure must not look like a missing key")
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.SetIfAbsent(ctx, "user:alice:key", "secret")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeDriver(t *testing.T) {
	driver, err := NormalizeDriver(" Redis ")
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, driver)

	_, err = NormalizeDriver("postgres")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestConstructorsRequireDependencies(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	assert.Error(t, err)
	_, err = NewRedisStoreFromClient(nil)
	assert.Error(t, err)
	_, err = NewRedisStore("   ")
	assert.Error(t, err)
	_, err = NewRedisStore("http://not-redis")
	assert.Error(t, err)
}
