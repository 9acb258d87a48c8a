package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOpenSQLiteCreatesKeyValueSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "readsync.db")
	core, logs := observer.New(zapcore.InfoLevel)

	db, err := OpenSQLite(databasePath, zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	for _, model := range kvstore.Models() {
		if !db.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}

	store, err := kvstore.NewSQLiteStore(db)
	if err != nil {
		testContext.Fatalf("failed to wrap store: %v", err)
	}
	defer store.Close()

	created, err := store.SetIfAbsent(context.Background(), "user:alice:key", "secret1")
	if err != nil || !created {
		testContext.Fatalf("expected write to succeed, created=%v err=%v", created, err)
	}

	if logs.FilterMessage("database initialized").Len() != 1 {
		testContext.Fatalf("expected initialization log entry")
	}
}

func TestOpenSQLiteReopensExistingData(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "readsync.db")

	first, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	store, _ := kvstore.NewSQLiteStore(first)
	if _, err := store.HashSet(context.Background(), "user:alice:document:bookA", map[string]string{"progress": "p42"}); err != nil {
		testContext.Fatalf("failed to write hash: %v", err)
	}
	_ = store.Close()

	second, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
	reopened, _ := kvstore.NewSQLiteStore(second)
	defer reopened.Close()

	fields, err := reopened.HashGetAll(context.Background(), "user:alice:document:bookA")
	if err != nil {
		testContext.Fatalf("failed to read hash: %v", err)
	}
	if fields["progress"] != "p42" {
		testContext.Fatalf("expected persisted progress, got %v", fields)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
