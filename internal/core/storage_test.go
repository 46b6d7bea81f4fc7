package core

import (
	"path/filepath"
	"testing"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("VIGIECORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(DefaultRulesEngine())
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	defer store.Close()
	if store == nil {
		t.Fatal("expected a store")
	}
}

func TestOpenPersistentStoreSQLiteDefault(t *testing.T) {
	// An empty driver falls back to sqlite.
	t.Setenv("VIGIECORE_STORAGE_DRIVER", "")
	t.Setenv("VIGIECORE_SQLITE_PATH", filepath.Join(t.TempDir(), "registry.db"))
	store, err := OpenPersistentStore(DefaultRulesEngine())
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("VIGIECORE_STORAGE_DRIVER", "papyrus")
	if _, err := OpenPersistentStore(DefaultRulesEngine()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
