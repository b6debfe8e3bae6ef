package colmena

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colmena.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: "127.0.0.1:9000"
federation:
  privacy:
    quorum: 5
    epsilon: 0.5
    retention_days: 30
  purge_interval: 30m
storage:
  backend: sqlite
  path: /tmp/pool.db
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", config.Server.Addr)
	}
	if config.Federation.Privacy.Quorum != 5 || config.Federation.Privacy.Epsilon != 0.5 {
		t.Errorf("privacy = %+v", config.Federation.Privacy)
	}
	if config.Federation.Privacy.RetentionDays != 30 {
		t.Errorf("retention = %d", config.Federation.Privacy.RetentionDays)
	}
	if config.Federation.PurgeInterval != Duration(30*time.Minute) {
		t.Errorf("purge interval = %v", config.Federation.PurgeInterval)
	}
	if config.Storage.Backend != StorageSQLite || config.Storage.Path != "/tmp/pool.db" {
		t.Errorf("storage = %+v", config.Storage)
	}
}

func TestLoadConfigDefaultsSurvive(t *testing.T) {
	path := writeConfigFile(t, `
federation:
  privacy:
    quorum: 4
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Unset fields keep their defaults.
	if config.Federation.Privacy.Quorum != 4 {
		t.Errorf("quorum = %d", config.Federation.Privacy.Quorum)
	}
	if config.Federation.Privacy.Epsilon != 1.0 {
		t.Errorf("default epsilon = %v, want 1.0", config.Federation.Privacy.Epsilon)
	}
	if config.Federation.Privacy.RetentionDays != 90 {
		t.Errorf("default retention = %d, want 90", config.Federation.Privacy.RetentionDays)
	}
	if config.Storage.Backend != StorageMemory {
		t.Errorf("default backend = %q", config.Storage.Backend)
	}
}

func TestLoadConfigRejectsBadBackend(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  backend: dynamo
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("unknown backend should fail validation")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/colmena.yaml"); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestOpenSnapshotStore(t *testing.T) {
	store, err := OpenSnapshotStore(StorageConfig{Backend: StorageMemory})
	if err != nil {
		t.Fatalf("memory backend failed: %v", err)
	}
	if _, ok := store.(*MemorySnapshotStore); !ok {
		t.Errorf("backend type = %T", store)
	}
	store.Close()

	store, err = OpenSnapshotStore(StorageConfig{
		Backend: StorageSQLite,
		Path:    filepath.Join(t.TempDir(), "pool.db"),
	})
	if err != nil {
		t.Fatalf("sqlite backend failed: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("backend type = %T", store)
	}
	store.Close()

	if _, err := OpenSnapshotStore(StorageConfig{Backend: "dynamo"}); err == nil {
		t.Fatal("unknown backend should fail")
	}
}
