package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEBRID_API_KEY", "test-key")
	t.Setenv("DOWNLOAD_PATH", filepath.Join(t.TempDir(), "downloads"))
	t.Setenv("STATE_PATH", filepath.Join(t.TempDir(), "state"))

	cfg := loadConfig()

	if cfg.StorageType != StorageAuto {
		t.Errorf("expected default StorageType auto, got %s", cfg.StorageType)
	}
	if cfg.MaxConcurrentSmall != 3 {
		t.Errorf("expected default MaxConcurrentSmall 3, got %d", cfg.MaxConcurrentSmall)
	}
	if cfg.ReconcileInterval != "5m" {
		t.Errorf("expected default ReconcileInterval 5m, got %s", cfg.ReconcileInterval)
	}
	if cfg.APIBind != "0.0.0.0:6500" {
		t.Errorf("expected default APIBind, got %s", cfg.APIBind)
	}
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	t.Setenv("DEBRID_API_KEY", "test-key")
	t.Setenv("DOWNLOAD_PATH", filepath.Join(t.TempDir(), "downloads"))
	t.Setenv("STATE_PATH", filepath.Join(t.TempDir(), "state"))
	t.Setenv("STORAGE_TYPE", "SSD")
	t.Setenv("MAX_CONCURRENT_LARGE", "4")
	t.Setenv("RECONCILE_INTERVAL", "30s")
	t.Setenv("FILE_ALLOCATE", "false")

	cfg := loadConfig()

	if cfg.StorageType != StorageSSD {
		t.Errorf("expected ssd, got %s", cfg.StorageType)
	}
	if cfg.MaxConcurrentLarge != 4 {
		t.Errorf("expected 4, got %d", cfg.MaxConcurrentLarge)
	}
	if cfg.ReconcileInterval != "30s" {
		t.Errorf("expected 30s, got %s", cfg.ReconcileInterval)
	}
	if cfg.FileAllocate {
		t.Error("expected FileAllocate to be overlaid false")
	}
}

func TestValidate_MissingDebridAPIKey(t *testing.T) {
	cfg := &Config{StorageType: StorageAuto}
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for missing DEBRID_API_KEY")
	}
}

func TestValidate_RejectsUnknownStorageType(t *testing.T) {
	cfg := &Config{DebridAPIKey: "x", StorageType: "floppy"}
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for unknown storage type")
	}
}

func TestSecretKey_PersistsAcrossInstances(t *testing.T) {
	statePath := t.TempDir()
	cfg := &Config{StatePath: statePath}
	first := cfg.SecretKey()
	if first == "" {
		t.Fatal("expected a non-empty secret")
	}
	if second := cfg.SecretKey(); second != first {
		t.Error("expected SecretKey to be stable within one Config")
	}

	reloaded := &Config{StatePath: statePath}
	if got := reloaded.SecretKey(); got != first {
		t.Errorf("expected secret to persist to disk, got %q want %q", got, first)
	}
}
