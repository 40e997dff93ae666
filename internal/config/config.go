// Package config loads and validates flowgate's process-wide configuration.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// StorageKind is the Storage Probe's classification of a save path, or the
// operator's forced override.
type StorageKind string

const (
	StorageAuto StorageKind = "auto"
	StorageHDD  StorageKind = "hdd"
	StorageSSD  StorageKind = "ssd"
)

// Config is the single process-wide configuration object, loaded once from
// STATE_PATH/config.json overlaid with environment variables.
type Config struct {
	mu sync.RWMutex

	StorageType StorageKind `json:"storage_type"`

	MaxConcurrentLarge int `json:"max_concurrent_large"`
	MaxConcurrentSmall int `json:"max_concurrent_small"`

	LargeThresholdBytes int64 `json:"large_threshold_bytes"`
	DiskBufferBytes     int64 `json:"disk_buffer_bytes"`
	WriteBatchBytes     int64 `json:"write_batch_bytes"`
	FlushIntervalSeconds int   `json:"flush_interval_seconds"`
	MaxConnectionsPerJob int   `json:"max_connections_per_job"`
	FileAllocate         bool  `json:"file_allocate"`

	DebridAPIKey  string `json:"debrid_api_key"`
	DebridBaseURL string `json:"debrid_base_url"`

	APIBind      string `json:"api_bind"`
	DownloadPath string `json:"download_path"`
	StatePath    string `json:"state_path"`

	ReconcileInterval string `json:"reconcile_interval"`

	LogLevel string `json:"log_level"`

	secret string
}

var (
	once     sync.Once
	instance *Config
	loadPath string
)

// SetConfigPath overrides the JSON config file path used by the next Get()
// or Reload(). Must be called before the first Get() to take effect on
// initial load.
func SetConfigPath(path string) {
	loadPath = path
}

// Get returns the process-wide Config, loading it on first use.
func Get() *Config {
	once.Do(func() {
		instance = loadConfig()
	})
	return instance
}

// Reload re-reads the config file and environment, replacing the singleton.
// Used by the CLI's restart path.
func Reload() *Config {
	instance = loadConfig()
	return instance
}

func defaultConfigPath() string {
	if loadPath != "" {
		return loadPath
	}
	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "/config"
	}
	return filepath.Join(statePath, "config.json")
}

func loadConfig() *Config {
	cfg := &Config{
		StorageType:          StorageAuto,
		MaxConcurrentLarge:   1,
		MaxConcurrentSmall:   3,
		LargeThresholdBytes:  21474836480,
		DiskBufferBytes:      67108864,
		WriteBatchBytes:      67108864,
		FlushIntervalSeconds: 5,
		MaxConnectionsPerJob: 1,
		FileAllocate:         true,
		APIBind:              "0.0.0.0:6500",
		DownloadPath:         "/downloads",
		StatePath:            "/config",
		ReconcileInterval:    "5m",
		LogLevel:             "info",
	}

	path := defaultConfigPath()
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, cfg)
	}

	cfg.overlayEnv()

	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}
	return cfg
}

func (c *Config) overlayEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.StorageType = StorageKind(strings.ToLower(v))
	}

	envInt("MAX_CONCURRENT_LARGE", &c.MaxConcurrentLarge)
	envInt("MAX_CONCURRENT_SMALL", &c.MaxConcurrentSmall)
	envInt64("LARGE_THRESHOLD_BYTES", &c.LargeThresholdBytes)
	envInt64("DISK_BUFFER_BYTES", &c.DiskBufferBytes)
	envInt64("WRITE_BATCH_BYTES", &c.WriteBatchBytes)
	envInt("FLUSH_INTERVAL_SECONDS", &c.FlushIntervalSeconds)
	envInt("MAX_CONNECTIONS_PER_JOB", &c.MaxConnectionsPerJob)
	envBool("FILE_ALLOCATE", &c.FileAllocate)

	str("DEBRID_API_KEY", &c.DebridAPIKey)
	str("DEBRID_BASE_URL", &c.DebridBaseURL)
	str("API_BIND", &c.APIBind)
	str("DOWNLOAD_PATH", &c.DownloadPath)
	str("STATE_PATH", &c.StatePath)
	str("RECONCILE_INTERVAL", &c.ReconcileInterval)
	str("LOG_LEVEL", &c.LogLevel)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func (c *Config) validate() error {
	if c.DebridAPIKey == "" {
		return fmt.Errorf("DEBRID_API_KEY is required")
	}
	switch c.StorageType {
	case StorageAuto, StorageHDD, StorageSSD:
	default:
		return fmt.Errorf("STORAGE_TYPE must be one of auto, hdd, ssd, got %q", c.StorageType)
	}
	if err := os.MkdirAll(c.DownloadPath, 0o755); err != nil {
		return fmt.Errorf("DOWNLOAD_PATH %q not usable: %w", c.DownloadPath, err)
	}
	if err := os.MkdirAll(c.StatePath, 0o755); err != nil {
		return fmt.Errorf("STATE_PATH %q not usable: %w", c.StatePath, err)
	}
	return nil
}

// SecretKey returns (creating on first use) a per-install secret used to
// sign the qBittorrent SID cookie.
func (c *Config) SecretKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secret != "" {
		return c.secret
	}
	path := filepath.Join(c.StatePath, ".secret")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		c.secret = strings.TrimSpace(string(data))
		return c.secret
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	c.secret = hex.EncodeToString(buf)
	_ = os.WriteFile(path, []byte(c.secret), 0o600)
	return c.secret
}

// IsLarge reports whether size meets the configured large-job threshold.
func (c *Config) IsLarge(size int64) bool {
	return size >= c.LargeThresholdBytes
}
