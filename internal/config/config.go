package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Sync      SyncConfig                `yaml:"sync"`
	Conflicts ConflictConfig            `yaml:"conflicts"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// SyncConfig holds engine settings.
type SyncConfig struct {
	DataDir          string `yaml:"data_dir"`
	DBPath           string `yaml:"db_path"`
	MaxTransfers     int    `yaml:"max_transfers"`
	TransferTimeout  string `yaml:"transfer_timeout"`
	Interval         string `yaml:"interval"`
	AutoSync         bool   `yaml:"auto_sync"`
	HistoryRetention string `yaml:"history_retention"`
	HistoryKeep      int    `yaml:"history_keep"`
}

// ConflictConfig holds detection heuristics. These are deliberate defaults,
// adjustable per deployment.
type ConflictConfig struct {
	SizeDeltaThreshold int64    `yaml:"size_delta_threshold"`
	TextExtensions     []string `yaml:"text_extensions"`
}

// ProviderConfig is the raw YAML config for a provider.
type ProviderConfig map[string]interface{}

// S3ProviderConfig is the typed config for S3-compatible backends.
type S3ProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DisplayName  string `yaml:"display_name"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	UseTLS       bool   `yaml:"use_tls"`
	StorageLimit int64  `yaml:"storage_limit"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			DataDir:          "/var/lib/skysync",
			DBPath:           "",
			MaxTransfers:     4,
			TransferTimeout:  "10m",
			Interval:         "15m",
			AutoSync:         false,
			HistoryRetention: "720h", // 30 days
			HistoryKeep:      1000,
		},
		Conflicts: ConflictConfig{
			SizeDeltaThreshold: 10 << 20,
			TextExtensions:     []string{".txt", ".md", ".json", ".xml", ".csv", ".log"},
		},
		Providers: make(map[string]ProviderConfig),
	}
}

// Load reads a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"skysync.yaml",
		"/etc/skysync/skysync.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "skysync", "skysync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// TransferTimeout returns the parsed transfer ceiling, falling back to the
// default on a bad value.
func (c *Config) TransferTimeout() time.Duration {
	return parseDuration(c.Sync.TransferTimeout, 10*time.Minute)
}

// SyncInterval returns the parsed auto-sync interval.
func (c *Config) SyncInterval() time.Duration {
	return parseDuration(c.Sync.Interval, 15*time.Minute)
}

// HistoryRetention returns the parsed history retention window.
func (c *Config) HistoryRetention() time.Duration {
	return parseDuration(c.Sync.HistoryRetention, 720*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ProviderEnabled checks if a provider is enabled in the config.
func (c *Config) ProviderEnabled(name string) bool {
	pc, ok := c.Providers[name]
	if !ok {
		return false
	}
	enabled, ok := pc["enabled"]
	if !ok {
		return false
	}
	b, ok := enabled.(bool)
	return ok && b
}

// ParseProviderConfig unmarshals a provider's raw config into a typed struct.
func ParseProviderConfig[T any](raw ProviderConfig) (*T, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshaling provider config: %w", err)
	}
	var typed T
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("parsing provider config: %w", err)
	}
	return &typed, nil
}
