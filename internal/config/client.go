package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	StorePath      string        `yaml:"store_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TokenPrefix    string        `yaml:"token_prefix"`
	LogLevel       string        `yaml:"log_level"`

	Outbox struct {
		DrainInterval time.Duration `yaml:"drain_interval"`
		MaxBackoff    time.Duration `yaml:"max_backoff"`
		MaxAttempts   int           `yaml:"max_attempts"`
		EntryTimeout  time.Duration `yaml:"entry_timeout"`
	} `yaml:"outbox"`

	Probe struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"probe"`

	Cache struct {
		Version           int           `yaml:"version"`
		MaxDynamicEntries int           `yaml:"max_dynamic_entries"`
		NetworkTimeout    time.Duration `yaml:"network_timeout"`
	} `yaml:"cache"`
}

func DefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{
		ServerURL:      "http://localhost:8080",
		StorePath:      "laundry-client.db",
		RequestTimeout: 10 * time.Second,
		TokenPrefix:    "LB",
		LogLevel:       "info",
	}
	cfg.Outbox.DrainInterval = 30 * time.Second
	cfg.Outbox.MaxBackoff = 5 * time.Minute
	cfg.Outbox.MaxAttempts = 5
	cfg.Outbox.EntryTimeout = 10 * time.Second
	cfg.Probe.Interval = 5 * time.Second
	cfg.Cache.Version = 1
	cfg.Cache.MaxDynamicEntries = 50
	cfg.Cache.NetworkTimeout = 5 * time.Second
	return cfg
}

// LoadClient reads the YAML file at path on top of the defaults. A missing
// file is not an error. LAUNDRY_SERVER_URL and LAUNDRY_STORE_PATH override
// the file.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: invalid client config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("LAUNDRY_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("LAUNDRY_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}

	if cfg.Outbox.MaxAttempts < 1 {
		return nil, fmt.Errorf("config: outbox.max_attempts must be positive, got %d", cfg.Outbox.MaxAttempts)
	}
	if cfg.Cache.MaxDynamicEntries < 1 {
		return nil, fmt.Errorf("config: cache.max_dynamic_entries must be positive, got %d", cfg.Cache.MaxDynamicEntries)
	}

	return cfg, nil
}
