package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied when the config file or individual keys are missing.
const (
	DefaultPollIntervalSeconds = 5
	DefaultStoreURL            = "https://kyodo.supabase.co"
	DefaultBackendURL          = "http://localhost:8000"
)

// Platform holds the endpoints and key for the hosted platform.
type Platform struct {
	StoreURL   string `toml:"store_url"`
	BackendURL string `toml:"backend_url"`
	AnonKey    string `toml:"anon_key"`
}

// Config represents the global ~/.dealdesk/config.toml.
type Config struct {
	DefaultSession      string   `toml:"default_session"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Platform            Platform `toml:"platform"`
}

// PollInterval returns the message poll period.
func (c *Config) PollInterval() time.Duration {
	s := c.PollIntervalSeconds
	if s <= 0 {
		s = DefaultPollIntervalSeconds
	}
	return time.Duration(s) * time.Second
}

// Load reads config from the given path and applies environment overrides.
// A missing file is not an error; defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := &Config{
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		Platform: Platform{
			StoreURL:   DefaultStoreURL,
			BackendURL: DefaultBackendURL,
		},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv layers DEALDESK_* variables (and a .env file in the working
// directory, if present) over the file config.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("DEALDESK_STORE_URL"); v != "" {
		cfg.Platform.StoreURL = v
	}
	if v := os.Getenv("DEALDESK_BACKEND_URL"); v != "" {
		cfg.Platform.BackendURL = v
	}
	if v := os.Getenv("DEALDESK_ANON_KEY"); v != "" {
		cfg.Platform.AnonKey = v
	}
	if v := os.Getenv("DEALDESK_SESSION"); v != "" {
		cfg.DefaultSession = v
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
