package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it round-trips through TOML as a string
// like "2s" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the global ~/.messageai/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Sync         SyncConfig         `toml:"sync"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Remote       RemoteConfig       `toml:"remote"`
	AI           AIConfig           `toml:"ai"`
	Push         PushConfig         `toml:"push"`
}

// SyncConfig tunes the sync engine's retry behaviour. The backoff for an
// entry on its nth retryable failure is base_delay * 2^min(n, exponent_cap),
// jittered by ±jitter_fraction.
type SyncConfig struct {
	BaseDelay      Duration `toml:"base_delay"`
	ExponentCap    int      `toml:"exponent_cap"`
	MaxAttempts    int      `toml:"max_attempts"`
	JitterFraction float64  `toml:"jitter_fraction"`
	WakeInterval   Duration `toml:"wake_interval"`
}

// ConnectivityConfig tunes the reachability prober.
type ConnectivityConfig struct {
	ProbeAddr     string   `toml:"probe_addr"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// RemoteConfig tunes the remote store adapter.
type RemoteConfig struct {
	// DeleteChunkSize is the remote store's per-request item limit for
	// batched deletes.
	DeleteChunkSize int `toml:"delete_chunk_size"`
}

// AIConfig configures the inference endpoints.
type AIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// WindowCap bounds how many recent messages are sent to the
	// summarization/sentiment/action-item endpoints.
	WindowCap int      `toml:"window_cap"`
	Timeout   Duration `toml:"timeout"`
}

// PushConfig configures the push-notification dispatch service.
type PushConfig struct {
	Endpoint string   `toml:"endpoint"`
	Timeout  Duration `toml:"timeout"`
}

// Default returns a config populated with defaults for every tunable.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			BaseDelay:      Duration{2 * time.Second},
			ExponentCap:    6,
			MaxAttempts:    3,
			JitterFraction: 0.2,
			WakeInterval:   Duration{30 * time.Second},
		},
		Connectivity: ConnectivityConfig{
			ProbeAddr:     "one.one.one.one:443",
			ProbeInterval: Duration{3 * time.Second},
			ProbeTimeout:  Duration{2 * time.Second},
		},
		Remote: RemoteConfig{
			DeleteChunkSize: 500,
		},
		AI: AIConfig{
			WindowCap: 100,
			Timeout:   Duration{30 * time.Second},
		},
		Push: PushConfig{
			Timeout: Duration{10 * time.Second},
		},
	}
}

// Load reads config from the given path, layered over Default. Returns an
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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
