// Package config handles configuration loading and validation for nestkbd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete nestkbd configuration.
type Config struct {
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`

	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`
	IME      IMEConfig      `toml:"ime" json:"ime" yaml:"ime"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
	Journal  JournalConfig  `toml:"journal" json:"journal" yaml:"journal"`
}

// KeyboardConfig configures the key grid and the injector.
type KeyboardConfig struct {
	// LayoutPath points at a layout JSON file. Empty selects the built-in
	// QWERTY + Dubeolsik layout.
	LayoutPath string `toml:"layout_path" json:"layout_path" yaml:"layout_path"`

	// LongPressMS overrides the layout's long-press threshold when positive.
	LongPressMS int `toml:"long_press_ms" json:"long_press_ms" yaml:"long_press_ms"`

	// Inject selects the injection backend: "auto", "record", "uinput"
	// or "keybd_event".
	Inject string `toml:"inject" json:"inject" yaml:"inject"`

	// ShiftKeys lists the key ids that select shifted labels.
	ShiftKeys []string `toml:"shift_keys" json:"shift_keys" yaml:"shift_keys"`
}

// IMEConfig configures the IME mirror and its backend.
type IMEConfig struct {
	// Backend selects the IME backend: "auto", "static", "ibus" or "imm".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	SyncIntervalMS   int `toml:"sync_interval_ms" json:"sync_interval_ms" yaml:"sync_interval_ms"`
	ReadAttempts     int `toml:"read_attempts" json:"read_attempts" yaml:"read_attempts"`
	RetryDelayMS     int `toml:"retry_delay_ms" json:"retry_delay_ms" yaml:"retry_delay_ms"`
	FailureThreshold int `toml:"failure_threshold" json:"failure_threshold" yaml:"failure_threshold"`

	IBusLatinEngine  string `toml:"ibus_latin_engine" json:"ibus_latin_engine" yaml:"ibus_latin_engine"`
	IBusHangulEngine string `toml:"ibus_hangul_engine" json:"ibus_hangul_engine" yaml:"ibus_hangul_engine"`
}

// MetricsConfig configures the operation recorder and the metrics endpoint.
type MetricsConfig struct {
	Capacity        int     `toml:"capacity" json:"capacity" yaml:"capacity"`
	MaxErrorRate    float64 `toml:"max_error_rate" json:"max_error_rate" yaml:"max_error_rate"`
	MaxLatencyMS    int     `toml:"max_latency_ms" json:"max_latency_ms" yaml:"max_latency_ms"`
	CheckIntervalMS int     `toml:"check_interval_ms" json:"check_interval_ms" yaml:"check_interval_ms"`

	// ListenAddr serves /metrics and /healthz. Empty disables the server.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// JournalConfig configures the IME sync journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Keyboard: KeyboardConfig{
			Inject:    "auto",
			ShiftKeys: []string{"shift"},
		},
		IME: IMEConfig{
			Backend:          "auto",
			SyncIntervalMS:   500,
			ReadAttempts:     3,
			RetryDelayMS:     100,
			FailureThreshold: 3,
			IBusLatinEngine:  "xkb:us::eng",
			IBusHangulEngine: "hangul",
		},
		Metrics: MetricsConfig{
			Capacity:        100,
			MaxErrorRate:    0.10,
			MaxLatencyMS:    100,
			CheckIntervalMS: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "nestkbd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(PlatformDataDir(), "journal.db"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if v := os.Getenv("NESTKBD_CONFIG"); v != "" {
		return v
	}
	return FindConfigFile()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var dirs []string
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with NESTKBD_ and use underscores.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("NESTKBD_LAYOUT"); v != "" {
		c.Keyboard.LayoutPath = v
	}
	if v := os.Getenv("NESTKBD_INJECT"); v != "" {
		c.Keyboard.Inject = v
	}
	if v := os.Getenv("NESTKBD_IME_BACKEND"); v != "" {
		c.IME.Backend = v
	}
	envInt("NESTKBD_IME_SYNC_INTERVAL_MS", &c.IME.SyncIntervalMS)
	envInt("NESTKBD_IME_FAILURE_THRESHOLD", &c.IME.FailureThreshold)

	if v := os.Getenv("NESTKBD_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}

	if v := os.Getenv("NESTKBD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NESTKBD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("NESTKBD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("NESTKBD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
		c.Journal.Enabled = true
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Keyboard: c.Keyboard,
		IME:      c.IME,
		Metrics:  c.Metrics,
		Logging:  c.Logging,
		Journal:  c.Journal,
	}
	clone.Keyboard.ShiftKeys = append([]string{}, c.Keyboard.ShiftKeys...)
	return clone
}

// SyncInterval returns the IME sync interval as a duration.
func (c *IMEConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMS) * time.Millisecond
}

// RetryDelay returns the IME retry delay as a duration.
func (c *IMEConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// MaxLatency returns the latency threshold as a duration.
func (c *MetricsConfig) MaxLatency() time.Duration {
	return time.Duration(c.MaxLatencyMS) * time.Millisecond
}

// CheckInterval returns the health check cache interval as a duration.
func (c *MetricsConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

// Save writes the configuration to path, encoding by extension.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	switch filepath.Ext(path) {
	case ".json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(c)
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(c)
		if err == nil {
			err = enc.Close()
		}
	default:
		err = toml.NewEncoder(f).Encode(c)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
