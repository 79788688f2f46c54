package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.IME.SyncInterval() != 500*time.Millisecond {
		t.Errorf("sync interval = %v, want 500ms", cfg.IME.SyncInterval())
	}
	if cfg.IME.ReadAttempts != 3 || cfg.IME.FailureThreshold != 3 {
		t.Errorf("unexpected ime defaults: %+v", cfg.IME)
	}
	if cfg.Metrics.Capacity != 100 || cfg.Metrics.MaxErrorRate != 0.10 {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Metrics.MaxLatency() != 100*time.Millisecond {
		t.Errorf("max latency = %v, want 100ms", cfg.Metrics.MaxLatency())
	}
	if len(cfg.Keyboard.ShiftKeys) != 1 || cfg.Keyboard.ShiftKeys[0] != "shift" {
		t.Errorf("shift keys = %v", cfg.Keyboard.ShiftKeys)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled by default")
	}
}

func TestConfigPathEnvOverride(t *testing.T) {
	t.Setenv("NESTKBD_CONFIG", "/tmp/custom.yaml")
	if got := ConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("ConfigPath() = %s", got)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("NESTKBD_DATA_DIR", dir)

	got := FindConfigFile()
	if !strings.HasSuffix(got, "config.toml") {
		t.Errorf("expected default toml path, got %s", got)
	}
	if !strings.HasPrefix(got, dir) {
		t.Errorf("expected path under %s, got %s", dir, got)
	}

	cfgDir := PlatformConfigDir()
	if err := os.MkdirAll(cfgDir, 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(cfgDir, "config.yaml"), "ime:\n  backend: static\n")
	if got := FindConfigFile(); filepath.Base(got) != "config.yaml" {
		t.Errorf("expected config.yaml, got %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IME.Backend != "auto" {
		t.Errorf("expected defaults, got backend %q", cfg.IME.Backend)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[ime]
backend = "static"
sync_interval_ms = 250

[metrics]
listen_addr = "127.0.0.1:9090"
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"ime": {"backend": "static", "sync_interval_ms": 250}, "metrics": {"listen_addr": "127.0.0.1:9090"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
ime:
  backend: static
  sync_interval_ms: 250
metrics:
  listen_addr: 127.0.0.1:9090
`,
		},
		{
			name: "unknown extension parsed as toml",
			file: "nestkbd.conf",
			content: `
[ime]
backend = "static"
sync_interval_ms = 250
[metrics]
listen_addr = "127.0.0.1:9090"
`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.IME.Backend != "static" {
				t.Errorf("backend = %q", cfg.IME.Backend)
			}
			if cfg.IME.SyncIntervalMS != 250 {
				t.Errorf("sync interval = %d", cfg.IME.SyncIntervalMS)
			}
			if cfg.Metrics.ListenAddr != "127.0.0.1:9090" {
				t.Errorf("listen addr = %q", cfg.Metrics.ListenAddr)
			}
			// Unset fields keep their defaults.
			if cfg.IME.ReadAttempts != 3 {
				t.Errorf("read attempts = %d, want default 3", cfg.IME.ReadAttempts)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[ime\nbackend = ")
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NESTKBD_IME_BACKEND", "static")
	t.Setenv("NESTKBD_IME_SYNC_INTERVAL_MS", "750")
	t.Setenv("NESTKBD_IME_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("NESTKBD_LOG_LEVEL", "debug")
	t.Setenv("NESTKBD_JOURNAL_PATH", "/tmp/j.db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.IME.Backend != "static" {
		t.Errorf("backend = %q", cfg.IME.Backend)
	}
	if cfg.IME.SyncIntervalMS != 750 {
		t.Errorf("sync interval = %d", cfg.IME.SyncIntervalMS)
	}
	if cfg.IME.FailureThreshold != 3 {
		t.Errorf("malformed override should be ignored, got %d", cfg.IME.FailureThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/j.db" {
		t.Errorf("journal = %+v", cfg.Journal)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"inject backend", func(c *Config) { c.Keyboard.Inject = "xdotool" }, "keyboard.inject"},
		{"negative long press", func(c *Config) { c.Keyboard.LongPressMS = -1 }, "keyboard.long_press_ms"},
		{"empty shift key", func(c *Config) { c.Keyboard.ShiftKeys = []string{" "} }, "keyboard.shift_keys[0]"},
		{"ime backend", func(c *Config) { c.IME.Backend = "fcitx" }, "ime.backend"},
		{"zero interval", func(c *Config) { c.IME.SyncIntervalMS = 0 }, "ime.sync_interval_ms"},
		{"too many attempts", func(c *Config) { c.IME.ReadAttempts = 11 }, "ime.read_attempts"},
		{"zero threshold", func(c *Config) { c.IME.FailureThreshold = 0 }, "ime.failure_threshold"},
		{"ibus engine", func(c *Config) { c.IME.Backend = "ibus"; c.IME.IBusHangulEngine = "" }, "ime.ibus_hangul_engine"},
		{"error rate", func(c *Config) { c.Metrics.MaxErrorRate = 1.5 }, "metrics.max_error_rate"},
		{"listen addr", func(c *Config) { c.Metrics.ListenAddr = "nope" }, "metrics.listen_addr"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"journal path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }, "journal.path"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should match ErrInvalidConfig: %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			fields := verrs.Fields()
			if len(fields) != 1 || fields[0] != tt.field {
				t.Errorf("fields = %v, want [%s]", fields, tt.field)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "nestkbd.log")
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "data", "journal.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"logs", "data"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", sub)
		}
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Keyboard.ShiftKeys[0] = "rshift"
	clone.IME.Backend = "static"

	if cfg.Keyboard.ShiftKeys[0] != "shift" {
		t.Error("clone shares shift keys with original")
	}
	if cfg.IME.Backend != "auto" {
		t.Error("clone shares ime section with original")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		name := name
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.IME.Backend = "static"
			cfg.Metrics.Capacity = 42

			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.IME.Backend != "static" || loaded.Metrics.Capacity != 42 {
				t.Errorf("round trip lost values: %+v %+v", loaded.IME, loaded.Metrics)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (existing): %v", err)
	}
	if created {
		t.Error("existing file should not be recreated")
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[ime]\nread_attempts = 0\n")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if l.Config() != nil {
		t.Error("invalid config should not be stored")
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	defer l.Close()

	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if l.Config().Logging.Level != "debug" {
		t.Error("Config() not updated after reload")
	}

	// An invalid edit is reported and the previous config stays.
	writeFile(t, path, "[logging]\nlevel = \"loud\"\n")
	select {
	case err := <-l.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if l.Config().Logging.Level != "debug" {
		t.Error("invalid reload replaced config")
	}
}

func TestLoaderCloseEndsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		for range l.Errors() {
		}
		close(drained)
	}()

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("Errors() still open after Close")
	}

	// Late reports and a second Close must not panic.
	l.report(errors.New("late"))
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
