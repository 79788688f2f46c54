package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestkbd/internal/config"
	"nestkbd/internal/ime"
	"nestkbd/internal/inject"
	"nestkbd/internal/layout"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.IME.Backend = "static"
	cfg.Keyboard.Inject = "record"
	cfg.Logging.Level = "error"
	cfg.IME.SyncIntervalMS = 60000
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func runScript(t *testing.T, a *app, script string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, newConsole(a, &out).Run(ctx, strings.NewReader(script)))
	return out.String()
}

func TestConsoleDrivesKeyboard(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	out := runScript(t, a, strings.Join([]string{
		"label a",
		"press shift",
		"label a",
		"tap a",
		"release shift",
		"press hangul",
		"label a",
		"ime",
		"press nope",
		"bogus",
		"quit",
		"label a",
	}, "\n"))

	assert.Contains(t, out, "a: a\n")
	assert.Contains(t, out, "a: A\n")
	assert.Contains(t, out, "shift: pressed")
	assert.Contains(t, out, "a: ㅁ\n")
	assert.Contains(t, out, `ime: korean (synced, failures=0, context="static")`)
	assert.Contains(t, out, "error: ")
	assert.Contains(t, out, "unknown key")
	assert.Contains(t, out, `unknown command "bogus"`)
	// Nothing after quit runs.
	assert.Equal(t, 2, strings.Count(out, "a: ㅁ")+strings.Count(out, "a: A\n"))

	rec, ok := a.injector.(*inject.Recorder)
	require.True(t, ok)
	assert.Equal(t, []string{"shift-down", "a-down", "a-up", "shift-up"}, rec.Trace())
}

func TestConsoleStopsAtEOF(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	out := runScript(t, a, "hover a\nstate a\n")
	assert.Contains(t, out, "a: hover")
	assert.Contains(t, out, "history: normal")
}

func TestJournalRecordsEngineEvents(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.NotNil(t, a.journal)

	runScript(t, a, "tap hangul\nquit\n")

	entries, err := a.journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ime.EventToggled, entries[0].Kind)
	assert.Equal(t, ime.EventInitialized, entries[1].Kind)
}

func TestServeMetricsAndHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	a := newTestApp(t, cfg)
	require.NoError(t, a.serve())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)

	runScript(t, a, "tap a\nquit\n")

	base := "http://" + a.listener.Addr().String()
	get := func(path string) (int, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `nestkbd_operation_duration_seconds_count{op="press"} 1`)
	assert.Contains(t, body, `nestkbd_ime_events_total{kind="initialized"} 1`)

	code, body = get("/healthz?full=true")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"journal"`)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestConfigReloadAppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := testConfig(t)
	require.NoError(t, cfg.Save(path))

	loader := config.NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)
	defer loader.Close()

	a := newTestApp(t, cfg)
	a.watchConfig(loader)
	require.Equal(t, slog.LevelError, a.log.Level())

	cfg.Logging.Level = "debug"
	cfg.Metrics.MaxErrorRate = 0.5
	require.NoError(t, cfg.Save(path))

	assert.Eventually(t, func() bool {
		return a.log.Level() == slog.LevelDebug
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConfigWatchEndsWithLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := testConfig(t)
	require.NoError(t, cfg.Save(path))

	loader := config.NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	a := newTestApp(t, cfg)
	a.watchConfig(loader)
	require.NotNil(t, a.reloadDone)

	require.NoError(t, loader.Close())
	select {
	case <-a.reloadDone:
	case <-time.After(5 * time.Second):
		t.Fatal("reload error logger still running after loader close")
	}
}

func TestLongPressSettingLeavesLayoutAlone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keyboard.LongPressMS = 250
	a := newTestApp(t, cfg)

	def, err := layout.Default()
	require.NoError(t, err)
	assert.Equal(t, def.LongPressMS, a.layout.LongPressMS)
}

func TestEffectiveConfigCopiesLoadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, testConfig(t).Save(path))
	loader := config.NewLoader(path)

	cfg, err := effectiveConfig(loader, overrides{dryRun: true, metricsAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.ListenAddr)
	assert.Equal(t, "record", cfg.Keyboard.Inject)

	assert.Empty(t, loader.Config().Metrics.ListenAddr, "flags must not leak into the loader's config")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nestkbd", "config.toml")

	var out bytes.Buffer
	require.NoError(t, initConfig(path, &out))
	assert.Contains(t, out.String(), "wrote default config")

	out.Reset()
	require.NoError(t, initConfig(path, &out))
	assert.Contains(t, out.String(), "already exists")

	_, err := config.Load(path)
	require.NoError(t, err)
}

func TestConsoleTypesAndReportsJournal(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	out := runScript(t, a, strings.Join([]string{
		"type 안녕",
		"type",
		"keys locked",
		"press shift",
		"keys pressed",
		"keys sticky",
		"release shift",
		"journal 1",
		"health",
		"quit",
	}, "\n"))

	assert.Contains(t, out, `typed "dkssud"`)
	assert.Contains(t, out, "usage: type <text>")
	assert.Contains(t, out, "shift\n")
	assert.Contains(t, out, `unknown key state "sticky"`)
	assert.Contains(t, out, "journal run "+a.journal.RunID().String()+": initialized=1")
	assert.Contains(t, out, " this initialized english failures=0")
	assert.Contains(t, out, "  ime: healthy")

	rec, ok := a.injector.(*inject.Recorder)
	require.True(t, ok)
	assert.Equal(t, []string{
		"d-down", "d-up", "k-down", "k-up", "s-down", "s-up",
		"s-down", "s-up", "u-down", "u-up", "d-down", "d-up",
		"shift-down", "shift-up",
	}, rec.Trace())
}
