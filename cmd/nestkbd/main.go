// nestkbd - on-screen keyboard core with IME mode mirroring
//
// nestkbd runs the keyboard engine without a renderer. Key gestures are
// read as commands on standard input:
//
//	press <key>     Press a key (hold until release)
//	release <key>   Release a key
//	tap <key>       Press and release a key
//	type <text>     Tap the keys that type text (Hangul as two-set keys)
//	hover <key>     Move the pointer over a key ("hover -" clears it)
//	label <key>     Print the label a key shows now
//	state <key>     Print a key's state, color and history
//	keys [state]    List keys, optionally only those in a state
//	ime             Print the IME mirror state
//	health          Print the health report
//	journal [n]     Print journal counts and the latest n sync events
//	quit            Exit
//
// With -metrics-addr, Prometheus metrics are served on /metrics and health
// on /healthz, /livez and /readyz.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"nestkbd/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file (TOML, JSON or YAML)")
	dryRun := flag.Bool("dry-run", false, "Record key events and simulate the IME instead of touching the OS")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics and /healthz on this address")
	layoutPath := flag.String("layout", "", "Path to a layout JSON file")
	initOnly := flag.Bool("init-config", false, "Write a default config file if none exists, then exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("nestkbd %s\n", Version)
		return
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	if *initOnly {
		if err := initConfig(path, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	loader := config.NewLoader(path)
	cfg, err := effectiveConfig(loader, overrides{
		dryRun:      *dryRun,
		metricsAddr: *metricsAddr,
		layoutPath:  *layoutPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loader); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// overrides are the command-line settings that take precedence over the
// config file.
type overrides struct {
	dryRun      bool
	metricsAddr string
	layoutPath  string
}

// effectiveConfig loads the config file and applies o to a copy, so the
// loader keeps the file's own values.
func effectiveConfig(l *config.Loader, o overrides) (*config.Config, error) {
	loaded, err := l.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", l.Path(), err)
	}
	cfg := loaded.Clone()
	if o.dryRun {
		cfg.IME.Backend = "static"
		cfg.Keyboard.Inject = "record"
	}
	if o.metricsAddr != "" {
		cfg.Metrics.ListenAddr = o.metricsAddr
	}
	if o.layoutPath != "" {
		cfg.Keyboard.LayoutPath = o.layoutPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initConfig writes the default config to path unless a valid one exists.
func initConfig(path string, out io.Writer) error {
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "wrote default config to %s\n", path)
		return nil
	}
	fmt.Fprintf(out, "config %s already exists\n", path)
	return nil
}

func run(ctx context.Context, cfg *config.Config, loader *config.Loader) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.watchConfig(loader)
	defer loader.Close()

	if err := a.serve(); err != nil {
		return err
	}
	a.start(ctx)

	c := newConsole(a, os.Stdout)
	return c.Run(ctx, os.Stdin)
}

func usage() {
	fmt.Fprintf(os.Stderr, `nestkbd - on-screen keyboard core with IME mode mirroring

USAGE:
    nestkbd [options]

OPTIONS:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
COMMANDS (on stdin):
    press <key>      Press a key
    release <key>    Release a key
    tap <key>        Press and release a key
    type <text>      Tap the keys that type text
    hover <key|->    Hover a key, or clear the hover
    label <key>      Show a key's current label
    state <key>      Show a key's state, color and history
    keys [state]     List keys, optionally only those in a state
    ime              Show the IME mirror state
    health           Show the health report
    journal [n]      Show journal counts and the latest sync events
    quit             Exit

EXAMPLES:
    nestkbd -init-config
    nestkbd -dry-run
    nestkbd -config ~/.config/nestkbd/config.toml -metrics-addr 127.0.0.1:9464
`)
}
