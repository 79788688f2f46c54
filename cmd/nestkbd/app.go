package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nestkbd/internal/config"
	"nestkbd/internal/health"
	"nestkbd/internal/ime"
	"nestkbd/internal/inject"
	"nestkbd/internal/journal"
	"nestkbd/internal/keyboard"
	"nestkbd/internal/layout"
	"nestkbd/internal/logging"
	"nestkbd/internal/metrics"
)

// app owns every long-lived component of one nestkbd process.
type app struct {
	log    *logging.Logger
	logger *slog.Logger

	layout   *layout.Layout
	platform ime.Platform
	injector inject.Injector
	engine   *ime.Engine
	poller   *ime.Poller
	journal  *journal.Journal
	recorder *metrics.Recorder
	registry *prometheus.Registry
	checker  *health.Checker
	kb       *keyboard.Keyboard

	listenAddr string
	server     *http.Server
	listener   net.Listener
	serveDone  chan struct{}

	// reloadDone is closed when the config loader's error stream ends.
	reloadDone chan struct{}

	closeOnce sync.Once
}

func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Output
	lc.FilePath = c.FilePath
	lc.MaxSize = c.MaxSizeMB
	lc.MaxBackups = c.MaxBackups
	return lc, nil
}

// newApp builds the component graph. Backends that cannot be opened fall
// back to the in-memory ones so the keyboard still runs.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{listenAddr: cfg.Metrics.ListenAddr}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	var err error

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lc, err := loggingConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if a.log, err = logging.New(lc); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a.logger = a.log.Logger

	if cfg.Keyboard.LayoutPath != "" {
		a.layout, err = layout.Load(cfg.Keyboard.LayoutPath)
	} else {
		a.layout, err = layout.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	a.platform, err = ime.OpenPlatform(ime.PlatformConfig{
		Backend:          cfg.IME.Backend,
		IBusLatinEngine:  cfg.IME.IBusLatinEngine,
		IBusHangulEngine: cfg.IME.IBusHangulEngine,
	})
	if err != nil {
		a.logger.Warn("ime backend unavailable; using static backend",
			"backend", cfg.IME.Backend, "error", err)
		a.platform = ime.NewStatic(ime.Base)
	}

	a.injector, err = inject.Open(cfg.Keyboard.Inject, a.layout.Codes())
	if err != nil {
		a.logger.Warn("key injection unavailable; recording only",
			"backend", cfg.Keyboard.Inject, "error", err)
		a.injector = inject.NewRecorder()
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cols, err := metrics.NewCollectors(a.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.recorder = metrics.NewRecorder(metrics.Options{
		Capacity:      cfg.Metrics.Capacity,
		MaxErrorRate:  cfg.Metrics.MaxErrorRate,
		MaxLatency:    cfg.Metrics.MaxLatency(),
		CheckInterval: cfg.Metrics.CheckInterval(),
		Collectors:    cols,
	})

	observers := ime.Observers{cols}
	if cfg.Journal.Enabled {
		a.journal, err = journal.Open(cfg.Journal.Path, a.log.WithComponent("journal"))
		if err != nil {
			a.logger.Warn("journal unavailable", "path", cfg.Journal.Path, "error", err)
		} else {
			observers = append(observers, a.journal)
		}
	}

	a.engine = ime.NewWithPlatform(a.platform, ime.Options{
		SyncInterval:     cfg.IME.SyncInterval(),
		ReadAttempts:     cfg.IME.ReadAttempts,
		RetryDelay:       cfg.IME.RetryDelay(),
		FailureThreshold: cfg.IME.FailureThreshold,
		Logger:           a.log.WithComponent("ime"),
		Observer:         observers,
	})
	a.engine.Initialize(ctx)

	a.kb = keyboard.New(a.layout, a.engine, a.injector, keyboard.Options{
		Logger:    a.log.WithComponent("keyboard"),
		Metrics:   a.recorder,
		ShiftKeys: cfg.Keyboard.ShiftKeys,
		LongPress: time.Duration(cfg.Keyboard.LongPressMS) * time.Millisecond,
	})

	a.checker = health.NewChecker(nil)
	a.checker.RegisterFunc("keyboard", true, health.ReporterCheck(a.kb))
	a.checker.RegisterFunc("ime", false, health.IMECheck(a.engine))
	if a.journal != nil {
		a.checker.RegisterFunc("journal", false, health.PingCheck("journal", a.journal.Ping))
	}

	a.logger.Info("nestkbd ready",
		"layout", a.layout.Name,
		"keys", len(a.layout.Keys),
		"ime_backend", a.platform.Name(),
		"ime_mode", a.engine.Mode().String(),
		"journal", a.journal != nil,
	)
	built = true
	return a, nil
}

// start launches the background sync loop and marks the process ready.
func (a *app) start(ctx context.Context) {
	a.poller = ime.NewPoller(a.engine)
	a.poller.Start(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-a.poller.Updates():
				if !ok {
					return
				}
				a.logger.Info("ime mode changed", "mode", m.String())
			}
		}
	}()
	a.checker.SetReady(true)
}

// watchConfig applies hot-reloadable settings: log level and health
// thresholds. Everything else needs a restart. Rejected reloads are logged
// until the loader is closed.
func (a *app) watchConfig(l *config.Loader) {
	l.OnChange(func(cfg *config.Config) {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			a.log.SetLevel(level)
		}
		a.recorder.SetThresholds(cfg.Metrics.MaxErrorRate, cfg.Metrics.MaxLatency())
		a.logger.Info("config reloaded",
			"log_level", cfg.Logging.Level,
			"max_error_rate", cfg.Metrics.MaxErrorRate,
			"max_latency_ms", cfg.Metrics.MaxLatencyMS,
		)
	})
	if err := l.Watch(); err != nil {
		a.logger.Warn("config hot reload disabled", "path", l.Path(), "error", err)
		return
	}
	a.reloadDone = make(chan struct{})
	go func() {
		defer close(a.reloadDone)
		for err := range l.Errors() {
			a.logger.Warn("config reload rejected", "error", err)
		}
	}()
}

// serve starts the metrics and health endpoint when an address is set.
func (a *app) serve() error {
	if a.listenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.listenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.checker.Mount(mux)

	a.listener = ln
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.serveDone = make(chan struct{})
	go func() {
		defer close(a.serveDone)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// Close lifts held keys and releases every component in reverse order.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.checker != nil {
			a.checker.SetReady(false)
		}
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = a.server.Shutdown(ctx)
			cancel()
			<-a.serveDone
		}
		if a.poller != nil {
			a.poller.Stop()
		}
		if a.kb != nil {
			_ = a.kb.Close()
		}
		if a.injector != nil {
			if err := a.injector.Close(); err != nil && a.logger != nil {
				a.logger.Warn("close injector", "error", err)
			}
		}
		if a.platform != nil {
			_ = a.platform.Close()
		}
		if a.journal != nil {
			_ = a.journal.Close()
		}
		if a.log != nil {
			_ = a.log.Close()
		}
	})
}
