// Package app wires all voxbridge subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the bus worker and HTTP endpoint, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSyncStore,
// WithFacility, etc.). When an option is not provided, New creates real
// implementations from the config through the registry.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dhkwon/voxbridge/internal/bus"
	"github.com/dhkwon/voxbridge/internal/config"
	"github.com/dhkwon/voxbridge/internal/health"
	"github.com/dhkwon/voxbridge/internal/observe"
	"github.com/dhkwon/voxbridge/internal/settings"
	"github.com/dhkwon/voxbridge/internal/surface"
	"github.com/dhkwon/voxbridge/internal/tts"
	"github.com/dhkwon/voxbridge/pkg/speech"
	"github.com/dhkwon/voxbridge/pkg/speech/espeak"
	"github.com/dhkwon/voxbridge/pkg/storage"
	filestore "github.com/dhkwon/voxbridge/pkg/storage/file"
	memorystore "github.com/dhkwon/voxbridge/pkg/storage/memory"
	sqlitestore "github.com/dhkwon/voxbridge/pkg/storage/sqlite"
)

// handoffMaxAge bounds how old a persisted play request may be and still
// be resumed on startup.
const handoffMaxAge = 60 * time.Second

// DefaultRegistry returns a registry with the built-in engines and
// storage drivers registered.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterEngine("espeak", func(config.TTSConfig) (speech.Facility, error) {
		return espeak.New()
	})
	reg.RegisterStore(config.DriverMemory, func(string) (storage.Store, error) {
		return memorystore.New(), nil
	})
	reg.RegisterStore(config.DriverFile, func(path string) (storage.Store, error) {
		return filestore.Open(path)
	})
	reg.RegisterStore(config.DriverSQLite, func(path string) (storage.Store, error) {
		return sqlitestore.Open(path)
	})
	return reg
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	syncStore  storage.Store
	localStore storage.Store
	settings   *settings.Store
	bus        *bus.Bus
	playback   *surface.Playback
	popup      *surface.Popup
	probes     *surface.ProbeDirectory
	facility   speech.Facility
	metrics    *observe.Metrics

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the default engine and driver registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithSyncStore injects the settings store backend instead of creating one
// from config.
func WithSyncStore(s storage.Store) Option {
	return func(a *App) { a.syncStore = s }
}

// WithLocalStore injects the hand-off store backend.
func WithLocalStore(s storage.Store) Option {
	return func(a *App) { a.localStore = s }
}

// WithFacility injects a speech facility instead of creating the
// configured engine.
func WithFacility(f speech.Facility) Option {
	return func(a *App) { a.facility = f }
}

// WithMetrics injects metric instruments instead of creating them from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. ctx bounds
// playback and probe goroutines started later by broadcasts.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStores(); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	a.settings = settings.NewStore(a.syncStore, settings.WithTTL(cfg.Settings.CacheTTL))

	a.bus = bus.New(
		bus.WithDedupWindow(pickDur(cfg.Bus.DedupWindow, bus.DefaultDedupWindow)),
		bus.WithMetrics(a.metrics),
	)

	if err := a.initSpeech(ctx); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	a.popup = surface.NewPopup("popup")
	a.bus.RegisterSurface(a.popup)

	var probes bus.ProbeDirectory
	if cfg.Probe.Enabled {
		a.probes = surface.NewProbeDirectory(ctx, a.bus)
		probes = a.probes
	}

	bus.RegisterCoreHandlers(a.bus, bus.CoreDeps{
		Settings:    a.settings,
		Local:       a.localStore,
		Probes:      probes,
		Permissions: grantedGate{},
	})

	return a, nil
}

// initStores creates the sync and local storage backends.
func (a *App) initStores() error {
	if a.syncStore == nil {
		s, err := a.reg.CreateStore(a.cfg.Storage.Driver, a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("sync store: %w", err)
		}
		a.syncStore = s
		a.closers = append(a.closers, s.Close)
	}
	if a.localStore == nil {
		s, err := a.reg.CreateStore(a.cfg.Storage.LocalDriver, a.cfg.Storage.LocalPath)
		if err != nil {
			return fmt.Errorf("local store: %w", err)
		}
		a.localStore = s
		a.closers = append(a.closers, s.Close)
	}
	return nil
}

// initSpeech creates the configured engine and the playback surface. An
// engine that fails to initialise degrades to text-fallback mode rather
// than aborting startup.
func (a *App) initSpeech(ctx context.Context) error {
	if a.facility == nil {
		fac, err := a.reg.CreateEngine(a.cfg.TTS)
		switch {
		case errors.Is(err, speech.ErrUnsupported):
			slog.Warn("speech engine unavailable, running in text-fallback mode", "engine", a.cfg.TTS.Engine, "error", err)
		case err != nil:
			return err
		default:
			a.facility = fac
		}
	}

	a.playback = surface.NewPlayback(ctx, a.bus, a.facility, tts.Config{
		MaxRetries:    a.cfg.TTS.MaxRetries,
		RetryDelay:    a.cfg.TTS.RetryDelay,
		MaxPoolSize:   a.cfg.TTS.PoolSize,
		TextCacheSize: a.cfg.TTS.TextCacheSize,
		VoicesTTL:     a.cfg.TTS.VoicesTTL,
		Metrics:       a.metrics,
	})
	a.bus.RegisterSurface(a.playback)
	a.closers = append(a.closers, func() error {
		a.playback.Dispose()
		return nil
	})
	return nil
}

// Bus exposes the message bus for surfaces created outside the app.
func (a *App) Bus() *bus.Bus { return a.bus }

// Settings exposes the settings store.
func (a *App) Settings() *settings.Store { return a.settings }

// Popup exposes the built-in UI surface.
func (a *App) Popup() *surface.Popup { return a.popup }

// Probes exposes the probe directory, or nil when probes are disabled.
func (a *App) Probes() *surface.ProbeDirectory { return a.probes }

// Run starts the bus worker, the settings invalidation loop, and the HTTP
// endpoint, then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.bus.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.watchSyncStore(ctx)
		return nil
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error {
			return a.serveHTTP(ctx, addr)
		})
	}

	a.recoverHandoff(ctx)

	slog.Info("app running",
		"engine", a.cfg.TTS.Engine,
		"storage", a.cfg.Storage.Driver,
		"probes", a.cfg.Probe.Enabled,
	)
	return g.Wait()
}

// watchSyncStore invalidates the settings cache when the backing store
// reports an external change to the settings document.
func (a *App) watchSyncStore(ctx context.Context) {
	events := a.syncStore.Watch()
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, okCh := <-events:
			if !okCh {
				return
			}
			if ev.Key == storage.KeyUserSettings {
				slog.Debug("settings changed externally, dropping cache")
				a.settings.Invalidate()
			}
		}
	}
}

// recoverHandoff resumes a play request persisted by a previous process,
// if it is recent enough to still be wanted.
func (a *App) recoverHandoff(ctx context.Context) {
	data, err := a.localStore.Get(ctx, storage.KeyTTSRequest)
	if err != nil {
		return
	}
	req, err := decodeHandoff(data)
	if err != nil {
		slog.Debug("discarding unreadable hand-off record", "error", err)
		return
	}
	age := time.Since(time.UnixMilli(req.Timestamp))
	if age > handoffMaxAge {
		return
	}
	slog.Info("resuming persisted play request", "age", age)
	a.bus.Broadcast(bus.NewMessage(bus.TypeExecute, bus.ExecutePayload{
		Text:    req.Text,
		Options: req.Options,
	}, "recovery"))
}

// serveHTTP exposes /metrics, /healthz, and /readyz until ctx ends.
func (a *App) serveHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.healthCheckers()...).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

// healthCheckers builds the readiness checks for this deployment.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		health.StoreChecker("storage", a.syncStore),
		{
			Name: "settings",
			Check: func(ctx context.Context) error {
				_, err := a.settings.Load(ctx)
				return err
			},
		},
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.RestartRequired {
		slog.Warn("config change to storage or engine requires a restart to take effect")
	}
	if diff.SettingsTTLChanged || diff.BusWindowChanged {
		slog.Warn("settings.cache_ttl and bus.dedup_window apply on next restart")
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects
// the context deadline: if ctx expires before all closers finish, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// grantedGate is the daemon's permission gate: a native process already
// holds its host permissions, so checks and requests always succeed.
type grantedGate struct{}

func (grantedGate) Status(context.Context) (bool, error)  { return true, nil }
func (grantedGate) Request(context.Context) (bool, error) { return true, nil }

// decodeHandoff parses a persisted play request.
func decodeHandoff(data []byte) (bus.TTSRequest, error) {
	var req bus.TTSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return bus.TTSRequest{}, err
	}
	if req.Text == "" {
		return bus.TTSRequest{}, errors.New("app: hand-off record has no text")
	}
	return req, nil
}

func pickDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
