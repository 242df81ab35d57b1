// Package app wires all qjm subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads the rule data, opens the
// state store and builds the wargame and its HTTP and MCP surfaces, Run
// serves until the context is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/qjm/internal/api"
	"github.com/MrWong99/qjm/internal/config"
	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/health"
	"github.com/MrWong99/qjm/internal/lookup"
	"github.com/MrWong99/qjm/internal/mcp/mcpserver"
	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/resilience"
	"github.com/MrWong99/qjm/internal/scenario"
	"github.com/MrWong99/qjm/internal/store"
	"github.com/MrWong99/qjm/internal/toe"
)

// readHeaderTimeout bounds slow clients on the API listener.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	configPath    string
	watchInterval time.Duration
	level         *slog.LevelVar
	metrics       *observe.Metrics
	registry      *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	storeSet bool
	hub      *api.Hub
	wargame  *scenario.Wargame
	mcp      *mcpserver.Server
	watcher  *config.Watcher
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a state store instead of creating one from config. A
// nil store runs without persistence.
func WithStore(s store.Store) Option {
	return func(a *App) {
		a.store = s
		a.storeSet = true
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces [config.DefaultRegistry] for store creation.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithConfigWatch hot-reloads the config file at path while Run is active.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithLevelVar lets config reloads change the log level of the handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Rule data is loaded
// synchronously; a data error or an unloadable start scenario fails New.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}

	// ── 1. Rule data ─────────────────────────────────────────────────────
	deps, tables, err := loadLibrary(ctx, cfg.Data, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("app: load data: %w", err)
	}

	// ── 2. State store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Event hub ─────────────────────────────────────────────────────
	a.hub = api.NewHub(a.metrics)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 4. Wargame ───────────────────────────────────────────────────────
	wopts := []scenario.Option{
		scenario.WithMetrics(a.metrics),
		scenario.WithNotifier(a.hub),
		scenario.WithSeed(cfg.Scenario.Seed),
	}
	if a.store != nil {
		wopts = append(wopts, scenario.WithStore(a.store))
	}
	a.wargame = scenario.New(cfg.Data.ScenariosDir, deps, tables, wopts...)
	if name := cfg.Scenario.Name; name != "" {
		if err := a.wargame.LoadScenario(ctx, name); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: load scenario %q: %w", name, err)
		}
	}

	// ── 5. MCP server ────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcp = mcpserver.New(a.wargame, a.metrics)
	}

	// ── 6. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	// ── 7. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		var watchOpts []config.WatcherOption
		if a.watchInterval > 0 {
			watchOpts = append(watchOpts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, watchOpts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// loadLibrary reads the lookup tables, the equipment catalog and the TOE
// templates from the configured directories.
func loadLibrary(ctx context.Context, d config.DataConfig, m *observe.Metrics) (scenario.Deps, *lookup.Set, error) {
	tables, err := lookup.LoadSet(d.TablesDir)
	if err != nil {
		return scenario.Deps{}, nil, err
	}
	cat, err := equipment.Load(ctx, d.WeaponsDir, d.VehiclesDir, equipment.CurvesFrom(tables))
	if err != nil {
		return scenario.Deps{}, nil, err
	}
	db, err := toe.Load(ctx, d.LINDir, d.TOEDir)
	if err != nil {
		return scenario.Deps{}, nil, err
	}

	nw, nv := cat.Len()
	m.CatalogItems.Record(ctx, int64(nw), metric.WithAttributes(observe.Attr("kind", "weapon")))
	m.CatalogItems.Record(ctx, int64(nv), metric.WithAttributes(observe.Attr("kind", "vehicle")))
	slog.Info("rule data loaded", "weapons", nw, "vehicles", nv, "templates", len(db.TemplateIDs()))

	return scenario.Deps{Catalog: cat, Templates: db}, tables, nil
}

// initStore opens the configured store unless one was injected. A degraded
// fallback store is used with a warning.
func (a *App) initStore(ctx context.Context) error {
	if a.storeSet {
		return nil
	}
	a.registry.OnBreakerChange(func(backend string, _, to resilience.State) {
		a.metrics.RecordBreakerTransition(context.Background(), backend, to.String())
	})
	s, err := a.registry.CreateStore(ctx, a.cfg.Store)
	switch {
	case errors.Is(err, config.ErrDegraded) && s != nil:
		slog.Warn("state store degraded", "backend", a.cfg.Store.Backend, "err", err)
	case err != nil:
		return err
	}
	if s == nil {
		slog.Warn("no state store configured, save and restore are disabled")
		return nil
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("state store ready", "backend", a.cfg.Store.Backend)
	return nil
}

// routes builds the instrumented HTTP handler.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	api.New(a.wargame, api.WithHub(a.hub)).Register(mux)

	checks := []health.Checker{health.ScenarioLoaded(a.wargame.Loaded)}
	if fb, ok := a.store.(*store.Fallback); ok {
		checks = append(checks, health.Breakers("store", fb.States))
	}
	health.New(checks...).Register(mux)

	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, promhttp.Handler())

	if a.mcp != nil && a.cfg.MCP.Transport == mcpserver.TransportHTTP {
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
	}

	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the instrumented HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Wargame returns the wargame served by the app.
func (a *App) Wargame() *scenario.Wargame { return a.wargame }

// ─── Config reload ───────────────────────────────────────────────────────────

// onConfigChange applies the parts of a reloaded config that can change
// without a restart.
func (a *App) onConfigChange(ch config.Change) {
	ctx := context.Background()
	d, old, new := ch.Diff, ch.Old, ch.New

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change takes effect after restart", "section", section)
	}

	if d.DataChanged {
		if old.Data.ScenariosDir != new.Data.ScenariosDir {
			slog.Warn("config change takes effect after restart", "section", "data.scenarios_dir")
		}
		deps, tables, err := loadLibrary(ctx, new.Data, a.metrics)
		if err != nil {
			slog.Error("reloading rule data failed, keeping previous data", "err", err)
			return
		}
		if err := a.wargame.Reload(ctx, deps, tables); err != nil {
			slog.Error("reloading scenario failed", "err", err)
		}
	}

	if d.ScenarioChanged {
		if old.Scenario.Seed != new.Scenario.Seed {
			slog.Warn("config change takes effect after restart", "section", "scenario.seed")
		}
		if name := new.Scenario.Name; name != "" && name != old.Scenario.Name {
			if err := a.wargame.LoadScenario(ctx, name); err != nil {
				slog.Error("loading scenario failed", "scenario", name, "err", err)
			}
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, the stdio MCP transport when configured and the config
// watcher. It blocks until ctx is cancelled or a server fails, and returns
// nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.hub.Close()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	if a.mcp != nil && a.cfg.MCP.Transport == mcpserver.TransportStdio {
		g.Go(func() error {
			slog.Info("mcp server serving on stdio")
			err := a.mcp.RunStdio(gctx)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("app: mcp stdio: %w", err)
			}
			return nil
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New opened before failing.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
