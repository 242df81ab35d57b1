package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/qjm/internal/resilience"
	"github.com/MrWong99/qjm/internal/store"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: store backend not registered")

// StoreFactory opens a store from its configuration.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (store.Store, error)

// Registry maps store backend names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stores    map[StoreBackend]StoreFactory
	onBreaker func(backend string, from, to resilience.State)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[StoreBackend]StoreFactory)}
}

// DefaultRegistry returns a registry with the memory, postgres, sqlite and
// fallback backends registered. The none backend needs no factory.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterStore(StoreMemory, func(context.Context, StoreConfig) (store.Store, error) {
		return store.NewMemStore(), nil
	})
	r.RegisterStore(StorePostgres, func(ctx context.Context, cfg StoreConfig) (store.Store, error) {
		return store.OpenPostgres(ctx, cfg.DSN)
	})
	r.RegisterStore(StoreSQLite, func(_ context.Context, cfg StoreConfig) (store.Store, error) {
		return store.OpenSQLite(cfg.SQLitePath)
	})
	r.RegisterStore(StoreFallback, r.openFallback)
	return r
}

// RegisterStore registers a store factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(name StoreBackend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// OnBreakerChange sets the callback the fallback backend's circuit breakers
// report state changes to. Set it before [Registry.CreateStore].
func (r *Registry) OnBreakerChange(fn func(backend string, from, to resilience.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBreaker = fn
}

// Backends returns the registered backend names, sorted.
func (r *Registry) Backends() []StoreBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]StoreBackend, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateStore instantiates the store registered under cfg.Backend. The none
// backend yields a nil store and no error.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	if cfg.Backend == StoreNone {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// fallbackConfig converts the YAML breaker block.
func (b BreakerConfig) fallbackConfig(onChange func(string, resilience.State, resilience.State)) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:   b.MaxFailures,
		ResetTimeout:  b.ResetTimeout,
		HalfOpenMax:   b.HalfOpenMax,
		OnStateChange: onChange,
	}}
}

// openFallback puts PostgreSQL first and SQLite second. An unreachable
// PostgreSQL at start is not fatal; the SQLite file then serves alone.
func (r *Registry) openFallback(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	r.mu.RLock()
	fbCfg := cfg.Breaker.fallbackConfig(r.onBreaker)
	r.mu.RUnlock()

	sq, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	pg, err := store.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return store.NewFallback(sq, string(StoreSQLite), fbCfg), errors.Join(ErrDegraded, err)
	}
	fb := store.NewFallback(pg, string(StorePostgres), fbCfg)
	fb.Add(string(StoreSQLite), sq)
	return fb, nil
}

// ErrDegraded accompanies a usable store whose preferred backend failed to
// open. Callers may log it and continue with the returned store.
var ErrDegraded = errors.New("config: store degraded")
