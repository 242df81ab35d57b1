package store

import (
	"context"
	"errors"

	"github.com/MrWong99/qjm/internal/resilience"
)

// Compile-time interface check.
var _ Store = (*Fallback)(nil)

// Fallback routes every call to the first healthy backend of a
// [resilience.FallbackGroup]. A backend whose breaker is open is skipped
// until its reset timeout elapses.
//
// [ErrNotFound] from a backend is an answer, not a failure: it neither trips
// the breaker nor moves on to the next backend.
type Fallback struct {
	group    *resilience.FallbackGroup[Store]
	backends []Store
}

// NewFallback wraps primary. Call [Fallback.Add] for secondaries.
func NewFallback(primary Store, name string, cfg resilience.FallbackConfig) *Fallback {
	return &Fallback{
		group:    resilience.NewFallbackGroup(primary, name, cfg),
		backends: []Store{primary},
	}
}

// Add registers a secondary backend, tried after all earlier ones.
func (f *Fallback) Add(name string, s Store) {
	f.group.AddFallback(name, s)
	f.backends = append(f.backends, s)
}

// States reports each backend's breaker state by name.
func (f *Fallback) States() map[string]resilience.State { return f.group.States() }

// SaveState implements [Store.SaveState].
func (f *Fallback) SaveState(ctx context.Context, st State) error {
	return f.group.Execute(func(s Store) error { return s.SaveState(ctx, st) })
}

// LoadState implements [Store.LoadState].
func (f *Fallback) LoadState(ctx context.Context, scenario string) (State, error) {
	type result struct {
		state State
		found bool
	}
	r, err := resilience.ExecuteWithResult(f.group, func(s Store) (result, error) {
		st, err := s.LoadState(ctx, scenario)
		if errors.Is(err, ErrNotFound) {
			return result{}, nil
		}
		return result{st, err == nil}, err
	})
	if err != nil {
		return State{}, err
	}
	if !r.found {
		return State{}, ErrNotFound
	}
	return r.state, nil
}

// SaveSnapshot implements [Store.SaveSnapshot].
func (f *Fallback) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	return f.group.Execute(func(s Store) error { return s.SaveSnapshot(ctx, rec) })
}

// Snapshots implements [Store.Snapshots].
func (f *Fallback) Snapshots(ctx context.Context, scenario, date string) ([]SnapshotRecord, error) {
	return resilience.ExecuteWithResult(f.group, func(s Store) ([]SnapshotRecord, error) {
		return s.Snapshots(ctx, scenario, date)
	})
}

// Close closes every backend and joins their errors.
func (f *Fallback) Close() error {
	var errs []error
	for _, s := range f.backends {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
