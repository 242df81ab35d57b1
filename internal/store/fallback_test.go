package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/qjm/internal/resilience"
	"github.com/MrWong99/qjm/internal/store"
)

// flaky fails every call while down is set.
type flaky struct {
	*store.MemStore
	down   bool
	closed bool
}

var errDown = errors.New("backend down")

func (f *flaky) SaveState(ctx context.Context, st store.State) error {
	if f.down {
		return errDown
	}
	return f.MemStore.SaveState(ctx, st)
}

func (f *flaky) LoadState(ctx context.Context, scenario string) (store.State, error) {
	if f.down {
		return store.State{}, errDown
	}
	return f.MemStore.LoadState(ctx, scenario)
}

func (f *flaky) Close() error {
	f.closed = true
	return nil
}

func newFallback(primary, secondary store.Store) *store.Fallback {
	fb := store.NewFallback(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.Add("secondary", secondary)
	return fb
}

func TestFallback_SharedBehaviour(t *testing.T) {
	t.Parallel()
	exerciseStore(t, newFallback(store.NewMemStore(), store.NewMemStore()))
}

func TestFallback_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &flaky{MemStore: store.NewMemStore(), down: true}
	secondary := &flaky{MemStore: store.NewMemStore()}
	fb := newFallback(primary, secondary)
	ctx := context.Background()

	if err := fb.SaveState(ctx, sampleState()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if _, err := secondary.MemStore.LoadState(ctx, "fulda"); err != nil {
		t.Errorf("secondary did not receive the write: %v", err)
	}
	if got := fb.States()["primary"]; got != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", got)
	}

	// Primary comes back but its breaker stays open until the reset timeout.
	primary.down = false
	if _, err := fb.LoadState(ctx, "fulda"); err != nil {
		t.Errorf("LoadState via secondary: %v", err)
	}

	if err := fb.Close(); err != nil {
		t.Fatal(err)
	}
	if !primary.closed || !secondary.closed {
		t.Error("Close did not reach every backend")
	}
}

func TestFallback_NotFoundDoesNotTrip(t *testing.T) {
	t.Parallel()

	fb := newFallback(store.NewMemStore(), store.NewMemStore())
	for range 3 {
		if _, err := fb.LoadState(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if got := fb.States()["primary"]; got != resilience.StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}

func TestFallback_AllDown(t *testing.T) {
	t.Parallel()

	fb := newFallback(&flaky{MemStore: store.NewMemStore(), down: true}, &flaky{MemStore: store.NewMemStore(), down: true})
	if err := fb.SaveState(context.Background(), sampleState()); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
