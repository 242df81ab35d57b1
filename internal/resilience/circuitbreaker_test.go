package resilience

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(1985, 8, 1, 6, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail() error { return errTest }
func ok() error   { return nil }

// tripped returns a breaker opened by maxFailures failures.
func tripped(t *testing.T, c *clock, halfOpenMax int) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "postgres",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Now:          c.Now,
	})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	return cb
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "store"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.cfg.MaxFailures, cb.cfg.ResetTimeout, cb.cfg.HalfOpenMax)
	}
	if cb.cfg.Now == nil {
		t.Error("Now should default to time.Now")
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cb := tripped(t, newClock(), 1)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})
	for _, fn := range []func() error{fail, fail, ok, fail, fail} {
		_ = cb.Execute(fn)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after three in a row", cb.State())
	}
}

func TestCircuitBreaker_ReportsHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()
	c := newClock()
	cb := tripped(t, c, 2)

	c.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v before timeout, want open", cb.State())
	}
	c.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after timeout, want half-open", cb.State())
	}
}

func TestCircuitBreaker_ProbesClose(t *testing.T) {
	t.Parallel()
	c := newClock()
	cb := tripped(t, c, 2)
	c.Advance(time.Minute)

	for i := range 2 {
		if err := cb.Execute(ok); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	c := newClock()
	cb := tripped(t, c, 3)
	c.Advance(time.Minute)

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the probe's own error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	// The timeout restarts from the failed probe.
	c.Advance(30 * time.Second)
	if err := cb.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	c := newClock()
	cb := tripped(t, c, 1)
	c.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := cb.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	c := newClock()
	var (
		mu  sync.Mutex
		got []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "sqlite",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          c.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			got = append(got, name+":"+from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	_ = cb.Execute(fail)
	c.Advance(time.Second)
	_ = cb.Execute(ok)
	_ = cb.Execute(fail)
	cb.Reset()

	want := []string{
		"sqlite:closed>open",
		"sqlite:open>half-open",
		"sqlite:half-open>closed",
		"sqlite:closed>open",
		"sqlite:open>closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := tripped(t, newClock(), 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
