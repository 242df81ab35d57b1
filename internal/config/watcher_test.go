package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/qjm/internal/config"
)

const baseWatchYAML = `
server:
  log_level: info
scenario:
  name: fulda
`

// fixture is a watched config file plus the changes reported for it.
type fixture struct {
	path    string
	w       *config.Watcher
	changes chan config.Change
	base    time.Time
	bumps   int
}

func newFixture(t *testing.T, content string) *fixture {
	t.Helper()
	f := &fixture{
		path:    filepath.Join(t.TempDir(), "config.yaml"),
		changes: make(chan config.Change, 8),
		base:    time.Now(),
	}
	f.write(t, content)
	w, err := config.NewWatcher(f.path, func(ch config.Change) { f.changes <- ch },
		config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	f.w = w

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	})
	return f
}

// write replaces the file and moves its mtime forward so coarse filesystem
// clocks cannot hide the rewrite.
func (f *fixture) write(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", f.path, err)
	}
	f.touch(t)
}

func (f *fixture) touch(t *testing.T) {
	t.Helper()
	f.bumps++
	ts := f.base.Add(time.Duration(f.bumps) * time.Second)
	if err := os.Chtimes(f.path, ts, ts); err != nil {
		t.Fatalf("touch %s: %v", f.path, err)
	}
}

func (f *fixture) next(t *testing.T) config.Change {
	t.Helper()
	select {
	case ch := <-f.changes:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported within 2s")
		return config.Change{}
	}
}

// quiet asserts nothing is reported over several poll intervals.
func (f *fixture) quiet(t *testing.T) {
	t.Helper()
	select {
	case ch := <-f.changes:
		t.Fatalf("unexpected change reported: %+v", ch.Diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	f := newFixture(t, baseWatchYAML)
	cfg := f.w.Current()
	if cfg.Scenario.Name != "fulda" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() = %+v", cfg)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want default %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
}

func TestWatcher_ReportsDiff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, baseWatchYAML)

	f.write(t, `
server:
  log_level: debug
  listen_addr: ":9090"
scenario:
  name: hof
  seed: 7
`)
	ch := f.next(t)
	if ch.Old.Scenario.Name != "fulda" || ch.New.Scenario.Name != "hof" {
		t.Errorf("Old/New scenario = %q/%q", ch.Old.Scenario.Name, ch.New.Scenario.Name)
	}
	if !ch.Diff.LogLevelChanged || ch.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", ch.Diff)
	}
	if !ch.Diff.ScenarioChanged || ch.Diff.DataChanged {
		t.Errorf("reload flags = %+v", ch.Diff)
	}
	if !slices.Equal(ch.Diff.RestartRequired, []string{"server"}) {
		t.Errorf("RestartRequired = %v, want [server]", ch.Diff.RestartRequired)
	}
	if cur := f.w.Current(); cur.Scenario.Seed != 7 {
		t.Errorf("Current() seed = %d, want 7", cur.Scenario.Seed)
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, baseWatchYAML)

	f.write(t, "server:\n  log_level: bananas\n")
	f.quiet(t)
	if got := f.w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q after invalid edit, want info", got)
	}

	// A later valid edit is still picked up and diffed against the last
	// accepted config.
	f.write(t, "server:\n  log_level: warn\nscenario:\n  name: fulda\n")
	if ch := f.next(t); ch.Old.Server.LogLevel != config.LogInfo || ch.Diff.NewLogLevel != config.LogWarn {
		t.Errorf("change = %+v", ch.Diff)
	}
}

func TestWatcher_IgnoresEditsWithoutEffect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, baseWatchYAML)

	f.touch(t)
	f.quiet(t)

	// Comments and explicit defaults alter the bytes but not the config.
	f.write(t, "# reviewed\n"+baseWatchYAML+"mcp:\n  enabled: false\n  transport: http\n")
	f.quiet(t)
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(baseWatchYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
