package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Change is one accepted edit of the watched file.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// fileState identifies a version of the watched file. The mtime gates the
// comparatively expensive read; the hash decides whether content changed.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and reports edits that change at least one
// setting. Edits that fail to parse or validate are logged and ignored; the
// previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher ready to [Watcher.Run].
// onChange may be nil.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ch, ok := w.poll(); ok && w.onChange != nil {
				w.onChange(ch)
			}
		}
	}
}

// poll returns the change to report, if any.
func (w *Watcher) poll() (Change, bool) {
	log := slog.With("path", w.path)

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config watcher: cannot stat file", "err", err)
		return Change{}, false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return Change{}, false
	}

	cfg, st, err := w.read()
	if err != nil {
		log.Warn("config watcher: keeping previous config", "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if st.hash == w.seen.hash {
		w.seen.mtime = st.mtime
		return Change{}, false
	}
	ch := Change{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current, w.seen = cfg, st
	if ch.Diff.Empty() {
		log.Debug("config watcher: file changed without effect")
		return Change{}, false
	}
	log.Info("config watcher: configuration reloaded",
		"reload_scenario", ch.Diff.Reload(),
		"restart_required", ch.Diff.RestartRequired,
	)
	return ch, true
}

// read parses and validates the file and records its state.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
