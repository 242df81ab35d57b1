package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/qjm/internal/formation"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type snapshotKey struct {
	scenario, formation, date string
}

// MemStore is a thread-safe, in-memory implementation of [Store]. State is
// lost when the process exits. The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	states    map[string]State
	snapshots map[snapshotKey]SnapshotRecord
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		states:    make(map[string]State),
		snapshots: make(map[snapshotKey]SnapshotRecord),
	}
}

// SaveState implements [Store.SaveState].
func (s *MemStore) SaveState(_ context.Context, st State) error {
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	st.Formations = cloneStatuses(st.Formations)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]State)
	}
	s.states[st.Scenario] = st
	return nil
}

// LoadState implements [Store.LoadState].
func (s *MemStore) LoadState(_ context.Context, scenario string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[scenario]
	if !ok {
		return State{}, ErrNotFound
	}
	st.Formations = cloneStatuses(st.Formations)
	return st, nil
}

// SaveSnapshot implements [Store.SaveSnapshot].
func (s *MemStore) SaveSnapshot(_ context.Context, rec SnapshotRecord) error {
	rec.Snapshot.Location = slices.Clone(rec.Snapshot.Location)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots == nil {
		s.snapshots = make(map[snapshotKey]SnapshotRecord)
	}
	s.snapshots[snapshotKey{rec.Scenario, rec.Formation, rec.Snapshot.Date}] = rec
	return nil
}

// Snapshots implements [Store.Snapshots].
func (s *MemStore) Snapshots(_ context.Context, scenario, date string) ([]SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SnapshotRecord
	for k, rec := range s.snapshots {
		if k.scenario != scenario || (date != "" && k.date != date) {
			continue
		}
		rec.Snapshot.Location = slices.Clone(rec.Snapshot.Location)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b SnapshotRecord) int {
		if c := strings.Compare(a.Formation, b.Formation); c != 0 {
			return c
		}
		return strings.Compare(a.Snapshot.Date, b.Snapshot.Date)
	})
	return out, nil
}

// Close implements [Store.Close]. It is a no-op.
func (s *MemStore) Close() error { return nil }

func cloneStatuses(m map[string][]formation.Status) map[string][]formation.Status {
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = slices.Clone(v)
	}
	return out
}
