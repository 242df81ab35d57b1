// Package store persists simulation state: the status of every element of a
// loaded scenario and the dated snapshots taken of its formations.
//
// State is keyed by formation name rather than id. Formation ids are
// regenerated on every scenario load, while names and tree shape are fixed by
// the scenario source, so a saved state can be re-applied to a freshly loaded
// scenario.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/qjm/internal/formation"
)

// ErrNotFound is returned when no state has been saved for a scenario.
var ErrNotFound = errors.New("store: not found")

// State is the persisted simulation state of one scenario.
type State struct {
	Scenario    string  `json:"scenario"`
	Dispersion  float64 `json:"dispersion"`
	CurrentDate string  `json:"currentDate"`

	// Formations maps formation name to the statuses returned by
	// [formation.Formation.Statuses].
	Formations map[string][]formation.Status `json:"formations"`

	SavedAt time.Time `json:"savedAt"`
}

// SnapshotRecord is one formation snapshot as persisted.
type SnapshotRecord struct {
	Scenario  string             `json:"scenario"`
	Formation string             `json:"formation"`
	Snapshot  formation.Snapshot `json:"snapshot"`
}

// Store persists scenario state. Implementations must be safe for concurrent
// use.
type Store interface {
	// SaveState replaces the saved state of s.Scenario.
	SaveState(ctx context.Context, s State) error

	// LoadState returns the saved state of scenario, or [ErrNotFound].
	LoadState(ctx context.Context, scenario string) (State, error)

	// SaveSnapshot inserts or replaces the snapshot of one formation on one
	// date.
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error

	// Snapshots lists the snapshots of scenario taken on date, ordered by
	// formation name. An empty date lists every date.
	Snapshots(ctx context.Context, scenario, date string) ([]SnapshotRecord, error)

	// Close releases the underlying resources.
	Close() error
}
