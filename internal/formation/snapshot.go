package formation

import (
	"slices"
	"strings"
)

// Snapshot is a point-in-time status capture of a formation tree. It is a
// reporting record only; combat resolution never reads it.
type Snapshot struct {
	Date      string    `json:"date"`
	Personnel int       `json:"personnel"`
	Vehicles  int       `json:"vehicles"`
	Location  []float64 `json:"location,omitempty"`
}

// Snapshot records the tree's current ACTIVE counts under date, replacing
// any earlier snapshot for the same date. A nil location is allowed.
func (f *Formation) Snapshot(date string, location []float64) Snapshot {
	s := Snapshot{
		Date:      date,
		Personnel: f.CountPersonnel(true),
		Vehicles:  f.CountVehicles(true),
		Location:  location,
	}
	f.mu.Lock()
	if f.snapshots == nil {
		f.snapshots = make(map[string]Snapshot)
	}
	f.snapshots[date] = s
	f.mu.Unlock()
	return s
}

// GetSnapshot returns the snapshot recorded under date.
func (f *Formation) GetSnapshot(date string) (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[date]
	return s, ok
}

// Snapshots returns every recorded snapshot in date order.
func (f *Formation) Snapshots() []Snapshot {
	f.mu.Lock()
	out := make([]Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s)
	}
	f.mu.Unlock()
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.Date, b.Date) })
	return out
}

// PutSnapshot stores a previously captured snapshot, e.g. one restored from
// persisted state.
func (f *Formation) PutSnapshot(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshots == nil {
		f.snapshots = make(map[string]Snapshot)
	}
	f.snapshots[s.Date] = s
}
