package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/store"
)

func sampleState() store.State {
	return store.State{
		Scenario:    "fulda",
		Dispersion:  3000,
		CurrentDate: "1985-08-02",
		Formations: map[string][]formation.Status{
			"1st Battalion":   {formation.StatusActive, formation.StatusDamaged, formation.StatusDestroyed},
			"2/1st Battalion": {formation.StatusActive},
		},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.LoadState(ctx, "fulda"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadState(empty) err = %v, want ErrNotFound", err)
	}

	if err := s.SaveState(ctx, sampleState()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := s.LoadState(ctx, "fulda")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Dispersion != 3000 || got.CurrentDate != "1985-08-02" {
		t.Errorf("state = %+v", got)
	}
	if st := got.Formations["1st Battalion"]; len(st) != 3 || st[2] != formation.StatusDestroyed {
		t.Errorf("statuses = %v", st)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}

	// Saving again replaces.
	next := sampleState()
	next.CurrentDate = "1985-08-03"
	if err := s.SaveState(ctx, next); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadState(ctx, "fulda"); got.CurrentDate != "1985-08-03" {
		t.Errorf("CurrentDate after replace = %q", got.CurrentDate)
	}

	recs := []store.SnapshotRecord{
		{Scenario: "fulda", Formation: "B", Snapshot: formation.Snapshot{Date: "d1", Personnel: 10, Location: []float64{9.6, 50.5}}},
		{Scenario: "fulda", Formation: "A", Snapshot: formation.Snapshot{Date: "d1", Personnel: 20, Vehicles: 2}},
		{Scenario: "fulda", Formation: "A", Snapshot: formation.Snapshot{Date: "d2", Personnel: 18}},
		{Scenario: "other", Formation: "A", Snapshot: formation.Snapshot{Date: "d1"}},
	}
	for _, r := range recs {
		if err := s.SaveSnapshot(ctx, r); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	// Overwrite A/d1.
	recs[1].Snapshot.Personnel = 19
	if err := s.SaveSnapshot(ctx, recs[1]); err != nil {
		t.Fatal(err)
	}

	d1, err := s.Snapshots(ctx, "fulda", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(d1) != 2 || d1[0].Formation != "A" || d1[1].Formation != "B" {
		t.Fatalf("Snapshots(d1) = %+v", d1)
	}
	if d1[0].Snapshot.Personnel != 19 || d1[0].Snapshot.Vehicles != 2 {
		t.Errorf("A/d1 = %+v", d1[0].Snapshot)
	}
	if loc := d1[1].Snapshot.Location; len(loc) != 2 || loc[0] != 9.6 {
		t.Errorf("B location = %v", loc)
	}
	if d1[0].Snapshot.Location != nil {
		t.Errorf("A location = %v, want nil", d1[0].Snapshot.Location)
	}

	all, err := s.Snapshots(ctx, "fulda", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Snapshots(all) = %d records, want 3", len(all))
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, store.NewMemStore())
}

func TestMemStore_ZeroValue(t *testing.T) {
	t.Parallel()
	exerciseStore(t, &store.MemStore{})
}

func TestMemStore_CopiesStatuses(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	ctx := context.Background()
	st := sampleState()
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.Formations["1st Battalion"][0] = formation.StatusDestroyed

	got, _ := s.LoadState(ctx, "fulda")
	if got.Formations["1st Battalion"][0] != formation.StatusActive {
		t.Error("stored state aliases caller slice")
	}
}
