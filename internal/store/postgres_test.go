package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/qjm/internal/formation"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }

func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *int:
			*d = v.(int)
		case *float64:
			*d = v.(float64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}}, nil)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotSQL, "qjm_states") || !strings.Contains(gotSQL, "qjm_snapshots") {
		t.Errorf("schema = %q", gotSQL)
	}

	boom := errors.New("boom")
	s = NewPostgresStore(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, boom
	}}, nil)
	if err := s.Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestPostgresStore_SaveState(t *testing.T) {
	t.Parallel()

	var args []any
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, a ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "ON CONFLICT (scenario)") {
			t.Errorf("query is not an upsert: %s", sql)
		}
		args = a
		return pgconn.CommandTag{}, nil
	}}, nil)

	st := State{
		Scenario:    "fulda",
		Dispersion:  3000,
		CurrentDate: "1985-08-02",
		Formations:  map[string][]formation.Status{"1BN": {formation.StatusActive, formation.StatusDamaged}},
	}
	if err := s.SaveState(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if len(args) != 4 || args[0] != "fulda" || args[1] != 3000.0 || args[2] != "1985-08-02" {
		t.Fatalf("args = %v", args)
	}
	if got := string(args[3].([]byte)); got != `{"1BN":["ACTIVE","DAMAGED"]}` {
		t.Errorf("formations json = %s", got)
	}
}

func TestPostgresStore_SaveStateNilFormations(t *testing.T) {
	t.Parallel()

	var formsJSON string
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, _ string, a ...any) (pgconn.CommandTag, error) {
		formsJSON = string(a[3].([]byte))
		return pgconn.CommandTag{}, nil
	}}, nil)
	if err := s.SaveState(context.Background(), State{Scenario: "x"}); err != nil {
		t.Fatal(err)
	}
	if formsJSON != "{}" {
		t.Errorf("formations json = %s, want {}", formsJSON)
	}
}

func TestPostgresStore_LoadState(t *testing.T) {
	t.Parallel()

	saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewPostgresStore(&mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			if args[0] != "fulda" {
				return pgx.ErrNoRows
			}
			return assign([]any{"fulda", 2000.0, "1985-08-02", []byte(`{"1BN":["DESTROYED"]}`), saved}, dest)
		}}
	}}, nil)

	st, err := s.LoadState(context.Background(), "fulda")
	if err != nil {
		t.Fatal(err)
	}
	if st.Dispersion != 2000 || !st.SavedAt.Equal(saved) {
		t.Errorf("state = %+v", st)
	}
	if got := st.Formations["1BN"]; len(got) != 1 || got[0] != formation.StatusDestroyed {
		t.Errorf("statuses = %v", got)
	}

	if _, err := s.LoadState(context.Background(), "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing scenario err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_Snapshots(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: [][]any{
		{"fulda", "A", "d1", 20, 2, []byte("null")},
		{"fulda", "B", "d1", 10, 0, []byte("[9.6,50.5]")},
	}}
	var gotArgs []any
	s := NewPostgresStore(&mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		gotArgs = args
		return rows, nil
	}}, nil)

	recs, err := s.Snapshots(context.Background(), "fulda", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
	if len(gotArgs) != 2 || gotArgs[1] != "d1" {
		t.Errorf("args = %v", gotArgs)
	}
	if len(recs) != 2 || recs[0].Snapshot.Vehicles != 2 || recs[0].Snapshot.Location != nil {
		t.Fatalf("recs = %+v", recs)
	}
	if loc := recs[1].Snapshot.Location; len(loc) != 2 || loc[1] != 50.5 {
		t.Errorf("location = %v", loc)
	}
}

func TestPostgresStore_SaveSnapshot(t *testing.T) {
	t.Parallel()

	var args []any
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, _ string, a ...any) (pgconn.CommandTag, error) {
		args = a
		return pgconn.CommandTag{}, nil
	}}, nil)
	rec := SnapshotRecord{Scenario: "fulda", Formation: "A", Snapshot: formation.Snapshot{Date: "d1", Personnel: 5, Location: []float64{1, 2}}}
	if err := s.SaveSnapshot(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	var loc []float64
	if err := json.Unmarshal(args[5].([]byte), &loc); err != nil || len(loc) != 2 {
		t.Errorf("location arg = %s (%v)", args[5], err)
	}
}

func TestPostgresStore_Close(t *testing.T) {
	t.Parallel()

	closed := false
	s := NewPostgresStore(&mockDB{}, func() { closed = true })
	if err := s.Close(); err != nil || !closed {
		t.Errorf("Close err = %v, closed = %v", err, closed)
	}
}
