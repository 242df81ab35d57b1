package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS states (
	scenario      TEXT PRIMARY KEY,
	dispersion    REAL NOT NULL,
	scenario_date TEXT NOT NULL,
	formations    TEXT NOT NULL,
	saved_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	scenario      TEXT NOT NULL,
	formation     TEXT NOT NULL,
	snapshot_date TEXT NOT NULL,
	personnel     INTEGER NOT NULL,
	vehicles      INTEGER NOT NULL,
	location      TEXT NOT NULL,
	PRIMARY KEY (scenario, formation, snapshot_date)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(scenario, snapshot_date);
`

// SQLiteStore is a single-file [Store] for deployments without a database
// server.
type SQLiteStore struct {
	conn *sqlx.DB
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

type stateRow struct {
	Scenario   string  `db:"scenario"`
	Dispersion float64 `db:"dispersion"`
	Date       string  `db:"scenario_date"`
	Formations string  `db:"formations"`
	SavedAt    string  `db:"saved_at"`
}

type snapshotRow struct {
	Scenario  string `db:"scenario"`
	Formation string `db:"formation"`
	Date      string `db:"snapshot_date"`
	Personnel int    `db:"personnel"`
	Vehicles  int    `db:"vehicles"`
	Location  string `db:"location"`
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// SaveState implements [Store.SaveState].
func (s *SQLiteStore) SaveState(ctx context.Context, st State) error {
	forms, err := json.Marshal(emptyStatuses(st.Formations))
	if err != nil {
		return fmt.Errorf("store: marshal formations: %w", err)
	}
	saved := st.SavedAt
	if saved.IsZero() {
		saved = time.Now().UTC()
	}
	_, err = s.conn.ExecContext(ctx, `INSERT OR REPLACE INTO states
		(scenario, dispersion, scenario_date, formations, saved_at)
		VALUES (?, ?, ?, ?, ?)`,
		st.Scenario, st.Dispersion, st.CurrentDate, string(forms), saved.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: save state %q: %w", st.Scenario, err)
	}
	return nil
}

// LoadState implements [Store.LoadState].
func (s *SQLiteStore) LoadState(ctx context.Context, scenario string) (State, error) {
	var row stateRow
	err := s.conn.GetContext(ctx, &row, "SELECT * FROM states WHERE scenario = ?", scenario)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("store: load state %q: %w", scenario, err)
	}

	st := State{Scenario: row.Scenario, Dispersion: row.Dispersion, CurrentDate: row.Date}
	if err := json.Unmarshal([]byte(row.Formations), &st.Formations); err != nil {
		return State{}, fmt.Errorf("store: unmarshal formations: %w", err)
	}
	if st.SavedAt, err = time.Parse(time.RFC3339Nano, row.SavedAt); err != nil {
		return State{}, fmt.Errorf("store: parse saved_at: %w", err)
	}
	return st, nil
}

// SaveSnapshot implements [Store.SaveSnapshot].
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	loc, err := json.Marshal(rec.Snapshot.Location)
	if err != nil {
		return fmt.Errorf("store: marshal location: %w", err)
	}
	_, err = s.conn.NamedExecContext(ctx, `INSERT OR REPLACE INTO snapshots
		(scenario, formation, snapshot_date, personnel, vehicles, location)
		VALUES (:scenario, :formation, :snapshot_date, :personnel, :vehicles, :location)`,
		snapshotRow{
			Scenario:  rec.Scenario,
			Formation: rec.Formation,
			Date:      rec.Snapshot.Date,
			Personnel: rec.Snapshot.Personnel,
			Vehicles:  rec.Snapshot.Vehicles,
			Location:  string(loc),
		})
	if err != nil {
		return fmt.Errorf("store: save snapshot %s/%s: %w", rec.Formation, rec.Snapshot.Date, err)
	}
	return nil
}

// Snapshots implements [Store.Snapshots].
func (s *SQLiteStore) Snapshots(ctx context.Context, scenario, date string) ([]SnapshotRecord, error) {
	var rows []snapshotRow
	err := s.conn.SelectContext(ctx, &rows, `SELECT * FROM snapshots
		WHERE scenario = ? AND (? = '' OR snapshot_date = ?)
		ORDER BY formation, snapshot_date`, scenario, date, date)
	if err != nil {
		return nil, fmt.Errorf("store: snapshots: %w", err)
	}

	out := make([]SnapshotRecord, 0, len(rows))
	for _, r := range rows {
		rec := SnapshotRecord{Scenario: r.Scenario, Formation: r.Formation}
		rec.Snapshot.Date = r.Date
		rec.Snapshot.Personnel = r.Personnel
		rec.Snapshot.Vehicles = r.Vehicles
		if err := json.Unmarshal([]byte(r.Location), &rec.Snapshot.Location); err != nil {
			return nil, fmt.Errorf("store: unmarshal location: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close implements [Store.Close].
func (s *SQLiteStore) Close() error { return s.conn.Close() }
