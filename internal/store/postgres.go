package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/qjm/internal/formation"
)

// PostgresSchema is the SQL DDL for the state and snapshot tables. Execute it
// via [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS qjm_states (
    scenario      TEXT PRIMARY KEY,
    dispersion    DOUBLE PRECISION NOT NULL,
    scenario_date TEXT NOT NULL DEFAULT '',
    formations    JSONB NOT NULL DEFAULT '{}',
    saved_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS qjm_snapshots (
    scenario      TEXT NOT NULL,
    formation     TEXT NOT NULL,
    snapshot_date TEXT NOT NULL,
    personnel     INTEGER NOT NULL,
    vehicles      INTEGER NOT NULL,
    location      JSONB NOT NULL DEFAULT 'null',
    PRIMARY KEY (scenario, formation, snapshot_date)
);
CREATE INDEX IF NOT EXISTS idx_qjm_snapshots_date ON qjm_snapshots(scenario, snapshot_date);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Element statuses and
// snapshot locations are stored as JSONB.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. closeFn, if non-nil, is
// called by [PostgresStore.Close] (pass pool.Close for a *pgxpool.Pool). The
// caller is responsible for calling [PostgresStore.Migrate].
func NewPostgresStore(db DB, closeFn func()) *PostgresStore {
	return &PostgresStore{db: db, close: closeFn}
}

// OpenPostgres connects a pool to dsn, verifies the connection and applies
// [PostgresSchema].
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	s := NewPostgresStore(pool, pool.Close)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveState implements [Store.SaveState].
func (s *PostgresStore) SaveState(ctx context.Context, st State) error {
	formsJSON, err := json.Marshal(emptyStatuses(st.Formations))
	if err != nil {
		return fmt.Errorf("store: marshal formations: %w", err)
	}

	const query = `
		INSERT INTO qjm_states (scenario, dispersion, scenario_date, formations)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scenario) DO UPDATE SET
			dispersion = EXCLUDED.dispersion,
			scenario_date = EXCLUDED.scenario_date,
			formations = EXCLUDED.formations,
			saved_at = now()`

	if _, err := s.db.Exec(ctx, query, st.Scenario, st.Dispersion, st.CurrentDate, formsJSON); err != nil {
		return fmt.Errorf("store: save state %q: %w", st.Scenario, err)
	}
	return nil
}

// LoadState implements [Store.LoadState].
func (s *PostgresStore) LoadState(ctx context.Context, scenario string) (State, error) {
	const query = `
		SELECT scenario, dispersion, scenario_date, formations, saved_at
		FROM qjm_states
		WHERE scenario = $1`

	var (
		st        State
		formsJSON []byte
	)
	err := s.db.QueryRow(ctx, query, scenario).Scan(
		&st.Scenario, &st.Dispersion, &st.CurrentDate, &formsJSON, &st.SavedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("store: load state %q: %w", scenario, err)
	}
	if err := json.Unmarshal(formsJSON, &st.Formations); err != nil {
		return State{}, fmt.Errorf("store: unmarshal formations: %w", err)
	}
	return st, nil
}

// SaveSnapshot implements [Store.SaveSnapshot].
func (s *PostgresStore) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	locJSON, err := json.Marshal(rec.Snapshot.Location)
	if err != nil {
		return fmt.Errorf("store: marshal location: %w", err)
	}

	const query = `
		INSERT INTO qjm_snapshots (scenario, formation, snapshot_date, personnel, vehicles, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scenario, formation, snapshot_date) DO UPDATE SET
			personnel = EXCLUDED.personnel,
			vehicles = EXCLUDED.vehicles,
			location = EXCLUDED.location`

	_, err = s.db.Exec(ctx, query,
		rec.Scenario, rec.Formation, rec.Snapshot.Date,
		rec.Snapshot.Personnel, rec.Snapshot.Vehicles, locJSON,
	)
	if err != nil {
		return fmt.Errorf("store: save snapshot %s/%s: %w", rec.Formation, rec.Snapshot.Date, err)
	}
	return nil
}

// Snapshots implements [Store.Snapshots].
func (s *PostgresStore) Snapshots(ctx context.Context, scenario, date string) ([]SnapshotRecord, error) {
	const query = `
		SELECT scenario, formation, snapshot_date, personnel, vehicles, location
		FROM qjm_snapshots
		WHERE scenario = $1 AND ($2 = '' OR snapshot_date = $2)
		ORDER BY formation, snapshot_date`

	rows, err := s.db.Query(ctx, query, scenario, date)
	if err != nil {
		return nil, fmt.Errorf("store: snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var (
			rec     SnapshotRecord
			locJSON []byte
		)
		if err := rows.Scan(
			&rec.Scenario, &rec.Formation, &rec.Snapshot.Date,
			&rec.Snapshot.Personnel, &rec.Snapshot.Vehicles, &locJSON,
		); err != nil {
			return nil, fmt.Errorf("store: snapshots scan: %w", err)
		}
		if err := json.Unmarshal(locJSON, &rec.Snapshot.Location); err != nil {
			return nil, fmt.Errorf("store: unmarshal location: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: snapshots: %w", err)
	}
	return out, nil
}

// Close implements [Store.Close].
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// emptyStatuses returns m if non-nil, otherwise an empty non-nil map. This
// ensures JSON marshalling produces "{}" instead of "null".
func emptyStatuses(m map[string][]formation.Status) map[string][]formation.Status {
	if m == nil {
		return map[string][]formation.Status{}
	}
	return m
}
