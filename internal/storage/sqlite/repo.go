package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flightetl/internal/storage"
)

// Repo implements storage.Repository for SQLite. Used for local runs and as
// the repository backend in tests (no server to stand up).
//
// Key design point vs Postgres:
//   - SQLite has no TIMESTAMPTZ. Timestamps are stored as fixed-width
//     RFC3339 nanosecond strings in UTC, so the freshness guard's <=
//     comparison works lexicographically. time.RFC3339Nano is NOT used for
//     writing because it trims trailing zeros, which breaks string ordering.
type Repo struct {
	db         *sql.DB
	autoCreate bool
}

// timeLayout is fixed-width so string comparison equals time comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, autoCreate: cfg.AutoCreate}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	if !r.autoCreate {
		return r.db.PingContext(ctx)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS aerolineas_latest_flight_status (
			aerolineas_flight_id TEXT PRIMARY KEY,
			last_updated TEXT NOT NULL,
			json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_watermark (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_fetched_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS airfleets_matriculas (
			matricula TEXT PRIMARY KEY,
			aircraft_type TEXT NOT NULL DEFAULT '',
			airline TEXT NOT NULL DEFAULT '',
			msn TEXT NOT NULL DEFAULT '',
			situation TEXT NOT NULL DEFAULT ''
		)`,
	} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) UpsertLatest(ctx context.Context, updates []storage.FlightUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sqlText, args := buildUpsertSQL(updates)
	res, err := tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert latest: %w", err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return affected, nil
}

// buildUpsertSQL mirrors the Postgres builder with ?-placeholders. The
// freshness guard compares the fixed-width timestamp strings.
func buildUpsertSQL(updates []storage.FlightUpdate) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO aerolineas_latest_flight_status (aerolineas_flight_id, last_updated, json) VALUES ")

	args := make([]any, 0, len(updates)*3)
	for i, u := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, u.FlightID, formatTime(u.LastUpdated), string(u.JSON))
	}

	b.WriteString(" ON CONFLICT (aerolineas_flight_id) DO UPDATE SET last_updated = excluded.last_updated, json = excluded.json")
	b.WriteString(" WHERE aerolineas_latest_flight_status.last_updated <= excluded.last_updated")
	return b.String(), args
}

func (r *Repo) GetLatest(ctx context.Context, flightID string) (storage.FlightUpdate, bool, error) {
	var (
		lastUpdated string
		jsonText    string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT last_updated, json FROM aerolineas_latest_flight_status WHERE aerolineas_flight_id = ?`,
		flightID,
	).Scan(&lastUpdated, &jsonText)
	if err == sql.ErrNoRows {
		return storage.FlightUpdate{}, false, nil
	}
	if err != nil {
		return storage.FlightUpdate{}, false, fmt.Errorf("sqlite: get latest: %w", err)
	}
	t, err := parseTime(lastUpdated)
	if err != nil {
		return storage.FlightUpdate{}, false, fmt.Errorf("sqlite: get latest: %w", err)
	}
	return storage.FlightUpdate{FlightID: flightID, LastUpdated: t.UTC(), JSON: []byte(jsonText)}, true, nil
}

func (r *Repo) LoadWatermark(ctx context.Context) (time.Time, error) {
	var s string
	err := r.db.QueryRowContext(ctx, `SELECT last_fetched_at FROM ingest_watermark WHERE id = 1`).Scan(&s)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: load watermark: %w", err)
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: load watermark: %w", err)
	}
	return t.UTC(), nil
}

func (r *Repo) StoreWatermark(ctx context.Context, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_watermark (id, last_fetched_at) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET last_fetched_at = excluded.last_fetched_at`,
		formatTime(t),
	)
	if err != nil {
		return fmt.Errorf("sqlite: store watermark: %w", err)
	}
	return nil
}

func (r *Repo) UpsertAircraft(ctx context.Context, rows []storage.AircraftRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO airfleets_matriculas (matricula, aircraft_type, airline, msn, situation) VALUES ")
	args := make([]any, 0, len(rows)*5)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, row.Registration, row.AircraftType, row.Airline, row.MSN, row.Situation)
	}
	b.WriteString(" ON CONFLICT (matricula) DO UPDATE SET aircraft_type = excluded.aircraft_type, airline = excluded.airline, msn = excluded.msn, situation = excluded.situation")

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert aircraft: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
