package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flightetl/internal/storage"
)

// Repo implements storage.Repository for Postgres, the production backend.
//
// The freshness guard lives in the upsert statement itself:
//
//	ON CONFLICT (aerolineas_flight_id) DO UPDATE ...
//	WHERE aerolineas_latest_flight_status.last_updated <= EXCLUDED.last_updated
//
// so a stale batch replayed after a newer one lands as a no-op, row by row.
type Repo struct {
	pool       *pgxpool.Pool
	autoCreate bool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed repository.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool, autoCreate: cfg.AutoCreate}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	if !r.autoCreate {
		return r.pool.Ping(ctx)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS aerolineas_latest_flight_status (
			aerolineas_flight_id text PRIMARY KEY,
			last_updated timestamptz NOT NULL,
			json jsonb NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_watermark (
			id int PRIMARY KEY CHECK (id = 1),
			last_fetched_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS airfleets_matriculas (
			matricula text PRIMARY KEY,
			aircraft_type text NOT NULL DEFAULT '',
			airline text NOT NULL DEFAULT '',
			msn text NOT NULL DEFAULT '',
			situation text NOT NULL DEFAULT ''
		)`,
	} {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertLatest applies one deduplicated batch in a single transaction.
func (r *Repo) UpsertLatest(ctx context.Context, updates []storage.FlightUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	sql, args := buildUpsertSQL(updates)

	var affected int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = cmd.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert latest: %w", err)
	}
	return affected, nil
}

// buildUpsertSQL constructs the multi-row upsert and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and the
//     freshness predicate can be unit tested without a database.
//
// Constraints:
//   - updates must already be deduplicated by FlightID; Postgres raises
//     "ON CONFLICT DO UPDATE command cannot affect row a second time" when a
//     single INSERT carries two rows with the same key.
func buildUpsertSQL(updates []storage.FlightUpdate) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO aerolineas_latest_flight_status (aerolineas_flight_id, last_updated, json) VALUES ")

	args := make([]any, 0, len(updates)*3)
	p := 1
	for i, u := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, $%d)", p, p+1, p+2)
		args = append(args, u.FlightID, u.LastUpdated.UTC(), u.JSON)
		p += 3
	}

	b.WriteString(" ON CONFLICT (aerolineas_flight_id) DO UPDATE SET last_updated = EXCLUDED.last_updated, json = EXCLUDED.json")
	b.WriteString(" WHERE aerolineas_latest_flight_status.last_updated <= EXCLUDED.last_updated")
	return b.String(), args
}

func (r *Repo) GetLatest(ctx context.Context, flightID string) (storage.FlightUpdate, bool, error) {
	u := storage.FlightUpdate{FlightID: flightID}
	err := r.pool.QueryRow(ctx,
		`SELECT last_updated, json FROM aerolineas_latest_flight_status WHERE aerolineas_flight_id = $1`,
		flightID,
	).Scan(&u.LastUpdated, &u.JSON)
	if err == pgx.ErrNoRows {
		return storage.FlightUpdate{}, false, nil
	}
	if err != nil {
		return storage.FlightUpdate{}, false, fmt.Errorf("postgres: get latest: %w", err)
	}
	u.LastUpdated = u.LastUpdated.UTC()
	return u, true, nil
}

func (r *Repo) LoadWatermark(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_fetched_at FROM ingest_watermark WHERE id = 1`).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: load watermark: %w", err)
	}
	return t.UTC(), nil
}

func (r *Repo) StoreWatermark(ctx context.Context, t time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingest_watermark (id, last_fetched_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_fetched_at = EXCLUDED.last_fetched_at`,
		t.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: store watermark: %w", err)
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
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", p, p+1, p+2, p+3, p+4)
		args = append(args, row.Registration, row.AircraftType, row.Airline, row.MSN, row.Situation)
		p += 5
	}
	b.WriteString(" ON CONFLICT (matricula) DO UPDATE SET aircraft_type = EXCLUDED.aircraft_type, airline = EXCLUDED.airline, msn = EXCLUDED.msn, situation = EXCLUDED.situation")

	cmd, err := r.pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert aircraft: %w", err)
	}
	return cmd.RowsAffected(), nil
}
