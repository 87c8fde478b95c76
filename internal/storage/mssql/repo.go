package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"flightetl/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
//
// SQL Server has no ON CONFLICT; the freshness-guarded upsert is expressed
// as a MERGE with a conditional WHEN MATCHED clause. Semantics match the
// Postgres and SQLite backends exactly.
type Repo struct {
	db         *sql.DB
	autoCreate bool
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`IF OBJECT_ID('aerolineas_latest_flight_status', 'U') IS NULL
		CREATE TABLE aerolineas_latest_flight_status (
			aerolineas_flight_id NVARCHAR(128) PRIMARY KEY,
			last_updated DATETIMEOFFSET NOT NULL,
			json NVARCHAR(MAX) NOT NULL
		)`,
		`IF OBJECT_ID('ingest_watermark', 'U') IS NULL
		CREATE TABLE ingest_watermark (
			id INT PRIMARY KEY CHECK (id = 1),
			last_fetched_at DATETIMEOFFSET NOT NULL
		)`,
		`IF OBJECT_ID('airfleets_matriculas', 'U') IS NULL
		CREATE TABLE airfleets_matriculas (
			matricula NVARCHAR(32) PRIMARY KEY,
			aircraft_type NVARCHAR(128) NOT NULL DEFAULT '',
			airline NVARCHAR(128) NOT NULL DEFAULT '',
			msn NVARCHAR(32) NOT NULL DEFAULT '',
			situation NVARCHAR(64) NOT NULL DEFAULT ''
		)`,
	} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
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
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sqlText, args := buildMergeSQL(updates)
	res, err := tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert latest: %w", err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return affected, nil
}

// buildMergeSQL constructs the MERGE statement and its args. Pure, for unit
// testing placeholder layout without a server.
func buildMergeSQL(updates []storage.FlightUpdate) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE aerolineas_latest_flight_status AS target USING (VALUES ")

	args := make([]any, 0, len(updates)*3)
	p := 1
	for i, u := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d, @p%d, @p%d)", p, p+1, p+2)
		args = append(args, u.FlightID, u.LastUpdated.UTC(), string(u.JSON))
		p += 3
	}

	b.WriteString(") AS src (aerolineas_flight_id, last_updated, json)")
	b.WriteString(" ON target.aerolineas_flight_id = src.aerolineas_flight_id")
	b.WriteString(" WHEN MATCHED AND target.last_updated <= src.last_updated THEN UPDATE SET last_updated = src.last_updated, json = src.json")
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (aerolineas_flight_id, last_updated, json) VALUES (src.aerolineas_flight_id, src.last_updated, src.json);")
	return b.String(), args
}

func (r *Repo) GetLatest(ctx context.Context, flightID string) (storage.FlightUpdate, bool, error) {
	u := storage.FlightUpdate{FlightID: flightID}
	var jsonText string
	err := r.db.QueryRowContext(ctx,
		`SELECT last_updated, json FROM aerolineas_latest_flight_status WHERE aerolineas_flight_id = @p1`,
		flightID,
	).Scan(&u.LastUpdated, &jsonText)
	if err == sql.ErrNoRows {
		return storage.FlightUpdate{}, false, nil
	}
	if err != nil {
		return storage.FlightUpdate{}, false, fmt.Errorf("mssql: get latest: %w", err)
	}
	u.LastUpdated = u.LastUpdated.UTC()
	u.JSON = []byte(jsonText)
	return u, true, nil
}

func (r *Repo) LoadWatermark(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, `SELECT last_fetched_at FROM ingest_watermark WHERE id = 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mssql: load watermark: %w", err)
	}
	return t.UTC(), nil
}

func (r *Repo) StoreWatermark(ctx context.Context, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		MERGE ingest_watermark AS target
		USING (VALUES (1, @p1)) AS src (id, last_fetched_at)
		ON target.id = src.id
		WHEN MATCHED THEN UPDATE SET last_fetched_at = src.last_fetched_at
		WHEN NOT MATCHED THEN INSERT (id, last_fetched_at) VALUES (src.id, src.last_fetched_at);`,
		t.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mssql: store watermark: %w", err)
	}
	return nil
}

func (r *Repo) UpsertAircraft(ctx context.Context, rows []storage.AircraftRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("MERGE airfleets_matriculas AS target USING (VALUES ")
	args := make([]any, 0, len(rows)*5)
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d, @p%d, @p%d, @p%d, @p%d)", p, p+1, p+2, p+3, p+4)
		args = append(args, row.Registration, row.AircraftType, row.Airline, row.MSN, row.Situation)
		p += 5
	}
	b.WriteString(") AS src (matricula, aircraft_type, airline, msn, situation)")
	b.WriteString(" ON target.matricula = src.matricula")
	b.WriteString(" WHEN MATCHED THEN UPDATE SET aircraft_type = src.aircraft_type, airline = src.airline, msn = src.msn, situation = src.situation")
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (matricula, aircraft_type, airline, msn, situation) VALUES (src.matricula, src.aircraft_type, src.airline, src.msn, src.situation);")

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert aircraft: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
