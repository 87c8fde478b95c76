package postgres

import (
	"strings"
	"testing"
	"time"

	"flightetl/internal/storage"
)

func TestBuildUpsertSQL_PlaceholdersAndArgs(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 3, 14, 0, 0, 0, time.UTC)
	updates := []storage.FlightUpdate{
		{FlightID: "A1", LastUpdated: ts, JSON: []byte(`{"id":"A1"}`)},
		{FlightID: "A2", LastUpdated: ts, JSON: []byte(`{"id":"A2"}`)},
	}

	sql, args := buildUpsertSQL(updates)

	if !strings.Contains(sql, "($1, $2, $3), ($4, $5, $6)") {
		t.Fatalf("placeholder numbering wrong:\n%s", sql)
	}
	if len(args) != 6 {
		t.Fatalf("want 6 args, got %d", len(args))
	}
	if args[0] != "A1" || args[3] != "A2" {
		t.Fatalf("flight ids out of position: %v", args)
	}
}

func TestBuildUpsertSQL_FreshnessGuard(t *testing.T) {
	t.Parallel()

	sql, _ := buildUpsertSQL([]storage.FlightUpdate{{FlightID: "A1"}})

	if !strings.Contains(sql, "ON CONFLICT (aerolineas_flight_id) DO UPDATE") {
		t.Fatalf("missing conflict clause:\n%s", sql)
	}
	// Stale replays must be no-ops: the guard compares stored vs incoming
	// freshness and allows equal timestamps through (re-applying the same
	// batch is idempotent, not an error).
	if !strings.Contains(sql, "WHERE aerolineas_latest_flight_status.last_updated <= EXCLUDED.last_updated") {
		t.Fatalf("missing freshness guard:\n%s", sql)
	}
}
