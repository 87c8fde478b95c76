// Package storage defines the backend-agnostic persistence contract for the
// canonical "latest status per flight" table, the ingest watermark, and the
// aircraft registry. Backends (postgres, sqlite, mssql) register themselves
// via Register and are selected by Config.Kind.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN validation is backend-specific.
type Config struct {
	Kind string
	DSN  string

	// AutoCreate makes EnsureSchema create missing tables. Production runs
	// against a migrated database leave this off.
	AutoCreate bool
}

// FlightUpdate is one observation of a flight, ready for the canonical table.
type FlightUpdate struct {
	FlightID    string    // aerolineas_flight_id
	LastUpdated time.Time // the batch's fetched-at instant
	JSON        []byte    // normalized record, stored verbatim
}

// AircraftRow is one aircraft-registry entry, keyed by registration.
type AircraftRow struct {
	Registration string // matricula
	AircraftType string
	Airline      string
	MSN          string
	Situation    string
}

// Repository is the persistence surface the pipeline needs.
//
// UpsertLatest semantics (all backends must match):
//   - No row for FlightID: insert it.
//   - Row exists and incoming LastUpdated >= stored last_updated: overwrite
//     both last_updated and json.
//   - Row exists and incoming LastUpdated < stored last_updated: no-op. This
//     is what makes batch application order-independent and re-runs
//     idempotent.
//   - The whole batch applies in one transaction: all rows or none.
//
// Callers are expected to run DedupeUpdates first; backends may assume at
// most one update per FlightID within a batch.
type Repository interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates tables when Config.AutoCreate is set, otherwise
	// it only verifies connectivity.
	EnsureSchema(ctx context.Context) error

	// UpsertLatest applies a deduplicated batch and returns the number of
	// rows inserted or overwritten (rows skipped by the freshness guard do
	// not count).
	UpsertLatest(ctx context.Context, updates []FlightUpdate) (int64, error)

	// GetLatest reads one canonical row. ok is false when the flight has
	// never been observed. Serves healthchecks and tests; analytics readers
	// query the table directly.
	GetLatest(ctx context.Context, flightID string) (FlightUpdate, bool, error)

	// LoadWatermark returns the persisted ingest watermark, or the zero time
	// when no run has completed yet.
	LoadWatermark(ctx context.Context) (time.Time, error)

	// StoreWatermark persists the watermark. Monotonicity is the caller's
	// policy; the store just keeps the single row current.
	StoreWatermark(ctx context.Context, t time.Time) error

	// UpsertAircraft replaces registry rows by registration.
	UpsertAircraft(ctx context.Context, rows []AircraftRow) (int64, error)
}

// DedupeUpdates collapses multiple observations of the same flight within
// one batch, keeping the last occurrence in slice order. Relative order of
// the survivors is preserved.
//
// This mirrors "DISTINCT ON (id), keep one" semantics and is done here, not
// in SQL, so every backend behaves identically and Postgres never sees two
// conflicting rows in a single INSERT (which would error, not tie-break).
func DedupeUpdates(updates []FlightUpdate) []FlightUpdate {
	if len(updates) < 2 {
		return updates
	}

	last := make(map[string]int, len(updates))
	for i, u := range updates {
		last[u.FlightID] = i
	}

	out := make([]FlightUpdate, 0, len(last))
	for i, u := range updates {
		if last[u.FlightID] == i {
			out = append(out, u)
		}
	}
	return out
}

// ---- backend registry (mirrors the factory pattern used across backends) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{}
)

// Register installs a backend factory under kind. Backends call this from
// init(); importing flightetl/internal/storage/all registers everything.
func Register(kind string, f factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("storage: duplicate backend kind %q", kind))
	}
	registry[kind] = f
}

// New opens a repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: kind must be set")
	}

	registryMu.RLock()
	f, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}
