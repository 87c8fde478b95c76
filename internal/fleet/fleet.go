// Package fleet imports the aircraft registry that links board
// registrations ("matriculas") to airframe metadata.
package fleet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rs/zerolog/log"

	"flightetl/internal/storage"
)

// csvRow mirrors the registry export header.
type csvRow struct {
	Registration string `csv:"matricula"`
	AircraftType string `csv:"aeronave"`
	Airline      string `csv:"compania_aerea"`
	MSN          string `csv:"msn"`
	Situation    string `csv:"situacion"`
}

// ParseCSV decodes a registry export. Rows without a registration are
// skipped with a warning; duplicated registrations keep the last row.
func ParseCSV(r io.Reader) ([]storage.AircraftRow, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("registry csv decoder: %w", err)
	}

	var raw []csvRow
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode registry csv: %w", err)
	}

	seen := make(map[string]int, len(raw))
	rows := make([]storage.AircraftRow, 0, len(raw))
	for i, rec := range raw {
		reg := strings.ToUpper(strings.TrimSpace(rec.Registration))
		if reg == "" {
			log.Warn().Int("line", i+2).Msg("registry row without registration, skipping")
			continue
		}
		row := storage.AircraftRow{
			Registration: reg,
			AircraftType: strings.TrimSpace(rec.AircraftType),
			Airline:      strings.TrimSpace(rec.Airline),
			MSN:          strings.TrimSpace(rec.MSN),
			Situation:    strings.TrimSpace(rec.Situation),
		}
		if at, ok := seen[reg]; ok {
			rows[at] = row
			continue
		}
		seen[reg] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

// Import parses a registry export and upserts it into the store.
// It returns the backend's affected-row count, which can be lower than
// the parsed row count.
func Import(ctx context.Context, repo storage.Repository, r io.Reader) (int64, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := repo.UpsertAircraft(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("upsert registry: %w", err)
	}
	return n, nil
}
