package ingest

import (
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"flightetl/internal/metrics"
	"flightetl/internal/storage"
)

// Normalizer validates flattened batch records and shapes them for storage.
//
// The contract is deliberately thin: a record must carry a non-empty flight
// identifier, nothing more. Status text and local-time strings pass through
// untouched; the analytics layer owns their interpretation (with
// ResolveLocalTime available for the ambiguous ones).
type Normalizer struct {
	// DLQ receives dropped records when non-nil.
	DLQ *DLQ
}

// Normalize produces upsert-ready triples from a batch's flattened records.
// Validation failures are record-level: logged, counted, dead-lettered, and
// never batch-fatal.
func (n *Normalizer) Normalize(batch Batch, records []BatchRecord) (updates []storage.FlightUpdate, dropped int) {
	updates = make([]storage.FlightUpdate, 0, len(records))

	for i, br := range records {
		id := br.Record.Str(FieldID)
		if id == "" {
			n.reject(br, &ValidationError{Key: br.Key, Index: i, Reason: "missing or empty id"})
			dropped++
			continue
		}

		body, err := json.Marshal(br.Record)
		if err != nil {
			n.reject(br, &ValidationError{Key: br.Key, Index: i, Reason: "unencodable record: " + err.Error()})
			dropped++
			continue
		}

		updates = append(updates, storage.FlightUpdate{
			FlightID:    id,
			LastUpdated: batch.FetchedAt,
			JSON:        body,
		})
	}

	if dropped > 0 {
		metrics.IncCounter("ingest_records_total", float64(dropped), metrics.Labels{"status": "dropped"})
	}
	return updates, dropped
}

func (n *Normalizer) reject(br BatchRecord, verr *ValidationError) {
	log.Warn().Str("key", br.Key).Int("index", verr.Index).Str("reason", verr.Reason).Msg("dropping invalid record")
	if n.DLQ != nil {
		if err := n.DLQ.Append(br.Key, br.Record, verr.Reason); err != nil {
			log.Warn().Err(err).Msg("dlq append failed")
		}
	}
}
