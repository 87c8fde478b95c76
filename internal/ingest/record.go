// Package ingest implements the reconciliation pipeline: it discovers raw
// scrape payloads in the object store, groups them into fetch batches,
// merges and normalizes each batch's flight records, and upserts them into
// the canonical latest-status table.
package ingest

import "time"

// Record is one semi-structured flight observation as scraped from the
// upstream API. Fields arrive dynamically typed; the Str accessor is the
// only way pipeline code reads them, so missing or non-string fields
// degrade to "" here instead of surfacing as type errors at query time.
type Record map[string]any

// Field names used by the pipeline. The rest of the payload (times, gates,
// status text) passes through to storage untouched for the analytics layer.
const (
	FieldID   = "id"
	FieldDate = "x_date" // reference date annotation, YYYY-MM-DD
)

// Str returns the record's field as a string, or "" when absent or not a
// string.
func (r Record) Str(key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Clone returns a shallow copy. Annotation must not mutate the parsed
// snapshot, which may be shared across keys on a cache hit.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithReferenceDate returns a copy annotated with the batch's reference
// date. A zero date leaves the record un-annotated; downstream consumers
// treat a missing x_date as "calendar day unknown".
func (r Record) WithReferenceDate(ref time.Time) Record {
	out := r.Clone()
	if !ref.IsZero() {
		out[FieldDate] = ref.UTC().Format("2006-01-02")
	}
	return out
}
