package ingest

import (
	"fmt"
	"time"
)

// Error taxonomy. Record-level errors never abort a batch; batch-level
// errors never abort the run. Only listing/connectivity failures surface
// from Orchestrator.Run itself.

// MergeError is batch-level: the batch's snapshot could not be assembled or
// parsed. The batch is skipped and retried on a later run.
type MergeError struct {
	FetchedAt time.Time
	Err       error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge batch %s: %v", e.FetchedAt.Format(time.RFC3339), e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ValidationError is record-level: one record failed schema validation and
// was dropped from its batch.
type ValidationError struct {
	Key    string // blob key the record came from, "" if unknown
	Index  int    // position within the flattened batch
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d (key %q): %s", e.Index, e.Key, e.Reason)
}

// UpsertError is batch-level: the canonical-table write failed. Safe to
// retry on the next run because the upsert is idempotent.
type UpsertError struct {
	FetchedAt time.Time
	Err       error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert batch %s: %v", e.FetchedAt.Format(time.RFC3339), e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }
