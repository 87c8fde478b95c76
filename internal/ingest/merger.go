package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"flightetl/internal/blobpath"
	"flightetl/internal/blobstore"
)

// Snapshot is the merged content of one batch: blob key to that blob's
// parsed record array.
type Snapshot map[string][]Record

// BatchRecord is one flattened record together with the key it came from,
// kept for error reporting and the DLQ.
type BatchRecord struct {
	Key    string
	Record Record
}

// Merger assembles per-batch snapshots, memoizing the result in the store.
type Merger struct {
	Store blobstore.Store
}

// Merge resolves the batch's snapshot.
//
// If the merge-cache object exists it is authoritative: member blobs are not
// re-fetched. Otherwise every member is fetched and parsed, and the
// assembled snapshot is written back to the cache key so retried runs are
// cheap.
//
// Failure mode: a cache object that fails to parse, or a member that is
// missing or unparseable, is a *MergeError — the batch is skipped, siblings
// are unaffected.
//
// A concurrent run can race on the cache key; both writers produce identical
// content (the snapshot is a pure function of the member blobs), so the race
// costs at most a redundant re-merge.
func (m *Merger) Merge(ctx context.Context, batch Batch) (Snapshot, error) {
	cacheKey := blobpath.MergeCacheKey(batch.Environment, batch.FetchedAt)

	body, err := m.Store.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("parse merge cache %q: %w", cacheKey, err)}
		}
		return snap, nil
	case !errors.Is(err, blobstore.ErrNotFound):
		return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("fetch merge cache %q: %w", cacheKey, err)}
	}

	snap := make(Snapshot, len(batch.Keys))
	for _, key := range batch.Keys {
		content, err := m.Store.Get(ctx, key)
		if err != nil {
			return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("fetch member %q: %w", key, err)}
		}
		if len(content) == 0 {
			return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("member %q has no content", key)}
		}
		var records []Record
		if err := json.Unmarshal(content, &records); err != nil {
			return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("parse member %q: %w", key, err)}
		}
		snap[key] = records
	}

	cacheBody, err := json.Marshal(snap)
	if err != nil {
		return nil, &MergeError{FetchedAt: batch.FetchedAt, Err: fmt.Errorf("encode merge cache: %w", err)}
	}
	// The cache is an optimization; a failed write only makes the next retry
	// re-fetch members.
	if err := m.Store.Put(ctx, cacheKey, cacheBody); err != nil {
		log.Warn().Str("key", cacheKey).Err(err).Msg("merge cache write failed")
	}

	return snap, nil
}

// Flatten turns a snapshot into one record sequence, annotating every
// record with its key's reference date. Keys are walked in sorted order so
// "last duplicate wins" downstream is deterministic across runs.
//
// A member key that no longer decodes (possible when parsing a cache object
// written by an older key scheme) contributes its records without a
// reference date.
func Flatten(snap Snapshot) []BatchRecord {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []BatchRecord
	for _, key := range keys {
		var ref time.Time
		if d, err := blobpath.Decode(key); err == nil {
			ref = d.ReferenceDate
		}
		for _, rec := range snap[key] {
			out = append(out, BatchRecord{Key: key, Record: rec.WithReferenceDate(ref)})
		}
	}
	return out
}
