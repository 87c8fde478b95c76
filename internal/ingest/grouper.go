package ingest

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"flightetl/internal/blobpath"
	"flightetl/internal/blobstore"
)

// minPayloadSize excludes empty-array artifacts: a scrape of an airport with
// no flights archives the two-byte body "[]", which carries no records and
// would only produce empty batches.
const minPayloadSize = 2

// Key markers identifying the payload kind of interest. Only the all-flights
// endpoint of the airport API feeds the canonical table; other archived
// sources (HTML boards) are handled elsewhere.
const (
	markerHost     = "webaa-api"
	markerEndpoint = "all-flights"
)

// Batch is one ingest unit: every raw payload captured at the same instant.
type Batch struct {
	Environment string
	FetchedAt   time.Time
	Keys        []string
}

// GroupBatches filters a flat listing down to processable raw payloads and
// groups them by exact fetched-at value.
//
// Filters, in order:
//   - size must exceed minPayloadSize
//   - key must reference the all-flights payload kind
//   - merge-cache objects are excluded (or a cache would be re-merged as an
//     ordinary member on the next run)
//   - key must decode; undecodable keys are logged and skipped
//   - fetched-at must be strictly after the watermark
//
// The returned batches are sorted by FetchedAt ascending and each batch's
// keys are sorted. Processing order across batches carries no correctness
// weight (the upsert freshness guard makes application commutative); the
// ordering just keeps runs deterministic and logs readable.
func GroupBatches(entries []blobstore.Entry, watermark time.Time) []Batch {
	byTime := make(map[int64]*Batch)

	for _, e := range entries {
		if e.Size <= minPayloadSize {
			continue
		}
		if !strings.Contains(e.Key, markerHost) || !strings.Contains(e.Key, markerEndpoint) {
			continue
		}
		if blobpath.IsMergeCache(e.Key) {
			continue
		}

		d, err := blobpath.Decode(e.Key)
		if err != nil {
			log.Warn().Str("key", e.Key).Err(err).Msg("skipping undecodable key")
			continue
		}
		if !d.FetchedAt.After(watermark) {
			continue
		}

		k := d.FetchedAt.UnixNano()
		b, ok := byTime[k]
		if !ok {
			b = &Batch{Environment: d.Environment, FetchedAt: d.FetchedAt}
			byTime[k] = b
		}
		b.Keys = append(b.Keys, e.Key)
	}

	batches := make([]Batch, 0, len(byTime))
	for _, b := range byTime {
		sort.Strings(b.Keys)
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].FetchedAt.Before(batches[j].FetchedAt) })
	return batches
}
