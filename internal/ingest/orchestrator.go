package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"flightetl/internal/blobstore"
	"flightetl/internal/metrics"
	"flightetl/internal/storage"
)

// Orchestrator drives one pipeline run: list the store, group batches,
// and merge/normalize/upsert each batch under a bounded worker pool.
type Orchestrator struct {
	Store       blobstore.Store
	Repo        storage.Repository
	Environment string // deployment namespace, also the listing prefix

	// Workers bounds concurrent batch processing and with it the number of
	// simultaneous store connections and write transactions. Defaults to 8.
	Workers int

	// RunDeadline bounds the whole run. Zero means no deadline. A run cut
	// off mid-batch leaves only idempotent partial writes behind; the next
	// scheduled run picks the work up from the same watermark.
	RunDeadline time.Duration

	// DLQ, when non-nil, receives validation rejects.
	DLQ *DLQ
}

// Report summarizes one run. A run with failed batches is still a
// successful run; failures are retried by the next one.
type Report struct {
	BatchesAttempted int
	BatchesSucceeded int
	BatchesFailed    int
	RecordsUpserted  int64
	RecordsDropped   int
	Watermark        time.Time // effective watermark after the run
}

type batchResult struct {
	index    int
	applied  int64
	dropped  int
	err      error
	duration time.Duration
}

// Run executes one full pipeline pass.
//
// Error policy: record-level errors never abort a batch, batch-level errors
// never abort the run. Only watermark load, listing, or other store
// connectivity failures return a non-nil error, for the scheduler to alert
// and retry with backoff.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if o.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.RunDeadline)
		defer cancel()
	}

	watermark, err := o.Repo.LoadWatermark(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load watermark: %w", err)
	}

	entries, err := blobstore.ListAll(ctx, o.Store, o.Environment+"/")
	if err != nil {
		return Report{}, fmt.Errorf("list store: %w", err)
	}

	batches := GroupBatches(entries, watermark)
	log.Info().
		Int("objects", len(entries)).
		Int("batches", len(batches)).
		Time("watermark", watermark).
		Msg("pipeline run starting")

	results := o.processAll(ctx, batches)

	report := Report{BatchesAttempted: len(batches), Watermark: watermark}
	for i, res := range results {
		if res.err != nil {
			report.BatchesFailed++
			log.Error().
				Time("fetched_at", batches[i].FetchedAt).
				Dur("duration", res.duration).
				Err(res.err).
				Msg("batch failed")
			metrics.IncCounter("ingest_batches_total", 1, metrics.Labels{"status": "failed"})
			continue
		}
		report.BatchesSucceeded++
		report.RecordsUpserted += res.applied
		report.RecordsDropped += res.dropped
		metrics.IncCounter("ingest_batches_total", 1, metrics.Labels{"status": "succeeded"})
		metrics.ObserveHistogram("ingest_batch_duration_seconds", res.duration.Seconds(), nil)
	}
	metrics.IncCounter("ingest_records_total", float64(report.RecordsUpserted), metrics.Labels{"status": "upserted"})

	report.Watermark = o.advanceWatermark(ctx, watermark, batches, results)

	log.Info().
		Int("attempted", report.BatchesAttempted).
		Int("succeeded", report.BatchesSucceeded).
		Int("failed", report.BatchesFailed).
		Int64("records_upserted", report.RecordsUpserted).
		Int("records_dropped", report.RecordsDropped).
		Time("watermark", report.Watermark).
		Msg("pipeline run finished")

	return report, nil
}

// processAll fans batches out to a bounded worker pool and returns results
// indexed like batches. Batches are independent; two batches may observe the
// same flight, but the upsert freshness guard resolves that without any
// coordination here.
func (o *Orchestrator) processAll(ctx context.Context, batches []Batch) []batchResult {
	workers := o.Workers
	if workers <= 0 {
		workers = 8
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	results := make([]batchResult, len(batches))
	if len(batches) == 0 {
		return results
	}

	idxCh := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idxCh {
				start := time.Now()
				applied, dropped, err := o.processBatch(ctx, batches[i])
				results[i] = batchResult{
					index:    i,
					applied:  applied,
					dropped:  dropped,
					err:      err,
					duration: time.Since(start).Truncate(time.Millisecond),
				}
			}
		}()
	}

	for i := range batches {
		select {
		case idxCh <- i:
		case <-ctx.Done():
			// Deadline hit: remaining batches report the context error and
			// are retried by the next run.
			for j := i; j < len(batches); j++ {
				results[j] = batchResult{index: j, err: ctx.Err()}
			}
			close(idxCh)
			wg.Wait()
			return results
		}
	}
	close(idxCh)
	wg.Wait()
	return results
}

func (o *Orchestrator) processBatch(ctx context.Context, batch Batch) (applied int64, dropped int, err error) {
	merger := &Merger{Store: o.Store}
	snap, err := merger.Merge(ctx, batch)
	if err != nil {
		return 0, 0, err
	}

	records := Flatten(snap)
	normalizer := &Normalizer{DLQ: o.DLQ}
	updates, dropped := normalizer.Normalize(batch, records)
	updates = storage.DedupeUpdates(updates)
	if len(updates) == 0 {
		log.Info().Time("fetched_at", batch.FetchedAt).Msg("batch has no valid records")
		return 0, dropped, nil
	}

	applied, err = o.Repo.UpsertLatest(ctx, updates)
	if err != nil {
		return 0, dropped, &UpsertError{FetchedAt: batch.FetchedAt, Err: err}
	}

	log.Info().
		Time("fetched_at", batch.FetchedAt).
		Int("keys", len(batch.Keys)).
		Int("records", len(records)).
		Int64("applied", applied).
		Msg("batch upserted")
	return applied, dropped, nil
}

// advanceWatermark persists the largest fetched-at T such that every batch
// at or before T succeeded. Batches after the first failure stay above the
// watermark and are reprocessed by the next run — safe because re-applying
// a batch is a no-op.
//
// A failed watermark write is deliberately non-fatal: the run's data is
// already durable, and an unchanged watermark only means the next run
// redoes idempotent work.
func (o *Orchestrator) advanceWatermark(ctx context.Context, old time.Time, batches []Batch, results []batchResult) time.Time {
	candidate := old
	for i, batch := range batches { // batches are sorted by FetchedAt
		if results[i].err != nil {
			break
		}
		candidate = batch.FetchedAt
	}

	if !candidate.After(old) {
		return old
	}
	if err := o.Repo.StoreWatermark(ctx, candidate); err != nil {
		log.Warn().Time("watermark", candidate).Err(err).Msg("watermark store failed")
		return old
	}
	return candidate
}
