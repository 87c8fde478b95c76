// Command ingest runs the raw-payload pipeline: list new objects,
// merge per-timestamp snapshots, normalize records, and upsert the
// latest flight status into the relational store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"flightetl/internal/blobstore/s3"
	"flightetl/internal/config"
	"flightetl/internal/ingest"
	"flightetl/internal/logger"
	"flightetl/internal/metrics"
	"flightetl/internal/metrics/datadog"
	"flightetl/internal/storage"

	// register all repository backends with the storage factory.
	_ "flightetl/internal/storage/all"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics := initMetrics(ctx, cfg)
	defer closeMetrics()

	store, err := s3.New(ctx, s3.Options{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("object store init failed")
	}

	repo, err := storage.New(ctx, storage.Config{
		Kind:       cfg.StorageKind,
		DSN:        cfg.StorageDSN,
		AutoCreate: cfg.AutoCreate,
	})
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.StorageKind).Msg("storage init failed")
	}
	defer repo.Close()

	runOnce := func() {
		dlq, err := ingest.OpenDLQ(cfg.DLQDir, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("dlq open failed, rejects will only be logged")
		}

		o := &ingest.Orchestrator{
			Store:       store,
			Repo:        repo,
			Environment: cfg.Environment,
			Workers:     cfg.Workers,
			RunDeadline: cfg.RunDeadline,
			DLQ:         dlq,
		}
		report, err := o.Run(ctx)
		if dlq != nil {
			if cerr := dlq.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("dlq close failed")
			}
		}
		if err != nil {
			log.Error().Err(err).Msg("ingest run failed")
			return
		}
		log.Info().
			Int("attempted", report.BatchesAttempted).
			Int("succeeded", report.BatchesSucceeded).
			Int("failed", report.BatchesFailed).
			Int64("upserted", report.RecordsUpserted).
			Time("watermark", report.Watermark).
			Msg("ingest run complete")
	}

	runOnce()
	if cfg.RunEvery <= 0 {
		return
	}

	t := time.NewTicker(cfg.RunEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-t.C:
			runOnce()
		}
	}
}

// initMetrics wires the configured metrics backend and returns its
// shutdown func. The nop backend stays in place when metrics are
// disabled or init fails.
func initMetrics(ctx context.Context, cfg config.Config) func() {
	noop := func() {}
	switch cfg.MetricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "ingest",
			Tags:    datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			log.Warn().Err(err).Msg("datadog init failed, metrics disabled")
			return noop
		}
		metrics.SetBackend(b)
		// Close stops the periodic flush loop and submits one final time.
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics close failed")
			}
		}
	case "", "none":
	default:
		log.Warn().Str("backend", cfg.MetricsBackend).Msg("unknown metrics backend, metrics disabled")
	}
	return noop
}
