// Command scrape polls the airport operator's all-flights API and
// archives every raw response into the object store for the ingest
// pipeline to pick up.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"flightetl/internal/blobstore/s3"
	"flightetl/internal/config"
	"flightetl/internal/logger"
	"flightetl/internal/metrics"
	"flightetl/internal/metrics/datadog"
	"flightetl/internal/scraper"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsBackend == "datadog" {
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "scrape",
			Tags:    datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			log.Warn().Err(err).Msg("datadog init failed, metrics disabled")
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn().Err(err).Msg("metrics close failed")
				}
			}()
		}
	}

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

	client := &scraper.Client{
		HTTP:        &http.Client{Timeout: cfg.HTTPTimeout},
		Store:       store,
		Environment: cfg.Environment,
		MaxAttempts: cfg.FetchRetries,
	}

	sweep := func() {
		// Boards for today and yesterday: late-night fetches still need
		// yesterday's reference date for flights past midnight.
		now := time.Now()
		for _, date := range []time.Time{now, now.AddDate(0, 0, -1)} {
			rep, err := client.Snapshot(ctx, cfg.Airports, date, 5)
			if err != nil {
				log.Error().Err(err).Msg("sweep aborted")
				return
			}
			log.Info().
				Str("date", date.Format("2006-01-02")).
				Int("fetched", rep.Fetched).
				Int("failed", rep.Failed).
				Msg("sweep complete")
		}
	}

	sweep()
	if cfg.ScrapeEvery <= 0 {
		return
	}

	t := time.NewTicker(cfg.ScrapeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-t.C:
			sweep()
		}
	}
}
