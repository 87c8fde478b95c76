// Command fleetimport loads an aircraft registry CSV export into the
// airfleets_matriculas table.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"flightetl/internal/config"
	"flightetl/internal/fleet"
	"flightetl/internal/logger"
	"flightetl/internal/storage"

	_ "flightetl/internal/storage/all"
)

func main() {
	var path string
	flag.StringVar(&path, "csv", "", "registry CSV path (default stdin)")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg)

	in := os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("open registry csv")
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{
		Kind:       cfg.StorageKind,
		DSN:        cfg.StorageDSN,
		AutoCreate: cfg.AutoCreate,
	})
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.StorageKind).Msg("storage init failed")
	}
	defer repo.Close()

	n, err := fleet.Import(ctx, repo, in)
	if err != nil {
		log.Fatal().Err(err).Msg("registry import failed")
	}
	log.Info().Int64("rows", n).Msg("registry imported")
}
