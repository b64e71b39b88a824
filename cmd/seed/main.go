package main

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/app"
	"reviews_app/internal/shared"
	mysqlrepo "reviews_app/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)
	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	path := cfg.SeedFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	log.Info().
		Str("file", path).
		Int("workers", cfg.SeedWorkers).
		Msg("seed starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	if err := mysqlrepo.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	log.Info().Msg("db ping ok")

	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Msg("open seed file")
	}
	defer f.Close()

	rep, err := app.NewSeedService(mysqlrepo.New(db), cfg.SeedWorkers).Seed(ctx, f)
	if err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
	if rep.Failed > 0 {
		log.Warn().Int("failed", rep.Failed).Msg("seed finished with failures")
	}
}
