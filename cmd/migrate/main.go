package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/logger"
	"github.com/Rrens/chatstream/internal/repository/postgres"
	"github.com/Rrens/chatstream/internal/repository/sqlite"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	path := flag.String("path", "", "sqlite archive path (defaults to archive.path)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if _, _, err := logger.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.Archive.Driver == "postgres" {
		migratePostgres(cfg.Archive.DSN, *down)
		return
	}

	dbPath := cfg.Archive.Path
	if *path != "" {
		dbPath = *path
	}

	if *down > 0 {
		if err := sqlite.RollbackMigrations(dbPath, *down); err != nil {
			log.Fatal().Err(err).Str("path", dbPath).Msg("Rollback failed")
		}
	} else if err := sqlite.RunMigrations(dbPath); err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("Migration failed")
	}

	version, dirty, err := sqlite.MigrationVersion(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read schema version")
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Str("path", dbPath).Msg("Archive schema")
}

func migratePostgres(dsn string, down int) {
	if dsn == "" {
		log.Fatal().Msg("archive.dsn is required for the postgres driver")
	}

	if down > 0 {
		if err := postgres.RollbackMigrations(dsn, down); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
	} else if err := postgres.RunMigrations(dsn); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	version, dirty, err := postgres.MigrationVersion(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read schema version")
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Archive schema")
}
