package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"vidflow/internal/config"
	"vidflow/internal/database/migrations"
	"vidflow/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	to := flag.Uint("to", 0, "migrate up or down to this version")
	force := flag.Int("force", -1, "mark a version as clean after a manual fix")
	seed := flag.Bool("seed", false, "insert demo event and packages after migrating")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}

	runner := migrations.NewRunner(sqldb, log)
	defer runner.Close()

	switch {
	case *force >= 0:
		err = runner.Force(*force)
	case *down:
		err = runner.MigrateDown()
	case *to > 0:
		err = runner.MigrateTo(*to)
	default:
		err = runner.MigrateUp()
	}
	if err != nil {
		log.Error("DATABASE", err.Error())
		os.Exit(1)
	}

	if *seed {
		if err := migrations.Seed(context.Background(), bun.NewDB(sqldb, pgdialect.New())); err != nil {
			log.Error("DATABASE", fmt.Sprintf("Seed failed: %v", err))
			os.Exit(1)
		}
		log.Info("DATABASE", "Demo data seeded")
	}
	log.Info("DATABASE", "✅ Done")
}
