package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/connpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
	"github.com/teresa-solution/tenant-provisioning-service/migrations"
)

// Operator CLI: "-scope central" migrates the registry database,
// "-scope tenants" re-applies the tenant migration set to every
// registered tenant database (after a schema change ships).
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	_ = godotenv.Load()

	var (
		scope   = flag.String("scope", "central", "Migration scope (central, tenants)")
		command = flag.String("command", "up", "Migration command (up, down)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	switch *scope {
	case "central":
		runOne(cfg.Central.URL, migrations.Central(), *command)
		log.Info().Msg("Central migrations done")
	case "tenants":
		migrateTenants(cfg, *command)
	default:
		log.Fatal().Msgf("Unknown scope: %s", *scope)
	}
}

func migrateTenants(cfg *config.Config, command string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.Central)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to central database")
	}
	defer pool.Close()

	var codec *crypto.Codec
	if len(cfg.EmailKey) > 0 {
		if codec, err = crypto.NewCodec(cfg.EmailKey); err != nil {
			log.Fatal().Err(err).Msg("Failed to init email codec")
		}
	}

	registry := store.NewRegistry(pool, nil, codec)
	tenants, err := registry.List(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list tenants")
	}

	for _, tenant := range tenants {
		dsn, err := connpool.DSNForDatabase(cfg.Central.URL, tenant.PhysicalDB)
		if err != nil {
			log.Fatal().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to derive tenant DSN")
		}
		runOne(dsn, migrations.Tenant(), command)
		log.Info().Str("tenant_id", tenant.ID).Str("physical_db", tenant.PhysicalDB).
			Msg("Tenant migrations done")
	}
}

func runOne(dsn string, src fs.FS, command string) {
	pgCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse DSN")
	}
	db := stdlib.OpenDB(*pgCfg)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migration driver")
	}

	source, err := iofs.New(src, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open migration source")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Failed to revert migrations")
		}
	default:
		log.Fatal().Msgf("Unknown command: %s", command)
	}
}
