package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/api"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/connpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/monitoring"
	"github.com/teresa-solution/tenant-provisioning-service/internal/provision"
	"github.com/teresa-solution/tenant-provisioning-service/internal/resolver"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
	"github.com/teresa-solution/tenant-provisioning-service/migrations"
)

const shutdownTimeout = 30 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Central)
	if err != nil {
		return fmt.Errorf("connect central database: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("Central database connected")

	if err := provision.ApplyMigrations(cfg.Central.URL, migrations.Central()); err != nil {
		return fmt.Errorf("migrate central database: %w", err)
	}
	log.Info().Msg("Central migrations applied")

	var redisClient store.RedisClient
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer rdb.Close()
		redisClient = rdb
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	}

	var codec *crypto.Codec
	if len(cfg.EmailKey) > 0 {
		codec, err = crypto.NewCodec(cfg.EmailKey)
		if err != nil {
			return fmt.Errorf("init email codec: %w", err)
		}
	}

	registry := store.NewRegistry(pool, redisClient, codec)
	provisioner := provision.NewProvisioner(pool, cfg.Central.URL, cfg.Tenancy, migrations.Tenant())
	router := connpool.NewRouter(cfg.Central.URL)
	defer router.Close()
	seeder := provision.NewAdminSeeder(router)
	orchestrator := provision.NewOrchestrator(registry, provisioner, seeder, router, cfg.Tenancy.StepTimeout)

	monitoring.InitMetrics()

	deps := api.Dependencies{
		Resolver: resolver.New(registry),
		Tenants:  api.NewTenantHandler(orchestrator, registry, router),
		Health:   healthHandler(pool),
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("Server exiting")
	return nil
}

func healthHandler(pinger interface {
	Ping(ctx context.Context) error
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(r.Context()); err != nil {
			api.Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
