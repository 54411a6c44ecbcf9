// Package main runs the raffle engine server: the REST API, the lifecycle
// scheduler and the randomness source, over a memory or postgres store.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	app "github.com/rafflehouse/raffle-engine/internal/app"
	"github.com/rafflehouse/raffle-engine/internal/app/httpapi"
	appmetrics "github.com/rafflehouse/raffle-engine/internal/app/metrics"
	"github.com/rafflehouse/raffle-engine/internal/app/storage/postgres"
	"github.com/rafflehouse/raffle-engine/internal/config"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "raffle-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	stores, closer, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("configure stores: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	registry := prometheus.NewRegistry()
	meters := appmetrics.New(registry)

	application, err := app.New(cfg, stores, app.Options{Metrics: meters}, log)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		RateLimit: cfg.Server.RateLimit,
		Burst:     cfg.Server.Burst,
		Gatherer:  registry,
	}, log)
	if err := application.Attach(httpapi.NewServer(cfg.Server, handler, log)); err != nil {
		return fmt.Errorf("attach http server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	log.Info("raffle engine started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

func buildStores(cfg *config.Config) (app.Stores, *sql.DB, error) {
	if cfg.Database.Driver != "postgres" {
		return app.Stores{}, nil, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := postgres.New(db)
	if err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("initialise postgres store: %w", err)
	}
	return app.Stores{
		Raffles:      store,
		LuckyRefunds: store,
		Randomness:   store,
	}, db, nil
}
