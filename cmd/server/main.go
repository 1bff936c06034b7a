package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avigil/guardlab/internal/api"
	"github.com/avigil/guardlab/internal/config"
	"github.com/avigil/guardlab/internal/engine"
	"github.com/avigil/guardlab/internal/events"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fatal(logger, "creating data directory", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		fatal(logger, "initializing storage", err)
	}
	defer store.Close()

	// Initialize container engine (or the in-memory fake for dry runs)
	var eng engine.Engine
	if cfg.UseFakeEngine() {
		logger.Info("using fake engine, containers will not actually run")
		eng = engine.NewFake()
	} else {
		docker, err := engine.NewDocker(cfg.Engine.Host, logger)
		if err != nil {
			fatal(logger, "initializing docker engine", err)
		}
		eng = docker
	}

	// An unreachable engine is not fatal: declared state can still be edited
	// and /healthz reports the degradation.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := eng.Ping(pingCtx); err != nil {
		logger.Warn("container engine unreachable at startup", "error", err)
	}
	cancelPing()

	// Initialize event publishing
	var publisher events.Publisher = events.Noop{}
	if cfg.Events.NATSURL != "" {
		nats, err := events.NewNATS(cfg.Events.NATSURL, logger)
		if err != nil {
			fatal(logger, "connecting to nats", err)
		}
		publisher = nats
	}
	defer publisher.Close()

	// Initialize services
	provisionService := service.NewProvisionService(store, eng, publisher, logger, service.Options{
		Debounce:      cfg.Provision.Debounce,
		AutoProvision: cfg.Provision.AutoProvision,
		HealthTimeout: cfg.Provision.HealthTimeout,
		Parallelism:   cfg.Provision.Parallelism,
	})
	deltaService := service.NewDeltaService(store, publisher, logger)

	// Create router
	router := api.NewRouter(store, provisionService, deltaService, eng, cfg.Provision.BootstrapAPIKey, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting guardlab server", "addr", cfg.Server.Addr(), "driver", cfg.Database.Driver)

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "server failed", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fatal(logger, "server forced to shutdown", err)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
