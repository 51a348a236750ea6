/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Initialize logger
  3. Open the configured store (memory, sqlite or postgres)
  4. Build the payment policy and the booking service
  5. Start the integrity scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (default: none, environment only)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the scheduler, waiting for a running sweep
  4. Close database connection

EXAMPLES:
  ./server -db="./data/rental.db"
  ./server -config=config.yaml
  DB_DRIVER=postgres DB_HOST=localhost DB_USER=rental DB_NAME=rental ./server

SEE ALSO:
  - config/config.go: Configuration and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/inventory"
	memstore "github.com/warp/rental-engine/inventory/store"
	"github.com/warp/rental-engine/logger"
	"github.com/warp/rental-engine/payment"
	"github.com/warp/rental-engine/store/postgres"
	"github.com/warp/rental-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (inventory.Backend, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memstore.NewMemory(), nil
	case config.DriverPostgres:
		return postgres.New(cfg.PostgresDSN())
	default:
		return sqlite.New(cfg.Database.Path)
	}
}

func run(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store opened", "driver", cfg.Database.Driver)

	policy, err := payment.NewPolicy(cfg.Payment.MinDownPaymentRatio, cfg.Payment.CancellationFeeRatio)
	if err != nil {
		return err
	}
	service := booking.NewService(store,
		booking.WithPolicy(policy),
		booking.WithLogger(logger.WithComponent("booking")),
	)

	handler := api.NewHandler(store, service)
	if cfg.Scheduler.Enabled {
		if err := handler.Integrity.Start(cfg.Scheduler.IntegritySweep); err != nil {
			return err
		}
		defer handler.Integrity.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.NewRouter(handler, cfg.CORS.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
