/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, then flags)
  2. Initialize SQLite store
  3. Load and verify the fee policy registry (integrity failures are fatal)
  4. Seed the default fee schedule on a fresh database
  5. Assemble ledger, balances, orchestrator, verifier
  6. Start server with graceful shutdown

CONFIGURATION:
  PORT              HTTP server port (default: 8080)
  DATABASE_PATH     SQLite database path (default: billing.db)
  Flags -port and -db override the environment.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
	"github.com/warp/billing-engine/reconcile"
	"github.com/warp/billing-engine/store/sqlite"
)

type config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"billing.db"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	// Flags override the environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// Policy registry: load, verify, seed. An integrity failure here is
	// fatal on purpose.
	registry, err := policy.NewRegistry(ctx, store)
	if err != nil {
		log.Fatalf("Failed to load fee policy registry: %v", err)
	}
	if err := policy.SeedDefault(ctx, registry); err != nil {
		log.Fatalf("Failed to seed default fee policy: %v", err)
	}

	// Assemble the domain components.
	calc := policy.NewCalculator(registry)
	l := ledger.New(store)
	balances := balance.NewManager(store)
	orchestrator := billing.NewOrchestrator(calc, l, balances,
		billing.StubGateway{}, billing.LogSink{Logger: logger}, store, logger)
	verifier := reconcile.NewVerifier(l, store, logger)

	handler := api.NewHandler(registry, calc, l, balances, orchestrator, verifier, store)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			"addr", fmt.Sprintf("http://localhost:%d", *port),
			"db", *dbPath,
			"policies", len(registry.List()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}
