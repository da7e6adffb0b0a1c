/*
main.go - Application entry point

PURPOSE:
  Starts the billing ledger server and its maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     Run the HTTP API (default when no command is given)
  migrate   Apply database migrations and exit
  audit     Compare every cached due against its replay; --repair fixes drift

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, config.yaml, .env, LEDGER_* env, flags)
  2. Build the zap logger
  3. Open and migrate the SQLite store
  4. Wire billing services, reporting view and API handler
  5. Start server with graceful shutdown

GLOBAL FLAGS:
  --config  Config file (default: search for config.yaml)
  --db      SQLite database path; ":memory:" for an in-memory database
  --port    HTTP server port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  billing-ledger serve --db ./data/shop.db --port 3000
  LEDGER_LOG_FORMAT=json billing-ledger serve
  billing-ledger audit --repair

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/api"
	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/config"
	"github.com/warp/billing-ledger/logging"
	"github.com/warp/billing-ledger/reporting"
	"github.com/warp/billing-ledger/store/sqlite"
)

var (
	configFile string
	dbPath     string
	port       int
)

var rootCmd = &cobra.Command{
	Use:           "billing-ledger",
	Short:         "Customer due ledger for retail point-of-sale billing",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: search for config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "HTTP server port (overrides http.port)")

	rootCmd.AddCommand(serveCmd, migrateCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// bootstrap loads configuration, builds the logger and opens the store.
// The caller closes the store and syncs the logger.
func bootstrap(cmd *cobra.Command) (*config.Config, *zap.Logger, *sqlite.Store, error) {
	cfg, err := config.Load(config.Options{ConfigFile: configFile})
	if err != nil {
		return nil, nil, nil, err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	store, err := sqlite.Open(cfg.Database.Path,
		sqlite.WithLogger(log.Named("sqlite")),
		sqlite.WithBusyTimeout(cfg.Database.BusyTimeout),
	)
	if err != nil {
		log.Sync()
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, log, store, nil
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, store, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer store.Close()

	services := billing.NewServices(store, store, billing.WithLogger(log.Named("billing")))
	handler := api.NewHandler(services, store, reporting.NewView(store), store, log.Named("http"))
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.HTTP.CORSOrigins})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
