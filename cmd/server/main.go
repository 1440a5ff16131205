/*
main.go - Application entry point

PURPOSE:
  The leave engine binary: the HTTP server plus a few admin commands that
  work directly on the database.

COMMANDS:
  serve        Run the REST API (default when no command is given)
  close-year   Archive and freeze one entitlement year
  history      Print archive rows for an employee or a year
  balances     Print an employee's live balances

STARTUP SEQUENCE (serve):
  1. Load .env, LEAVE_* variables and flags into config.Config
  2. Open the SQLite store (migrations run on open)
  3. Build the leave-type catalog from the YAML file and stored edits
  4. Connect the event publisher (AMQP, or the log when no URL is set)
  5. Start the year-close scheduler and the HTTP server
  6. Wait for SIGINT/SIGTERM and shut down gracefully

FLAGS / ENVIRONMENT:
  --port            LEAVE_PORT             HTTP server port (8080)
  --db              LEAVE_DB_PATH          SQLite database path (leave.db)
                                           Use ":memory:" for a throwaway database
  --catalog         LEAVE_CATALOG_FILE     YAML leave-type catalog
  --amqp-url        LEAVE_AMQP_URL         RabbitMQ URL for workflow events
  --log-level       LEAVE_LOG_LEVEL        debug | info | warn | error
  --log-format      LEAVE_LOG_FORMAT       text | json
  See config/config.go for the full key list.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown_timeout)
  4. Close the publisher and the database

EXAMPLES:
  ./leave serve --db=./data/leave.db --catalog=./catalog.yaml
  ./leave close-year 2024 --actor=hr-admin
  ./leave history --employee=emp-1
  ./leave balances emp-1 --year=2025

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/sqlite"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:           "leave",
	Short:         "Leave request approval engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.Int("port", 8080, "HTTP server port")
	flags.String("db", "leave.db", "SQLite database path")
	flags.String("catalog", "", "YAML leave-type catalog file")
	flags.String("amqp-url", "", "RabbitMQ URL for workflow events")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format (text or json)")
	flags.Bool("scheduler", true, "close the previous year automatically")

	bind := map[string]string{
		"port":            "port",
		"db_path":         "db",
		"catalog_file":    "catalog",
		"amqp_url":        "amqp-url",
		"log_level":       "log-level",
		"log_format":      "log-format",
		"close_scheduler": "scheduler",
	}
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(closeYearCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(balancesCmd())
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	engine    *leave.Engine
	publisher leave.Publisher
	closers   []func() error
}

// openApp wires store, catalog, publisher and engine. withBroker is false for
// one-shot CLI commands, which log their events instead.
func openApp(ctx context.Context, withBroker bool) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	a := &app{cfg: cfg, logger: logger}

	a.store, err = sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	policies, err := factory.NewCatalogFactory().LoadFile(cfg.CatalogFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	catalog, err := leave.NewCatalog(policies...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := catalog.Attach(ctx, a.store); err != nil {
		a.Close()
		return nil, err
	}

	a.publisher = notify.LogPublisher{Logger: logger}
	if withBroker && cfg.AMQPURL != "" {
		p, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = p
		a.closers = append([]func() error{p.Close}, a.closers...)
	}

	a.engine = leave.New(a.store, catalog,
		leave.WithLogger(logger),
		leave.WithPublisher(a.publisher),
		leave.WithCloseConcurrency(cfg.CloseConcurrency),
	)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	handler := api.NewHandler(a.engine, logger)
	router := api.NewRouter(handler, a.cfg.CORSOrigins...)

	scheduler := api.NewYearCloseScheduler(a.engine.Archive, a.store, logger)
	scheduler.CheckInterval = a.cfg.CloseInterval
	scheduler.Enabled = a.cfg.CloseScheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", a.cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
