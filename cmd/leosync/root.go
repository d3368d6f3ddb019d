package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/leobook/leosync/internal/api"
	"github.com/leobook/leosync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "leosync",
	Short:         "LeoSync - LeoBook data sync service",
	Long:          "Keeps the local LeoBook CSV tables and the remote store in step. Without a subcommand it runs the HTTP service and the sync scheduler.",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync scheduler (default)",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides LEOSYNC_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(statusCmd)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// 3. Initialize logger
	logger, logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeQuietly("log", logCloser)
	slog.Info("configuration loaded", "level", cfg.Log.Level, "data_dir", cfg.Data.Dir)

	// 4. Initialize local store
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", st.Dir())

	// 5. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 6. Remote store and orchestrator (optional in dev mode)
	var (
		syncer api.Syncer
		coord  *worker.SyncCoordinator
	)
	if cfg.SyncEnabled() {
		gw, err := openGateway(cfg, logger)
		if err != nil {
			return err
		}
		defer closeQuietly("remote", gw)
		if p, ok := gw.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				slog.Warn("remote store unreachable at startup", "driver", gw.Driver(), "error", err)
			}
		}

		tables, err := cfg.SyncTables()
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(cfg, st, gw, tables, reg, logger)
		if err != nil {
			return err
		}
		syncer = orch
		coord = worker.NewSyncCoordinator(orch, time.Duration(cfg.Sync.Interval), cfg.Sync.OnStartup)
		slog.Info("sync initialized", "driver", gw.Driver(), "tables", len(tables))
	} else {
		slog.Warn("remote store not configured; sync disabled")
	}

	// 7. Initialize HTTP router
	handler := api.NewHandler(syncer, st, cfg.Auth.APIKey, Version, cfg.Remote.Driver)
	router := api.NewRouter(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	slog.Info("router initialized")

	// 8. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Workers
	var wg sync.WaitGroup
	if coord != nil {
		startWorker(ctx, &wg, "sync-coordinator", coord.Run)
	}

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Workers observe ctx and finish their current table before returning
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
