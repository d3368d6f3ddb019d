package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leobook/leosync/internal/config"
	"github.com/leobook/leosync/internal/logging"
	"github.com/leobook/leosync/internal/metrics"
	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/remote/rest"
	"github.com/leobook/leosync/internal/remote/sqlgw"
	"github.com/leobook/leosync/internal/retry"
	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/snapshot"
	"github.com/leobook/leosync/internal/store"
	leosync "github.com/leobook/leosync/internal/sync"
)

// loadConfig honours --config, then LEOSYNC_CONFIG_PATH.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// setupLogger builds the process logger and makes it the slog default.
func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// openStore opens the local table directory, creating missing table files.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.New(cfg.Data.Dir, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if _, err := st.InitTables(); err != nil {
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return st, nil
}

// openGateway picks the remote implementation from remote.driver.
func openGateway(cfg *config.Config, logger *slog.Logger) (remote.Gateway, error) {
	switch cfg.Remote.Driver {
	case config.DriverREST:
		client := &http.Client{Timeout: time.Duration(cfg.Remote.Timeout)}
		return rest.New(cfg.Remote.URL, cfg.Remote.APIKey,
			rest.WithHTTPClient(client),
			rest.WithLogger(logger),
		), nil
	case config.DriverPostgres, config.DriverSQLite:
		return sqlgw.Open(cfg.Remote.Driver, cfg.Remote.DSN, sqlgw.WithLogger(logger))
	case "":
		return nil, fmt.Errorf("no remote configured: set SUPABASE_URL or LEOSYNC_REMOTE_DSN")
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}
}

// engineOptions maps the sync config section onto engine options.
func engineOptions(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) leosync.Options {
	return leosync.Options{
		PageSize:         cfg.Sync.PageSize,
		PullBatchSize:    cfg.Sync.PullBatchSize,
		PushBatchSize:    cfg.Sync.PushBatchSize,
		ParitySampleSize: cfg.Sync.ParitySampleSize,
		ParityTolerance:  time.Duration(cfg.Sync.ParityTolerance),
		Retry: retry.Policy{
			Attempts:  cfg.Sync.RetryAttempts,
			BaseDelay: time.Duration(cfg.Sync.RetryBaseDelay),
		},
		Metrics: m,
		Logger:  logger,
	}
}

// newOrchestrator wires engine, archiver and metrics for the given tables.
func newOrchestrator(cfg *config.Config, st *store.Store, gw remote.Gateway, tables []schema.Table, reg prometheus.Registerer, logger *slog.Logger) (*leosync.Orchestrator, error) {
	m := metrics.New(reg)

	archiver, err := snapshot.NewArchiver(cfg.Archive, logger)
	if err != nil {
		return nil, err
	}

	engine := leosync.NewEngine(st, gw, engineOptions(cfg, m, logger))
	return leosync.NewOrchestrator(engine, st, tables,
		leosync.WithArchiver(archiver),
		leosync.WithMetrics(m),
		leosync.WithRunLogger(logger),
	), nil
}

// resolveTables returns the --tables override or the configured set.
func resolveTables(cfg *config.Config, override []string) ([]schema.Table, error) {
	if len(override) > 0 {
		return schema.Resolve(override)
	}
	return cfg.SyncTables()
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func closeQuietly(name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error(name+" close error", "error", err)
	}
}
