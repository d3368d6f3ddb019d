package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the remote tables",
	Long: `Applies the embedded schema migrations to a SQL remote (postgres or sqlite).
The REST remote manages its own schema and is rejected.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeQuietly("log", logCloser)

	gw, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly("remote", gw)

	m, ok := gw.(migrator)
	if !ok {
		return fmt.Errorf("migrate: driver %q does not support migrations", gw.Driver())
	}
	if err := m.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s).\n", gw.Driver())
	return nil
}
