package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/store"
)

var tablesJSONOutput bool

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List local tables",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create missing local table files with their headers",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-timestamps [table...]",
	Short: "Stamp blank last_updated values in local tables",
	Long: `Adds the last_updated column where a table file lacks it and stamps every
row whose value is blank with the current time. Defaults to all synced tables.`,
	RunE: runBackfill,
}

func init() {
	tablesCmd.Flags().BoolVar(&tablesJSONOutput, "json", false, "Output as JSON")
}

// openLocal loads config and opens the store without creating table files.
func openLocal() (*store.Store, []schema.Table, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, logCloser, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() { closeQuietly("log", logCloser) }

	st, err := store.New(cfg.Data.Dir, store.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	tables, err := cfg.SyncTables()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return st, tables, cleanup, nil
}

func runTables(cmd *cobra.Command, args []string) error {
	st, synced, cleanup, err := openLocal()
	if err != nil {
		return err
	}
	defer cleanup()

	infos := st.Describe(synced)

	if tablesJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"tables": infos,
			"total":  len(infos),
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "NAME\tFILE\tKEY\tSYNCED\tROWS\tSIZE")
	for _, info := range infos {
		rows, size := "-", "-"
		if info.Exists {
			rows = fmt.Sprintf("%d", info.Rows)
			size = formatSize(info.SizeBytes)
		}
		inSync := "no"
		if info.Synced {
			inSync = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.File, info.Key, inSync, rows, size)
	}
	w.Flush()
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := openLocal()
	if err != nil {
		return err
	}
	defer cleanup()

	created, err := st.InitTables()
	if err != nil {
		return fmt.Errorf("init tables: %w", err)
	}
	if len(created) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All tables present.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %d table(s): %s\n", len(created), strings.Join(created, ", "))
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	st, tables, cleanup, err := openLocal()
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) > 0 {
		if tables, err = schema.Resolve(args); err != nil {
			return err
		}
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "TABLE\tSTAMPED")
	total := 0
	for _, t := range tables {
		n, err := st.BackfillTimestamps(t)
		if err != nil {
			w.Flush()
			return fmt.Errorf("backfill %s: %w", t.Name, err)
		}
		total += n
		fmt.Fprintf(w, "%s\t%d\n", t.Name, n)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d row(s) stamped.\n", total)
	return nil
}
