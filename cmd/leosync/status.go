package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leobook/leosync/pkg/client"
)

var (
	statusServer     string
	statusJSONOutput bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show health and the last sync run of a running server",
	Long: `Queries a running leosync server. The API key is read from
LEOSYNC_API_KEY.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Server base URL")
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := client.New(statusServer, os.Getenv("LEOSYNC_API_KEY"),
		client.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}

	var last *client.RunResult
	if health.SyncEnabled {
		res, err := c.SyncStatus(ctx)
		switch {
		case errors.Is(err, client.ErrNoRun):
		case err != nil:
			return fmt.Errorf("sync status: %w", err)
		default:
			last = &res
		}
	}

	if statusJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"health":   health,
			"last_run": last,
		})
	}

	out := cmd.OutOrStdout()
	w := newTabWriter(out)
	fmt.Fprintf(w, "Server:\t%s\n", statusServer)
	fmt.Fprintf(w, "Status:\t%s\n", health.Status)
	fmt.Fprintf(w, "Version:\t%s\n", health.Version)
	driver := health.RemoteDriver
	if driver == "" {
		driver = "-"
	}
	fmt.Fprintf(w, "Remote:\t%s\n", driver)
	fmt.Fprintf(w, "Sync enabled:\t%v\n", health.SyncEnabled)
	w.Flush()

	if last == nil {
		fmt.Fprintln(out, "\nNo sync has run yet.")
		return nil
	}
	fmt.Fprintln(out)
	printRunResult(cmd, *last)
	return nil
}

