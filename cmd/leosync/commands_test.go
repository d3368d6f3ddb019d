package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leobook/leosync/internal/api"
	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/store"
	leosync "github.com/leobook/leosync/internal/sync"
	"github.com/leobook/leosync/internal/types"
)

var envVars = []string{
	"LEOSYNC_CONFIG_PATH", "LEOSYNC_DEV_MODE", "LEOSYNC_DATA_DIR",
	"SUPABASE_URL", "SUPABASE_SERVICE_KEY",
	"LEOSYNC_REMOTE_URL", "LEOSYNC_REMOTE_API_KEY", "LEOSYNC_REMOTE_DSN",
	"LEOSYNC_REMOTE_DRIVER", "LEOSYNC_REMOTE_TIMEOUT",
	"LEOSYNC_SYNC_TABLES", "LEOSYNC_SYNC_INTERVAL", "LEOSYNC_SYNC_ON_STARTUP",
	"LEOSYNC_RETRY_ATTEMPTS", "LEOSYNC_RETRY_BASE_DELAY",
	"LEOSYNC_API_KEY", "LEOSYNC_LOG_LEVEL", "LEOSYNC_LOG_FORMAT", "LEOSYNC_LOG_FILE",
	"LEOSYNC_ARCHIVE_BUCKET", "LEOSYNC_S3_ENDPOINT", "LEOSYNC_S3_REGION",
	"LEOSYNC_S3_ACCESS_KEY", "LEOSYNC_S3_SECRET_KEY", "LEOSYNC_S3_USE_SSL",
}

// testEnv points the CLI at a temp data dir and a temp SQLite remote.
type testEnv struct {
	dataDir string
	dsn     string
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	dir := t.TempDir()
	env := testEnv{
		dataDir: filepath.Join(dir, "Store"),
		dsn:     filepath.Join(dir, "remote.db"),
	}
	t.Setenv("LEOSYNC_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LEOSYNC_DEV_MODE", "true")
	t.Setenv("LEOSYNC_DATA_DIR", env.dataDir)
	t.Setenv("LEOSYNC_LOG_LEVEL", "error")
	t.Setenv("LEOSYNC_RETRY_BASE_DELAY", "10ms")
	return env
}

func (e testEnv) withSQLiteRemote(t *testing.T) {
	t.Helper()
	t.Setenv("LEOSYNC_REMOTE_DRIVER", "sqlite")
	t.Setenv("LEOSYNC_REMOTE_DSN", e.dsn)
}

// executeCmd runs the root command with captured output.
func executeCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	// Cobra parses into package-level vars, so stale values from previous
	// tests would leak if not reset.
	configPath = ""
	syncLabel = api.DefaultSyncLabel
	syncTables = nil
	syncJSONOutput = false
	tablesJSONOutput = false
	statusServer = "http://localhost:8080"
	statusJSONOutput = false

	old := slog.Default()
	defer slog.SetDefault(old)

	outBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), err
}

func TestInitCommand_CreatesTableFiles(t *testing.T) {
	env := setupEnv(t)

	out, err := executeCmd(t, "init")
	if err != nil {
		t.Fatalf("init error = %v", err)
	}
	if !strings.Contains(out, "Created") {
		t.Errorf("output = %q, want created summary", out)
	}
	for _, tbl := range schema.All() {
		if _, err := os.Stat(filepath.Join(env.dataDir, tbl.File)); err != nil {
			t.Errorf("%s not created: %v", tbl.File, err)
		}
	}

	// Second run finds everything in place
	out, err = executeCmd(t, "init")
	if err != nil {
		t.Fatalf("second init error = %v", err)
	}
	if !strings.Contains(out, "All tables present.") {
		t.Errorf("output = %q, want 'All tables present.'", out)
	}
}

func TestTablesCommand_JSON(t *testing.T) {
	setupEnv(t)
	if _, err := executeCmd(t, "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}

	out, err := executeCmd(t, "tables", "--json")
	if err != nil {
		t.Fatalf("tables error = %v", err)
	}

	var resp struct {
		Tables []types.TableInfo `json:"tables"`
		Total  int               `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Total != len(schema.All()) {
		t.Errorf("total = %d, want %d", resp.Total, len(schema.All()))
	}
	synced := map[string]bool{}
	for _, info := range resp.Tables {
		synced[info.Name] = info.Synced
	}
	if !synced[schema.Predictions] {
		t.Error("predictions should be listed as synced")
	}
	if synced[schema.AuditLog] {
		t.Error("audit_log should not be listed as synced by default")
	}
}

func TestTablesCommand_Table(t *testing.T) {
	setupEnv(t)

	out, err := executeCmd(t, "tables")
	if err != nil {
		t.Fatalf("tables error = %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "predictions.csv") {
		t.Errorf("output = %q, want table listing", out)
	}
}

func TestBackfillCommand_StampsBlankTimestamps(t *testing.T) {
	// Given: a teams file written without last_updated
	env := setupEnv(t)
	if err := os.MkdirAll(env.dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	csv := "team_id,team_name\nt1,Arsenal\nt2,Chelsea\n"
	if err := os.WriteFile(filepath.Join(env.dataDir, "teams.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	// When: backfilling the teams table
	out, err := executeCmd(t, "backfill-timestamps", "teams")
	if err != nil {
		t.Fatalf("backfill error = %v", err)
	}

	// Then: both rows are stamped
	if !strings.Contains(out, "2 row(s) stamped.") {
		t.Errorf("output = %q, want 2 rows stamped", out)
	}
	st, err := store.New(env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := st.Load(schema.MustLookup(schema.Teams))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.Get(schema.LastUpdated) == "" {
			t.Errorf("row %v has blank last_updated", r)
		}
	}
}

func TestBackfillCommand_UnknownTable(t *testing.T) {
	setupEnv(t)
	if _, err := executeCmd(t, "backfill-timestamps", "nope"); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestMigrateCommand_SQLite(t *testing.T) {
	env := setupEnv(t)
	env.withSQLiteRemote(t)

	out, err := executeCmd(t, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, "Migrations applied (sqlite).") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(env.dsn); err != nil {
		t.Errorf("remote database not created: %v", err)
	}
}

func TestMigrateCommand_RESTRejected(t *testing.T) {
	setupEnv(t)
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")

	_, err := executeCmd(t, "migrate")
	if err == nil || !strings.Contains(err.Error(), "does not support migrations") {
		t.Errorf("migrate error = %v, want unsupported driver", err)
	}
}

func TestSyncCommand_NoRemote(t *testing.T) {
	setupEnv(t)
	if _, err := executeCmd(t, "sync"); err == nil {
		t.Error("expected error without a remote")
	}
}

func TestSyncCommand_InvalidLabel(t *testing.T) {
	env := setupEnv(t)
	env.withSQLiteRemote(t)

	_, err := executeCmd(t, "sync", "--label", "../x")
	if err == nil || !strings.Contains(err.Error(), "invalid --label") {
		t.Errorf("sync error = %v, want invalid label", err)
	}
}

func TestSyncCommand_PushesLocalRowsAndAudits(t *testing.T) {
	// Given: a migrated SQLite remote and one local team
	env := setupEnv(t)
	env.withSQLiteRemote(t)
	if _, err := executeCmd(t, "migrate"); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	st, err := store.New(env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(schema.MustLookup(schema.Teams), types.Record{
		"team_id":   "t1",
		"team_name": "Arsenal",
	}); err != nil {
		t.Fatal(err)
	}

	// When: syncing the teams table
	out, err := executeCmd(t, "sync", "--tables", "teams", "--label", "cli-test", "--json")
	if err != nil {
		t.Fatalf("sync error = %v (output %q)", err, out)
	}

	// Then: the row is pushed and the run is audited
	var res types.RunResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.Status != leosync.StatusSuccess {
		t.Errorf("status = %q, want %q", res.Status, leosync.StatusSuccess)
	}
	if res.Label != "cli-test" {
		t.Errorf("label = %q, want cli-test", res.Label)
	}
	if len(res.Tables) != 1 || res.Tables[0].Pushed != 1 {
		t.Errorf("tables = %+v, want teams with 1 pushed", res.Tables)
	}

	events, err := st.Load(schema.MustLookup(schema.AuditLog))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Get("event_type") != types.EventSystemSync {
		t.Errorf("audit events = %v, want one %s", events, types.EventSystemSync)
	}
}

func TestSyncCommand_TextSummary(t *testing.T) {
	env := setupEnv(t)
	env.withSQLiteRemote(t)
	if _, err := executeCmd(t, "migrate"); err != nil {
		t.Fatalf("migrate error = %v", err)
	}

	out, err := executeCmd(t, "sync", "--tables", "teams,region_league")
	if err != nil {
		t.Fatalf("sync error = %v", err)
	}
	for _, want := range []string{`Sync "manual": success`, "TABLE", "teams", "region_league"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSyncCommand_FailsWhenRemoteNotMigrated(t *testing.T) {
	// Given: a SQLite remote with no tables
	env := setupEnv(t)
	env.withSQLiteRemote(t)
	t.Setenv("LEOSYNC_RETRY_ATTEMPTS", "1")

	// When: syncing
	_, err := executeCmd(t, "sync", "--tables", "teams", "--json")

	// Then: the command reports the failed run
	if err == nil {
		t.Fatal("expected error for failed sync")
	}
	if !strings.Contains(err.Error(), leosync.StatusFailed) {
		t.Errorf("error = %v, want status %q", err, leosync.StatusFailed)
	}
}

// stubSyncer implements api.Syncer for the status command tests.
type stubSyncer struct {
	last *types.RunResult
}

func (s *stubSyncer) Run(ctx context.Context, label string, audit bool) (types.RunResult, error) {
	return types.RunResult{}, nil
}

func (s *stubSyncer) LastResult() (types.RunResult, bool) {
	if s.last == nil {
		return types.RunResult{}, false
	}
	return *s.last, true
}

func (s *stubSyncer) Tables() []schema.Table { return nil }

func newStatusServer(t *testing.T, syncer api.Syncer) string {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(syncer, st, "status-key", "9.9.9", "postgres"), nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestStatusCommand_ShowsLastRun(t *testing.T) {
	// Given: a server that has completed a run
	setupEnv(t)
	t.Setenv("LEOSYNC_API_KEY", "status-key")
	url := newStatusServer(t, &stubSyncer{last: &types.RunResult{
		Label:      "scheduled",
		Status:     leosync.StatusPartialFailure,
		Passed:     1,
		Failed:     1,
		Tables:     []types.TableResult{{Table: "teams", State: "DONE"}, {Table: "schedules", State: "FAILED", Error: "remote unavailable"}},
		StartedAt:  time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 2, 13, 12, 0, 3, 0, time.UTC),
	}})

	// When: querying status
	out, err := executeCmd(t, "status", "--server", url)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}

	// Then: health and the last run are printed
	for _, want := range []string{"9.9.9", "postgres", `Sync "scheduled": partial_failure`, "remote unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_NoRunYetJSON(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEOSYNC_API_KEY", "status-key")
	url := newStatusServer(t, &stubSyncer{})

	out, err := executeCmd(t, "status", "--server", url, "--json")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var resp struct {
		Health  types.HealthResponse `json:"health"`
		LastRun *types.RunResult     `json:"last_run"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if !resp.Health.SyncEnabled || resp.LastRun != nil {
		t.Errorf("status = %+v, want sync enabled and no run", resp)
	}
}

func TestStatusCommand_BadKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEOSYNC_API_KEY", "wrong")
	url := newStatusServer(t, &stubSyncer{})

	if _, err := executeCmd(t, "status", "--server", url); err == nil {
		t.Error("expected error for rejected API key")
	}
}
