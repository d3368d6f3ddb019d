package sqlgw

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/schema"
)

var predictions = schema.MustLookup(schema.Predictions)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open("sqlite", filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { g.Close() })
	if err := g.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return g
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"postgres", "postgres", false},
		{"pgx", "postgres", false},
		{"SQLite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		d, err := DialectFor(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("DialectFor(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if d.Name != tt.want {
			t.Errorf("DialectFor(%q) = %q, want %q", tt.name, d.Name, tt.want)
		}
	}
}

func TestPlaceholder(t *testing.T) {
	if got := Postgres.Placeholder(3); got != "$3" {
		t.Errorf("Postgres.Placeholder(3) = %q, want $3", got)
	}
	if got := SQLite.Placeholder(3); got != "?" {
		t.Errorf("SQLite.Placeholder(3) = %q, want ?", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	g := newTestGateway(t)

	// When: migrations run a second time
	if err := g.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	// Then: every registry table exists
	for _, tbl := range schema.All() {
		var n int
		err := g.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tbl.Name).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d, err=%v)", tbl.Name, n, err)
		}
	}
}

func TestUpsertRows_InsertThenUpdate(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	// Given: a row inserted remotely
	err := g.UpsertRows(ctx, predictions, []remote.Row{
		{"fixture_id": "1", "status": "pending", "over_2_5": "0.6", "last_updated": "2026-01-01T10:00:00"},
	})
	if err != nil {
		t.Fatalf("UpsertRows() error = %v", err)
	}

	// When: the same key is upserted with new values
	err = g.UpsertRows(ctx, predictions, []remote.Row{
		{"fixture_id": "1", "status": "won", "over_2_5": nil, "last_updated": "2026-01-02T10:00:00"},
	})
	if err != nil {
		t.Fatalf("UpsertRows() update error = %v", err)
	}

	// Then: one row holds the updated values
	rows, err := g.FetchRows(ctx, predictions, []string{"1"})
	if err != nil {
		t.Fatalf("FetchRows() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0]["status"] != "won" {
		t.Errorf("status = %v, want won", rows[0]["status"])
	}
	if rows[0]["over_2_5"] != nil {
		t.Errorf("over_2_5 = %v, want nil", rows[0]["over_2_5"])
	}
	if rows[0]["last_updated"] != "2026-01-02T10:00:00" {
		t.Errorf("last_updated = %v", rows[0]["last_updated"])
	}
}

func TestUpsertRows_DuplicateKeysLastWins(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	err := g.UpsertRows(ctx, predictions, []remote.Row{
		{"fixture_id": "1", "status": "a", "last_updated": "2026-01-01T00:00:00"},
		{"fixture_id": "1", "status": "b", "last_updated": "2026-01-01T00:00:00"},
	})
	if err != nil {
		t.Fatalf("UpsertRows() error = %v", err)
	}

	rows, _ := g.FetchRows(ctx, predictions, []string{"1"})
	if len(rows) != 1 || rows[0]["status"] != "b" {
		t.Errorf("rows = %v, want single row with status b", rows)
	}
}

func TestUpsertRows_SplitsLargeBatches(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	// Given: more rows than fit into one statement's bind parameters
	d := SQLite
	d.MaxParams = 30
	g.dialect = d

	var rows []remote.Row
	for i := 0; i < 25; i++ {
		rows = append(rows, remote.Row{"fixture_id": fmt.Sprint(i), "last_updated": "2026-01-01T00:00:00"})
	}
	if err := g.UpsertRows(ctx, predictions, rows); err != nil {
		t.Fatalf("UpsertRows() error = %v", err)
	}

	meta, err := g.FetchMetadata(ctx, predictions, 0, 100)
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}
	if len(meta) != 25 {
		t.Errorf("len(meta) = %d, want 25", len(meta))
	}
}

func TestFetchMetadata_Pages(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	var rows []remote.Row
	for i := 0; i < 5; i++ {
		rows = append(rows, remote.Row{"fixture_id": fmt.Sprintf("k%d", i), "last_updated": fmt.Sprintf("2026-01-0%dT00:00:00", i+1)})
	}
	if err := g.UpsertRows(ctx, predictions, rows); err != nil {
		t.Fatalf("UpsertRows() error = %v", err)
	}

	page1, err := g.FetchMetadata(ctx, predictions, 0, 2)
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}
	page3, _ := g.FetchMetadata(ctx, predictions, 4, 2)

	if len(page1) != 2 || page1[0].Key != "k0" || page1[1].Key != "k1" {
		t.Errorf("page1 = %v", page1)
	}
	if page1[0].LastUpdated != "2026-01-01T00:00:00" {
		t.Errorf("page1[0].LastUpdated = %q", page1[0].LastUpdated)
	}
	if len(page3) != 1 || page3[0].Key != "k4" {
		t.Errorf("page3 = %v", page3)
	}
}

func TestFetchRows_CompositeKey(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.db.Exec(`CREATE TABLE pairs (league_id TEXT, team_id TEXT, points TEXT, last_updated TEXT, PRIMARY KEY (league_id, team_id))`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	pairs := schema.Table{Name: "pairs", Key: "league_id,team_id", Columns: []string{"league_id", "team_id", "points", "last_updated"}}

	err = g.UpsertRows(ctx, pairs, []remote.Row{
		{"league_id": "EPL", "team_id": "1", "points": "10", "last_updated": "2026-01-01T00:00:00"},
		{"league_id": "EPL", "team_id": "2", "points": "7", "last_updated": "2026-01-01T00:00:00"},
		{"league_id": "UCL", "team_id": "1", "points": "3", "last_updated": "2026-01-01T00:00:00"},
	})
	if err != nil {
		t.Fatalf("UpsertRows() error = %v", err)
	}

	rows, err := g.FetchRows(ctx, pairs, []string{"EPL,1", "UCL,1"})
	if err != nil {
		t.Fatalf("FetchRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	meta, _ := g.FetchMetadata(ctx, pairs, 0, 10)
	if len(meta) != 3 || meta[0].Key != "EPL,1" {
		t.Errorf("meta = %v", meta)
	}
}

func TestFetchRows_Empty(t *testing.T) {
	g := newTestGateway(t)
	rows, err := g.FetchRows(context.Background(), predictions, nil)
	if err != nil || rows != nil {
		t.Errorf("FetchRows(nil) = %v, %v", rows, err)
	}
}

func TestUpsertRows_UnknownColumnIsDrift(t *testing.T) {
	g := newTestGateway(t)

	err := g.UpsertRows(context.Background(), predictions, []remote.Row{
		{"fixture_id": "1", "bogus": "x", "last_updated": "2026-01-01T00:00:00"},
	})
	if err == nil {
		t.Fatal("UpsertRows() error = nil, want drift")
	}
	if !errors.Is(err, remote.ErrSchemaDrift) {
		t.Errorf("errors.Is(err, ErrSchemaDrift) = false, err = %v", err)
	}
	var rerr *remote.Error
	if !errors.As(err, &rerr) || rerr.Op != "upsert" || rerr.Table != schema.Predictions {
		t.Errorf("err = %#v, want *remote.Error for upsert predictions", err)
	}
}

func TestFetchMetadata_ClosedIsUnavailable(t *testing.T) {
	g := newTestGateway(t)
	g.Close()

	_, err := g.FetchMetadata(context.Background(), predictions, 0, 10)
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
