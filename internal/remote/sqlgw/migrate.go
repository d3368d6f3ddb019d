package sqlgw

import (
	"context"
	"fmt"
	"sync"

	"github.com/leobook/leosync/migrations"
	"github.com/pressly/goose/v3"
)

// goose keeps its dialect and filesystem in package state.
var gooseMu sync.Mutex

// Migrate applies all pending migrations from the embedded migrations FS.
func (g *Gateway) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(g.dialect.Name); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, g.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	g.logger.Info("migrations applied", "action", "migrate", "dialect", g.dialect.Name)
	return nil
}
