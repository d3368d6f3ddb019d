// Package sync reconciles local table files with the remote store.
//
// The Engine runs one table through FETCH_METADATA, LOAD_LOCAL,
// COMPUTE_DELTA, PULL, PUSH and VERIFY. Newer last_updated wins on each
// key; deletions are never propagated. The Orchestrator drives the Engine
// over every configured table and records one audit event per full run.
//
// Table files assume a single writer process. Within a process the store
// serializes writers per table, and the Orchestrator holds a file lock so
// two sync runs never overlap.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leobook/leosync/internal/metrics"
	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/retry"
	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/store"
	"github.com/leobook/leosync/internal/types"
)

// Table cycle states.
const (
	StateFetchMetadata = "FETCH_METADATA"
	StateLoadLocal     = "LOAD_LOCAL"
	StateComputeDelta  = "COMPUTE_DELTA"
	StatePull          = "PULL"
	StatePush          = "PUSH"
	StateVerify        = "VERIFY"
	StateDone          = "DONE"
	StateFailed        = "FAILED"
)

// Defaults.
const (
	DefaultPageSize         = 1000
	DefaultPullBatchSize    = 200
	DefaultPushBatchSize    = 1000
	DefaultParitySampleSize = 10
	DefaultParityTolerance  = time.Second
)

// Options tunes an Engine. Zero values fall back to the defaults.
type Options struct {
	PageSize         int
	PullBatchSize    int
	PushBatchSize    int
	ParitySampleSize int
	ParityTolerance  time.Duration
	Retry            retry.Policy

	// Rand picks the parity sample.
	Rand *rand.Rand
	// Now stamps pushed rows that carry no valid timestamp.
	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// DefaultOptions returns the standard batch sizes and retry policy.
func DefaultOptions() Options {
	return Options{
		PageSize:         DefaultPageSize,
		PullBatchSize:    DefaultPullBatchSize,
		PushBatchSize:    DefaultPushBatchSize,
		ParitySampleSize: DefaultParitySampleSize,
		ParityTolerance:  DefaultParityTolerance,
		Retry:            retry.Default(),
	}
}

// Engine syncs single tables. Safe for concurrent use on different tables.
type Engine struct {
	store  *store.Store
	gw     remote.Gateway
	opts   Options
	logger *slog.Logger

	randMu sync.Mutex
}

// NewEngine creates an engine over a local store and an injected gateway.
func NewEngine(st *store.Store, gw remote.Gateway, opts Options) *Engine {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.PullBatchSize <= 0 {
		opts.PullBatchSize = def.PullBatchSize
	}
	if opts.PushBatchSize <= 0 {
		opts.PushBatchSize = def.PushBatchSize
	}
	if opts.ParitySampleSize <= 0 {
		opts.ParitySampleSize = def.ParitySampleSize
	}
	if opts.ParityTolerance <= 0 {
		opts.ParityTolerance = def.ParityTolerance
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = def.Retry.Attempts
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryable
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync")
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}

	return &Engine{
		store:  st,
		gw:     gw,
		opts:   opts,
		logger: logger,
	}
}

// retryable excludes errors another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, remote.ErrSchemaDrift) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) policy(t schema.Table) retry.Policy {
	p := e.opts.Retry
	p.Logger = p.Logger.With("table", t.Name)
	return p
}

// cycle carries one table's working state between stages.
type cycle struct {
	table     schema.Table
	remoteTS  map[string]string
	localTS   map[string]string
	localRows map[string]types.Record
	delta     Delta
	pushedTS  map[string]string
	result    *types.TableResult
}

// SyncTable runs one full cycle for t. It never panics and never returns
// an error; failures are reported in the result with State FAILED.
func (e *Engine) SyncTable(ctx context.Context, t schema.Table) (res types.TableResult) {
	start := time.Now()
	res = types.TableResult{Table: t.Name, State: StateFetchMetadata}
	c := &cycle{table: t, result: &res}

	defer func() {
		if r := recover(); r != nil {
			e.fail(&res, fmt.Errorf("%w: %v", ErrPanic, r))
		}
		res.Duration = time.Since(start)
		e.opts.Metrics.ObserveTable(res)
	}()

	stages := []struct {
		state string
		run   func(context.Context, *cycle) error
	}{
		{StateFetchMetadata, e.fetchMetadata},
		{StateLoadLocal, e.loadLocal},
		{StateComputeDelta, e.computeDelta},
		{StatePull, e.pull},
		{StatePush, e.push},
		{StateVerify, e.verify},
	}
	for _, st := range stages {
		res.State = st.state
		if err := ctx.Err(); err != nil {
			e.fail(&res, err)
			return res
		}
		if err := st.run(ctx, c); err != nil {
			e.fail(&res, err)
			return res
		}
	}
	res.State = StateDone

	e.logger.Info("table synced",
		"action", "table_synced",
		"table", t.Name,
		"pulled", res.Pulled,
		"pushed", res.Pushed,
		"parity_checked", res.ParityChecked,
		"parity_mismatches", res.ParityMismatches,
		"duration", time.Since(start),
	)
	return res
}

func (e *Engine) fail(res *types.TableResult, err error) {
	stage := res.State
	err = &StageError{Table: res.Table, Stage: stage, Err: err}
	res.State = StateFailed
	res.Error = err.Error()
	res.ErrorKind = string(ErrorKind(err))
	e.logger.Error("table sync failed",
		"action", "table_failed",
		"table", res.Table,
		"stage", stage,
		"kind", res.ErrorKind,
		"error", err,
	)
}

// fetchMetadata pages through {key, last_updated} until a short page.
func (e *Engine) fetchMetadata(ctx context.Context, c *cycle) error {
	c.remoteTS = make(map[string]string)
	for offset := 0; ; offset += e.opts.PageSize {
		var page []remote.MetadataEntry
		err := e.policy(c.table).Do(ctx, "fetch_metadata", func(ctx context.Context) error {
			var err error
			page, err = e.gw.FetchMetadata(ctx, c.table, offset, e.opts.PageSize)
			return err
		})
		if err != nil {
			return err
		}
		for _, m := range page {
			if m.Key != "" {
				c.remoteTS[m.Key] = m.LastUpdated
			}
		}
		if len(page) < e.opts.PageSize {
			return nil
		}
	}
}

// loadLocal reads the table. An unreadable file degrades to empty.
func (e *Engine) loadLocal(_ context.Context, c *cycle) error {
	rows, err := e.store.Load(c.table)
	if err != nil {
		e.logger.Warn("local table unreadable, continuing as empty",
			"action", "load_degraded",
			"table", c.table.Name,
			"kind", KindLocalIO,
			"error", err,
		)
	}
	store.EnsureTimestamps(rows)

	fields := c.table.KeyFields()
	c.localTS = make(map[string]string, len(rows))
	c.localRows = make(map[string]types.Record, len(rows))
	for _, r := range rows {
		k := r.KeyOf(fields)
		if k == "" {
			continue
		}
		c.localTS[k] = r[schema.LastUpdated]
		c.localRows[k] = r
	}
	return nil
}

func (e *Engine) computeDelta(_ context.Context, c *cycle) error {
	c.delta = ComputeDelta(c.localTS, c.remoteTS)
	e.logger.Debug("delta computed",
		"table", c.table.Name,
		"local", len(c.localTS),
		"remote", len(c.remoteTS),
		"to_push", len(c.delta.ToPush),
		"to_pull", len(c.delta.ToPull),
	)
	return nil
}

// pull fetches newer remote rows and merges them in one rewrite.
func (e *Engine) pull(ctx context.Context, c *cycle) error {
	if len(c.delta.ToPull) == 0 {
		return nil
	}

	var incoming []types.Record
	for _, batch := range remote.Chunk(c.delta.ToPull, e.opts.PullBatchSize) {
		var rows []remote.Row
		err := e.policy(c.table).Do(ctx, "fetch_rows", func(ctx context.Context) error {
			var err error
			rows, err = e.gw.FetchRows(ctx, c.table, batch)
			return err
		})
		if err != nil {
			return err
		}
		for _, r := range rows {
			incoming = append(incoming, remote.Inbound(c.table, r))
		}
	}

	if unknown := c.table.Unknown(recordColumns(incoming)); len(unknown) > 0 {
		drift := &SchemaDriftError{Table: c.table.Name, Columns: unknown}
		e.logger.Info("remote columns added to local schema",
			"action", "schema_extended",
			"table", c.table.Name,
			"kind", KindSchemaDrift,
			"columns", strings.Join(unknown, ","),
			"error", drift,
		)
	}

	n, err := e.store.MergeAll(c.table, incoming)
	if err != nil {
		return err
	}
	c.result.Pulled = n
	return nil
}

// push sends newer local rows in batches. When the sent last_updated
// differs from the local one it is written back so both sides match.
func (e *Engine) push(ctx context.Context, c *cycle) error {
	if len(c.delta.ToPush) == 0 {
		return nil
	}

	now := e.opts.Now()

	rows := make([]remote.Row, 0, len(c.delta.ToPush))
	var stamped []types.Record
	for _, k := range c.delta.ToPush {
		rec, ok := c.localRows[k]
		if !ok {
			continue
		}
		row := remote.Outbound(c.table, rec, now)
		if sent := remote.Stringify(row[schema.LastUpdated], false); sent != rec[schema.LastUpdated] {
			fix := types.Record{schema.LastUpdated: sent}
			for _, f := range c.table.KeyFields() {
				fix[f] = rec[f]
			}
			stamped = append(stamped, fix)
		}
		rows = append(rows, row)
	}
	rows = remote.Dedupe(c.table, rows)

	c.pushedTS = make(map[string]string, len(rows))
	for _, batch := range remote.Chunk(rows, e.opts.PushBatchSize) {
		err := e.policy(c.table).Do(ctx, "upsert", func(ctx context.Context) error {
			return e.gw.UpsertRows(ctx, c.table, batch)
		})
		if err != nil {
			return err
		}
		for _, r := range batch {
			c.pushedTS[remote.KeyOf(c.table, r)] = remote.Stringify(r[schema.LastUpdated], false)
		}
		c.result.Pushed += len(batch)
	}

	if len(stamped) > 0 {
		if _, err := e.store.MergeAll(c.table, stamped); err != nil {
			return err
		}
	}
	return nil
}

// verify re-reads a sample of pushed keys. Mismatches and read failures
// are logged and never fail the cycle.
func (e *Engine) verify(ctx context.Context, c *cycle) error {
	if len(c.pushedTS) == 0 {
		return nil
	}

	keys := e.sample(c.pushedTS)
	var rows []remote.Row
	err := e.policy(c.table).Do(ctx, "verify", func(ctx context.Context) error {
		var err error
		rows, err = e.gw.FetchRows(ctx, c.table, keys)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("parity check skipped",
			"action", "parity_skipped",
			"table", c.table.Name,
			"error", err,
		)
		return nil
	}

	got := make(map[string]string, len(rows))
	for _, r := range rows {
		got[remote.KeyOf(c.table, r)] = remote.Stringify(r[schema.LastUpdated], false)
	}

	c.result.ParityChecked = len(keys)
	for _, k := range keys {
		rv, ok := got[k]
		lv := c.pushedTS[k]
		if ok && withinTolerance(ParseTimestamp(lv), ParseTimestamp(rv), e.opts.ParityTolerance) {
			continue
		}
		c.result.ParityMismatches++
		e.logger.Warn("parity mismatch",
			"action", "parity_mismatch",
			"table", c.table.Name,
			"kind", KindParityMismatch,
			"error", &ParityMismatchError{Table: c.table.Name, Key: k, Local: lv, Remote: rv},
		)
	}
	return nil
}

// sample picks up to ParitySampleSize keys uniformly at random.
func (e *Engine) sample(pushed map[string]string) []string {
	keys := make([]string, 0, len(pushed))
	for k := range pushed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := e.opts.ParitySampleSize
	if len(keys) <= n {
		return keys
	}

	e.randMu.Lock()
	perm := e.opts.Rand.Perm(len(keys))
	e.randMu.Unlock()

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = keys[perm[i]]
	}
	return out
}

func recordColumns(recs []types.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range recs {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
