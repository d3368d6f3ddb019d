package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/leobook/leosync/internal/metrics"
	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/store"
	"github.com/leobook/leosync/internal/types"
)

// Run statuses recorded in the audit log.
const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
)

// LockFile is the run lock created in the data directory.
const LockFile = ".sync.lock"

// Archiver receives the table files after an audited run.
type Archiver interface {
	Archive(ctx context.Context, label string, paths []string) error
}

// Orchestrator runs the engine over every configured table.
type Orchestrator struct {
	engine   *Engine
	store    *store.Store
	tables   []schema.Table
	lockPath string
	archiver Archiver
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex

	mu   sync.RWMutex
	last *types.RunResult
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithArchiver uploads table files after each audited run.
func WithArchiver(a Archiver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.archiver = a
	}
}

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLockPath overrides the run lock location.
func WithLockPath(path string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.lockPath = path
	}
}

// WithRunLogger sets the logger. The default is slog.Default().
func WithRunLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithRunClock sets the clock used for run timestamps.
func WithRunClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator syncing tables in order.
func NewOrchestrator(engine *Engine, st *store.Store, tables []schema.Table, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine:   engine,
		store:    st,
		tables:   tables,
		lockPath: filepath.Join(st.Dir(), LockFile),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "sync")
	return o
}

// Tables returns the configured tables.
func (o *Orchestrator) Tables() []schema.Table {
	return o.tables
}

// SyncOnStartup runs one pass over all tables without an audit record.
// Returns false if any table failed or another run holds the lock.
func (o *Orchestrator) SyncOnStartup(ctx context.Context) bool {
	res, err := o.Run(ctx, "startup", false)
	return err == nil && res.Failed == 0
}

// RunFullSync runs one pass and appends one SYSTEM_SYNC audit record.
// Returns false if any table failed or another run holds the lock.
func (o *Orchestrator) RunFullSync(ctx context.Context, label string) bool {
	res, err := o.Run(ctx, label, true)
	return err == nil && res.Failed == 0
}

// Run syncs every table in order. A failed table never stops the others.
// Errors come only from taking the run lock (ErrSyncInProgress when another
// run holds it); no table is touched in that case.
func (o *Orchestrator) Run(ctx context.Context, label string, audit bool) (types.RunResult, error) {
	unlock, err := o.acquire()
	if err != nil {
		o.logger.Warn("sync run skipped",
			"action", "run_skipped",
			"label", label,
			"error", err,
		)
		return types.RunResult{Label: label, Status: StatusFailed, Errors: []string{err.Error()}}, err
	}
	defer unlock()

	res := types.RunResult{
		Label:     label,
		StartedAt: o.now(),
		Errors:    []string{},
		Tables:    make([]types.TableResult, 0, len(o.tables)),
	}

	o.logger.Info("sync run started",
		"action", "run_started",
		"label", label,
		"tables", len(o.tables),
	)

	for _, t := range o.tables {
		tr := o.engine.SyncTable(ctx, t)
		res.Tables = append(res.Tables, tr)
		if tr.OK() {
			res.Passed++
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", t.Name, tr.Error))
	}

	res.Status = runStatus(res.Passed, res.Failed)
	res.FinishedAt = o.now()

	if res.Failed > 0 {
		o.logger.Warn("sync run finished with failures",
			"action", "run_complete",
			"label", label,
			"passed", res.Passed,
			"failed", res.Failed,
			"errors", strings.Join(res.Errors, "; "),
		)
	} else {
		o.logger.Info("sync run finished",
			"action", "run_complete",
			"label", label,
			"passed", res.Passed,
		)
	}

	if audit {
		o.audit(res)
		o.archive(ctx, label)
	}

	o.metrics.ObserveRun(res)
	o.mu.Lock()
	o.last = &res
	o.mu.Unlock()

	return res, nil
}

// LastResult returns the most recent completed run.
func (o *Orchestrator) LastResult() (types.RunResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return types.RunResult{}, false
	}
	return *o.last, true
}

// acquire takes the in-process guard and the cross-process file lock.
func (o *Orchestrator) acquire() (func(), error) {
	if !o.running.TryLock() {
		return nil, ErrSyncInProgress
	}

	lock := flock.New(o.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		o.running.Unlock()
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		o.running.Unlock()
		return nil, ErrSyncInProgress
	}

	return func() {
		_ = lock.Unlock()
		o.running.Unlock()
	}, nil
}

func (o *Orchestrator) audit(res types.RunResult) {
	errs := "none"
	if len(res.Errors) > 0 {
		errs = strings.Join(res.Errors, "; ")
	}
	ev := types.AuditEvent{
		EventType:   types.EventSystemSync,
		Description: fmt.Sprintf("%d passed, %d failed, errors: %s", res.Passed, res.Failed, errs),
		Status:      res.Status,
	}
	if err := o.store.LogAuditEvent(ev); err != nil {
		o.logger.Error("failed to write sync audit record",
			"action", "audit_failed",
			"label", res.Label,
			"error", err,
		)
	}
}

func (o *Orchestrator) archive(ctx context.Context, label string) {
	if o.archiver == nil {
		return
	}
	paths := make([]string, 0, len(o.tables))
	for _, t := range o.tables {
		paths = append(paths, o.store.Path(t))
	}
	if err := o.archiver.Archive(ctx, label, paths); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("table archive failed",
			"action", "archive_failed",
			"label", label,
			"error", err,
		)
	}
}

func runStatus(passed, failed int) string {
	switch {
	case failed == 0:
		return StatusSuccess
	case passed == 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}
