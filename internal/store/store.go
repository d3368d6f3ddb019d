// Package store persists LeoBook tables as CSV files, one file per table,
// and is the only code path that writes them. Every keyed write rewrites the
// whole file atomically; Append is the exception for append-only tables.
//
// Writes are serialized per table within the process. Producers running in
// other processes must not write the same table concurrently.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/types"
)

// Timestamp formats t as a record timestamp.
func Timestamp(t time.Time) string {
	return types.FormatTimestamp(t)
}

// Store is a directory of CSV table files.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if necessary) the data directory.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path backing t.
func (s *Store) Path(t schema.Table) string {
	return filepath.Join(s.dir, t.File)
}

// Now returns the current time formatted as a record timestamp.
func (s *Store) Now() string {
	return Timestamp(s.now())
}

func (s *Store) lock(table string) func() {
	s.mu.Lock()
	m, ok := s.locks[table]
	if !ok {
		m = &sync.Mutex{}
		s.locks[table] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Load returns every row of t. A missing, empty, or unreadable file yields
// an empty slice; read failures are logged and also returned as a
// *LocalIOError for callers that need to distinguish them.
func (s *Store) Load(t schema.Table) ([]types.Record, error) {
	_, rows, err := s.LoadWithHeader(t)
	return rows, err
}

// LoadWithHeader is Load plus the file's header as written.
func (s *Store) LoadWithHeader(t schema.Table) ([]string, []types.Record, error) {
	path := s.Path(t)
	header, rows, err := readTable(path)
	if err != nil {
		s.logger.Warn("table read failed, treating as empty",
			"table", t.Name,
			"path", path,
			"error", err,
		)
		return nil, []types.Record{}, &LocalIOError{Table: t.Name, Path: path, Op: "read", Err: err}
	}
	if rows == nil {
		rows = []types.Record{}
	}
	return header, rows, nil
}

// Find returns the first row whose key equals key.
func (s *Store) Find(t schema.Table, key string) (types.Record, bool, error) {
	rows, err := s.Load(t)
	if err != nil {
		return nil, false, err
	}
	fields := t.KeyFields()
	for _, r := range rows {
		if r.KeyOf(fields) == key {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// Upsert inserts rec or merges it into the row with the same key, then
// rewrites the table file.
func (s *Store) Upsert(t schema.Table, rec types.Record) error {
	return s.UpsertOn(t, rec, t.KeyFields()...)
}

// UpsertOn is Upsert matching on the given key fields instead of the
// table key. Fields absent from rec keep their stored values.
func (s *Store) UpsertOn(t schema.Table, rec types.Record, keyFields ...string) error {
	if t.AppendOnly {
		return fmt.Errorf("upsert %s: %w", t.Name, ErrAppendOnly)
	}
	if len(keyFields) == 0 {
		keyFields = t.KeyFields()
	}
	rec = trimKeys(rec, keyFields)
	key := rec.KeyOf(keyFields)
	if key == "" {
		s.logger.Warn("upsert skipped: missing key",
			"table", t.Name,
			"key_field", strings.Join(keyFields, ","),
		)
		return &MissingKeyError{Table: t.Name, KeyField: strings.Join(keyFields, ",")}
	}

	unlock := s.lock(t.Name)
	defer unlock()

	path := s.Path(t)
	header, rows, err := readTable(path)
	if err != nil {
		return &LocalIOError{Table: t.Name, Path: path, Op: "read", Err: err}
	}

	merged := false
	for _, row := range rows {
		if row.KeyOf(keyFields) == key {
			row.Merge(rec)
			merged = true
			break
		}
	}
	if !merged {
		rows = append(rows, rec.Clone())
	}

	return s.write(t, t.Extend(header, columnsOf(rec)), rows)
}

// MergeAll upserts many rows under one lock and one rewrite. Incoming
// values override stored values for the same key. Rows without a key are
// skipped. Returns the number of rows applied.
func (s *Store) MergeAll(t schema.Table, incoming []types.Record) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}
	fields := t.KeyFields()

	unlock := s.lock(t.Name)
	defer unlock()

	path := s.Path(t)
	header, rows, err := readTable(path)
	if err != nil {
		return 0, &LocalIOError{Table: t.Name, Path: path, Op: "read", Err: err}
	}

	index := make(map[string]int, len(rows))
	for i, row := range rows {
		if k := row.KeyOf(fields); k != "" {
			if _, dup := index[k]; !dup {
				index[k] = i
			}
		}
	}

	applied := 0
	for _, rec := range incoming {
		rec = trimKeys(rec, fields)
		k := rec.KeyOf(fields)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			rows[i].Merge(rec)
		} else {
			index[k] = len(rows)
			rows = append(rows, rec.Clone())
		}
		applied++
	}

	if err := s.write(t, t.Extend(header, columnsOf(incoming...)), rows); err != nil {
		return 0, err
	}
	return applied, nil
}

// trimKeys returns rec with surrounding space removed from its key fields.
// rec itself is left untouched.
func trimKeys(rec types.Record, fields []string) types.Record {
	var out types.Record
	for _, f := range fields {
		v, ok := rec[f]
		if !ok || v == strings.TrimSpace(v) {
			continue
		}
		if out == nil {
			out = rec.Clone()
		}
		out[f] = strings.TrimSpace(v)
	}
	if out == nil {
		return rec
	}
	return out
}

// Update applies fn to every row matched by match and rewrites the file if
// fn reported a change for at least one row. Returns the number of changed rows.
func (s *Store) Update(t schema.Table, match func(types.Record) bool, fn func(types.Record) bool) (int, error) {
	unlock := s.lock(t.Name)
	defer unlock()

	path := s.Path(t)
	header, rows, err := readTable(path)
	if err != nil {
		return 0, &LocalIOError{Table: t.Name, Path: path, Op: "read", Err: err}
	}
	if header == nil {
		return 0, nil
	}

	changed := 0
	for _, row := range rows {
		if match(row) && fn(row) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.write(t, t.Extend(header, columnsOf(rows...)), rows)
}

// Rewrite replaces the table with rows. The header is normalized to the
// canonical order and extended with any columns the rows carry.
func (s *Store) Rewrite(t schema.Table, header []string, rows []types.Record) error {
	unlock := s.lock(t.Name)
	defer unlock()
	return s.write(t, t.Extend(header, columnsOf(rows...)), rows)
}

// Append adds rec to the end of t without reading existing rows. The
// header is written only when the file is new or empty. Append is not
// idempotent.
func (s *Store) Append(t schema.Table, rec types.Record) error {
	unlock := s.lock(t.Name)
	defer unlock()

	path := s.Path(t)
	header, err := readHeader(path)
	if err != nil {
		return &LocalIOError{Table: t.Name, Path: path, Op: "append", Err: err}
	}
	if header == nil {
		header = t.Extend(columnsOf(rec))
	}

	// A column the file has never seen forces a rewrite so nothing is dropped.
	if missing := missingColumns(header, rec); len(missing) > 0 {
		_, rows, err := readTable(path)
		if err != nil {
			return &LocalIOError{Table: t.Name, Path: path, Op: "append", Err: err}
		}
		rows = append(rows, rec.Clone())
		return s.write(t, t.Extend(header, missing), rows)
	}

	if err := appendRow(path, header, rec); err != nil {
		return &LocalIOError{Table: t.Name, Path: path, Op: "append", Err: err}
	}
	return nil
}

// Stat describes the table file.
func (s *Store) Stat(t schema.Table) types.TableInfo {
	info := types.TableInfo{
		Name:    t.Name,
		File:    t.File,
		Key:     t.Key,
		Columns: t.Extend(),
	}
	fi, err := os.Stat(s.Path(t))
	if err != nil {
		return info
	}
	info.Exists = true
	info.SizeBytes = fi.Size()
	if header, rows, err := readTable(s.Path(t)); err == nil {
		info.Rows = len(rows)
		if header != nil {
			info.Columns = header
		}
	}
	return info
}

// Describe stats every registered table, marking those in synced.
func (s *Store) Describe(synced []schema.Table) []types.TableInfo {
	in := make(map[string]bool, len(synced))
	for _, t := range synced {
		in[t.Name] = true
	}
	all := schema.All()
	out := make([]types.TableInfo, 0, len(all))
	for _, t := range all {
		info := s.Stat(t)
		info.Synced = in[t.Name]
		out = append(out, info)
	}
	return out
}

func (s *Store) write(t schema.Table, header []string, rows []types.Record) error {
	path := s.Path(t)
	data, err := encodeTable(header, rows)
	if err != nil {
		return &LocalIOError{Table: t.Name, Path: path, Op: "write", Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return &LocalIOError{Table: t.Name, Path: path, Op: "write", Err: err}
	}
	return nil
}

// columnsOf returns the union of record columns in sorted order.
func columnsOf(recs ...types.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func missingColumns(header []string, rec types.Record) []string {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	var out []string
	for _, c := range columnsOf(rec) {
		if _, ok := have[c]; !ok && rec[c] != "" {
			out = append(out, c)
		}
	}
	return out
}
