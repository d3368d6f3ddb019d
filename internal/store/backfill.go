package store

import (
	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/types"
)

// BackfillTimestamps adds the last_updated column to t when the file lacks
// it and stamps every row whose value is blank. Returns the number of rows
// stamped. Missing or empty files are left alone.
func (s *Store) BackfillTimestamps(t schema.Table) (int, error) {
	if t.AppendOnly {
		return 0, nil
	}
	now := s.Now()

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

	hasColumn := false
	for _, h := range header {
		if h == schema.LastUpdated {
			hasColumn = true
			break
		}
	}

	stamped := 0
	for _, r := range rows {
		if r.Get(schema.LastUpdated) == "" {
			r[schema.LastUpdated] = now
			stamped++
		}
	}
	if stamped == 0 && hasColumn {
		return 0, nil
	}

	if err := s.write(t, t.Extend(header), rows); err != nil {
		return 0, err
	}
	s.logger.Info("timestamps backfilled",
		"table", t.Name,
		"rows", stamped,
		"column_added", !hasColumn,
	)
	return stamped, nil
}

// EnsureTimestamps gives every loaded row a last_updated entry, empty when
// absent, so later stages can treat the column as always present.
func EnsureTimestamps(rows []types.Record) {
	for _, r := range rows {
		if _, ok := r[schema.LastUpdated]; !ok {
			r[schema.LastUpdated] = ""
		}
	}
}
