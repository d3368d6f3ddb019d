// Package schema is the static registry of LeoBook tables: file name,
// key field(s) and canonical column order for every persisted entity.
package schema

import (
	"strings"
)

// LastUpdated is the change-tracking column present on every synced table.
const LastUpdated = "last_updated"

// Table describes one logical table.
type Table struct {
	Name    string
	File    string
	Key     string // comma-joined for composite keys
	Columns []string
	// AppendOnly tables are written with Append and never rewritten by key.
	AppendOnly bool
}

// KeyFields returns the individual key column names.
func (t Table) KeyFields() []string {
	parts := strings.Split(t.Key, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConflictKey is the remote upsert conflict target.
func (t Table) ConflictKey() []string {
	return t.KeyFields()
}

// IsKeyField reports whether col participates in the table key.
func (t Table) IsKeyField(col string) bool {
	for _, k := range t.KeyFields() {
		if k == col {
			return true
		}
	}
	return false
}

// HasColumn reports whether col is declared on the table.
func (t Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Whitelist returns the set of columns accepted by the remote store.
func (t Table) Whitelist() map[string]struct{} {
	w := make(map[string]struct{}, len(t.Columns)+3)
	for _, c := range t.Columns {
		w[c] = struct{}{}
	}
	w["id"] = struct{}{}
	w["created_at"] = struct{}{}
	w[LastUpdated] = struct{}{}
	return w
}

// Extend returns the canonical column order for a file that has observed
// columns: key fields first, declared columns next, then observed columns
// unknown to the registry in first-seen order, and last_updated last.
func (t Table) Extend(observed ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if c == "" || c == LastUpdated {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	for _, k := range t.KeyFields() {
		add(k)
	}
	for _, c := range t.Columns {
		add(c)
	}
	for _, cols := range observed {
		for _, c := range cols {
			add(c)
		}
	}

	if !t.AppendOnly || t.HasColumn(LastUpdated) {
		out = append(out, LastUpdated)
	}
	return out
}

// Unknown returns the observed columns outside the table's whitelist.
func (t Table) Unknown(observed []string) []string {
	allowed := t.Whitelist()
	var out []string
	for _, c := range observed {
		if _, ok := allowed[c]; ok || c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
