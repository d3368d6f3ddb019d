package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/schema"
)

// mockGateway is an in-memory remote.Gateway that records calls.
type mockGateway struct {
	mu   sync.Mutex
	rows map[string]map[string]remote.Row // table -> key -> row

	metadataCalls int
	fetchBatches  [][]string
	upsertBatches []int

	metadataErr error  // returned by FetchMetadata
	failTable   string // limits metadataErr to one table when set
	upsertErrs  []error
	panicOn     string

	// rewriteTS, when set, replaces last_updated on stored rows.
	rewriteTS func(string) string
}

func newMockGateway() *mockGateway {
	return &mockGateway{rows: make(map[string]map[string]remote.Row)}
}

func (m *mockGateway) seed(t schema.Table, rows ...remote.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[t.Name] == nil {
		m.rows[t.Name] = make(map[string]remote.Row)
	}
	for _, r := range rows {
		m.rows[t.Name][remote.KeyOf(t, r)] = r
	}
}

func (m *mockGateway) row(t schema.Table, key string) (remote.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[t.Name][key]
	return r, ok
}

func (m *mockGateway) count(t schema.Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[t.Name])
}

func (m *mockGateway) FetchMetadata(_ context.Context, t schema.Table, offset, limit int) ([]remote.MetadataEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadataCalls++
	if m.panicOn == "metadata" {
		panic("boom")
	}
	if m.metadataErr != nil && (m.failTable == "" || m.failTable == t.Name) {
		return nil, m.metadataErr
	}

	keys := make([]string, 0, len(m.rows[t.Name]))
	for k := range m.rows[t.Name] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []remote.MetadataEntry
	for i := offset; i < len(keys) && len(out) < limit; i++ {
		r := m.rows[t.Name][keys[i]]
		out = append(out, remote.MetadataEntry{Key: keys[i], LastUpdated: remote.Stringify(r[schema.LastUpdated], false)})
	}
	return out, nil
}

func (m *mockGateway) FetchRows(_ context.Context, t schema.Table, keys []string) ([]remote.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchBatches = append(m.fetchBatches, append([]string(nil), keys...))

	var out []remote.Row
	for _, k := range keys {
		if r, ok := m.rows[t.Name][k]; ok {
			cp := make(remote.Row, len(r))
			for c, v := range r {
				cp[c] = v
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *mockGateway) UpsertRows(_ context.Context, t schema.Table, rows []remote.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertBatches = append(m.upsertBatches, len(rows))
	if len(m.upsertErrs) > 0 {
		err := m.upsertErrs[0]
		m.upsertErrs = m.upsertErrs[1:]
		if err != nil {
			return err
		}
	}

	if m.rows[t.Name] == nil {
		m.rows[t.Name] = make(map[string]remote.Row)
	}
	for _, r := range rows {
		k := remote.KeyOf(t, r)
		stored := m.rows[t.Name][k]
		if stored == nil {
			stored = make(remote.Row)
		}
		for c, v := range r {
			stored[c] = v
		}
		if m.rewriteTS != nil {
			stored[schema.LastUpdated] = m.rewriteTS(remote.Stringify(stored[schema.LastUpdated], false))
		}
		m.rows[t.Name][k] = stored
	}
	return nil
}

func (m *mockGateway) Driver() string { return "mock" }

func (m *mockGateway) Close() error { return nil }

func (m *mockGateway) upserts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.upsertBatches...)
}

func (m *mockGateway) fetches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.fetchBatches...)
}

func (m *mockGateway) metadata() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadataCalls
}
