package backstore

import (
	"sort"
	"sync"

	"github.com/fieldstonedb/fieldstone/journal"
	"github.com/fieldstonedb/fieldstone/row"
)

// MemBackStore keeps committed rows in process memory. Used by tests and
// volatile deployments that accept losing state on restart.
type MemBackStore struct {
	mu     sync.RWMutex
	tables map[string]map[row.ID]row.Row
}

// NewMemBackStore creates an empty in-memory backstore.
func NewMemBackStore() *MemBackStore {
	return &MemBackStore{tables: make(map[string]map[row.ID]row.Row)}
}

func (s *MemBackStore) Apply(diffs map[string]*journal.TableDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for table, diff := range diffs {
		rows, ok := s.tables[table]
		if !ok {
			rows = make(map[row.ID]row.Row)
			s.tables[table] = rows
		}
		for id := range diff.Deleted() {
			delete(rows, id)
		}
		for id, r := range diff.Added() {
			rows[id] = r
		}
		for id, m := range diff.Modified() {
			rows[id] = m.New
		}
	}
	return nil
}

func (s *MemBackStore) Rows(table string) ([]row.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[table]
	out := make([]row.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *MemBackStore) RowByID(table string, id row.ID) (row.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tables[table][id]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (s *MemBackStore) Close() error { return nil }
