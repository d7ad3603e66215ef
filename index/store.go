package index

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fieldstonedb/fieldstone/schema"
)

// ErrIndexNotFound is returned when a normalized index name resolves to
// nothing in the store.
type ErrIndexNotFound struct {
	Name string
}

func (e ErrIndexNotFound) Error() string {
	return fmt.Sprintf("no index registered under %q", e.Name)
}

// Store yields index objects by normalized name. One store serves the
// whole engine and outlives every journal.
type Store interface {
	// Index returns the index registered under the normalized name.
	Index(normalizedName string) (Index, error)

	// RowIDIndex returns the always-present index enumerating the live row
	// ids of a table.
	RowIDIndex(tableName string) Index

	// Register adds an index to the store, replacing any same-named one.
	Register(idx Index)
}

// MemStore holds every index of a database in memory.
type MemStore struct {
	degree  int
	indices *xsync.MapOf[string, Index]
}

// NewMemStore builds the index set of db: one b-tree per declared index
// schema plus a row id index per table. degree <= 0 selects DefaultDegree.
func NewMemStore(db *schema.Database, degree int) *MemStore {
	s := &MemStore{degree: degree, indices: xsync.NewMapOf[string, Index]()}
	for _, t := range db.Tables() {
		s.Register(NewBTree(t.RowIDIndexName(), true, degree))
		for _, is := range t.Indices() {
			s.Register(NewBTree(is.Normalized(), is.Unique(), degree))
		}
	}
	return s
}

func (s *MemStore) Register(idx Index) {
	s.indices.Store(idx.Name(), idx)
}

func (s *MemStore) Index(normalizedName string) (Index, error) {
	idx, ok := s.indices.Load(normalizedName)
	if !ok {
		return nil, ErrIndexNotFound{Name: normalizedName}
	}
	return idx, nil
}

func (s *MemStore) RowIDIndex(tableName string) Index {
	name := schema.RowIDIndexName(tableName)
	idx, _ := s.indices.LoadOrCompute(name, func() Index {
		return NewBTree(name, true, s.degree)
	})
	return idx
}
