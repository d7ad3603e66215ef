package cache

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fieldstonedb/fieldstone/row"
)

// RowCache is the engine-wide map from row id to the latest row image.
// The journal reads existing rows from it and writes new, updated and
// deleted images back as part of applying a diff. Enumeration of a table
// goes through the row id index, never through the cache.
type RowCache interface {
	// Get returns the rows for ids, position preserving; ids with no live
	// row yield nil entries.
	Get(ids []row.ID) []row.Row

	// GetSingle returns the row for id, or nil.
	GetSingle(id row.ID) row.Row

	// Set inserts or overwrites rows of table, keyed by row id.
	Set(table string, rows []row.Row)

	// Remove drops the entries for ids of table.
	Remove(table string, ids []row.ID)

	// Count returns the number of cached rows of table.
	Count(table string) int

	// CountAll returns the total number of cached rows.
	CountAll() int
}

// MemRowCache implements RowCache on lock-free concurrent maps. Mutual
// exclusion between journals touching the same table is the transaction
// scheduler's invariant; the maps only keep cross-table readers safe.
type MemRowCache struct {
	rows   *xsync.MapOf[row.ID, row.Row]
	counts *xsync.MapOf[string, *xsync.Counter]
}

// NewMemRowCache creates an empty row cache.
func NewMemRowCache() *MemRowCache {
	return &MemRowCache{
		rows:   xsync.NewMapOf[row.ID, row.Row](),
		counts: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

func (c *MemRowCache) Get(ids []row.ID) []row.Row {
	out := make([]row.Row, len(ids))
	for i, id := range ids {
		if r, ok := c.rows.Load(id); ok {
			out[i] = r
		}
	}
	return out
}

func (c *MemRowCache) GetSingle(id row.ID) row.Row {
	r, ok := c.rows.Load(id)
	if !ok {
		return nil
	}
	return r
}

func (c *MemRowCache) Set(table string, rows []row.Row) {
	counter := c.counter(table)
	for _, r := range rows {
		if _, loaded := c.rows.LoadAndStore(r.ID(), r); !loaded {
			counter.Inc()
		}
	}
}

func (c *MemRowCache) Remove(table string, ids []row.ID) {
	counter := c.counter(table)
	for _, id := range ids {
		if _, loaded := c.rows.LoadAndDelete(id); loaded {
			counter.Dec()
		}
	}
}

func (c *MemRowCache) Count(table string) int {
	return int(c.counter(table).Value())
}

func (c *MemRowCache) CountAll() int {
	return c.rows.Size()
}

func (c *MemRowCache) counter(table string) *xsync.Counter {
	counter, _ := c.counts.LoadOrCompute(table, xsync.NewCounter)
	return counter
}
