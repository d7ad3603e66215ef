package index

import "github.com/fieldstonedb/fieldstone/row"

// Index maps row keys to row ids and supports ordered range scans.
// Implementations are not internally synchronized; the transaction
// scheduler guarantees at most one journal mutates a table's indices at a
// time.
type Index interface {
	// Name returns the normalized index name.
	Name() string

	// Get returns the row ids mapped to k.
	Get(k row.Key) []row.ID

	// GetRange returns the ids of every key falling in any of the ranges,
	// in key order per range. No ranges means the whole index.
	GetRange(ranges ...KeyRange) []row.ID

	// Set maps k to id. A unique index replaces the previous holder of k;
	// a non-unique index accumulates ids per key.
	Set(k row.Key, id row.ID)

	// Remove unmaps (k, id). Unknown pairs are ignored.
	Remove(k row.Key, id row.ID)

	// Len returns the number of (key, id) pairs held.
	Len() int

	// Clear drops every entry.
	Clear()
}

// KeyRange bounds a scan over an index. Nil endpoints are unbounded;
// endpoints are inclusive unless excluded.
type KeyRange struct {
	From        row.Key
	To          row.Key
	ExcludeFrom bool
	ExcludeTo   bool
}

// All returns the range covering the whole index.
func All() KeyRange {
	return KeyRange{}
}

// Only returns the range containing exactly k.
func Only(k row.Key) KeyRange {
	return KeyRange{From: k, To: k}
}

// AtLeast returns the range of keys >= k.
func AtLeast(k row.Key) KeyRange {
	return KeyRange{From: k}
}

// AtMost returns the range of keys <= k.
func AtMost(k row.Key) KeyRange {
	return KeyRange{To: k}
}

// Contains reports whether k falls inside the range.
func (r KeyRange) Contains(k row.Key) bool {
	if r.From != nil {
		c := row.Compare(k, r.From)
		if c < 0 || (c == 0 && r.ExcludeFrom) {
			return false
		}
	}
	if r.To != nil {
		c := row.Compare(k, r.To)
		if c > 0 || (c == 0 && r.ExcludeTo) {
			return false
		}
	}
	return true
}
