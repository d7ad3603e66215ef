package journal

import (
	"fmt"
	"sort"

	"github.com/fieldstonedb/fieldstone/row"
)

// Modification pairs the row images before and after an update.
type Modification struct {
	Old row.Row
	New row.Row
}

// TableDiff accumulates the row level effects of a journal on one table:
// added, modified and deleted rows, each keyed by row id. A row id lives
// in at most one of the three collections at any moment.
type TableDiff struct {
	table    string
	added    map[row.ID]row.Row
	modified map[row.ID]Modification
	deleted  map[row.ID]row.Row
}

// NewTableDiff returns an empty diff for table.
func NewTableDiff(table string) *TableDiff {
	return &TableDiff{
		table:    table,
		added:    make(map[row.ID]row.Row),
		modified: make(map[row.ID]Modification),
		deleted:  make(map[row.ID]row.Row),
	}
}

func (d *TableDiff) Table() string { return d.table }

// Added returns the live added collection. Callers must not mutate it.
func (d *TableDiff) Added() map[row.ID]row.Row { return d.added }

// Modified returns the live modified collection. Callers must not mutate it.
func (d *TableDiff) Modified() map[row.ID]Modification { return d.modified }

// Deleted returns the live deleted collection, holding the last known
// image of each row. Callers must not mutate it.
func (d *TableDiff) Deleted() map[row.ID]row.Row { return d.deleted }

// IsEmpty reports whether the diff carries no effects.
func (d *TableDiff) IsEmpty() bool {
	return len(d.added) == 0 && len(d.modified) == 0 && len(d.deleted) == 0
}

// Count returns the number of row ids the diff touches.
func (d *TableDiff) Count() int {
	return len(d.added) + len(d.modified) + len(d.deleted)
}

// Add folds an insert of r into the diff. Deleting a row and re-adding an
// identical image cancels out; re-adding with a different image becomes a
// modification. Adding a row the diff already adds or modifies is a caller
// bug.
func (d *TableDiff) Add(r row.Row) {
	id := r.ID()
	if _, ok := d.added[id]; ok {
		panic(fmt.Sprintf("journal: row %d added twice to diff of table %s", id, d.table))
	}
	if _, ok := d.modified[id]; ok {
		panic(fmt.Sprintf("journal: row %d of table %s added while modified", id, d.table))
	}
	if old, ok := d.deleted[id]; ok {
		delete(d.deleted, id)
		if !row.Identical(old, r) {
			d.modified[id] = Modification{Old: old, New: r}
		}
		return
	}
	d.added[id] = r
}

// Modify folds an update from old to now into the diff. Both images must
// carry the same row id. Modifying a deleted row is a caller bug.
func (d *TableDiff) Modify(old, now row.Row) {
	if old.ID() != now.ID() {
		panic(fmt.Sprintf("journal: modify of table %s pairs row %d with row %d", d.table, old.ID(), now.ID()))
	}
	id := old.ID()
	if _, ok := d.deleted[id]; ok {
		panic(fmt.Sprintf("journal: row %d of table %s modified after delete", id, d.table))
	}
	if _, ok := d.added[id]; ok {
		d.added[id] = now
		return
	}
	if m, ok := d.modified[id]; ok {
		d.modified[id] = Modification{Old: m.Old, New: now}
		return
	}
	d.modified[id] = Modification{Old: old, New: now}
}

// Delete folds a delete of r into the diff, keeping the last known image.
// Deleting a row the diff added removes it entirely; deleting a modified
// row keeps its pre-modification image. Deleting twice is a caller bug.
func (d *TableDiff) Delete(r row.Row) {
	id := r.ID()
	if _, ok := d.deleted[id]; ok {
		panic(fmt.Sprintf("journal: row %d of table %s deleted twice", id, d.table))
	}
	if _, ok := d.added[id]; ok {
		delete(d.added, id)
		return
	}
	if m, ok := d.modified[id]; ok {
		delete(d.modified, id)
		d.deleted[id] = m.Old
		return
	}
	d.deleted[id] = r
}

// Merge folds other into d. The result is the diff equivalent to applying
// d first and other second. Row ids are independent of each other, so the
// iteration order within other does not matter.
func (d *TableDiff) Merge(other *TableDiff) {
	for _, r := range other.added {
		d.Add(r)
	}
	for _, m := range other.modified {
		d.Modify(m.Old, m.New)
	}
	for _, r := range other.deleted {
		d.Delete(r)
	}
}

// Reverse returns the diff that undoes d: added and deleted swap, and each
// modification swaps its images.
func (d *TableDiff) Reverse() *TableDiff {
	rev := NewTableDiff(d.table)
	for id, r := range d.added {
		rev.deleted[id] = r
	}
	for id, m := range d.modified {
		rev.modified[id] = Modification{Old: m.New, New: m.Old}
	}
	for id, r := range d.deleted {
		rev.added[id] = r
	}
	return rev
}

func (d *TableDiff) String() string {
	return fmt.Sprintf("%s[+%d ~%d -%d]", d.table, len(d.added), len(d.modified), len(d.deleted))
}

// SortedIDs returns the keys of a diff collection in ascending order, for
// deterministic iteration.
func SortedIDs[V any](m map[row.ID]V) []row.ID {
	ids := make([]row.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
