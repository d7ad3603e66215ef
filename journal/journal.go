package journal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldstonedb/fieldstone/cache"
	"github.com/fieldstonedb/fieldstone/index"
	"github.com/fieldstonedb/fieldstone/row"
	"github.com/fieldstonedb/fieldstone/schema"
	"github.com/fieldstonedb/fieldstone/telemetry"
)

// Journal buffers every write of one transaction and keeps the row cache
// and indices in lock-step with the buffered state. Validation always
// precedes mutation: a failing operation leaves the cache, the indices and
// the accumulated diffs exactly as they were.
//
// A journal is owned by exactly one transaction. The transaction scheduler
// serializes journals whose scopes overlap, so no internal locking happens
// here.
type Journal struct {
	scope      map[string]*schema.Table
	diffs      map[string]*TableDiff
	cache      cache.RowCache
	indexes    index.Store
	terminated bool
}

// New creates a journal over the given table scope. The cache and index
// store are shared engine structures that outlive the journal.
func New(scope []*schema.Table, rowCache cache.RowCache, indexes index.Store) *Journal {
	tables := make(map[string]*schema.Table, len(scope))
	for _, t := range scope {
		tables[t.Name()] = t
	}
	telemetry.JournalsActive.Inc()
	return &Journal{
		scope:   tables,
		diffs:   make(map[string]*TableDiff),
		cache:   rowCache,
		indexes: indexes,
	}
}

// Scope returns the tables this journal may touch, keyed by name. Callers
// must not mutate the returned map.
func (j *Journal) Scope() map[string]*schema.Table { return j.scope }

// Diff returns the accumulated per-table diffs. Callers must not mutate
// the returned map; it stays valid after Commit for handover to a backing
// store.
func (j *Journal) Diff() map[string]*TableDiff { return j.diffs }

// IndexRange returns the de-duplicated row ids whose key for the given
// index falls into any of the ranges, as seen through this journal's
// already-applied operations.
func (j *Journal) IndexRange(is *schema.IndexSchema, ranges []index.KeyRange) ([]row.ID, error) {
	idx, err := j.indexes.Index(is.Normalized())
	if err != nil {
		return nil, err
	}
	seen := make(map[row.ID]struct{})
	var out []row.ID
	for _, id := range idx.GetRange(ranges...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Rows fetches the given rows from the cache, position preserving; ids
// with no live row yield nil entries.
func (j *Journal) Rows(ids []row.ID) []row.Row {
	return j.cache.Get(ids)
}

// TableRows returns every live row of table, enumerated through its row id
// index so the population reflects this journal's applied operations.
func (j *Journal) TableRows(table string) []row.Row {
	ids := j.indexes.RowIDIndex(table).GetRange()
	return j.cache.Get(ids)
}

// Insert records newly created rows. The rows must carry pairwise distinct
// primary keys, none of which may be taken in the transactional view.
func (j *Journal) Insert(table string, rows []row.Row) error {
	j.assertLive("insert")
	tbl, ok := j.scope[table]
	if !ok {
		return j.fail("insert", ErrTableOutOfScope{Table: table})
	}

	if pk := tbl.Constraint().PrimaryKey(); pk != nil {
		if err := checkBatchKeysUnique(tbl, pk, rows); err != nil {
			return j.fail("insert", err)
		}
		for _, r := range rows {
			if _, found := j.existingRowIDOfPK(tbl, r); found {
				return j.fail("insert", ErrPrimaryKeyExists{Table: table, Key: r.Key(pk.Normalized())})
			}
		}
	}

	diff := NewTableDiff(table)
	for _, r := range rows {
		diff.Add(r)
	}
	j.applyTableDiff(tbl, diff)
	telemetry.JournalOpsTotal.With("insert", "ok").Inc()
	return nil
}

// Update records new images for existing rows, matched by row id. A row
// may move to a new primary key as long as no other row holds it; at most
// one row per call may do so.
func (j *Journal) Update(table string, rows []row.Row) error {
	j.assertLive("update")
	tbl, ok := j.scope[table]
	if !ok {
		return j.fail("update", ErrTableOutOfScope{Table: table})
	}

	if pk := tbl.Constraint().PrimaryKey(); pk != nil {
		name := pk.Normalized()
		var changed row.Row
		changedCount := 0
		for _, r := range rows {
			old := j.currentImage(tbl, r.ID())
			if !row.Equal(old.Key(name), r.Key(name)) {
				changed = r
				changedCount++
			}
		}
		if changedCount > 1 {
			return j.fail("update", ErrPrimaryKeyReassigned{Table: table})
		}
		if changedCount == 1 {
			if existing, found := j.existingRowIDOfPK(tbl, changed); found && existing != changed.ID() {
				return j.fail("update", ErrPrimaryKeyExists{Table: table, Key: changed.Key(name)})
			}
		}
	}

	diff := NewTableDiff(table)
	for _, r := range rows {
		diff.Modify(j.currentImage(tbl, r.ID()), r)
	}
	j.applyTableDiff(tbl, diff)
	telemetry.JournalOpsTotal.With("update", "ok").Inc()
	return nil
}

// InsertOrReplace records rows, collapsing each one whose primary key is
// already taken onto the existing holder: the new row takes over the
// existing row id and becomes a modification. No uniqueness pre-check is
// needed because collisions resolve instead of failing.
func (j *Journal) InsertOrReplace(table string, rows []row.Row) error {
	j.assertLive("insertOrReplace")
	tbl, ok := j.scope[table]
	if !ok {
		return j.fail("insert_or_replace", ErrTableOutOfScope{Table: table})
	}

	pk := tbl.Constraint().PrimaryKey()
	diff := NewTableDiff(table)
	for _, r := range rows {
		if pk != nil {
			if existing, found := j.existingRowIDOfPK(tbl, r); found {
				r.SetID(existing)
				diff.Modify(j.currentImage(tbl, existing), r)
				continue
			}
		}
		diff.Add(r)
	}
	j.applyTableDiff(tbl, diff)
	telemetry.JournalOpsTotal.With("insert_or_replace", "ok").Inc()
	return nil
}

// Remove records deletes for the given rows.
func (j *Journal) Remove(table string, rows []row.Row) error {
	j.assertLive("remove")
	tbl, ok := j.scope[table]
	if !ok {
		return j.fail("remove", ErrTableOutOfScope{Table: table})
	}

	diff := NewTableDiff(table)
	for _, r := range rows {
		diff.Delete(r)
	}
	j.applyTableDiff(tbl, diff)
	telemetry.JournalOpsTotal.With("remove", "ok").Inc()
	return nil
}

// Commit seals the journal. The journal does not persist anything itself;
// the enclosing transaction hands Diff to the backing store.
func (j *Journal) Commit() {
	j.assertLive("commit")
	j.terminated = true
	telemetry.JournalsActive.Dec()
	log.Debug().Int("tables", len(j.diffs)).Msg("journal committed")
}

// Rollback undoes every accumulated effect on the indices and the cache,
// then seals the journal. Cache and indices return to their pre-journal
// state.
func (j *Journal) Rollback() {
	j.assertLive("rollback")
	for name, diff := range j.diffs {
		tbl := j.scope[name]
		rev := diff.Reverse()
		j.updateTableIndices(tbl, rev)
		j.updateCache(rev)
	}
	j.diffs = make(map[string]*TableDiff)
	j.terminated = true
	telemetry.JournalsActive.Dec()
	log.Debug().Msg("journal rolled back")
}

// applyTableDiff makes a validated diff visible: indices, then cache, then
// the accumulated per-table diff. Nothing on this path fails.
func (j *Journal) applyTableDiff(tbl *schema.Table, diff *TableDiff) {
	start := time.Now()
	j.updateTableIndices(tbl, diff)
	j.updateCache(diff)

	acc, ok := j.diffs[tbl.Name()]
	if !ok {
		acc = NewTableDiff(tbl.Name())
		j.diffs[tbl.Name()] = acc
	}
	acc.Merge(diff)
	if acc.IsEmpty() {
		delete(j.diffs, tbl.Name())
	}
	telemetry.JournalApplySeconds.Observe(time.Since(start).Seconds())
}

// imagePair is the (now, then) view of one affected row: what the row
// looks like after the diff and what it looked like before. Either side is
// nil when the row does not exist on that side.
type imagePair struct {
	now  row.Row
	then row.Row
}

// updateTableIndices folds a diff into every index of the table, including
// the implicit row id index. An index is only touched when the projected
// key actually changed, so updates to unrelated columns never thrash index
// nodes.
func (j *Journal) updateTableIndices(tbl *schema.Table, diff *TableDiff) {
	pairs := make([]imagePair, 0, diff.Count())
	for _, r := range diff.deleted {
		pairs = append(pairs, imagePair{then: r})
	}
	for _, m := range diff.modified {
		pairs = append(pairs, imagePair{now: m.New, then: m.Old})
	}
	for _, r := range diff.added {
		pairs = append(pairs, imagePair{now: r})
	}

	declared := tbl.Indices()
	indices := make([]index.Index, 0, len(declared)+1)
	indices = append(indices, j.indexes.RowIDIndex(tbl.Name()))
	for _, is := range declared {
		idx, err := j.indexes.Index(is.Normalized())
		if err != nil {
			panic(fmt.Sprintf("journal: %v", err))
		}
		indices = append(indices, idx)
	}

	for _, idx := range indices {
		name := idx.Name()
		for _, p := range pairs {
			var keyNow, keyThen row.Key
			if p.now != nil {
				keyNow = p.now.Key(name)
			}
			if p.then != nil {
				keyThen = p.then.Key(name)
			}
			if row.Equal(keyNow, keyThen) {
				continue
			}
			if keyThen != nil {
				idx.Remove(keyThen, p.then.ID())
			}
			if keyNow != nil {
				idx.Set(keyNow, p.now.ID())
			}
		}
	}
}

// updateCache removes deleted entries and writes added rows and the new
// images of modified rows.
func (j *Journal) updateCache(diff *TableDiff) {
	if len(diff.deleted) > 0 {
		ids := make([]row.ID, 0, len(diff.deleted))
		for id := range diff.deleted {
			ids = append(ids, id)
		}
		j.cache.Remove(diff.table, ids)
	}

	updates := make([]row.Row, 0, len(diff.added)+len(diff.modified))
	for _, r := range diff.added {
		updates = append(updates, r)
	}
	for _, m := range diff.modified {
		updates = append(updates, m.New)
	}
	if len(updates) > 0 {
		j.cache.Set(diff.table, updates)
	}
}

// existingRowIDOfPK reports the first row id holding r's primary key in
// the primary key index. The index already reflects every previously
// applied operation of this journal, so this checks the transactional
// view.
func (j *Journal) existingRowIDOfPK(tbl *schema.Table, r row.Row) (row.ID, bool) {
	pk := tbl.Constraint().PrimaryKey()
	if pk == nil {
		return 0, false
	}
	idx, err := j.indexes.Index(pk.Normalized())
	if err != nil {
		return 0, false
	}
	ids := idx.Get(r.Key(pk.Normalized()))
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// currentImage fetches the live image of a row the caller asserts exists.
func (j *Journal) currentImage(tbl *schema.Table, id row.ID) row.Row {
	old := j.cache.GetSingle(id)
	if old == nil {
		panic(fmt.Sprintf("journal: row %d of table %s has no cached image", id, tbl.Name()))
	}
	return old
}

func (j *Journal) assertLive(op string) {
	if j.terminated {
		panic(fmt.Sprintf("journal: %s on a terminated journal", op))
	}
}

func (j *Journal) fail(op string, err error) error {
	telemetry.JournalOpsTotal.With(op, "error").Inc()
	return err
}

// checkBatchKeysUnique verifies the rows of one insert batch carry
// pairwise distinct primary keys.
func checkBatchKeysUnique(tbl *schema.Table, pk *schema.IndexSchema, rows []row.Row) error {
	name := pk.Normalized()
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		k := r.Key(name)
		s := k.String()
		if _, dup := seen[s]; dup {
			return ErrDuplicateKeys{Table: tbl.Name(), Key: k}
		}
		seen[s] = struct{}{}
	}
	return nil
}
