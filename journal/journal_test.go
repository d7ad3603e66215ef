package journal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstonedb/fieldstone/cache"
	"github.com/fieldstonedb/fieldstone/index"
	"github.com/fieldstonedb/fieldstone/row"
	"github.com/fieldstonedb/fieldstone/schema"
)

type fixture struct {
	t1    *schema.Table
	t2    *schema.Table
	db    *schema.Database
	cache *cache.MemRowCache
	store *index.MemStore
}

func newFixture() *fixture {
	t1 := schema.NewTable("T1", "id", "name").
		WithPrimaryKey("id").
		WithIndex("byName", false, "name")
	t2 := schema.NewTable("T2", "id", "name").WithPrimaryKey("id")
	db := schema.NewDatabase("testdb", t1, t2)
	return &fixture{
		t1:    t1,
		t2:    t2,
		db:    db,
		cache: cache.NewMemRowCache(),
		store: index.NewMemStore(db, 0),
	}
}

func (f *fixture) journal() *Journal {
	return New([]*schema.Table{f.t1}, f.cache, f.store)
}

func (f *fixture) row(id row.ID, pk int64, name string) *row.PayloadRow {
	return row.NewWithID(id, f.t1, map[string]any{"id": pk, "name": name})
}

// seed commits rows into T1 through a journal of its own, establishing
// pre-journal state for the test body.
func (f *fixture) seed(t *testing.T, rows ...row.Row) {
	t.Helper()
	j := f.journal()
	require.NoError(t, j.Insert("T1", rows))
	j.Commit()
}

// snapshot captures everything a failed or rolled back operation must
// leave untouched: cache population and the full contents of every index.
func (f *fixture) snapshot(t *testing.T) string {
	t.Helper()
	pk, err := f.store.Index("T1.pk")
	require.NoError(t, err)
	byName, err := f.store.Index("T1.byName")
	require.NoError(t, err)
	rowIDs := f.store.RowIDIndex("T1")
	return fmt.Sprintf("cache=%d pk=%v byName=%v rowids=%v",
		f.cache.Count("T1"), pk.GetRange(), byName.GetRange(), rowIDs.GetRange())
}

func TestInsertThenRollback(t *testing.T) {
	f := newFixture()
	before := f.snapshot(t)

	j := f.journal()
	require.NoError(t, j.Insert("T1", []row.Row{f.row(101, 1, "a"), f.row(102, 2, "b")}))

	rows := j.TableRows("T1")
	require.Len(t, rows, 2)
	assert.Equal(t, 2, f.cache.Count("T1"))

	j.Rollback()
	assert.Equal(t, before, f.snapshot(t))
	assert.Equal(t, 0, f.cache.Count("T1"))
}

func TestInsertDuplicateKeysInBatchRejected(t *testing.T) {
	f := newFixture()
	before := f.snapshot(t)

	j := f.journal()
	err := j.Insert("T1", []row.Row{f.row(101, 1, "a"), f.row(102, 1, "b")})
	require.Error(t, err)
	assert.Equal(t, KindConstraint, KindOf(err))
	assert.IsType(t, ErrDuplicateKeys{}, err)

	assert.Empty(t, j.TableRows("T1"))
	assert.Equal(t, before, f.snapshot(t))
	assert.Empty(t, j.Diff())
}

func TestInsertConflictingWithPriorInsert(t *testing.T) {
	f := newFixture()
	j := f.journal()
	require.NoError(t, j.Insert("T1", []row.Row{f.row(101, 1, "a")}))
	before := f.snapshot(t)

	err := j.Insert("T1", []row.Row{f.row(102, 1, "b")})
	require.Error(t, err)
	assert.Equal(t, KindConstraint, KindOf(err))
	assert.Contains(t, err.Error(), "1")
	assert.Contains(t, err.Error(), "T1")

	// First row remains, nothing else changed.
	assert.Equal(t, before, f.snapshot(t))
	rows := j.TableRows("T1")
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Payload()["name"])
}

func TestUpdateChangingPKCollides(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"), f.row(102, 2, "b"))

	j := f.journal()
	before := f.snapshot(t)

	err := j.Update("T1", []row.Row{f.row(101, 2, "a")})
	require.Error(t, err)
	assert.Equal(t, KindConstraint, KindOf(err))
	assert.IsType(t, ErrPrimaryKeyExists{}, err)
	assert.Equal(t, before, f.snapshot(t))
}

func TestUpdateChangingPKToFreeKey(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"))

	j := f.journal()
	require.NoError(t, j.Update("T1", []row.Row{f.row(101, 5, "a")}))

	pk, err := f.store.Index("T1.pk")
	require.NoError(t, err)
	assert.Empty(t, pk.Get(row.IntKey(1)))
	assert.Equal(t, []row.ID{101}, pk.Get(row.IntKey(5)))

	img := f.cache.GetSingle(101)
	require.NotNil(t, img)
	assert.Equal(t, int64(5), img.Payload()["id"])
}

func TestUpdateMultiplePKReassignmentsRejected(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"), f.row(102, 2, "b"))

	j := f.journal()
	before := f.snapshot(t)

	err := j.Update("T1", []row.Row{f.row(101, 5, "a"), f.row(102, 6, "b")})
	require.Error(t, err)
	assert.IsType(t, ErrPrimaryKeyReassigned{}, err)
	assert.Equal(t, before, f.snapshot(t))
}

func TestInsertOrReplaceCoalesces(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"))

	j := f.journal()
	replacement := f.row(201, 1, "z")
	fresh := f.row(202, 3, "c")
	require.NoError(t, j.InsertOrReplace("T1", []row.Row{replacement, fresh}))

	// The replacement collapsed onto the existing row id.
	assert.Equal(t, row.ID(101), replacement.ID())

	img := f.cache.GetSingle(101)
	require.NotNil(t, img)
	assert.Equal(t, "z", img.Payload()["name"])
	img = f.cache.GetSingle(202)
	require.NotNil(t, img)
	assert.Equal(t, "c", img.Payload()["name"])

	diff := j.Diff()["T1"]
	require.NotNil(t, diff)
	assert.Len(t, diff.Modified(), 1)
	assert.Len(t, diff.Added(), 1)
	assert.Empty(t, diff.Deleted())
	assert.Contains(t, diff.Modified(), row.ID(101))
	assert.Contains(t, diff.Added(), row.ID(202))
}

func TestScopeEnforcement(t *testing.T) {
	f := newFixture()
	j := f.journal() // scope = {T1}
	before := f.snapshot(t)

	other := row.NewWithID(301, f.t2, map[string]any{"id": int64(1), "name": "x"})
	for name, op := range map[string]func() error{
		"insert":          func() error { return j.Insert("T2", []row.Row{other}) },
		"update":          func() error { return j.Update("T2", []row.Row{other}) },
		"insertOrReplace": func() error { return j.InsertOrReplace("T2", []row.Row{other}) },
		"remove":          func() error { return j.Remove("T2", []row.Row{other}) },
	} {
		err := op()
		require.Error(t, err, name)
		assert.Equal(t, KindScope, KindOf(err), name)
		assert.Equal(t, before, f.snapshot(t), name)
	}
	assert.Empty(t, j.Diff())
}

func TestInsertThenRemoveCollapsesDiff(t *testing.T) {
	f := newFixture()
	j := f.journal()

	r := f.row(101, 1, "a")
	require.NoError(t, j.Insert("T1", []row.Row{r}))
	require.NoError(t, j.Remove("T1", []row.Row{r}))

	assert.Empty(t, j.Diff())
	pk, err := f.store.Index("T1.pk")
	require.NoError(t, err)
	assert.Empty(t, pk.Get(row.IntKey(1)))
	assert.Equal(t, 0, f.cache.Count("T1"))
}

func TestRollbackRestoresPreJournalState(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"), f.row(102, 2, "b"))
	before := f.snapshot(t)

	j := f.journal()
	require.NoError(t, j.Insert("T1", []row.Row{f.row(103, 3, "c")}))
	require.NoError(t, j.Update("T1", []row.Row{f.row(101, 1, "a2")}))
	existing := j.TableRows("T1")
	require.Len(t, existing, 3)
	require.NoError(t, j.Remove("T1", []row.Row{f.cache.GetSingle(102)}))

	require.NotEqual(t, before, f.snapshot(t))
	j.Rollback()
	assert.Equal(t, before, f.snapshot(t))

	img := f.cache.GetSingle(101)
	require.NotNil(t, img)
	assert.Equal(t, "a", img.Payload()["name"])
}

func TestPKIndexReflectsPostOperationImages(t *testing.T) {
	f := newFixture()
	j := f.journal()
	require.NoError(t, j.Insert("T1", []row.Row{f.row(101, 1, "a")}))

	pk, err := f.store.Index("T1.pk")
	require.NoError(t, err)
	assert.Equal(t, []row.ID{101}, pk.Get(row.IntKey(1)))

	require.NoError(t, j.Remove("T1", []row.Row{f.cache.GetSingle(101)}))
	assert.Empty(t, pk.Get(row.IntKey(1)))
}

func TestIndexRangeUnionAndDedup(t *testing.T) {
	f := newFixture()
	f.seed(t,
		f.row(101, 1, "a"),
		f.row(102, 2, "b"),
		f.row(103, 3, "c"),
	)

	j := f.journal()
	pk := f.t1.Constraint().PrimaryKey()

	ids, err := j.IndexRange(pk, []index.KeyRange{
		{From: row.IntKey(1), To: row.IntKey(2)},
		{From: row.IntKey(2), To: row.IntKey(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, []row.ID{101, 102, 103}, ids)

	ids, err = j.IndexRange(pk, []index.KeyRange{
		{From: row.IntKey(2), To: row.IntKey(2), ExcludeTo: true},
	})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRowsPreservesPositions(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"), f.row(103, 3, "c"))

	j := f.journal()
	rows := j.Rows([]row.ID{103, 999, 101})
	require.Len(t, rows, 3)
	assert.Equal(t, row.ID(103), rows[0].ID())
	assert.Nil(t, rows[1])
	assert.Equal(t, row.ID(101), rows[2].ID())
}

func TestSecondaryIndexOnlyTouchedOnKeyChange(t *testing.T) {
	f := newFixture()
	f.seed(t, f.row(101, 1, "a"))

	byName, err := f.store.Index("T1.byName")
	require.NoError(t, err)
	require.Equal(t, []row.ID{101}, byName.Get(row.StringKey("a")))

	j := f.journal()
	// PK change, name unchanged: byName must still map "a" -> 101.
	require.NoError(t, j.Update("T1", []row.Row{f.row(101, 7, "a")}))
	assert.Equal(t, []row.ID{101}, byName.Get(row.StringKey("a")))

	// Name change moves the entry.
	require.NoError(t, j.Update("T1", []row.Row{f.row(101, 7, "b")}))
	assert.Empty(t, byName.Get(row.StringKey("a")))
	assert.Equal(t, []row.ID{101}, byName.Get(row.StringKey("b")))
}

func TestJournalUsableAfterFailedOperation(t *testing.T) {
	f := newFixture()
	j := f.journal()

	require.NoError(t, j.Insert("T1", []row.Row{f.row(101, 1, "a")}))
	require.Error(t, j.Insert("T1", []row.Row{f.row(102, 1, "dup")}))

	// Journal stays live after a constraint failure.
	require.NoError(t, j.Insert("T1", []row.Row{f.row(103, 3, "c")}))
	j.Rollback()
	assert.Equal(t, 0, f.cache.Count("T1"))
}

func TestTerminalMisusePanics(t *testing.T) {
	f := newFixture()

	j := f.journal()
	j.Commit()
	assert.Panics(t, func() { j.Commit() })
	assert.Panics(t, func() { j.Rollback() })
	assert.Panics(t, func() { _ = j.Insert("T1", []row.Row{f.row(101, 1, "a")}) })

	j2 := f.journal()
	j2.Rollback()
	assert.Panics(t, func() { j2.Rollback() })
}

func TestCommitKeepsDiffForBackingStore(t *testing.T) {
	f := newFixture()
	j := f.journal()
	require.NoError(t, j.Insert("T1", []row.Row{f.row(101, 1, "a")}))
	j.Commit()

	diff := j.Diff()["T1"]
	require.NotNil(t, diff)
	assert.Len(t, diff.Added(), 1)
}
