package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstonedb/fieldstone/row"
	"github.com/fieldstonedb/fieldstone/schema"
)

var diffTable = schema.NewTable("D", "id", "name").WithPrimaryKey("id")

func drow(id row.ID, pk int64, name string) row.Row {
	return row.NewWithID(id, diffTable, map[string]any{"id": pk, "name": name})
}

// requireDisjoint asserts the three collections share no row id.
func requireDisjoint(t *testing.T, d *TableDiff) {
	t.Helper()
	for id := range d.Added() {
		_, inMod := d.Modified()[id]
		_, inDel := d.Deleted()[id]
		require.False(t, inMod || inDel, "row %d in added and another collection", id)
	}
	for id := range d.Modified() {
		_, inDel := d.Deleted()[id]
		require.False(t, inDel, "row %d in modified and deleted", id)
	}
}

func TestTableDiffBasicOps(t *testing.T) {
	d := NewTableDiff("D")
	require.True(t, d.IsEmpty())

	added := drow(1, 1, "a")
	d.Add(added)
	requireDisjoint(t, d)

	old := drow(2, 2, "b")
	now := drow(2, 2, "b2")
	d.Modify(old, now)
	requireDisjoint(t, d)

	gone := drow(3, 3, "c")
	d.Delete(gone)
	requireDisjoint(t, d)

	require.Equal(t, 3, d.Count())
	assert.Equal(t, added, d.Added()[1])
	assert.Equal(t, now, d.Modified()[2].New)
	assert.Equal(t, gone, d.Deleted()[3])
}

func TestTableDiffMergeTable(t *testing.T) {
	t.Run("add then modify keeps add with new image", func(t *testing.T) {
		d := NewTableDiff("D")
		d.Add(drow(1, 1, "a"))
		now := drow(1, 1, "a2")
		d.Modify(drow(1, 1, "a"), now)
		require.Len(t, d.Added(), 1)
		require.Empty(t, d.Modified())
		assert.Equal(t, now, d.Added()[1])
	})

	t.Run("add then delete cancels out", func(t *testing.T) {
		d := NewTableDiff("D")
		d.Add(drow(1, 1, "a"))
		d.Delete(drow(1, 1, "a"))
		require.True(t, d.IsEmpty())
	})

	t.Run("modify then modify chains old image", func(t *testing.T) {
		d := NewTableDiff("D")
		first := drow(1, 1, "a")
		d.Modify(first, drow(1, 1, "b"))
		last := drow(1, 1, "c")
		d.Modify(drow(1, 1, "b"), last)
		require.Len(t, d.Modified(), 1)
		m := d.Modified()[1]
		assert.Equal(t, first, m.Old)
		assert.Equal(t, last, m.New)
	})

	t.Run("modify then delete keeps pre-modification image", func(t *testing.T) {
		d := NewTableDiff("D")
		first := drow(1, 1, "a")
		d.Modify(first, drow(1, 1, "b"))
		d.Delete(drow(1, 1, "b"))
		require.Empty(t, d.Modified())
		require.Len(t, d.Deleted(), 1)
		assert.Equal(t, first, d.Deleted()[1])
	})

	t.Run("delete then identical add cancels out", func(t *testing.T) {
		d := NewTableDiff("D")
		d.Delete(drow(1, 1, "a"))
		d.Add(drow(1, 1, "a"))
		require.True(t, d.IsEmpty())
	})

	t.Run("delete then different add becomes modify", func(t *testing.T) {
		d := NewTableDiff("D")
		old := drow(1, 1, "a")
		d.Delete(old)
		now := drow(1, 1, "z")
		d.Add(now)
		require.Empty(t, d.Deleted())
		require.Len(t, d.Modified(), 1)
		m := d.Modified()[1]
		assert.Equal(t, old, m.Old)
		assert.Equal(t, now, m.New)
	})

	t.Run("invalid transitions panic", func(t *testing.T) {
		d := NewTableDiff("D")
		d.Add(drow(1, 1, "a"))
		assert.Panics(t, func() { d.Add(drow(1, 1, "a")) })

		d2 := NewTableDiff("D")
		d2.Modify(drow(2, 2, "b"), drow(2, 2, "b2"))
		assert.Panics(t, func() { d2.Add(drow(2, 2, "b3")) })

		d3 := NewTableDiff("D")
		d3.Delete(drow(3, 3, "c"))
		assert.Panics(t, func() { d3.Modify(drow(3, 3, "c"), drow(3, 3, "c2")) })
		assert.Panics(t, func() { d3.Delete(drow(3, 3, "c")) })

		d4 := NewTableDiff("D")
		assert.Panics(t, func() { d4.Modify(drow(4, 4, "d"), drow(5, 4, "d")) })
	})
}

func TestTableDiffMergeEquivalentToSequentialOps(t *testing.T) {
	first := NewTableDiff("D")
	first.Add(drow(1, 1, "a"))
	first.Modify(drow(2, 2, "b"), drow(2, 2, "b2"))

	second := NewTableDiff("D")
	second.Delete(drow(1, 1, "a"))
	second.Modify(drow(2, 2, "b2"), drow(2, 2, "b3"))
	second.Add(drow(3, 3, "c"))

	first.Merge(second)
	requireDisjoint(t, first)

	require.Empty(t, first.Deleted())
	require.Len(t, first.Added(), 1)
	require.Len(t, first.Modified(), 1)
	assert.Equal(t, drow(3, 3, "c"), first.Added()[3])
	assert.Equal(t, drow(2, 2, "b"), first.Modified()[2].Old)
	assert.Equal(t, drow(2, 2, "b3"), first.Modified()[2].New)
}

func TestTableDiffReverse(t *testing.T) {
	d := NewTableDiff("D")
	d.Add(drow(1, 1, "a"))
	d.Modify(drow(2, 2, "b"), drow(2, 2, "b2"))
	d.Delete(drow(3, 3, "c"))

	rev := d.Reverse()
	require.Len(t, rev.Deleted(), 1)
	require.Len(t, rev.Added(), 1)
	assert.Equal(t, drow(1, 1, "a"), rev.Deleted()[1])
	assert.Equal(t, drow(3, 3, "c"), rev.Added()[3])
	assert.Equal(t, drow(2, 2, "b2"), rev.Modified()[2].Old)
	assert.Equal(t, drow(2, 2, "b"), rev.Modified()[2].New)

	// Inversion is involutive.
	back := rev.Reverse()
	assert.Equal(t, d.Added(), back.Added())
	assert.Equal(t, d.Modified(), back.Modified())
	assert.Equal(t, d.Deleted(), back.Deleted())
}

func TestSortedIDs(t *testing.T) {
	d := NewTableDiff("D")
	d.Add(drow(30, 30, "c"))
	d.Add(drow(10, 10, "a"))
	d.Add(drow(20, 20, "b"))
	assert.Equal(t, []row.ID{10, 20, 30}, SortedIDs(d.Added()))
}
