package index

import (
	"github.com/google/btree"

	"github.com/fieldstonedb/fieldstone/row"
)

// DefaultDegree is the b-tree degree used when the configuration does not
// override it.
const DefaultDegree = 8

var _ btree.Item = &entry{}

// entry buckets every row id sharing one key.
type entry struct {
	key row.Key
	ids []row.ID
}

func (e *entry) Less(than btree.Item) bool {
	return row.Compare(e.key, than.(*entry).key) < 0
}

// BTree is an ordered in-memory index over row keys.
type BTree struct {
	name   string
	unique bool
	degree int
	tree   *btree.BTree
	count  int
}

// NewBTree creates an empty index. degree <= 0 selects DefaultDegree.
func NewBTree(name string, unique bool, degree int) *BTree {
	if degree <= 0 {
		degree = DefaultDegree
	}
	return &BTree{name: name, unique: unique, degree: degree, tree: btree.New(degree)}
}

func (t *BTree) Name() string { return t.name }

func (t *BTree) Get(k row.Key) []row.ID {
	item := t.tree.Get(&entry{key: k})
	if item == nil {
		return nil
	}
	ids := item.(*entry).ids
	out := make([]row.ID, len(ids))
	copy(out, ids)
	return out
}

func (t *BTree) Set(k row.Key, id row.ID) {
	item := t.tree.Get(&entry{key: k})
	if item == nil {
		t.tree.ReplaceOrInsert(&entry{key: k, ids: []row.ID{id}})
		t.count++
		return
	}
	e := item.(*entry)
	if t.unique {
		t.count += 1 - len(e.ids)
		e.ids = []row.ID{id}
		return
	}
	for _, existing := range e.ids {
		if existing == id {
			return
		}
	}
	e.ids = append(e.ids, id)
	t.count++
}

func (t *BTree) Remove(k row.Key, id row.ID) {
	item := t.tree.Get(&entry{key: k})
	if item == nil {
		return
	}
	e := item.(*entry)
	for i, existing := range e.ids {
		if existing == id {
			e.ids = append(e.ids[:i], e.ids[i+1:]...)
			t.count--
			break
		}
	}
	if len(e.ids) == 0 {
		t.tree.Delete(e)
	}
}

func (t *BTree) GetRange(ranges ...KeyRange) []row.ID {
	if len(ranges) == 0 {
		ranges = []KeyRange{All()}
	}
	var out []row.ID
	for _, r := range ranges {
		collect := func(item btree.Item) bool {
			e := item.(*entry)
			if r.To != nil {
				c := row.Compare(e.key, r.To)
				if c > 0 || (c == 0 && r.ExcludeTo) {
					return false
				}
			}
			if r.Contains(e.key) {
				out = append(out, e.ids...)
			}
			return true
		}
		if r.From != nil {
			t.tree.AscendGreaterOrEqual(&entry{key: r.From}, collect)
		} else {
			t.tree.Ascend(collect)
		}
	}
	return out
}

func (t *BTree) Len() int { return t.count }

func (t *BTree) Clear() {
	t.tree = btree.New(t.degree)
	t.count = 0
}
