package row

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/fieldstonedb/fieldstone/schema"
)

// ID identifies a row independently of any primary key. It stays stable
// across updates; insert-or-replace reassigns it when a new row collapses
// onto an existing one.
type ID int64

var nextID atomic.Int64

// NextID allocates a process-unique row id.
func NextID() ID {
	return ID(nextID.Add(1))
}

// Row is the record shape the journal and its collaborators operate on.
type Row interface {
	// ID returns the row's stable identity.
	ID() ID
	// SetID reassigns the row id. Only insert-or-replace does this, to
	// collapse a fresh row onto the existing holder of its primary key.
	SetID(id ID)
	// Key projects the row's key for the named index. The per-table row id
	// index projects the row id itself.
	Key(normalizedIndexName string) Key
	// Payload returns the raw column values.
	Payload() map[string]any
}

// PayloadRow is a map-backed Row bound to a table schema for key
// projection.
type PayloadRow struct {
	id     ID
	table  *schema.Table
	values map[string]any
}

// New creates a row over values with a freshly allocated id.
func New(table *schema.Table, values map[string]any) *PayloadRow {
	return &PayloadRow{id: NextID(), table: table, values: values}
}

// NewWithID creates a row with a caller-chosen id. Used when rehydrating
// rows from a backing store and in tests.
func NewWithID(id ID, table *schema.Table, values map[string]any) *PayloadRow {
	return &PayloadRow{id: id, table: table, values: values}
}

func (r *PayloadRow) ID() ID                  { return r.id }
func (r *PayloadRow) SetID(id ID)             { r.id = id }
func (r *PayloadRow) Payload() map[string]any { return r.values }
func (r *PayloadRow) Table() *schema.Table    { return r.table }

func (r *PayloadRow) Key(name string) Key {
	if name == r.table.RowIDIndexName() {
		return IntKey(r.id)
	}
	is := r.table.IndexByNormalizedName(name)
	if is == nil {
		panic(fmt.Sprintf("row: table %s has no index %s", r.table.Name(), name))
	}
	cols := is.Columns()
	if len(cols) == 1 {
		return r.columnKey(cols[0])
	}
	composite := make(CompositeKey, len(cols))
	for i, c := range cols {
		composite[i] = r.columnKey(c)
	}
	return composite
}

func (r *PayloadRow) columnKey(column string) Key {
	k, err := KeyOf(r.values[column])
	if err != nil {
		panic(fmt.Sprintf("row %d of table %s, column %s: %v", r.id, r.table.Name(), column, err))
	}
	return k
}

// Identical reports whether two rows carry the same id and payload.
func Identical(a, b Row) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID() && reflect.DeepEqual(a.Payload(), b.Payload())
}
