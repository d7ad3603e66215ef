package schema

import (
	"crypto/sha256"
	"sort"
	"strings"
)

// IndexSchema describes one index over a subset of a table's columns.
type IndexSchema struct {
	tableName string
	name      string
	columns   []string
	unique    bool
}

// NewIndexSchema creates an index schema for the given table and columns.
func NewIndexSchema(tableName, name string, columns []string, unique bool) *IndexSchema {
	return &IndexSchema{
		tableName: tableName,
		name:      name,
		columns:   columns,
		unique:    unique,
	}
}

func (s *IndexSchema) TableName() string { return s.tableName }
func (s *IndexSchema) Name() string      { return s.name }
func (s *IndexSchema) Columns() []string { return s.columns }
func (s *IndexSchema) Unique() bool      { return s.unique }

// Normalized returns the canonical "<table>.<index>" name. This is the key
// into the index store and the argument rows accept for key projection.
func (s *IndexSchema) Normalized() string {
	return s.tableName + "." + s.name
}

// Constraint carries the declared constraints of a table. Only primary key
// uniqueness is enforced by the engine; referential constraints are the
// query surface's concern.
type Constraint struct {
	primaryKey *IndexSchema
}

// PrimaryKey returns the primary key index schema, or nil for tables
// without one.
func (c *Constraint) PrimaryKey() *IndexSchema {
	if c == nil {
		return nil
	}
	return c.primaryKey
}

// Table describes one table: its columns, constraint and secondary indices.
type Table struct {
	name       string
	columns    []string
	constraint Constraint
	indices    []*IndexSchema
}

// NewTable creates a table schema with the given columns.
func NewTable(name string, columns ...string) *Table {
	return &Table{name: name, columns: columns}
}

// WithPrimaryKey declares a unique primary key index named "pk" over the
// given columns. At most one primary key per table.
func (t *Table) WithPrimaryKey(columns ...string) *Table {
	t.constraint.primaryKey = NewIndexSchema(t.name, "pk", columns, true)
	return t
}

// WithIndex declares a secondary index over the given columns.
func (t *Table) WithIndex(name string, unique bool, columns ...string) *Table {
	t.indices = append(t.indices, NewIndexSchema(t.name, name, columns, unique))
	return t
}

func (t *Table) Name() string      { return t.name }
func (t *Table) Columns() []string { return t.columns }

func (t *Table) Constraint() *Constraint { return &t.constraint }

// Indices returns every declared index, primary key first. The per-table
// row id index is implicit and not part of this list.
func (t *Table) Indices() []*IndexSchema {
	out := make([]*IndexSchema, 0, len(t.indices)+1)
	if t.constraint.primaryKey != nil {
		out = append(out, t.constraint.primaryKey)
	}
	return append(out, t.indices...)
}

// IndexByNormalizedName resolves a normalized index name against this
// table's declared indices. Returns nil when no such index exists.
func (t *Table) IndexByNormalizedName(name string) *IndexSchema {
	if t.constraint.primaryKey != nil && t.constraint.primaryKey.Normalized() == name {
		return t.constraint.primaryKey
	}
	for _, is := range t.indices {
		if is.Normalized() == name {
			return is
		}
	}
	return nil
}

// RowIDIndexName names the implicit index enumerating the live row ids of
// a table.
func RowIDIndexName(table string) string {
	return table + ".#"
}

// RowIDIndexName names this table's implicit row id index.
func (t *Table) RowIDIndexName() string {
	return RowIDIndexName(t.name)
}

// Database is a named collection of table schemas.
type Database struct {
	name   string
	tables map[string]*Table
	order  []string
}

// NewDatabase creates a database schema over the given tables.
func NewDatabase(name string, tables ...*Table) *Database {
	db := &Database{name: name, tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if _, dup := db.tables[t.name]; dup {
			continue
		}
		db.tables[t.name] = t
		db.order = append(db.order, t.name)
	}
	return db
}

func (d *Database) Name() string { return d.name }

// Table returns the named table schema, or nil.
func (d *Database) Table(name string) *Table {
	return d.tables[name]
}

// Tables returns the table schemas in declaration order.
func (d *Database) Tables() []*Table {
	out := make([]*Table, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tables[name])
	}
	return out
}

// Version derives a deterministic version number from the schema shape.
// All processes loading the same schema agree on the version.
//
// Algorithm:
//  1. Build "db|table:col1,col2;table.index=colA,colB|..." with tables and
//     columns sorted (index columns keep their declared order)
//  2. SHA256 hash
//  3. First 8 bytes as uint64
func (d *Database) Version() uint64 {
	var b strings.Builder
	b.WriteString(d.name)

	names := make([]string, len(d.order))
	copy(names, d.order)
	sort.Strings(names)

	for _, name := range names {
		t := d.tables[name]
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString(":")

		cols := make([]string, len(t.columns))
		copy(cols, t.columns)
		sort.Strings(cols)
		b.WriteString(strings.Join(cols, ","))

		for _, is := range t.Indices() {
			b.WriteString(";")
			b.WriteString(is.Normalized())
			b.WriteString("=")
			b.WriteString(strings.Join(is.Columns(), ","))
		}
	}

	hash := sha256.Sum256([]byte(b.String()))

	version := uint64(0)
	for i := 0; i < 8; i++ {
		version = (version << 8) | uint64(hash[i])
	}

	return version
}
