// Package catalog models database metadata: tables, columns, constraints and
// indexes. One catalog record is persisted per database.
package catalog

import (
	"fmt"
	"sort"
)

// Database is the catalog record of one database.
type Database struct {
	Name   string            `json:"-"`
	Tables map[string]*Table `json:"tables"`
}

// Table describes a table's columns, constraints and indexes. Column order
// is the canonical order for value encoding.
type Table struct {
	Name        string      `json:"-"`
	Columns     []Column    `json:"columns"`
	Constraints Constraints `json:"constraints"`
	Indexes     []Index     `json:"indexes"`
}

// Column is a named, typed column. Type holds the declared spelling, e.g.
// INT or VARCHAR(20).
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Constraints holds a table's key constraints.
type Constraints struct {
	PrimaryKey  []string     `json:"primary_key"`
	UniqueKey   []string     `json:"unique_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// ForeignKey ties a column to a primary-key column of another table.
type ForeignKey struct {
	Column     string    `json:"column"`
	References Reference `json:"references"`
}

// Reference names a referenced table and column.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Index is a named secondary index over an ordered column list.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// NewDatabase returns an empty database record.
func NewDatabase(name string) *Database {
	return &Database{Name: name, Tables: make(map[string]*Table)}
}

// Table returns the named table.
func (d *Database) Table(name string) (*Table, bool) {
	t, ok := d.Tables[name]
	return t, ok
}

// TableNames returns the table names in sorted order.
func (d *Database) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Referrer is a foreign key of another table pointing at a table.
type Referrer struct {
	Table      *Table
	ForeignKey ForeignKey
}

// ReferencingTables returns every foreign key, in any other table, that
// references the named table. Results are ordered by table name.
func (d *Database) ReferencingTables(name string) []Referrer {
	var out []Referrer
	for _, tn := range d.TableNames() {
		if tn == name {
			continue
		}
		t := d.Tables[tn]
		for _, fk := range t.Constraints.ForeignKeys {
			if fk.References.Table == name {
				out = append(out, Referrer{Table: t, ForeignKey: fk})
			}
		}
	}
	return out
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnNames returns the column names in declared order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnType returns the parsed type of the named column.
func (t *Table) ColumnType(name string) (Type, error) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return Type{}, fmt.Errorf("column '%s' does not exist in table '%s'", name, t.Name)
	}
	return ParseType(t.Columns[i].Type)
}

// PrimaryKeyPositions returns the column positions of the primary key in
// primary-key order.
func (t *Table) PrimaryKeyPositions() []int {
	pos := make([]int, len(t.Constraints.PrimaryKey))
	for i, name := range t.Constraints.PrimaryKey {
		pos[i] = t.ColumnIndex(name)
	}
	return pos
}

// PrimaryKeyPosition returns the position of column within the primary key
// or -1.
func (t *Table) PrimaryKeyPosition(column string) int {
	for i, name := range t.Constraints.PrimaryKey {
		if name == column {
			return i
		}
	}
	return -1
}

// IsPrimaryKey reports whether column is part of the primary key.
func (t *Table) IsPrimaryKey(column string) bool {
	return t.PrimaryKeyPosition(column) >= 0
}

// IsUnique reports whether column carries a UNIQUE constraint.
func (t *Table) IsUnique(column string) bool {
	for _, name := range t.Constraints.UniqueKey {
		if name == column {
			return true
		}
	}
	return false
}

// NonKeyPositions returns the positions of the columns not in the primary
// key, in column order.
func (t *Table) NonKeyPositions() []int {
	var pos []int
	for i, c := range t.Columns {
		if !t.IsPrimaryKey(c.Name) {
			pos = append(pos, i)
		}
	}
	return pos
}

// IndexByName returns the named index.
func (t *Table) IndexByName(name string) (*Index, bool) {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

// IndexIsUnique reports whether idx holds at most one row per key. That is
// the case when every column is a key column and the columns either include
// a UNIQUE column or cover the whole primary key.
func (t *Table) IndexIsUnique(idx Index) bool {
	hasUnique := false
	pkCovered := 0
	for _, col := range idx.Columns {
		switch {
		case t.IsUnique(col):
			hasUnique = true
		case t.IsPrimaryKey(col):
			pkCovered++
		default:
			return false
		}
	}
	return hasUnique || pkCovered == len(t.Constraints.PrimaryKey)
}

// IndexPosition returns the position of column within idx or -1.
func (idx Index) IndexPosition(column string) int {
	for i, c := range idx.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// ForeignKeyFor returns the foreign key declared on column.
func (t *Table) ForeignKeyFor(column string) (ForeignKey, bool) {
	for _, fk := range t.Constraints.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// IndexCollection returns the posting collection name of an index.
func IndexCollection(table, index string) string {
	return table + "_" + index + "_ind"
}
