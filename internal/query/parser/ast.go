package parser

import (
	"fmt"
	"strings"
)

// Statement is the interface for all statement types.
type Statement interface {
	statementNode()
	String() string
}

// CreateDatabaseStatement represents CREATE DATABASE name.
type CreateDatabaseStatement struct {
	Name string
}

func (s *CreateDatabaseStatement) statementNode() {}
func (s *CreateDatabaseStatement) String() string {
	return "CREATE DATABASE " + s.Name
}

// UseDatabaseStatement represents USE name.
type UseDatabaseStatement struct {
	Name string
}

func (s *UseDatabaseStatement) statementNode() {}
func (s *UseDatabaseStatement) String() string {
	return "USE " + s.Name
}

// DropDatabaseStatement represents DROP DATABASE name.
type DropDatabaseStatement struct {
	Name string
}

func (s *DropDatabaseStatement) statementNode() {}
func (s *DropDatabaseStatement) String() string {
	return "DROP DATABASE " + s.Name
}

// DataType is a declared column type such as INT or VARCHAR(20).
// Length is only meaningful for VARCHAR.
type DataType struct {
	Name   string
	Length int
}

func (d DataType) String() string {
	if d.Length > 0 {
		return fmt.Sprintf("%s(%d)", d.Name, d.Length)
	}
	return d.Name
}

// ForeignKeyRef names the referenced table and column of a REFERENCES clause.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// ColumnDef is one column definition inside CREATE TABLE.
type ColumnDef struct {
	Name       string
	Type       DataType
	PrimaryKey bool
	Unique     bool
	References *ForeignKeyRef
}

func (c ColumnDef) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteString(" ")
	sb.WriteString(c.Type.String())
	if c.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if c.Unique {
		sb.WriteString(" UNIQUE")
	}
	if c.References != nil {
		sb.WriteString(fmt.Sprintf(" REFERENCES %s(%s)", c.References.Table, c.References.Column))
	}
	return sb.String()
}

// CreateTableStatement represents CREATE TABLE name (...).
// PrimaryKey holds the columns of a table-level PRIMARY KEY (...) clause.
type CreateTableStatement struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
}

func (s *CreateTableStatement) statementNode() {}
func (s *CreateTableStatement) String() string {
	parts := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		parts = append(parts, c.String())
	}
	if len(s.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+strings.Join(s.PrimaryKey, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", s.Name, strings.Join(parts, ", "))
}

// DropTableStatement represents DROP TABLE name.
type DropTableStatement struct {
	Name string
}

func (s *DropTableStatement) statementNode() {}
func (s *DropTableStatement) String() string {
	return "DROP TABLE " + s.Name
}

// CreateIndexStatement represents CREATE INDEX name ON table (cols).
type CreateIndexStatement struct {
	Name    string
	Table   string
	Columns []string
}

func (s *CreateIndexStatement) statementNode() {}
func (s *CreateIndexStatement) String() string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", s.Name, s.Table, strings.Join(s.Columns, ", "))
}

// Literal is a value as written in a statement. Quoted records whether the
// value came from a string literal; Null marks the NULL keyword.
type Literal struct {
	Value  string
	Null   bool
	Quoted bool
}

func (l Literal) String() string {
	if l.Null {
		return "NULL"
	}
	if l.Quoted {
		return "'" + strings.ReplaceAll(l.Value, "'", "''") + "'"
	}
	return l.Value
}

// InsertStatement represents INSERT INTO table [(cols)] VALUES (vals).
type InsertStatement struct {
	Table   string
	Columns []string
	Values  []Literal
}

func (s *InsertStatement) statementNode() {}
func (s *InsertStatement) String() string {
	vals := make([]string, len(s.Values))
	for i, v := range s.Values {
		vals[i] = v.String()
	}
	var cols string
	if len(s.Columns) > 0 {
		cols = " (" + strings.Join(s.Columns, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s%s VALUES (%s)", s.Table, cols, strings.Join(vals, ", "))
}

// DeleteStatement represents DELETE FROM table WHERE conds.
type DeleteStatement struct {
	Table string
	Where []Condition
}

func (s *DeleteStatement) statementNode() {}
func (s *DeleteStatement) String() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", s.Table, joinConditions(s.Where))
}

// ColumnRef is a possibly table-qualified column name.
type ColumnRef struct {
	Table  string
	Column string
}

func (c ColumnRef) String() string {
	if c.Table != "" {
		return c.Table + "." + c.Column
	}
	return c.Column
}

// AggregateExpr is FUNC(col) or FUNC(*). Arg is nil for the star form.
type AggregateExpr struct {
	Function string
	Arg      *ColumnRef
}

// String returns the output header of the aggregate, e.g. COUNT(*) or SUM(qty).
func (a AggregateExpr) String() string {
	if a.Arg == nil {
		return a.Function + "(*)"
	}
	return a.Function + "(" + a.Arg.String() + ")"
}

// SelectItem is one entry in the select list.
type SelectItem struct {
	Star      bool
	Column    *ColumnRef
	Aggregate *AggregateExpr
}

func (s SelectItem) String() string {
	switch {
	case s.Star:
		return "*"
	case s.Aggregate != nil:
		return s.Aggregate.String()
	case s.Column != nil:
		return s.Column.String()
	}
	return ""
}

// JoinClause represents [INNER] JOIN table ON left = right.
type JoinClause struct {
	Table string
	Left  ColumnRef
	Right ColumnRef
}

func (j JoinClause) String() string {
	return fmt.Sprintf("JOIN %s ON %s = %s", j.Table, j.Left.String(), j.Right.String())
}

// Operator is a WHERE comparison operator.
type Operator string

const (
	OpEq Operator = "="
	OpGt Operator = ">"
	OpLt Operator = "<"
	OpGe Operator = ">="
	OpLe Operator = "<="
)

// Operand is the right-hand side of a condition: a literal or a column.
type Operand struct {
	Literal *Literal
	Column  *ColumnRef
}

func (o Operand) String() string {
	if o.Column != nil {
		return o.Column.String()
	}
	if o.Literal != nil {
		return o.Literal.String()
	}
	return ""
}

// IsColumn reports whether the operand refers to another column.
func (o Operand) IsColumn() bool {
	return o.Column != nil
}

// Condition is a single conjunct of a WHERE clause.
type Condition struct {
	Left  ColumnRef
	Op    Operator
	Right Operand
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Left.String(), c.Op, c.Right.String())
}

// OrderByClause is one ORDER BY key: a column or an aggregate.
type OrderByClause struct {
	Column    *ColumnRef
	Aggregate *AggregateExpr
	Desc      bool
}

// Key returns the header name the clause sorts by.
func (o OrderByClause) Key() string {
	if o.Aggregate != nil {
		return o.Aggregate.String()
	}
	if o.Column != nil {
		return o.Column.String()
	}
	return ""
}

func (o OrderByClause) String() string {
	if o.Desc {
		return o.Key() + " DESC"
	}
	return o.Key() + " ASC"
}

// SelectStatement represents a SELECT query.
type SelectStatement struct {
	Distinct bool
	Items    []SelectItem
	From     string
	Joins    []JoinClause
	Where    []Condition
	GroupBy  []ColumnRef
	OrderBy  []OrderByClause
}

func (s *SelectStatement) statementNode() {}
func (s *SelectStatement) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	items := make([]string, len(s.Items))
	for i, it := range s.Items {
		items[i] = it.String()
	}
	sb.WriteString(strings.Join(items, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(s.From)
	for _, j := range s.Joins {
		sb.WriteString(" ")
		sb.WriteString(j.String())
	}
	if len(s.Where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(joinConditions(s.Where))
	}
	if len(s.GroupBy) > 0 {
		cols := make([]string, len(s.GroupBy))
		for i, c := range s.GroupBy {
			cols[i] = c.String()
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}
	if len(s.OrderBy) > 0 {
		keys := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			keys[i] = o.String()
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}
	return sb.String()
}

// IsJoin reports whether the query takes the join path.
func (s *SelectStatement) IsJoin() bool {
	return len(s.Joins) > 0
}

// Tables returns the FROM table followed by every joined table.
func (s *SelectStatement) Tables() []string {
	tables := []string{s.From}
	for _, j := range s.Joins {
		tables = append(tables, j.Table)
	}
	return tables
}

// Aggregates returns every aggregate in the select list, in order.
func (s *SelectStatement) Aggregates() []AggregateExpr {
	var aggs []AggregateExpr
	for _, it := range s.Items {
		if it.Aggregate != nil {
			aggs = append(aggs, *it.Aggregate)
		}
	}
	return aggs
}

// HasStar reports whether the select list contains *.
func (s *SelectStatement) HasStar() bool {
	for _, it := range s.Items {
		if it.Star {
			return true
		}
	}
	return false
}

func joinConditions(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}
