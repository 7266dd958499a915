package executor

import (
	"fmt"

	"github.com/docsql/docsql/internal/catalog"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/query/aggregator"
	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/query/value"
)

// boundPredicate is a condition resolved against the columns of one table.
type boundPredicate struct {
	cond    parser.Condition
	column  string
	pos     int
	other   int // position of the right-hand column, or -1 for a literal
	literal any // normalised when possible; nil for NULL
	// eligible is set when the literal normalises for the column type and
	// so can be matched against stored keys.
	eligible bool
}

func unknownColumn(ref parser.ColumnRef, table string) error {
	return dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
		fmt.Sprintf("Unknown column '%s' in table '%s'", ref.String(), table))
}

// resolves reports whether ref names a column of table.
func resolves(table *catalog.Table, ref parser.ColumnRef) bool {
	if ref.Table != "" && ref.Table != table.Name {
		return false
	}
	return table.HasColumn(ref.Column)
}

func bind(table *catalog.Table, cond parser.Condition) (boundPredicate, error) {
	if !resolves(table, cond.Left) {
		return boundPredicate{}, unknownColumn(cond.Left, table.Name)
	}
	p := boundPredicate{
		cond:   cond,
		column: cond.Left.Column,
		pos:    table.ColumnIndex(cond.Left.Column),
		other:  -1,
	}

	if cond.Right.IsColumn() {
		if !resolves(table, *cond.Right.Column) {
			return boundPredicate{}, unknownColumn(*cond.Right.Column, table.Name)
		}
		p.other = table.ColumnIndex(cond.Right.Column.Column)
		return p, nil
	}

	lit := cond.Right.Literal
	if lit == nil || lit.Null {
		return p, nil
	}
	p.literal = lit.Value
	typ, err := table.ColumnType(p.column)
	if err != nil {
		return boundPredicate{}, dserrors.NewSchemaError(dserrors.CodeInvalidType, err.Error())
	}
	if norm, err := typ.Normalize(lit.Value); err == nil {
		p.literal = norm
		p.eligible = true
	}
	return p, nil
}

func bindAll(table *catalog.Table, conds []parser.Condition) ([]boundPredicate, error) {
	preds := make([]boundPredicate, 0, len(conds))
	for _, c := range conds {
		p, err := bind(table, c)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func (p boundPredicate) equality() bool {
	return p.cond.Op == parser.OpEq && p.other < 0 && p.eligible
}

func (p boundPredicate) rangeLookup() bool {
	return p.cond.Op != parser.OpEq && p.other < 0 && p.eligible
}

// match evaluates the predicate on a row's values. Comparisons involving
// NULL are false.
func (p boundPredicate) match(values []any) bool {
	left := values[p.pos]
	right := p.literal
	if p.other >= 0 {
		right = values[p.other]
	}
	if left == nil || right == nil {
		return false
	}
	return value.Satisfies(string(p.cond.Op), value.Compare(left, right))
}

func matchAll(preds []boundPredicate, values []any) bool {
	for _, p := range preds {
		if !p.match(values) {
			return false
		}
	}
	return true
}

// crossPredicate is evaluated on an assembled join row, addressed by header.
type crossPredicate struct {
	cond parser.Condition
	// literal is the right-hand literal, normalised for the type of the
	// column the left side resolves to when it normalises; nil for NULL.
	literal any
}

// newCrossPredicate binds cond to the assembled row. owner is the table
// whose column the left-hand side resolves to among the joined headers.
func newCrossPredicate(owner *catalog.Table, cond parser.Condition) crossPredicate {
	p := crossPredicate{cond: cond}
	lit := cond.Right.Literal
	if cond.Right.IsColumn() || lit == nil || lit.Null {
		return p
	}
	p.literal = lit.Value
	if typ, err := owner.ColumnType(cond.Left.Column); err == nil {
		if norm, err := typ.Normalize(lit.Value); err == nil {
			p.literal = norm
		}
	}
	return p
}

func (p crossPredicate) match(headers []string, row []any) bool {
	li := aggregator.FindHeader(headers, p.cond.Left.String())
	if li < 0 {
		return false
	}
	left := row[li]

	var right any
	switch {
	case p.cond.Right.IsColumn():
		ri := aggregator.FindHeader(headers, p.cond.Right.Column.String())
		if ri < 0 {
			return false
		}
		right = row[ri]
	default:
		right = p.literal
	}
	if left == nil || right == nil {
		return false
	}
	return value.Satisfies(string(p.cond.Op), value.Compare(left, right))
}
