package filter

import (
	"fmt"
	"strings"
)

// Dialect selects placeholder and quoting style for SQL rendering.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQL renders the predicate as a WHERE clause fragment with bound
// arguments. Field names are validated so a predicate can never inject
// SQL through an identifier.
func (p *Predicate) SQL(d Dialect) (string, []interface{}, error) {
	b := &sqlBuilder{dialect: d}
	clause, err := b.render(p)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

type sqlBuilder struct {
	dialect Dialect
	args    []interface{}
}

func (b *sqlBuilder) render(p *Predicate) (string, error) {
	if p == nil {
		return "(1=1)", nil
	}
	switch p.kind {
	case kindTrue:
		return "(1=1)", nil
	case kindFalse:
		return "(1=0)", nil
	case kindCompare:
		return b.renderCompare(p)
	case kindAnd, kindOr:
		sep := " AND "
		if p.kind == kindOr {
			sep = " OR "
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			s, err := b.render(c)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case kindNot:
		inner, err := b.render(p.children[0])
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	}
	return "", fmt.Errorf("filter: unknown predicate node %d", p.kind)
}

// renderCompare emits a clause that is two-valued even on NULL columns:
// bare "col <> $1" or "NOT (col = $1)" is NULL-valued in SQL and would
// drop rows the in-memory evaluation matches, so equality-family
// comparisons get an explicit IS [NOT] NULL guard.
func (b *sqlBuilder) renderCompare(p *Predicate) (string, error) {
	if !ValidIdent(p.field) {
		return "", fmt.Errorf("filter: invalid field identifier %q", p.field)
	}
	col := quoteIdent(p.field)

	switch p.op {
	case OpIn:
		items := toSlice(p.value)
		if len(items) == 0 {
			return "(1=0)", nil
		}
		holes := make([]string, len(items))
		for i, item := range items {
			b.args = append(b.args, item)
			holes[i] = b.dialect.placeholder(len(b.args))
		}
		return fmt.Sprintf("(%s IS NOT NULL AND %s IN (%s))", col, col, strings.Join(holes, ", ")), nil
	case OpEQ, OpNEQ:
		if p.value == nil {
			if p.op == OpEQ {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
	}

	sym, ok := sqlOps[p.op]
	if !ok {
		return "", fmt.Errorf("filter: operator %q has no SQL form", p.op)
	}
	b.args = append(b.args, p.value)
	ph := b.dialect.placeholder(len(b.args))

	if p.op == OpNEQ {
		// A missing value counts as unequal, matching Satisfies.
		return fmt.Sprintf("(%s IS NULL OR %s %s %s)", col, col, sym, ph), nil
	}
	return fmt.Sprintf("(%s IS NOT NULL AND %s %s %s)", col, col, sym, ph), nil
}

var sqlOps = map[CompareOp]string{
	OpEQ:  "=",
	OpNEQ: "<>",
	OpGT:  ">",
	OpGTE: ">=",
	OpLT:  "<",
	OpLTE: "<=",
}

// ValidIdent reports whether s is safe to interpolate as a SQL
// identifier: ASCII letters, digits and underscores, not digit-led.
func ValidIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
