// Package expr models the boolean predicates policies are built from:
// atomic facts about the actor, the record, or the request, combined
// with and/or/not under Kleene three-valued logic. A fact that needs
// record data evaluates to Unknown until the record is materialized; in
// that state it may instead compile into a storage filter fragment.
package expr

import (
	"errors"
	"sort"
	"strings"

	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// ErrNotFilterable marks a predicate that cannot be expressed as a
// storage filter. The containing policy degrades to strict evaluation;
// this is not a request failure.
var ErrNotFilterable = errors.New("expression cannot be compiled to a storage filter")

// Expr is a three-valued boolean expression over request facts.
type Expr interface {
	// Eval evaluates the expression against the context, returning
	// Unknown when referenced record data is absent.
	Eval(ectx *types.EvaluationContext) (types.TruthValue, error)

	// Fragment compiles the expression into a filter over record fields
	// for the current context, or returns ErrNotFilterable.
	Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error)

	// Key is a canonical identity for the expression, stable across
	// processes, used by the satisfiability analysis.
	Key() string

	String() string
}

// AndExpr is a conjunction of expressions.
type AndExpr struct{ Operands []Expr }

// OrExpr is a disjunction of expressions.
type OrExpr struct{ Operands []Expr }

// NotExpr negates an expression.
type NotExpr struct{ Operand Expr }

// And combines expressions conjunctively.
func And(operands ...Expr) Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	return &AndExpr{Operands: operands}
}

// Or combines expressions disjunctively.
func Or(operands ...Expr) Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	return &OrExpr{Operands: operands}
}

// Not negates an expression.
func Not(operand Expr) Expr { return &NotExpr{Operand: operand} }

func (e *AndExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	result := types.True
	for _, op := range e.Operands {
		v, err := op.Eval(ectx)
		if err != nil {
			return types.Unknown, err
		}
		switch v {
		case types.False:
			return types.False, nil
		case types.Unknown:
			result = types.Unknown
		}
	}
	return result, nil
}

func (e *OrExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	result := types.False
	for _, op := range e.Operands {
		v, err := op.Eval(ectx)
		if err != nil {
			return types.Unknown, err
		}
		switch v {
		case types.True:
			return types.True, nil
		case types.Unknown:
			result = types.Unknown
		}
	}
	return result, nil
}

func (e *NotExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	v, err := e.Operand.Eval(ectx)
	if err != nil {
		return types.Unknown, err
	}
	return v.Not(), nil
}

// Fragment for combinators folds definitively evaluated children into
// constants and compiles only the unresolved ones.
func (e *AndExpr) Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error) {
	parts := make([]*filter.Predicate, 0, len(e.Operands))
	for _, op := range e.Operands {
		p, err := childFragment(op, ectx)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return filter.And(parts...), nil
}

func (e *OrExpr) Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error) {
	parts := make([]*filter.Predicate, 0, len(e.Operands))
	for _, op := range e.Operands {
		p, err := childFragment(op, ectx)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return filter.Or(parts...), nil
}

func (e *NotExpr) Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error) {
	p, err := childFragment(e.Operand, ectx)
	if err != nil {
		return nil, err
	}
	return filter.Not(p), nil
}

// childFragment resolves a child to a constant when its value is already
// definite in this context, and compiles it otherwise.
func childFragment(e Expr, ectx *types.EvaluationContext) (*filter.Predicate, error) {
	v, err := e.Eval(ectx)
	if err != nil {
		return nil, err
	}
	switch v {
	case types.True:
		return filter.True(), nil
	case types.False:
		return filter.False(), nil
	}
	return e.Fragment(ectx)
}

func (e *AndExpr) Key() string { return compositeKey("and", e.Operands) }
func (e *OrExpr) Key() string  { return compositeKey("or", e.Operands) }
func (e *NotExpr) Key() string { return "(not " + e.Operand.Key() + ")" }

func compositeKey(op string, operands []Expr) string {
	parts := make([]string, len(operands))
	for i, o := range operands {
		parts[i] = o.Key()
	}
	return "(" + op + " " + strings.Join(parts, " ") + ")"
}

func (e *AndExpr) String() string { return e.Key() }
func (e *OrExpr) String() string  { return e.Key() }
func (e *NotExpr) String() string { return e.Key() }

// Walk visits every node of the expression tree in preorder.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *AndExpr:
		for _, op := range n.Operands {
			Walk(op, fn)
		}
	case *OrExpr:
		for _, op := range n.Operands {
			Walk(op, fn)
		}
	case *NotExpr:
		Walk(n.Operand, fn)
	}
}

// Atoms returns the sorted canonical keys of the atomic facts in e.
func Atoms(e Expr) []string {
	set := map[string]struct{}{}
	Walk(e, func(n Expr) {
		switch n.(type) {
		case *AndExpr, *OrExpr, *NotExpr, *LiteralExpr:
		default:
			set[n.Key()] = struct{}{}
		}
	})
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NeedsRecord reports whether any fact in e references record data.
func NeedsRecord(e Expr) bool {
	found := false
	Walk(e, func(n Expr) {
		switch a := n.(type) {
		case *RecordFieldExpr, *RelatesToActorExpr:
			found = true
		case *CELExpr:
			if a.prog.NeedsRecord {
				found = true
			}
		}
	})
	return found
}

// NeedsActor reports whether any fact in e references the actor.
func NeedsActor(e Expr) bool {
	found := false
	Walk(e, func(n Expr) {
		switch a := n.(type) {
		case *ActorAttrExpr, *RelatesToActorExpr:
			found = true
		case *CELExpr:
			if a.prog.NeedsActor {
				found = true
			}
		}
	})
	return found
}

// Validate checks every record reference in e against the entity's
// declared field set. An unknown reference is an authoring error,
// reported at definition compile time.
func Validate(e Expr, entity string, fields map[string]struct{}) error {
	var err error
	Walk(e, func(n Expr) {
		if err != nil {
			return
		}
		switch a := n.(type) {
		case *RecordFieldExpr:
			if _, ok := fields[a.Field]; !ok {
				err = types.NewConfigError(entity, "predicate references unknown field %q", a.Field)
			}
		case *RelatesToActorExpr:
			if _, ok := fields[a.Relationship]; !ok {
				err = types.NewConfigError(entity, "predicate references unknown relationship %q", a.Relationship)
			}
		}
	})
	return err
}
