package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/policyflow/go-core/internal/cel"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// LiteralExpr is a constant fact.
type LiteralExpr struct{ Value bool }

// Always returns the fact that is true for every request.
func Always() Expr { return &LiteralExpr{Value: true} }

// Never returns the fact that is false for every request.
func Never() Expr { return &LiteralExpr{Value: false} }

func (e *LiteralExpr) Eval(*types.EvaluationContext) (types.TruthValue, error) {
	return types.Truth(e.Value), nil
}

func (e *LiteralExpr) Fragment(*types.EvaluationContext) (*filter.Predicate, error) {
	if e.Value {
		return filter.True(), nil
	}
	return filter.False(), nil
}

func (e *LiteralExpr) Key() string {
	if e.Value {
		return "true"
	}
	return "false"
}

func (e *LiteralExpr) String() string { return e.Key() }

// ActorAttrExpr compares an attribute of the acting principal against a
// literal. With no actor present the fact is Unknown: it can never be
// pushed into a filter, so the containing policy degrades to strict.
type ActorAttrExpr struct {
	Attr  string
	Op    filter.CompareOp
	Value interface{}
}

// ActorAttr builds an actor attribute comparison fact.
func ActorAttr(attr string, op filter.CompareOp, value interface{}) Expr {
	return &ActorAttrExpr{Attr: attr, Op: op, Value: value}
}

func (e *ActorAttrExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	if ectx.Actor == nil {
		return types.Unknown, nil
	}
	v, _ := ectx.Actor.Attribute(e.Attr)
	return types.Truth(filter.Satisfies(v, e.Op, e.Value)), nil
}

func (e *ActorAttrExpr) Fragment(*types.EvaluationContext) (*filter.Predicate, error) {
	return nil, ErrNotFilterable
}

func (e *ActorAttrExpr) Key() string {
	return fmt.Sprintf("actor.%s %s %v", e.Attr, e.Op, e.Value)
}

func (e *ActorAttrExpr) String() string { return e.Key() }

// RecordFieldExpr compares a record field against a literal. It is the
// filter-compilable fact: without a record it is Unknown and compiles to
// a single field comparison.
type RecordFieldExpr struct {
	Field string
	Op    filter.CompareOp
	Value interface{}
}

// RecordField builds a record field comparison fact.
func RecordField(field string, op filter.CompareOp, value interface{}) Expr {
	return &RecordFieldExpr{Field: field, Op: op, Value: value}
}

func (e *RecordFieldExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	if !ectx.HasRecord {
		return types.Unknown, nil
	}
	return types.Truth(filter.Satisfies(ectx.Record[e.Field], e.Op, e.Value)), nil
}

func (e *RecordFieldExpr) Fragment(*types.EvaluationContext) (*filter.Predicate, error) {
	return filter.Compare(e.Field, e.Op, e.Value), nil
}

func (e *RecordFieldExpr) Key() string {
	return fmt.Sprintf("record.%s %s %v", e.Field, e.Op, e.Value)
}

func (e *RecordFieldExpr) String() string { return e.Key() }

// RelatesToActorExpr holds when the record's relationship field points
// at the acting principal. With no actor it is definitively false: no
// row relates to an absent principal.
type RelatesToActorExpr struct {
	Relationship string
}

// RelatesToActor builds a relationship-to-actor fact.
func RelatesToActor(relationship string) Expr {
	return &RelatesToActorExpr{Relationship: relationship}
}

func (e *RelatesToActorExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	if ectx.Actor == nil {
		return types.False, nil
	}
	if !ectx.HasRecord {
		return types.Unknown, nil
	}
	return types.Truth(filter.Satisfies(ectx.Record[e.Relationship], filter.OpEQ, ectx.Actor.ID)), nil
}

func (e *RelatesToActorExpr) Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error) {
	if ectx.Actor == nil {
		return filter.False(), nil
	}
	return filter.Compare(e.Relationship, filter.OpEQ, ectx.Actor.ID), nil
}

func (e *RelatesToActorExpr) Key() string {
	return fmt.Sprintf("relates_to_actor(%s)", e.Relationship)
}

func (e *RelatesToActorExpr) String() string { return e.Key() }

// ActionInExpr holds when the request's action is one of the named
// actions. Always definite; used mainly as a policy condition.
type ActionInExpr struct {
	Actions []types.ActionType
}

// ActionIn builds an action membership fact.
func ActionIn(actions ...types.ActionType) Expr {
	return &ActionInExpr{Actions: actions}
}

func (e *ActionInExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	for _, a := range e.Actions {
		if a == ectx.Action {
			return types.True, nil
		}
	}
	return types.False, nil
}

func (e *ActionInExpr) Fragment(ectx *types.EvaluationContext) (*filter.Predicate, error) {
	v, _ := e.Eval(ectx)
	if v == types.True {
		return filter.True(), nil
	}
	return filter.False(), nil
}

func (e *ActionInExpr) Key() string {
	names := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		names[i] = string(a)
	}
	sort.Strings(names)
	return "action in [" + strings.Join(names, ",") + "]"
}

func (e *ActionInExpr) String() string { return e.Key() }

// CELExpr is an arbitrary boolean expression over actor, record, and
// context, compiled once at definition time. CEL facts never compile to
// storage filters: a policy depending on one for an unloaded record is
// strict-only.
type CELExpr struct {
	prog *cel.Compiled
}

// CEL compiles source into a predicate fact. Compilation failures are
// configuration errors and surface at definition compile time.
func CEL(source string) (Expr, error) {
	eng, err := cel.Default()
	if err != nil {
		return nil, err
	}
	prog, err := eng.Compile(source)
	if err != nil {
		return nil, err
	}
	return &CELExpr{prog: prog}, nil
}

func (e *CELExpr) Eval(ectx *types.EvaluationContext) (types.TruthValue, error) {
	if e.prog.NeedsRecord && !ectx.HasRecord {
		return types.Unknown, nil
	}
	if e.prog.NeedsActor && ectx.Actor == nil {
		return types.Unknown, nil
	}
	ok, err := e.prog.Eval(ectx.Actor.ToMap(), map[string]interface{}(ectx.Record), ectx.Context, string(ectx.Action))
	if err != nil {
		// A compiled predicate failing at request time is a bug, not an
		// access decision.
		return types.Unknown, types.Faultf("cel.eval", "predicate %q: %v", e.prog.Source, err)
	}
	return types.Truth(ok), nil
}

func (e *CELExpr) Fragment(*types.EvaluationContext) (*filter.Predicate, error) {
	return nil, ErrNotFilterable
}

func (e *CELExpr) Key() string { return "cel(" + e.prog.Source + ")" }

func (e *CELExpr) String() string { return e.Key() }
