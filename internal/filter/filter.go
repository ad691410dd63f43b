// Package filter provides the storage-facing predicate representation.
// Authorization checks that cannot be resolved without record data are
// compiled into a Predicate, which the storage layer either renders to
// SQL or evaluates in memory per row.
package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CompareOp is a comparison operator over a record field.
type CompareOp string

const (
	OpEQ  CompareOp = "eq"
	OpNEQ CompareOp = "neq"
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpIn  CompareOp = "in"
)

// Valid reports whether op is a known comparison operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpEQ, OpNEQ, OpGT, OpGTE, OpLT, OpLTE, OpIn:
		return true
	}
	return false
}

type nodeKind int8

const (
	kindTrue nodeKind = iota
	kindFalse
	kindCompare
	kindAnd
	kindOr
	kindNot
)

// Predicate is an immutable boolean predicate over record fields.
// Constructors fold constants, so a predicate built only from definite
// inputs collapses to True or False.
type Predicate struct {
	kind     nodeKind
	field    string
	op       CompareOp
	value    interface{}
	children []*Predicate
}

// True returns the predicate matching every record.
func True() *Predicate { return &Predicate{kind: kindTrue} }

// False returns the predicate matching no record.
func False() *Predicate { return &Predicate{kind: kindFalse} }

// Compare returns a single field comparison.
func Compare(field string, op CompareOp, value interface{}) *Predicate {
	return &Predicate{kind: kindCompare, field: field, op: op, value: value}
}

// And conjoins predicates. True operands are dropped; any False operand
// collapses the whole conjunction.
func And(ps ...*Predicate) *Predicate {
	var kept []*Predicate
	for _, p := range ps {
		if p == nil || p.kind == kindTrue {
			continue
		}
		if p.kind == kindFalse {
			return False()
		}
		if p.kind == kindAnd {
			kept = append(kept, p.children...)
			continue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return True()
	case 1:
		return kept[0]
	}
	return &Predicate{kind: kindAnd, children: kept}
}

// Or disjoins predicates. False operands are dropped; any True operand
// collapses the whole disjunction.
func Or(ps ...*Predicate) *Predicate {
	var kept []*Predicate
	for _, p := range ps {
		if p == nil || p.kind == kindFalse {
			continue
		}
		if p.kind == kindTrue {
			return True()
		}
		if p.kind == kindOr {
			kept = append(kept, p.children...)
			continue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return False()
	case 1:
		return kept[0]
	}
	return &Predicate{kind: kindOr, children: kept}
}

// Not negates a predicate, folding constants and double negation.
func Not(p *Predicate) *Predicate {
	if p == nil {
		return False()
	}
	switch p.kind {
	case kindTrue:
		return False()
	case kindFalse:
		return True()
	case kindNot:
		return p.children[0]
	}
	return &Predicate{kind: kindNot, children: []*Predicate{p}}
}

// IsTrue reports whether the predicate matches every record.
func (p *Predicate) IsTrue() bool { return p != nil && p.kind == kindTrue }

// IsFalse reports whether the predicate matches no record.
func (p *Predicate) IsFalse() bool { return p != nil && p.kind == kindFalse }

// Matches evaluates the predicate against a materialized row.
func (p *Predicate) Matches(row map[string]interface{}) bool {
	if p == nil {
		return true
	}
	switch p.kind {
	case kindTrue:
		return true
	case kindFalse:
		return false
	case kindCompare:
		return Satisfies(row[p.field], p.op, p.value)
	case kindAnd:
		for _, c := range p.children {
			if !c.Matches(row) {
				return false
			}
		}
		return true
	case kindOr:
		for _, c := range p.children {
			if c.Matches(row) {
				return true
			}
		}
		return false
	case kindNot:
		return !p.children[0].Matches(row)
	}
	return false
}

// Fields returns the sorted set of field names referenced by the predicate.
func (p *Predicate) Fields() []string {
	set := map[string]struct{}{}
	p.collectFields(set)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Predicate) collectFields(set map[string]struct{}) {
	if p == nil {
		return
	}
	if p.kind == kindCompare {
		set[p.field] = struct{}{}
	}
	for _, c := range p.children {
		c.collectFields(set)
	}
}

// String renders the predicate for logs and error messages.
func (p *Predicate) String() string {
	if p == nil {
		return "true"
	}
	switch p.kind {
	case kindTrue:
		return "true"
	case kindFalse:
		return "false"
	case kindCompare:
		return fmt.Sprintf("%s %s %v", p.field, p.op, p.value)
	case kindAnd, kindOr:
		sep := " and "
		if p.kind == kindOr {
			sep = " or "
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	case kindNot:
		return "not " + p.children[0].String()
	}
	return "?"
}

// MarshalJSON renders the predicate as a structured tree so API callers
// can merge it into their own query representation.
func (p *Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.toJSON())
}

func (p *Predicate) toJSON() interface{} {
	if p == nil {
		return map[string]interface{}{"op": "true"}
	}
	switch p.kind {
	case kindTrue:
		return map[string]interface{}{"op": "true"}
	case kindFalse:
		return map[string]interface{}{"op": "false"}
	case kindCompare:
		return map[string]interface{}{
			"op":    string(p.op),
			"field": p.field,
			"value": p.value,
		}
	case kindAnd, kindOr:
		name := "and"
		if p.kind == kindOr {
			name = "or"
		}
		kids := make([]interface{}, len(p.children))
		for i, c := range p.children {
			kids[i] = c.toJSON()
		}
		return map[string]interface{}{"op": name, "operands": kids}
	case kindNot:
		return map[string]interface{}{"op": "not", "operand": p.children[0].toJSON()}
	}
	return nil
}

// Satisfies compares a row value against a literal. Numeric values are
// normalized to float64 first so JSON-decoded rows compare cleanly.
func Satisfies(left interface{}, op CompareOp, right interface{}) bool {
	switch op {
	case OpEQ:
		return equalValues(left, right)
	case OpNEQ:
		return !equalValues(left, right)
	case OpIn:
		for _, item := range toSlice(right) {
			if equalValues(left, item) {
				return true
			}
		}
		return false
	case OpGT, OpGTE, OpLT, OpLTE:
		cmp, ok := orderValues(left, right)
		if !ok {
			return false
		}
		switch op {
		case OpGT:
			return cmp > 0
		case OpGTE:
			return cmp >= 0
		case OpLT:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// orderValues returns -1/0/1 for comparable values, ok=false otherwise.
func orderValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case []int:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case nil:
		return nil
	}
	return []interface{}{v}
}
