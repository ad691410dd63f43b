// Package fieldpolicy narrows field visibility on records the action
// decision already authorized. It never widens access: a forbidden
// field is replaced by a marker in the output, the request itself is
// unaffected.
package fieldpolicy

import (
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/pkg/types"
)

// Visibility is the per-field verdict.
type Visibility string

const (
	Visible        Visibility = "visible"
	ForbiddenField Visibility = "forbidden"
)

// Marker replaces a forbidden field's value in redacted records.
const Marker = "<forbidden>"

// Evaluate maps each requested field to its visibility under the
// entity's field policies.
//
// An entity with no field policies leaves every field on the action
// decision: all visible. Otherwise a field is matched first against the
// field policies naming it explicitly, falling back to wildcard
// policies; every matching policy at the chosen specificity must
// authorize. A field no policy matches is forbidden.
func Evaluate(set *policy.CompiledSet, fields []string, ectx *types.EvaluationContext) (map[string]Visibility, error) {
	out := make(map[string]Visibility, len(fields))
	if !set.HasFieldPolicies() {
		for _, f := range fields {
			out[f] = Visible
		}
		return out, nil
	}

	for _, f := range fields {
		v, err := evaluateField(set, f, ectx)
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}

func evaluateField(set *policy.CompiledSet, field string, ectx *types.EvaluationContext) (Visibility, error) {
	matched := false
	for _, fp := range set.FieldPolicies {
		if !fp.Covers(field) {
			continue
		}
		matched = true
		ok, err := authorizes(fp, ectx)
		if err != nil {
			return "", err
		}
		if !ok {
			return ForbiddenField, nil
		}
	}
	if matched {
		return Visible, nil
	}

	for _, fp := range set.FieldPolicies {
		if !fp.Wildcard() {
			continue
		}
		matched = true
		ok, err := authorizes(fp, ectx)
		if err != nil {
			return "", err
		}
		if !ok {
			return ForbiddenField, nil
		}
	}
	if matched {
		return Visible, nil
	}
	return ForbiddenField, nil
}

// authorizes runs a field policy's checks in order. Field policies
// never compile filters: a check that stays indefinite ends the walk
// with a deny, since skipping it could let a later check authorize a
// field the unresolved one would have forbidden.
func authorizes(fp *policy.FieldPolicy, ectx *types.EvaluationContext) (bool, error) {
	for _, c := range fp.Checks {
		v, err := c.Predicate.Eval(ectx)
		if err != nil {
			return false, err
		}
		if !v.Definite() {
			return false, nil
		}
		switch c.Kind {
		case types.AuthorizeIf:
			if v == types.True {
				return true, nil
			}
		case types.AuthorizeUnless:
			if v == types.False {
				return true, nil
			}
		case types.ForbidIf:
			if v == types.True {
				return false, nil
			}
		case types.ForbidUnless:
			if v == types.False {
				return false, nil
			}
		}
	}
	return false, nil
}

// RedactRecord returns a copy of the record with every forbidden field's
// value replaced by Marker. Fields absent from the record are left out
// of the result.
func RedactRecord(set *policy.CompiledSet, record types.Record, ectx *types.EvaluationContext) (types.Record, error) {
	fields := make([]string, 0, len(record))
	for f := range record {
		fields = append(fields, f)
	}
	vis, err := Evaluate(set, fields, ectx)
	if err != nil {
		return nil, err
	}

	out := make(types.Record, len(record))
	for f, val := range record {
		if vis[f] == Visible {
			out[f] = val
		} else {
			out[f] = Marker
		}
	}
	return out, nil
}
