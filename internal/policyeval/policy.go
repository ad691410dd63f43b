package policyeval

import (
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/pkg/types"
)

// Outcome is the result of one policy for one request.
type Outcome struct {
	Kind   types.DecisionKind
	Reason string
	Filter *filter.Predicate
}

type pendingCheck struct {
	kind types.CheckKind
	frag *filter.Predicate
}

// EvaluatePolicy runs a policy's checks strictly in declaration order.
//
// While no check has been deferred, the first definite verdict that
// resolves its kind ends evaluation. Once a check has been deferred
// into the running filter, a later definite verdict can no longer
// short-circuit unconditionally -- at strict time the deferred check
// might resolve first -- so from that point every check folds into the
// filter as a fragment or constant, and the walk stops after the first
// check that definitely resolves whenever reached.
//
// The filter is assembled by folding the check list from the last
// entry back to the first (authorize_if p adds "p or rest",
// authorize_unless adds "not p or rest", forbid_if adds "not p and
// rest", forbid_unless adds "p and rest", exhaustion is "false"), so
// for a fully compilable policy it selects exactly the records strict
// evaluation would authorize.
func EvaluatePolicy(p *policy.Policy, ectx *types.EvaluationContext) (Outcome, error) {
	var pendings []pendingCheck

	for _, c := range p.Checks {
		res, err := EvaluateCheck(c, ectx)
		if err != nil {
			return Outcome{}, err
		}

		if res.Value.Definite() {
			resolves, authorized := kindResolves(c.Kind, res.Value)
			if len(pendings) == 0 {
				if !resolves {
					continue
				}
				if authorized {
					return Outcome{Kind: types.DecisionAuthorized}, nil
				}
				return Outcome{Kind: types.DecisionForbidden, Reason: p.Reason()}, nil
			}

			pendings = append(pendings, pendingCheck{kind: c.Kind, frag: constant(res.Value)})
			if resolves {
				// Any check past a definitely resolving one is
				// unreachable on every path.
				break
			}
			continue
		}

		if res.Fragment == nil {
			if ectx.HasRecord {
				// The record is present and the check still cannot
				// answer, e.g. an actor fact with no actor. A
				// non-answer never resolves; exhaustion denies.
				continue
			}
			// Uncompilable check: abandon filter accumulation and defer
			// the whole policy to the strict phase.
			return Outcome{Kind: types.DecisionStrict}, nil
		}
		pendings = append(pendings, pendingCheck{kind: c.Kind, frag: res.Fragment})
	}

	if len(pendings) == 0 {
		// No check produced a decision: no explicit authorization.
		return Outcome{Kind: types.DecisionForbidden, Reason: p.Reason()}, nil
	}

	acc := filter.False()
	for i := len(pendings) - 1; i >= 0; i-- {
		pc := pendings[i]
		switch pc.kind {
		case types.AuthorizeIf:
			acc = filter.Or(pc.frag, acc)
		case types.AuthorizeUnless:
			acc = filter.Or(filter.Not(pc.frag), acc)
		case types.ForbidIf:
			acc = filter.And(filter.Not(pc.frag), acc)
		case types.ForbidUnless:
			acc = filter.And(pc.frag, acc)
		default:
			return Outcome{}, types.Faultf("policyeval", "unknown check kind %q", pc.kind)
		}
	}

	switch {
	case acc.IsTrue():
		return Outcome{Kind: types.DecisionAuthorized}, nil
	case acc.IsFalse():
		return Outcome{Kind: types.DecisionForbidden, Reason: p.Reason()}, nil
	}
	return Outcome{Kind: types.DecisionFiltered, Filter: acc}, nil
}

// kindResolves maps a definite predicate value through the check kind:
// whether evaluation stops here, and in which direction.
func kindResolves(kind types.CheckKind, v types.TruthValue) (resolves, authorized bool) {
	switch kind {
	case types.AuthorizeIf:
		return v == types.True, true
	case types.AuthorizeUnless:
		return v == types.False, true
	case types.ForbidIf:
		return v == types.True, false
	case types.ForbidUnless:
		return v == types.False, false
	}
	return false, false
}

func constant(v types.TruthValue) *filter.Predicate {
	if v == types.True {
		return filter.True()
	}
	return filter.False()
}
