// Package policyeval evaluates single checks and whole policies against
// an evaluation context, producing either a definite verdict or a
// storage filter for the records the policy would authorize.
package policyeval

import (
	"errors"

	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/pkg/types"
)

// CheckResult is the outcome of evaluating one check's predicate.
// Fragment is set only when the value is Unknown and the predicate
// compiled into a storage filter; an Unknown value with a nil Fragment
// means the containing policy must re-run once records are loaded.
type CheckResult struct {
	Value    types.TruthValue
	Fragment *filter.Predicate
}

// EvaluateCheck evaluates a check's predicate against the context. The
// check kind does not participate here: resolution and fragment
// polarity are applied by the policy evaluator, which knows the
// position of the check in its policy.
func EvaluateCheck(c *policy.Check, ectx *types.EvaluationContext) (CheckResult, error) {
	v, err := c.Predicate.Eval(ectx)
	if err != nil {
		return CheckResult{}, err
	}
	if v.Definite() {
		return CheckResult{Value: v}, nil
	}

	frag, err := c.Predicate.Fragment(ectx)
	if err != nil {
		if errors.Is(err, expr.ErrNotFilterable) {
			// Uncompilable predicates degrade the policy to strict
			// evaluation; this is not a request failure.
			return CheckResult{Value: types.Unknown}, nil
		}
		return CheckResult{}, err
	}
	return CheckResult{Value: types.Unknown, Fragment: frag}, nil
}
