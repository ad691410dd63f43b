// Package sat classifies compiled policies by boolean satisfiability:
// whether a policy can ever authorize, can ever deny, or is genuinely
// data-dependent. Each distinct atomic fact across the policy set maps
// to one boolean variable; a policy's resolving condition is encoded as
// a formula over those variables and decided with a DPLL-style search.
// The analysis runs once per entity definition and its result is cached
// with the compiled set, off the request hot path.
package sat

import (
	"fmt"

	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/pkg/types"
)

// Check is the analyzer's view of one policy check.
type Check struct {
	Kind      types.CheckKind
	Predicate expr.Expr
}

// Policy is the analyzer's view of one policy, in combinator order
// (bypasses first, then the rest, each group in declaration order).
type Policy struct {
	Name      string
	Bypass    bool
	Condition expr.Expr
	Checks    []Check
}

// Classification describes how a formula can resolve.
type Classification string

const (
	AlwaysTrue    Classification = "always_true"
	AlwaysFalse   Classification = "always_false"
	DataDependent Classification = "data_dependent"
)

// CheckReport classifies one check's predicate.
type CheckReport struct {
	Kind           types.CheckKind `json:"kind"`
	Predicate      string          `json:"predicate"`
	Classification Classification  `json:"classification"`
}

// PolicyReport classifies one policy's authorize direction and carries
// the warnings found for it.
type PolicyReport struct {
	Name      string         `json:"name"`
	Bypass    bool           `json:"bypass"`
	Authorize Classification `json:"authorize"`
	Warnings  []string       `json:"warnings,omitempty"`
	Checks    []CheckReport  `json:"checks"`
}

// Analysis is the compile-time result for a whole policy set. It is
// sufficient to render a deterministic decision graph without re-running
// the solver.
type Analysis struct {
	Variables []string       `json:"variables"`
	Policies  []PolicyReport `json:"policies"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Analyze classifies every policy and check in the set.
func Analyze(policies []Policy) *Analysis {
	vars := collectVariables(policies)
	index := make(map[string]int, len(vars))
	for i, k := range vars {
		index[k] = i
	}

	a := &Analysis{Variables: vars}

	for _, p := range policies {
		report := PolicyReport{Name: p.Name, Bypass: p.Bypass}

		authorized := authorizeFormula(p.Checks, index)
		canAuthorize := satisfiable(authorized)
		canDeny := satisfiable(fNotOf(authorized))

		switch {
		case canAuthorize && canDeny:
			report.Authorize = DataDependent
		case canAuthorize:
			report.Authorize = AlwaysTrue
			if !p.Bypass {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("policy %q can never deny", p.Name))
			}
		default:
			report.Authorize = AlwaysFalse
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("policy %q can never authorize", p.Name))
		}

		for _, c := range p.Checks {
			report.Checks = append(report.Checks, CheckReport{
				Kind:           c.Kind,
				Predicate:      c.Predicate.Key(),
				Classification: classify(toFormula(c.Predicate, index)),
			})
		}

		a.Policies = append(a.Policies, report)
	}

	a.Warnings = reachabilityWarnings(a.Policies)
	return a
}

// classify decides whether a formula is constant or data-dependent.
func classify(f *formula) Classification {
	canTrue := satisfiable(f)
	canFalse := satisfiable(fNotOf(f))
	switch {
	case canTrue && canFalse:
		return DataDependent
	case canTrue:
		return AlwaysTrue
	default:
		return AlwaysFalse
	}
}

// reachabilityWarnings flags policies shadowed by an always-authorizing
// bypass earlier in combinator order.
func reachabilityWarnings(reports []PolicyReport) []string {
	var warnings []string
	for i, r := range reports {
		if r.Bypass && r.Authorize == AlwaysTrue && i < len(reports)-1 {
			for _, later := range reports[i+1:] {
				warnings = append(warnings,
					fmt.Sprintf("policy %q is unreachable: bypass %q always authorizes first", later.Name, r.Name))
			}
			break
		}
	}
	return warnings
}

func collectVariables(policies []Policy) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(e expr.Expr) {
		for _, k := range expr.Atoms(e) {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	for _, p := range policies {
		if p.Condition != nil {
			add(p.Condition)
		}
		for _, c := range p.Checks {
			add(c.Predicate)
		}
	}
	// Keep first-occurrence order: it matches declaration order and is
	// deterministic for a given definition.
	return out
}

// toFormula encodes an expression as a formula over atom variables.
func toFormula(e expr.Expr, index map[string]int) *formula {
	switch n := e.(type) {
	case *expr.AndExpr:
		kids := make([]*formula, len(n.Operands))
		for i, op := range n.Operands {
			kids[i] = toFormula(op, index)
		}
		return fAndOf(kids...)
	case *expr.OrExpr:
		kids := make([]*formula, len(n.Operands))
		for i, op := range n.Operands {
			kids[i] = toFormula(op, index)
		}
		return fOrOf(kids...)
	case *expr.NotExpr:
		return fNotOf(toFormula(n.Operand, index))
	case *expr.LiteralExpr:
		return fConst(n.Value)
	default:
		return fVariable(index[e.Key()])
	}
}

// authorizeFormula encodes "this policy resolves Authorized" honoring
// the ordered short-circuit semantics: folding the check list from the
// last check back to the first, with an exhausted list defaulting to
// deny.
func authorizeFormula(checks []Check, index map[string]int) *formula {
	acc := fConst(false)
	for i := len(checks) - 1; i >= 0; i-- {
		p := toFormula(checks[i].Predicate, index)
		switch checks[i].Kind {
		case types.AuthorizeIf:
			acc = fOrOf(p, acc)
		case types.AuthorizeUnless:
			acc = fOrOf(fNotOf(p), acc)
		case types.ForbidIf:
			acc = fAndOf(fNotOf(p), acc)
		case types.ForbidUnless:
			acc = fAndOf(p, acc)
		}
	}
	return acc
}
