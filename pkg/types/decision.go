package types

import (
	"github.com/policyflow/go-core/internal/filter"
)

// DecisionKind tags the overall outcome of an authorization request.
type DecisionKind string

const (
	// DecisionAuthorized grants the request unconditionally.
	DecisionAuthorized DecisionKind = "authorized"
	// DecisionForbidden denies the request; Reasons names the policies
	// that denied it.
	DecisionForbidden DecisionKind = "forbidden"
	// DecisionFiltered grants the request for exactly the records
	// matching Filter; the caller must AND it into the query.
	DecisionFiltered DecisionKind = "filtered"
	// DecisionStrict means judgment is deferred: the caller must load
	// candidate records (Filter is a sound prefilter when present) and
	// re-evaluate per record with HasRecord = true.
	DecisionStrict DecisionKind = "requires_strict_check"
)

// Decision is the outcome of running the policy combinator for one
// request. Forbidden is an ordinary value, never an error.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Reasons carries the descriptions of denying policies.
	Reasons []string `json:"reasons,omitempty"`

	// Evaluated lists evaluated policies in order, for audit.
	Evaluated []string `json:"evaluated,omitempty"`

	// Filter is set for DecisionFiltered, and for DecisionStrict when a
	// prefilter could be compiled.
	Filter *filter.Predicate `json:"filter,omitempty"`

	// Residual names policies that must be confirmed per record in the
	// strict phase.
	Residual []string `json:"residual,omitempty"`

	// Static reports that the decision was reached without record data
	// and holds for every record of the entity under this context.
	Static bool `json:"static"`
}

// Authorized constructs an unconditional grant.
func Authorized() *Decision {
	return &Decision{Kind: DecisionAuthorized}
}

// ForbiddenDecision constructs a denial with the given reasons.
func ForbiddenDecision(reasons ...string) *Decision {
	return &Decision{Kind: DecisionForbidden, Reasons: reasons}
}

// Filtered constructs a grant restricted to records matching p.
func Filtered(p *filter.Predicate) *Decision {
	return &Decision{Kind: DecisionFiltered, Filter: p}
}

// StrictRequired constructs a deferred decision with an optional
// prefilter and the policies still to confirm.
func StrictRequired(prefilter *filter.Predicate, residual []string) *Decision {
	return &Decision{Kind: DecisionStrict, Filter: prefilter, Residual: residual}
}

// IsAuthorized reports whether the request is granted without conditions.
func (d *Decision) IsAuthorized() bool { return d != nil && d.Kind == DecisionAuthorized }

// IsForbidden reports whether the request is denied outright.
func (d *Decision) IsForbidden() bool { return d != nil && d.Kind == DecisionForbidden }
