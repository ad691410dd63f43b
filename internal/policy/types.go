// Package policy provides the per-entity authorization definitions the
// engine consumes: policies, field policies, their compiled immutable
// form, and the registry that serves them to concurrent requests.
package policy

import (
	"fmt"

	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/sat"
	"github.com/policyflow/go-core/pkg/types"
)

// Check pairs a kind with the predicate it tests.
type Check struct {
	Kind      types.CheckKind
	Predicate expr.Expr
}

// Policy is an ordered list of checks gated by an applicability
// condition. A bypass policy that authorizes grants the whole request,
// skipping the remaining policies and all field policies.
type Policy struct {
	Name        string
	Description string
	Bypass      bool

	// Condition gates whether the policy applies to a request. Nil
	// means it applies to every request on the entity.
	Condition expr.Expr

	Checks []*Check
}

// Reason is the human-readable identity a denial carries.
func (p *Policy) Reason() string {
	if p.Description != "" {
		return p.Description
	}
	return p.Name
}

// FieldPolicy narrows which requested fields are visible after the base
// action decision authorizes. Fields may contain the wildcard "*",
// which matches any field not named by an explicit field policy.
type FieldPolicy struct {
	Fields []string
	Checks []*Check
}

// Wildcard reports whether the field policy is a wildcard policy.
func (fp *FieldPolicy) Wildcard() bool {
	for _, f := range fp.Fields {
		if f == "*" {
			return true
		}
	}
	return false
}

// Covers reports whether the field policy explicitly names the field.
func (fp *FieldPolicy) Covers(field string) bool {
	for _, f := range fp.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Definition is the raw per-entity authorization definition as produced
// by the builder or the YAML loader, before compilation.
type Definition struct {
	Entity        string
	Fields        []string
	Policies      []*Policy
	FieldPolicies []*FieldPolicy
}

// CompiledSet is the immutable compiled form of a Definition. It is
// shared read-only across concurrent requests; nothing in it mutates
// after Compile returns.
type CompiledSet struct {
	Entity string
	Fields map[string]struct{}

	// Bypass and Policies preserve declaration order within each group.
	Bypass   []*Policy
	Policies []*Policy

	FieldPolicies []*FieldPolicy

	// Analysis is the compile-time satisfiability classification,
	// exposed to the audit/visualization collaborator.
	Analysis *sat.Analysis

	byName map[string]*Policy
}

// HasFieldPolicies reports whether the entity declares any field
// policies. When it declares none, fields inherit the action decision.
func (s *CompiledSet) HasFieldPolicies() bool {
	return len(s.FieldPolicies) > 0
}

// Policy returns a policy (bypass or not) by name.
func (s *CompiledSet) Policy(name string) (*Policy, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Compile validates a definition and produces its immutable compiled
// set, including the satisfiability analysis. All authoring errors
// surface here, before the entity serves any request.
func Compile(def *Definition) (*CompiledSet, error) {
	if def.Entity == "" {
		return nil, types.NewConfigError("", "definition has no entity name")
	}

	fields := make(map[string]struct{}, len(def.Fields))
	for _, f := range def.Fields {
		fields[f] = struct{}{}
	}

	set := &CompiledSet{
		Entity: def.Entity,
		Fields: fields,
		byName: make(map[string]*Policy, len(def.Policies)),
	}

	for i, p := range def.Policies {
		if p.Name == "" {
			p.Name = fmt.Sprintf("%s/policy-%d", def.Entity, i)
		}
		if _, dup := set.byName[p.Name]; dup {
			return nil, types.NewConfigError(def.Entity, "duplicate policy name %q", p.Name)
		}
		if err := compileChecks(def.Entity, p.Name, p.Checks, fields); err != nil {
			return nil, err
		}
		if p.Condition != nil {
			if err := expr.Validate(p.Condition, def.Entity, fields); err != nil {
				return nil, err
			}
		}
		set.byName[p.Name] = p
		if p.Bypass {
			set.Bypass = append(set.Bypass, p)
		} else {
			set.Policies = append(set.Policies, p)
		}
	}

	for _, fp := range def.FieldPolicies {
		if len(fp.Fields) == 0 {
			return nil, types.NewConfigError(def.Entity, "field policy names no fields")
		}
		for _, f := range fp.Fields {
			if f == "*" {
				continue
			}
			if _, ok := fields[f]; !ok {
				return nil, types.NewConfigError(def.Entity, "field policy references unknown field %q", f)
			}
		}
		if err := compileChecks(def.Entity, "field policy", fp.Checks, fields); err != nil {
			return nil, err
		}
		set.FieldPolicies = append(set.FieldPolicies, fp)
	}

	set.Analysis = sat.Analyze(satInput(def))
	return set, nil
}

func compileChecks(entity, owner string, checks []*Check, fields map[string]struct{}) error {
	if len(checks) == 0 {
		return types.NewConfigError(entity, "%s declares no checks", owner)
	}
	for _, c := range checks {
		if !c.Kind.Valid() {
			return types.NewConfigError(entity, "%s has invalid check kind %q", owner, c.Kind)
		}
		if c.Predicate == nil {
			return types.NewConfigError(entity, "%s has a check with no predicate", owner)
		}
		if err := expr.Validate(c.Predicate, entity, fields); err != nil {
			return err
		}
	}
	return nil
}

// satInput converts the declaration-ordered policy list into the
// analyzer's input form, preserving the order the combinator uses
// (bypasses first, then the rest).
func satInput(def *Definition) []sat.Policy {
	var bypass, normal []sat.Policy
	for _, p := range def.Policies {
		sp := sat.Policy{Name: p.Name, Bypass: p.Bypass, Condition: p.Condition}
		for _, c := range p.Checks {
			sp.Checks = append(sp.Checks, sat.Check{Kind: c.Kind, Predicate: c.Predicate})
		}
		if p.Bypass {
			bypass = append(bypass, sp)
		} else {
			normal = append(normal, sp)
		}
	}
	return append(bypass, normal...)
}
