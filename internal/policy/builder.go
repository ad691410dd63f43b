package policy

import (
	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/pkg/types"
)

// Builder assembles an entity's authorization definition in code.
// Declaration order is preserved: the combinator evaluates policies in
// the order they were added here.
type Builder struct {
	def *Definition
}

// NewBuilder starts a definition for the named entity.
func NewBuilder(entity string) *Builder {
	return &Builder{def: &Definition{Entity: entity}}
}

// Fields declares the entity's field set. Predicates and field policies
// are validated against it at compile time.
func (b *Builder) Fields(names ...string) *Builder {
	b.def.Fields = append(b.def.Fields, names...)
	return b
}

// Policy adds a normal policy and returns a builder for its checks.
func (b *Builder) Policy(name string) *PolicyBuilder {
	p := &Policy{Name: name}
	b.def.Policies = append(b.def.Policies, p)
	return &PolicyBuilder{builder: b, policy: p}
}

// Bypass adds a bypass policy: if it authorizes, the whole request is
// granted and field policies are skipped.
func (b *Builder) Bypass(name string) *PolicyBuilder {
	pb := b.Policy(name)
	pb.policy.Bypass = true
	return pb
}

// FieldPolicy adds a field policy for the named fields ("*" for the
// wildcard) and returns a builder for its checks.
func (b *Builder) FieldPolicy(fields ...string) *FieldPolicyBuilder {
	fp := &FieldPolicy{Fields: fields}
	b.def.FieldPolicies = append(b.def.FieldPolicies, fp)
	return &FieldPolicyBuilder{builder: b, fp: fp}
}

// Definition returns the assembled raw definition.
func (b *Builder) Definition() *Definition { return b.def }

// Compile validates and compiles the assembled definition.
func (b *Builder) Compile() (*CompiledSet, error) { return Compile(b.def) }

// PolicyBuilder adds checks to one policy.
type PolicyBuilder struct {
	builder *Builder
	policy  *Policy
}

// Describe sets the human-readable description carried on denials.
func (pb *PolicyBuilder) Describe(d string) *PolicyBuilder {
	pb.policy.Description = d
	return pb
}

// When sets the policy's applicability condition.
func (pb *PolicyBuilder) When(cond expr.Expr) *PolicyBuilder {
	pb.policy.Condition = cond
	return pb
}

// ForActions restricts the policy to the named action types.
func (pb *PolicyBuilder) ForActions(actions ...types.ActionType) *PolicyBuilder {
	return pb.When(expr.ActionIn(actions...))
}

// AuthorizeIf appends an authorize_if check.
func (pb *PolicyBuilder) AuthorizeIf(p expr.Expr) *PolicyBuilder {
	return pb.check(types.AuthorizeIf, p)
}

// AuthorizeUnless appends an authorize_unless check.
func (pb *PolicyBuilder) AuthorizeUnless(p expr.Expr) *PolicyBuilder {
	return pb.check(types.AuthorizeUnless, p)
}

// ForbidIf appends a forbid_if check.
func (pb *PolicyBuilder) ForbidIf(p expr.Expr) *PolicyBuilder {
	return pb.check(types.ForbidIf, p)
}

// ForbidUnless appends a forbid_unless check.
func (pb *PolicyBuilder) ForbidUnless(p expr.Expr) *PolicyBuilder {
	return pb.check(types.ForbidUnless, p)
}

func (pb *PolicyBuilder) check(kind types.CheckKind, p expr.Expr) *PolicyBuilder {
	pb.policy.Checks = append(pb.policy.Checks, &Check{Kind: kind, Predicate: p})
	return pb
}

// Done returns to the definition builder for further declarations.
func (pb *PolicyBuilder) Done() *Builder { return pb.builder }

// FieldPolicyBuilder adds checks to one field policy.
type FieldPolicyBuilder struct {
	builder *Builder
	fp      *FieldPolicy
}

// AuthorizeIf appends an authorize_if check.
func (fb *FieldPolicyBuilder) AuthorizeIf(p expr.Expr) *FieldPolicyBuilder {
	return fb.check(types.AuthorizeIf, p)
}

// AuthorizeUnless appends an authorize_unless check.
func (fb *FieldPolicyBuilder) AuthorizeUnless(p expr.Expr) *FieldPolicyBuilder {
	return fb.check(types.AuthorizeUnless, p)
}

// ForbidIf appends a forbid_if check.
func (fb *FieldPolicyBuilder) ForbidIf(p expr.Expr) *FieldPolicyBuilder {
	return fb.check(types.ForbidIf, p)
}

// ForbidUnless appends a forbid_unless check.
func (fb *FieldPolicyBuilder) ForbidUnless(p expr.Expr) *FieldPolicyBuilder {
	return fb.check(types.ForbidUnless, p)
}

func (fb *FieldPolicyBuilder) check(kind types.CheckKind, p expr.Expr) *FieldPolicyBuilder {
	fb.fp.Checks = append(fb.fp.Checks, &Check{Kind: kind, Predicate: p})
	return fb
}

// Done returns to the definition builder for further declarations.
func (fb *FieldPolicyBuilder) Done() *Builder { return fb.builder }
