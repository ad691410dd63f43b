// Package cel compiles and evaluates CEL predicates over the actor, the
// record, and the request context. Compilation happens once, at entity
// definition time; evaluation runs on the request path against the
// cached program.
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Engine owns the CEL environment and a cache of compiled programs.
type Engine struct {
	env      *cel.Env
	programs sync.Map // source -> *Compiled
}

// Compiled is a checked, executable CEL predicate plus the facts it
// references. NeedsRecord drives the filter/strict split: a predicate
// touching the record cannot be decided before records are loaded.
type Compiled struct {
	Source      string
	NeedsRecord bool
	NeedsActor  bool
	prog        cel.Program
}

// NewEngine creates a CEL environment with the authorization vocabulary.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

var (
	defaultEngine *Engine
	defaultOnce   sync.Once
	defaultErr    error
)

// Default returns the shared engine used during definition compilation.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		defaultEngine, defaultErr = NewEngine()
	})
	return defaultEngine, defaultErr
}

// Compile parses and type-checks a boolean expression, caching the
// compiled program by source.
func (e *Engine) Compile(source string) (*Compiled, error) {
	if cached, ok := e.programs.Load(source); ok {
		return cached.(*Compiled), nil
	}

	parsed, issues := e.env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to parse CEL expression: %w", issues.Err())
	}
	checked, issues := e.env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to check CEL expression: %w", issues.Err())
	}
	if checked.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression must return boolean, got %v", checked.OutputType())
	}

	prog, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to compile CEL program: %w", err)
	}

	checkedExpr, err := cel.AstToCheckedExpr(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect CEL expression: %w", err)
	}
	refs := identRefs(checkedExpr.GetExpr(), map[string]bool{})

	c := &Compiled{
		Source:      source,
		NeedsRecord: refs["record"],
		NeedsActor:  refs["actor"],
		prog:        prog,
	}
	e.programs.Store(source, c)
	return c, nil
}

// Eval runs the compiled predicate. Absent maps are replaced with empty
// ones so a predicate never observes a nil variable.
func (c *Compiled) Eval(actor, record, contextVars map[string]interface{}, action string) (bool, error) {
	if actor == nil {
		actor = map[string]interface{}{}
	}
	if record == nil {
		record = map[string]interface{}{}
	}
	if contextVars == nil {
		contextVars = map[string]interface{}{}
	}

	result, _, err := c.prog.Eval(map[string]interface{}{
		"actor":   actor,
		"record":  record,
		"context": contextVars,
		"action":  action,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}
	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean")
	}
	return boolVal, nil
}

// identRefs collects top-level identifier references from a checked
// expression tree.
func identRefs(e *exprpb.Expr, acc map[string]bool) map[string]bool {
	if e == nil {
		return acc
	}
	switch node := e.GetExprKind().(type) {
	case *exprpb.Expr_IdentExpr:
		acc[node.IdentExpr.GetName()] = true
	case *exprpb.Expr_SelectExpr:
		identRefs(node.SelectExpr.GetOperand(), acc)
	case *exprpb.Expr_CallExpr:
		identRefs(node.CallExpr.GetTarget(), acc)
		for _, arg := range node.CallExpr.GetArgs() {
			identRefs(arg, acc)
		}
	case *exprpb.Expr_ListExpr:
		for _, el := range node.ListExpr.GetElements() {
			identRefs(el, acc)
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range node.StructExpr.GetEntries() {
			identRefs(entry.GetMapKey(), acc)
			identRefs(entry.GetValue(), acc)
		}
	case *exprpb.Expr_ComprehensionExpr:
		comp := node.ComprehensionExpr
		identRefs(comp.GetIterRange(), acc)
		identRefs(comp.GetAccuInit(), acc)
		identRefs(comp.GetLoopCondition(), acc)
		identRefs(comp.GetLoopStep(), acc)
		identRefs(comp.GetResult(), acc)
	}
	return acc
}
