package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// Loader parses entity definition documents from disk.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a definition loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFromDirectory loads every definition document in a directory.
// Files that fail to parse are skipped with a warning so one bad file
// does not block the rest of the set.
func (l *Loader) LoadFromDirectory(path string) ([]*Definition, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		def, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("Failed to load definition file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFromFile loads a single definition document.
func (l *Loader) LoadFromFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(content)
}

// Parse decodes a YAML (or JSON, a YAML subset) definition document
// into a raw Definition. Predicate construction happens here, so CEL
// compile errors surface at load time.
func Parse(content []byte) (*Definition, error) {
	var doc definitionDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse definition document: %w", err)
	}
	return doc.toDefinition()
}

type definitionDoc struct {
	Entity        string           `yaml:"entity"`
	Fields        []string         `yaml:"fields"`
	Policies      []policyDoc      `yaml:"policies"`
	FieldPolicies []fieldPolicyDoc `yaml:"field_policies"`
}

type policyDoc struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Bypass      bool       `yaml:"bypass"`
	Actions     []string   `yaml:"actions"`
	Condition   *factSpec  `yaml:"condition"`
	Checks      []checkDoc `yaml:"checks"`
}

type fieldPolicyDoc struct {
	Fields []string   `yaml:"fields"`
	Checks []checkDoc `yaml:"checks"`
}

// checkDoc is a single-key mapping from check kind to fact, e.g.
//
//	- authorize_if: {relates_to_actor: owner}
type checkDoc map[string]factSpec

// factSpec is the YAML union of fact forms. Exactly one branch may be
// set; the scalar forms "always" and "never" are also accepted.
type factSpec struct {
	Actor          *comparisonSpec `yaml:"actor"`
	Record         *comparisonSpec `yaml:"record"`
	RelatesToActor string          `yaml:"relates_to_actor"`
	CEL            string          `yaml:"cel"`
	All            []factSpec      `yaml:"all"`
	Any            []factSpec      `yaml:"any"`
	Not            *factSpec       `yaml:"not"`

	literal string
}

type comparisonSpec struct {
	Attr  string      `yaml:"attr"`
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

func (f *factSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.literal = node.Value
		return nil
	}
	type plain factSpec
	return node.Decode((*plain)(f))
}

func (doc *definitionDoc) toDefinition() (*Definition, error) {
	def := &Definition{
		Entity: doc.Entity,
		Fields: doc.Fields,
	}

	for i, pd := range doc.Policies {
		p := &Policy{
			Name:        pd.Name,
			Description: pd.Description,
			Bypass:      pd.Bypass,
		}

		var conds []expr.Expr
		if len(pd.Actions) > 0 {
			actions := make([]types.ActionType, len(pd.Actions))
			for j, a := range pd.Actions {
				actions[j] = types.ActionType(a)
			}
			conds = append(conds, expr.ActionIn(actions...))
		}
		if pd.Condition != nil {
			cond, err := pd.Condition.toExpr()
			if err != nil {
				return nil, fmt.Errorf("policy %d (%s): condition: %w", i, pd.Name, err)
			}
			conds = append(conds, cond)
		}
		if len(conds) > 0 {
			p.Condition = expr.And(conds...)
		}

		checks, err := parseChecks(pd.Checks)
		if err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, pd.Name, err)
		}
		p.Checks = checks
		def.Policies = append(def.Policies, p)
	}

	for i, fpd := range doc.FieldPolicies {
		checks, err := parseChecks(fpd.Checks)
		if err != nil {
			return nil, fmt.Errorf("field policy %d: %w", i, err)
		}
		def.FieldPolicies = append(def.FieldPolicies, &FieldPolicy{
			Fields: fpd.Fields,
			Checks: checks,
		})
	}

	return def, nil
}

func parseChecks(docs []checkDoc) ([]*Check, error) {
	var checks []*Check
	for i, cd := range docs {
		if len(cd) != 1 {
			return nil, fmt.Errorf("check %d must have exactly one kind", i)
		}
		for kind, spec := range cd {
			ck := types.CheckKind(kind)
			if !ck.Valid() {
				return nil, fmt.Errorf("check %d has unknown kind %q", i, kind)
			}
			pred, err := spec.toExpr()
			if err != nil {
				return nil, fmt.Errorf("check %d (%s): %w", i, kind, err)
			}
			checks = append(checks, &Check{Kind: ck, Predicate: pred})
		}
	}
	return checks, nil
}

func (f *factSpec) toExpr() (expr.Expr, error) {
	switch f.literal {
	case "always":
		return expr.Always(), nil
	case "never":
		return expr.Never(), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown fact literal %q", f.literal)
	}

	switch {
	case f.Actor != nil:
		op, err := parseOp(f.Actor.Op)
		if err != nil {
			return nil, err
		}
		return expr.ActorAttr(f.Actor.Attr, op, f.Actor.Value), nil
	case f.Record != nil:
		op, err := parseOp(f.Record.Op)
		if err != nil {
			return nil, err
		}
		return expr.RecordField(f.Record.Field, op, f.Record.Value), nil
	case f.RelatesToActor != "":
		return expr.RelatesToActor(f.RelatesToActor), nil
	case f.CEL != "":
		return expr.CEL(f.CEL)
	case len(f.All) > 0:
		ops, err := factList(f.All)
		if err != nil {
			return nil, err
		}
		return expr.And(ops...), nil
	case len(f.Any) > 0:
		ops, err := factList(f.Any)
		if err != nil {
			return nil, err
		}
		return expr.Or(ops...), nil
	case f.Not != nil:
		inner, err := f.Not.toExpr()
		if err != nil {
			return nil, err
		}
		return expr.Not(inner), nil
	}
	return nil, fmt.Errorf("empty fact")
}

func factList(specs []factSpec) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(specs))
	for i := range specs {
		e, err := specs[i].toExpr()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func parseOp(s string) (filter.CompareOp, error) {
	if s == "" {
		return filter.OpEQ, nil
	}
	op := filter.CompareOp(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown comparison operator %q", s)
	}
	return op, nil
}
