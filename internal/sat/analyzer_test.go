package sat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

func TestAnalyzeClassifications(t *testing.T) {
	owner := expr.RelatesToActor("owner_id")
	admin := expr.ActorAttr("role", filter.OpEQ, "admin")

	analysis := Analyze([]Policy{
		{
			Name:   "grant-everyone",
			Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.Always()}},
		},
		{
			Name:   "deny-everyone",
			Checks: []Check{{Kind: types.ForbidIf, Predicate: expr.Always()}},
		},
		{
			Name: "owner-or-admin",
			Checks: []Check{
				{Kind: types.AuthorizeIf, Predicate: owner},
				{Kind: types.AuthorizeIf, Predicate: admin},
			},
		},
	})

	if len(analysis.Policies) != 3 {
		t.Fatalf("got %d policy reports", len(analysis.Policies))
	}

	want := map[string]Classification{
		"grant-everyone": AlwaysTrue,
		"deny-everyone":  AlwaysFalse,
		"owner-or-admin": DataDependent,
	}
	for _, r := range analysis.Policies {
		if r.Authorize != want[r.Name] {
			t.Errorf("%s: authorize = %s, want %s", r.Name, r.Authorize, want[r.Name])
		}
	}
}

func TestAnalyzeWarnings(t *testing.T) {
	analysis := Analyze([]Policy{
		{Name: "open-door", Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.Always()}}},
		{Name: "closed-door", Checks: []Check{{Kind: types.ForbidIf, Predicate: expr.Always()}}},
	})

	var open, closed *PolicyReport
	for i := range analysis.Policies {
		switch analysis.Policies[i].Name {
		case "open-door":
			open = &analysis.Policies[i]
		case "closed-door":
			closed = &analysis.Policies[i]
		}
	}

	if open == nil || len(open.Warnings) == 0 || !strings.Contains(open.Warnings[0], "can never deny") {
		t.Errorf("open-door warnings = %v, want can-never-deny", open.Warnings)
	}
	if closed == nil || len(closed.Warnings) == 0 || !strings.Contains(closed.Warnings[0], "can never authorize") {
		t.Errorf("closed-door warnings = %v, want can-never-authorize", closed.Warnings)
	}
}

func TestBypassDoesNotWarnOnAlwaysTrue(t *testing.T) {
	analysis := Analyze([]Policy{
		{Name: "root-bypass", Bypass: true, Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.Always()}}},
	})
	if got := analysis.Policies[0].Warnings; len(got) != 0 {
		t.Errorf("bypass warnings = %v, want none", got)
	}
}

func TestUnreachableAfterAlwaysTrueBypass(t *testing.T) {
	analysis := Analyze([]Policy{
		{Name: "root-bypass", Bypass: true, Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.Always()}}},
		{Name: "ownership", Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.RelatesToActor("owner_id")}}},
		{Name: "status-gate", Checks: []Check{{Kind: types.ForbidIf, Predicate: expr.RecordField("status", filter.OpEQ, "closed")}}},
	})

	if len(analysis.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 unreachable warnings", analysis.Warnings)
	}
	for _, w := range analysis.Warnings {
		if !strings.Contains(w, "unreachable") || !strings.Contains(w, "root-bypass") {
			t.Errorf("unexpected warning: %q", w)
		}
	}
}

func TestOrderedSemanticsInAuthorizeFormula(t *testing.T) {
	frozen := expr.RecordField("frozen", filter.OpEQ, true)

	// forbid_if first shadows an unconditional grant only when frozen,
	// so the policy is data-dependent.
	analysis := Analyze([]Policy{{
		Name: "p",
		Checks: []Check{
			{Kind: types.ForbidIf, Predicate: frozen},
			{Kind: types.AuthorizeIf, Predicate: expr.Always()},
		},
	}})
	if got := analysis.Policies[0].Authorize; got != DataDependent {
		t.Errorf("forbid_if then authorize_if: %s, want data_dependent", got)
	}

	// The same checks with forbid_if guarded by the same fact twice:
	// authorize_if(frozen) after forbid_if(frozen) can never fire.
	analysis = Analyze([]Policy{{
		Name: "p",
		Checks: []Check{
			{Kind: types.ForbidIf, Predicate: frozen},
			{Kind: types.AuthorizeIf, Predicate: frozen},
		},
	}})
	if got := analysis.Policies[0].Authorize; got != AlwaysFalse {
		t.Errorf("contradictory checks: %s, want always_false", got)
	}
}

func TestSharedAtomsGetOneVariable(t *testing.T) {
	owner := expr.RelatesToActor("owner_id")
	analysis := Analyze([]Policy{
		{Name: "a", Checks: []Check{{Kind: types.AuthorizeIf, Predicate: owner}}},
		{Name: "b", Checks: []Check{{Kind: types.ForbidUnless, Predicate: expr.RelatesToActor("owner_id")}}},
	})
	if len(analysis.Variables) != 1 {
		t.Errorf("variables = %v, want one shared atom", analysis.Variables)
	}
}

func TestGraphDeterministic(t *testing.T) {
	policies := []Policy{
		{Name: "bypass", Bypass: true, Checks: []Check{{Kind: types.AuthorizeIf, Predicate: expr.ActorAttr("role", filter.OpEQ, "admin")}}},
		{Name: "ownership", Checks: []Check{
			{Kind: types.ForbidIf, Predicate: expr.RecordField("archived", filter.OpEQ, true)},
			{Kind: types.AuthorizeIf, Predicate: expr.RelatesToActor("owner_id")},
		}},
	}

	first, err := json.Marshal(Analyze(policies).Graph())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(Analyze(policies).Graph())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Error("two runs produced different graphs")
	}

	g := Analyze(policies).Graph()
	if g.Nodes[0].Kind != "root" {
		t.Errorf("first node kind = %q, want root", g.Nodes[0].Kind)
	}
	var checkNodes int
	for _, n := range g.Nodes {
		if n.Kind == "check" {
			checkNodes++
		}
	}
	if checkNodes != 3 {
		t.Errorf("check nodes = %d, want 3", checkNodes)
	}
}
