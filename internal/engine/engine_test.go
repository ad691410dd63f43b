package engine

import (
	"context"
	"testing"
	"time"

	"github.com/policyflow/go-core/internal/cache"
	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/internal/storage"
	"github.com/policyflow/go-core/pkg/types"
)

func newEngine(t *testing.T, defs ...*policy.Definition) *Engine {
	t.Helper()
	r := policy.NewRegistry(nil)
	for _, def := range defs {
		if _, err := r.Register(def); err != nil {
			t.Fatalf("Register %s: %v", def.Entity, err)
		}
	}
	return New(Config{}, r)
}

func reqCtx(actorID, role, entity string, action types.ActionType) *types.EvaluationContext {
	return &types.EvaluationContext{
		Actor: &types.Principal{
			ID:         actorID,
			Attributes: map[string]interface{}{"role": role},
		},
		Entity: entity,
		Action: action,
	}
}

func documentDef() *policy.Definition {
	return policy.NewBuilder("document").
		Fields("id", "owner_id", "hidden", "status").
		Bypass("admin").
		AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "admin")).Done().
		Policy("visibility").
		Describe("hidden documents are owner-only").
		ForbidIf(expr.And(
			expr.RecordField("hidden", filter.OpEQ, true),
			expr.Not(expr.RelatesToActor("owner_id")),
		)).
		AuthorizeIf(expr.Always()).Done().
		Definition()
}

func TestUnknownEntityIsConfigError(t *testing.T) {
	e := newEngine(t)
	_, err := e.Authorize(context.Background(), reqCtx("u1", "user", "document", types.ActionRead))
	if err == nil || !types.IsConfigError(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestDenyByDefault(t *testing.T) {
	// The only policy is gated to update; a read has no applicable
	// policy and is denied.
	def := policy.NewBuilder("note").
		Fields("id").
		Policy("writers").
		ForActions(types.ActionUpdate).
		AuthorizeIf(expr.Always()).Done().
		Definition()
	e := newEngine(t, def)

	d, err := e.Authorize(context.Background(), reqCtx("u1", "user", "note", types.ActionRead))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.IsForbidden() {
		t.Fatalf("kind = %v, want forbidden", d.Kind)
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "no applicable policy authorized the request" {
		t.Errorf("reasons = %v", d.Reasons)
	}
	if !d.Static {
		t.Error("record-independent denial should be static")
	}
}

func TestBypassOverridesDenial(t *testing.T) {
	def := policy.NewBuilder("document").
		Fields("id").
		Bypass("admin").
		AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "admin")).Done().
		Policy("lockdown").
		Describe("entity is locked down").
		ForbidIf(expr.Always()).Done().
		Definition()
	e := newEngine(t, def)

	d, err := e.Authorize(context.Background(), reqCtx("root", "admin", "document", types.ActionDestroy))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.IsAuthorized() {
		t.Fatalf("admin: kind = %v, want authorized", d.Kind)
	}

	d, err = e.Authorize(context.Background(), reqCtx("u1", "user", "document", types.ActionDestroy))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.IsForbidden() {
		t.Fatalf("user: kind = %v, want forbidden", d.Kind)
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "entity is locked down" {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestFilteredDecision(t *testing.T) {
	e := newEngine(t, documentDef())

	d, err := e.Authorize(context.Background(), reqCtx("alice", "user", "document", types.ActionRead))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d.Kind != types.DecisionFiltered {
		t.Fatalf("kind = %v, want filtered", d.Kind)
	}
	if d.Static {
		t.Error("a filtered decision is never static")
	}

	if !d.Filter.Matches(types.Record{"hidden": false, "owner_id": "bob"}) {
		t.Error("visible foreign document should match")
	}
	if !d.Filter.Matches(types.Record{"hidden": true, "owner_id": "alice"}) {
		t.Error("own hidden document should match")
	}
	if d.Filter.Matches(types.Record{"hidden": true, "owner_id": "bob"}) {
		t.Error("foreign hidden document should not match")
	}
}

func TestAuthorizeIdempotent(t *testing.T) {
	e := newEngine(t, documentDef())
	ectx := reqCtx("alice", "user", "document", types.ActionRead)

	first, err := e.Authorize(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	second, err := e.Authorize(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if first.Kind != second.Kind || first.Filter.String() != second.Filter.String() {
		t.Errorf("decisions differ: %v / %v", first, second)
	}
}

func TestAuthorizeRecordIsDefinite(t *testing.T) {
	e := newEngine(t, documentDef())
	ectx := reqCtx("alice", "user", "document", types.ActionRead)

	d, err := e.AuthorizeRecord(context.Background(), ectx, types.Record{"id": 1, "hidden": true, "owner_id": "bob"})
	if err != nil {
		t.Fatalf("AuthorizeRecord: %v", err)
	}
	if !d.IsForbidden() {
		t.Errorf("foreign hidden record: %v", d.Kind)
	}

	d, err = e.AuthorizeRecord(context.Background(), ectx, types.Record{"id": 2, "hidden": true, "owner_id": "alice"})
	if err != nil {
		t.Fatalf("AuthorizeRecord: %v", err)
	}
	if !d.IsAuthorized() {
		t.Errorf("own hidden record: %v", d.Kind)
	}
}

func TestAnonymousActorRecordIsForbidden(t *testing.T) {
	// No actor: the admin bypass cannot resolve and the ownership fact
	// is definitively false. The strict check must come back Forbidden
	// rather than erroring out.
	e := newEngine(t, documentDef())
	ectx := &types.EvaluationContext{Entity: "document", Action: types.ActionRead}

	d, err := e.AuthorizeRecord(context.Background(), ectx, types.Record{"id": 1, "hidden": true, "owner_id": "bob"})
	if err != nil {
		t.Fatalf("AuthorizeRecord: %v", err)
	}
	if !d.IsForbidden() {
		t.Errorf("hidden record for anonymous actor: %v", d.Kind)
	}

	d, err = e.AuthorizeRecord(context.Background(), ectx, types.Record{"id": 2, "hidden": false, "owner_id": "bob"})
	if err != nil {
		t.Fatalf("AuthorizeRecord: %v", err)
	}
	if !d.IsAuthorized() {
		t.Errorf("visible record for anonymous actor: %v", d.Kind)
	}
}

func seedDocuments(store *storage.MemoryStore) {
	store.Put("document", types.Record{"id": 1, "owner_id": "alice", "hidden": false, "status": "open"})
	store.Put("document", types.Record{"id": 2, "owner_id": "alice", "hidden": true, "status": "open"})
	store.Put("document", types.Record{"id": 3, "owner_id": "bob", "hidden": false, "status": "open"})
	store.Put("document", types.Record{"id": 4, "owner_id": "bob", "hidden": true, "status": "open"})
}

func TestAuthorizeQueryFiltered(t *testing.T) {
	e := newEngine(t, documentDef())
	store := storage.NewMemoryStore()
	seedDocuments(store)

	records, d, err := e.AuthorizeQuery(context.Background(),
		reqCtx("alice", "user", "document", types.ActionRead), store)
	if err != nil {
		t.Fatalf("AuthorizeQuery: %v", err)
	}
	if d.Kind != types.DecisionFiltered {
		t.Fatalf("kind = %v", d.Kind)
	}
	wantIDs(t, records, 1, 2, 3)

	records, _, err = e.AuthorizeQuery(context.Background(),
		reqCtx("carol", "user", "document", types.ActionRead), store)
	if err != nil {
		t.Fatalf("AuthorizeQuery: %v", err)
	}
	wantIDs(t, records, 1, 3)

	records, d, err = e.AuthorizeQuery(context.Background(),
		reqCtx("root", "admin", "document", types.ActionRead), store)
	if err != nil {
		t.Fatalf("AuthorizeQuery: %v", err)
	}
	if !d.IsAuthorized() {
		t.Fatalf("admin kind = %v", d.Kind)
	}
	wantIDs(t, records, 1, 2, 3, 4)
}

func wantIDs(t *testing.T, records []types.Record, ids ...int) {
	t.Helper()
	got := map[int]bool{}
	for _, r := range records {
		got[r["id"].(int)] = true
	}
	if len(got) != len(ids) {
		t.Fatalf("got records %v, want ids %v", got, ids)
	}
	for _, id := range ids {
		if !got[id] {
			t.Errorf("missing id %d in %v", id, got)
		}
	}
}

// A query answered via the compiled filter must return the same records
// as strict-checking every row individually.
func TestQueryFilterAgreesWithStrictChecks(t *testing.T) {
	e := newEngine(t, documentDef())
	store := storage.NewMemoryStore()
	seedDocuments(store)
	ctx := context.Background()

	for _, actor := range []string{"alice", "bob", "carol"} {
		ectx := reqCtx(actor, "user", "document", types.ActionRead)
		viaFilter, _, err := e.AuthorizeQuery(ctx, ectx, store)
		if err != nil {
			t.Fatalf("AuthorizeQuery: %v", err)
		}

		all, err := store.Search(ctx, "document", filter.True())
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		var viaStrict []types.Record
		for _, r := range all {
			d, err := e.AuthorizeRecord(ctx, ectx, r)
			if err != nil {
				t.Fatalf("AuthorizeRecord: %v", err)
			}
			if d.IsAuthorized() {
				viaStrict = append(viaStrict, r)
			}
		}

		if len(viaFilter) != len(viaStrict) {
			t.Errorf("%s: filter returned %d records, strict %d", actor, len(viaFilter), len(viaStrict))
		}
	}
}

func TestStrictResidualFromUncompilableCondition(t *testing.T) {
	// The CEL condition mixes actor and record facts in one comparison,
	// so it cannot compile to a filter and forces the strict phase.
	cond, err := expr.CEL(`record.sensitivity <= actor.attr.clearance`)
	if err != nil {
		t.Fatalf("CEL: %v", err)
	}
	def := policy.NewBuilder("report").
		Fields("id", "sensitivity").
		Policy("clearance").AuthorizeIf(cond).Done().
		Definition()
	e := newEngine(t, def)

	ectx := &types.EvaluationContext{
		Actor: &types.Principal{
			ID:         "u1",
			Attributes: map[string]interface{}{"clearance": 2},
		},
		Entity: "report",
		Action: types.ActionRead,
	}
	d, err := e.Authorize(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d.Kind != types.DecisionStrict {
		t.Fatalf("kind = %v, want strict", d.Kind)
	}
	if len(d.Residual) != 1 || d.Residual[0] != "clearance" {
		t.Errorf("residual = %v", d.Residual)
	}

	store := storage.NewMemoryStore()
	store.Put("report", types.Record{"id": 1, "sensitivity": 1})
	store.Put("report", types.Record{"id": 2, "sensitivity": 5})

	records, _, err := e.AuthorizeQuery(context.Background(), ectx, store)
	if err != nil {
		t.Fatalf("AuthorizeQuery: %v", err)
	}
	wantIDs(t, records, 1)
}

func TestStaticDecisionsAreCached(t *testing.T) {
	def := policy.NewBuilder("note").
		Fields("id").
		Policy("readers").
		ForActions(types.ActionRead).
		AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "reader")).Done().
		Definition()

	r := policy.NewRegistry(nil)
	if _, err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	lru := cache.NewLRU(16, time.Minute)
	e := New(Config{Cache: lru}, r)

	ectx := reqCtx("u1", "reader", "note", types.ActionRead)
	for i := 0; i < 3; i++ {
		d, err := e.Authorize(context.Background(), ectx)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if !d.IsAuthorized() || !d.Static {
			t.Fatalf("run %d: %+v", i, d)
		}
	}

	stats := e.CacheStats()
	if stats.Size != 1 {
		t.Errorf("cache size = %d, want 1", stats.Size)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
}

func TestCachedDecisionsKeyOnRequestContext(t *testing.T) {
	// The check resolves definitively from the request context, so two
	// requests differing only in context must not share a cache entry.
	cond, err := expr.CEL(`context.mfa == true`)
	if err != nil {
		t.Fatalf("CEL: %v", err)
	}
	def := policy.NewBuilder("vault").
		Fields("id").
		Policy("mfa-only").AuthorizeIf(cond).Done().
		Definition()

	r := policy.NewRegistry(nil)
	if _, err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	e := New(Config{Cache: cache.NewLRU(16, time.Minute)}, r)

	withMFA := reqCtx("u1", "user", "vault", types.ActionRead)
	withMFA.Context = map[string]interface{}{"mfa": true}
	withoutMFA := reqCtx("u1", "user", "vault", types.ActionRead)
	withoutMFA.Context = map[string]interface{}{"mfa": false}

	d, err := e.Authorize(context.Background(), withMFA)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.IsAuthorized() || !d.Static {
		t.Fatalf("mfa request: %+v", d)
	}

	d, err = e.Authorize(context.Background(), withoutMFA)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.IsForbidden() {
		t.Fatalf("non-mfa request served a stale grant: %v", d.Kind)
	}
}

func TestRedactThroughEngine(t *testing.T) {
	def := policy.NewBuilder("profile").
		Fields("id", "name", "ssn").
		Policy("anyone").AuthorizeIf(expr.Always()).Done().
		FieldPolicy("ssn").AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "admin")).Done().
		FieldPolicy("*").AuthorizeIf(expr.Always()).Done().
		Definition()
	e := newEngine(t, def)

	ectx := reqCtx("u1", "user", "profile", types.ActionRead)
	redacted, err := e.RedactRecord(ectx, types.Record{"id": 1, "name": "Ada", "ssn": "123-45-6789"})
	if err != nil {
		t.Fatalf("RedactRecord: %v", err)
	}
	if redacted["ssn"] == "123-45-6789" {
		t.Error("ssn leaked through redaction")
	}
	if redacted["name"] != "Ada" {
		t.Errorf("name = %v", redacted["name"])
	}
}
