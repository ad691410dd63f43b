// Package engine is the decision combinator: it turns a request context
// and an entity's compiled policy set into a single Decision, driving
// the per-policy evaluator and, for queries, the filter and strict
// phases against a record store.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/policyflow/go-core/internal/audit"
	"github.com/policyflow/go-core/internal/cache"
	"github.com/policyflow/go-core/internal/fieldpolicy"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/metrics"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/internal/policyeval"
	"github.com/policyflow/go-core/internal/sat"
	"github.com/policyflow/go-core/internal/storage"
	"github.com/policyflow/go-core/pkg/types"
)

// Engine evaluates authorization requests against registered policy
// sets. It holds no per-request state; one Engine serves all requests
// concurrently.
type Engine struct {
	registry *policy.Registry
	cache    cache.DecisionCache
	metrics  *metrics.Metrics
	audit    audit.Logger
	logger   *zap.Logger
}

// Config wires the engine's collaborators. Cache, Metrics and Audit may
// be nil; the engine then runs without them.
type Config struct {
	Cache   cache.DecisionCache
	Metrics *metrics.Metrics
	Audit   audit.Logger
	Logger  *zap.Logger
}

// New creates an engine over the registry.
func New(cfg Config, registry *policy.Registry) *Engine {
	e := &Engine{
		registry: registry,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
	if e.cache == nil {
		e.cache = cache.Noop{}
	}
	if e.audit == nil {
		e.audit, _ = audit.NewLogger(&audit.Config{Enabled: false})
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Authorize computes the decision for a request. With HasRecord unset
// it answers for the whole entity: Authorized, Forbidden, a query
// filter, or a strict-check requirement. With a record set the answer
// is always definite.
func (e *Engine) Authorize(ctx context.Context, ectx *types.EvaluationContext) (*types.Decision, error) {
	start := time.Now()

	set, ok := e.registry.Get(ectx.Entity)
	if !ok {
		return nil, types.NewConfigError(ectx.Entity, "no policy definition registered")
	}

	var cacheKey string
	cacheable := !ectx.HasRecord
	if cacheable {
		cacheKey = ectx.CacheKey()
		if d, hit := e.cache.Get(cacheKey); hit {
			e.observe(ectx, d, true, time.Since(start))
			return d, nil
		}
		if e.metrics != nil {
			e.metrics.RecordCacheHit(false)
		}
	}

	d, err := e.combine(set, ectx)
	if err != nil {
		return nil, err
	}

	if cacheable {
		d.Static = cache.Cacheable(d)
		if d.Static {
			e.cache.Set(cacheKey, d)
		}
	}

	e.observe(ectx, d, false, time.Since(start))
	return d, nil
}

// combine runs bypass policies first, then ANDs the applicable normal
// policies, assembling filters and strict residuals along the way.
func (e *Engine) combine(set *policy.CompiledSet, ectx *types.EvaluationContext) (*types.Decision, error) {
	var (
		evaluated     []string
		bypassFilters []*filter.Predicate
		residual      []string
		bypassStrict  bool
	)

	for _, p := range set.Bypass {
		cond, err := e.applies(p, ectx)
		if err != nil {
			return nil, err
		}
		if cond == types.False {
			continue
		}
		evaluated = append(evaluated, p.Name)

		if cond == types.Unknown {
			if ectx.HasRecord {
				// Still unresolved with the record present (no actor,
				// say). A bypass grants only on a definite match.
				continue
			}
			// Applicability itself needs the record.
			residual = append(residual, p.Name)
			bypassStrict = true
			continue
		}

		out, err := policyeval.EvaluatePolicy(p, ectx)
		if err != nil {
			return nil, err
		}
		switch out.Kind {
		case types.DecisionAuthorized:
			// First passing bypass grants everything.
			return &types.Decision{Kind: types.DecisionAuthorized, Evaluated: evaluated}, nil
		case types.DecisionForbidden:
			// A bypass never denies; it just does not grant.
		case types.DecisionFiltered:
			bypassFilters = append(bypassFilters, out.Filter)
		case types.DecisionStrict:
			residual = append(residual, p.Name)
			bypassStrict = true
		default:
			return nil, types.Faultf("engine.combine", "unexpected policy outcome %q", out.Kind)
		}
	}

	// The normal group: all applicable policies must grant; their
	// filters combine conjunctively. No applicable policy means no
	// grant.
	normalAcc := filter.False()
	applicable := 0
	var denyReasons []string

	for _, p := range set.Policies {
		cond, err := e.applies(p, ectx)
		if err != nil {
			return nil, err
		}
		if cond == types.False {
			continue
		}
		evaluated = append(evaluated, p.Name)

		if applicable == 0 {
			normalAcc = filter.True()
		}
		applicable++

		if cond == types.Unknown {
			if ectx.HasRecord {
				// Applicability stays unresolved even with the record;
				// an applicable-for-all-we-know policy fails closed.
				denyReasons = append(denyReasons, p.Reason())
				if len(bypassFilters) == 0 && !bypassStrict {
					return &types.Decision{
						Kind:      types.DecisionForbidden,
						Reasons:   denyReasons,
						Evaluated: evaluated,
					}, nil
				}
				normalAcc = filter.False()
				continue
			}
			residual = append(residual, p.Name)
			continue
		}

		out, err := policyeval.EvaluatePolicy(p, ectx)
		if err != nil {
			return nil, err
		}

		switch out.Kind {
		case types.DecisionAuthorized:
		case types.DecisionForbidden:
			denyReasons = append(denyReasons, out.Reason)
			if len(bypassFilters) == 0 && !bypassStrict {
				// Nothing left that could grant: fail fast.
				return &types.Decision{
					Kind:      types.DecisionForbidden,
					Reasons:   denyReasons,
					Evaluated: evaluated,
				}, nil
			}
			normalAcc = filter.False()
		case types.DecisionFiltered:
			normalAcc = filter.And(normalAcc, out.Filter)
		case types.DecisionStrict:
			residual = append(residual, p.Name)
		default:
			return nil, types.Faultf("engine.combine", "unexpected policy outcome %q", out.Kind)
		}
	}

	// Composite: any bypass grant OR the conjunction of normal grants.
	composite := normalAcc
	for _, bf := range bypassFilters {
		composite = filter.Or(bf, composite)
	}

	if len(residual) > 0 {
		// Deferred judgment. A strict bypass can grant records outside
		// any compiled filter, so only a bypass-free composite is a
		// sound prefilter.
		d := &types.Decision{Kind: types.DecisionStrict, Residual: residual, Evaluated: evaluated}
		if !bypassStrict && !composite.IsTrue() && !composite.IsFalse() {
			d.Filter = composite
		}
		return d, nil
	}

	switch {
	case composite.IsTrue():
		return &types.Decision{Kind: types.DecisionAuthorized, Evaluated: evaluated}, nil
	case composite.IsFalse():
		if len(denyReasons) == 0 {
			denyReasons = []string{"no applicable policy authorized the request"}
		}
		return &types.Decision{Kind: types.DecisionForbidden, Reasons: denyReasons, Evaluated: evaluated}, nil
	}
	return &types.Decision{Kind: types.DecisionFiltered, Filter: composite, Evaluated: evaluated}, nil
}

// applies evaluates a policy's applicability condition. Unknown means
// the condition reads record fields the context does not have.
func (e *Engine) applies(p *policy.Policy, ectx *types.EvaluationContext) (types.TruthValue, error) {
	if p.Condition == nil {
		return types.True, nil
	}
	return p.Condition.Eval(ectx)
}

// AuthorizeRecord strict-checks one materialized record. The result is
// always Authorized or Forbidden: a check still unresolved with the
// record present fails closed, so anything else is an internal fault.
func (e *Engine) AuthorizeRecord(ctx context.Context, ectx *types.EvaluationContext, record types.Record) (*types.Decision, error) {
	rctx := ectx.WithRecord(record)
	if e.metrics != nil {
		e.metrics.RecordStrictCheck()
	}

	d, err := e.Authorize(ctx, rctx)
	if err != nil {
		return nil, err
	}
	if d.Kind != types.DecisionAuthorized && d.Kind != types.DecisionForbidden {
		return nil, types.Faultf("engine.strict", "indefinite decision %q with record present", d.Kind)
	}
	return d, nil
}

// AuthorizeQuery runs the full read pipeline: authorize, push the
// filter into the store, and strict-check each candidate when a
// residual remains. The returned records are exactly those the actor
// may read.
func (e *Engine) AuthorizeQuery(ctx context.Context, ectx *types.EvaluationContext, store storage.RecordStore) ([]types.Record, *types.Decision, error) {
	d, err := e.Authorize(ctx, ectx)
	if err != nil {
		return nil, nil, err
	}

	switch d.Kind {
	case types.DecisionForbidden:
		return nil, d, nil

	case types.DecisionAuthorized:
		records, err := store.Search(ctx, ectx.Entity, filter.True())
		return records, d, err

	case types.DecisionFiltered:
		records, err := store.Search(ctx, ectx.Entity, d.Filter)
		return records, d, err

	case types.DecisionStrict:
		pre := d.Filter
		if pre == nil {
			pre = filter.True()
		}
		candidates, err := store.Search(ctx, ectx.Entity, pre)
		if err != nil {
			return nil, d, err
		}

		var out []types.Record
		for _, r := range candidates {
			rd, err := e.AuthorizeRecord(ctx, ectx, r)
			if err != nil {
				return nil, d, err
			}
			if rd.IsAuthorized() {
				out = append(out, r)
			}
		}
		return out, d, nil
	}
	return nil, nil, types.Faultf("engine.query", "unexpected decision kind %q", d.Kind)
}

// Redact maps each requested field to its visibility for the context.
// Callers invoke it only after the base decision authorized the record.
func (e *Engine) Redact(ectx *types.EvaluationContext, fields []string) (map[string]fieldpolicy.Visibility, error) {
	set, ok := e.registry.Get(ectx.Entity)
	if !ok {
		return nil, types.NewConfigError(ectx.Entity, "no policy definition registered")
	}
	return fieldpolicy.Evaluate(set, fields, ectx)
}

// RedactRecord replaces forbidden field values with the redaction
// marker.
func (e *Engine) RedactRecord(ectx *types.EvaluationContext, record types.Record) (types.Record, error) {
	set, ok := e.registry.Get(ectx.Entity)
	if !ok {
		return nil, types.NewConfigError(ectx.Entity, "no policy definition registered")
	}
	return fieldpolicy.RedactRecord(set, record, ectx)
}

// Analysis returns the compile-time satisfiability report for an
// entity's policy set.
func (e *Engine) Analysis(entity string) (*sat.Analysis, error) {
	set, ok := e.registry.Get(entity)
	if !ok {
		return nil, types.NewConfigError(entity, "no policy definition registered")
	}
	return set.Analysis, nil
}

// Entities lists entities with registered policy sets.
func (e *Engine) Entities() []string {
	return e.registry.Entities()
}

// CacheStats exposes decision cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

func (e *Engine) observe(ectx *types.EvaluationContext, d *types.Decision, cacheHit bool, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordDecision(ectx.Entity, d.Kind, elapsed)
		if cacheHit {
			e.metrics.RecordCacheHit(true)
		}
		e.metrics.SetAuditDropped(e.audit.Dropped())
	}

	e.audit.Record(audit.DecisionEvent(ectx, d, cacheHit, elapsed))

	e.logger.Debug("authorization decision",
		zap.String("entity", ectx.Entity),
		zap.String("action", string(ectx.Action)),
		zap.String("outcome", string(d.Kind)),
		zap.Bool("cacheHit", cacheHit),
		zap.Duration("elapsed", elapsed),
	)
}
