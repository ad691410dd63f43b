package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyflow/go-core/pkg/types"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	return rr.Body.String()
}

func TestRecordDecision(t *testing.T) {
	m := New("authz")

	m.RecordDecision("document", types.DecisionAuthorized, time.Millisecond)
	m.RecordDecision("document", types.DecisionFiltered, time.Millisecond)
	m.RecordDecision("ticket", types.DecisionForbidden, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `authz_decisions_total{entity="document",outcome="authorized"} 1`)
	assert.Contains(t, body, `authz_decisions_total{entity="document",outcome="filtered"} 1`)
	assert.Contains(t, body, `authz_decisions_total{entity="ticket",outcome="forbidden"} 1`)
	// Only the filtered decision counts as a filter query.
	assert.Contains(t, body, "authz_filter_queries_total 1")
}

func TestCountersAndGauges(t *testing.T) {
	m := New("authz")

	m.RecordStrictCheck()
	m.RecordStrictCheck()
	m.RecordCacheHit(true)
	m.RecordCacheHit(false)
	m.RecordReload(true)
	m.RecordReload(false)
	m.SetAuditDropped(3)

	body := scrape(t, m)
	assert.Contains(t, body, "authz_strict_checks_total 2")
	assert.Contains(t, body, "authz_cache_hits_total 1")
	assert.Contains(t, body, "authz_cache_misses_total 1")
	assert.Contains(t, body, `authz_policy_reloads_total{result="ok"} 1`)
	assert.Contains(t, body, `authz_policy_reloads_total{result="error"} 1`)
	assert.Contains(t, body, "authz_audit_dropped_events 3")
}

func TestIsolatedRegistries(t *testing.T) {
	// Two instances must not collide: each owns its registry.
	a := New("authz")
	b := New("authz")
	a.RecordStrictCheck()

	assert.Contains(t, scrape(t, a), "authz_strict_checks_total 1")
	assert.True(t, strings.Contains(scrape(t, b), "authz_strict_checks_total 0"))
}
