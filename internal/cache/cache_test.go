package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/policyflow/go-core/pkg/types"
)

func staticDecision() *types.Decision {
	return &types.Decision{Kind: types.DecisionAuthorized, Static: true}
}

func TestLRUBasics(t *testing.T) {
	c := NewLRU(4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache returned a hit")
	}

	c.Set("k1", staticDecision())
	d, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if d.Kind != types.DecisionAuthorized {
		t.Errorf("kind = %v", d.Kind)
	}

	c.Delete("k1")
	if _, ok := c.Get("k1"); ok {
		t.Error("deleted key still present")
	}
}

func TestLRURejectsRecordDependentDecisions(t *testing.T) {
	c := NewLRU(4, time.Minute)

	c.Set("strict", &types.Decision{Kind: types.DecisionStrict, Residual: []string{"p"}})
	if _, ok := c.Get("strict"); ok {
		t.Error("strict decision should not be cached")
	}
	if got := c.Stats().Size; got != 0 {
		t.Errorf("size = %d, want 0", got)
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set("a", staticDecision())
	c.Set("b", staticDecision())

	// Touch a so b is the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing before eviction")
	}
	c.Set("c", staticDecision())

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used a was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing after insert")
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU(4, 10*time.Millisecond)
	c.Set("k", staticDecision())
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	if got := c.Stats().Size; got != 0 {
		t.Errorf("expired entry still counted: size = %d", got)
	}
}

func TestLRUCleanup(t *testing.T) {
	c := NewLRU(8, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), staticDecision())
	}
	time.Sleep(20 * time.Millisecond)

	if removed := c.Cleanup(); removed != 5 {
		t.Errorf("Cleanup removed %d, want 5", removed)
	}
	if got := c.Stats().Size; got != 0 {
		t.Errorf("size after cleanup = %d", got)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("k", staticDecision())
	c.Get("k")
	c.Get("k")
	c.Get("absent")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d", s.Hits, s.Misses)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v", s.HitRate)
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name string
		d    *types.Decision
		want bool
	}{
		{"nil", nil, false},
		{"authorized", &types.Decision{Kind: types.DecisionAuthorized}, true},
		{"forbidden", &types.Decision{Kind: types.DecisionForbidden}, true},
		{"strict residual", &types.Decision{Kind: types.DecisionStrict, Residual: []string{"p"}}, false},
	}
	for _, tt := range tests {
		if got := Cacheable(tt.d); got != tt.want {
			t.Errorf("%s: Cacheable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDefaultConfigFactory(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.(*LRU); !ok {
		t.Errorf("default cache is %T, want *LRU", c)
	}

	c, err = New(Config{Kind: KindNone})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.(Noop); !ok {
		t.Errorf("disabled cache is %T, want Noop", c)
	}

	if _, err := New(Config{Kind: "bogus"}); err == nil {
		t.Error("unknown kind should error")
	}
}
