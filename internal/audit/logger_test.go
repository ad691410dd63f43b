package audit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyflow/go-core/pkg/types"
)

type captureWriter struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (w *captureWriter) Write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) snapshot() []*Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Event(nil), w.events...)
}

func decisionCtx() *types.EvaluationContext {
	return &types.EvaluationContext{
		Actor:  &types.Principal{ID: "alice"},
		Entity: "document",
		Action: types.ActionRead,
	}
}

func TestDecisionEvent(t *testing.T) {
	d := &types.Decision{
		Kind:      types.DecisionForbidden,
		Reasons:   []string{"hidden documents are owner-only"},
		Evaluated: []string{"admin", "visibility"},
		Static:    true,
	}
	e := DecisionEvent(decisionCtx(), d, true, 250*time.Microsecond)

	assert.Equal(t, EventTypeDecision, e.EventType)
	assert.Equal(t, "alice", e.ActorID)
	assert.Equal(t, "document", e.Entity)
	assert.Equal(t, types.ActionRead, e.Action)
	assert.Equal(t, types.DecisionForbidden, e.Outcome)
	assert.Equal(t, d.Reasons, e.Reasons)
	assert.True(t, e.CacheHit)
	assert.True(t, e.Static)
	assert.Equal(t, int64(250), e.Duration)
	assert.NotZero(t, e.ID)
}

func TestAsyncLoggerDelivers(t *testing.T) {
	w := &captureWriter{}
	l := newAsyncLogger(w, Config{BufferSize: 16, FlushInterval: time.Hour})

	d := &types.Decision{Kind: types.DecisionAuthorized}
	for i := 0; i < 5; i++ {
		l.Record(DecisionEvent(decisionCtx(), d, false, time.Millisecond))
	}
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	events := w.snapshot()
	assert.Len(t, events, 5)
	assert.EqualValues(t, 0, l.Dropped())
	assert.True(t, w.closed)
}

func TestAsyncLoggerDropsOldestWhenFull(t *testing.T) {
	w := &captureWriter{}
	// Flush interval far in the future and no explicit flush until the
	// buffer has wrapped.
	l := newAsyncLogger(w, Config{BufferSize: 4, FlushInterval: time.Hour})

	d := &types.Decision{Kind: types.DecisionAuthorized}
	for i := 0; i < 32; i++ {
		l.mu.Lock()
		l.buffer[l.tail] = DecisionEvent(decisionCtx(), d, false, 0)
		l.tail = (l.tail + 1) % l.size
		if l.tail == l.head {
			l.head = (l.head + 1) % l.size
			atomic.AddUint64(&l.dropped, 1)
		}
		l.mu.Unlock()
	}

	assert.NotZero(t, l.Dropped())
	require.NoError(t, l.Flush())
	// At most BufferSize-1 events survive a full wrap.
	assert.LessOrEqual(t, len(w.snapshot()), 4)
	require.NoError(t, l.Close())
}

func TestLoggerFactory(t *testing.T) {
	l, err := NewLogger(&Config{Enabled: false})
	require.NoError(t, err)
	_, ok := l.(*noopLogger)
	assert.True(t, ok, "disabled config should yield the no-op logger")

	_, err = NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Enabled: true, Type: "file"})
	assert.Error(t, err, "file output without a path should fail")
}

func TestFileWriterRoundTrip(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	l, err := NewLogger(&Config{
		Enabled:       true,
		Type:          "file",
		FilePath:      path,
		BufferSize:    8,
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	l.Record(DecisionEvent(decisionCtx(), &types.Decision{Kind: types.DecisionAuthorized}, false, 0))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Enabled: true, Type: "stdout"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 100*time.Millisecond, cfg.FlushInterval)
}
