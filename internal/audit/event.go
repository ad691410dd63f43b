// Package audit records every authorization decision the engine makes,
// asynchronously and off the request hot path.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/policyflow/go-core/pkg/types"
)

// EventType distinguishes decision events from lifecycle markers.
type EventType string

const (
	EventTypeDecision EventType = "decision"
	EventTypeReload   EventType = "policy_reload"
	EventTypeStartup  EventType = "system_startup"
	EventTypeShutdown EventType = "system_shutdown"
)

// Event is one audit record. Decision events carry the full outcome;
// lifecycle events carry only Data.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	ActorID string             `json:"actor_id,omitempty"`
	Entity  string             `json:"entity,omitempty"`
	Action  types.ActionType   `json:"action,omitempty"`
	Outcome types.DecisionKind `json:"outcome,omitempty"`

	// Reasons and Evaluated mirror the decision: the denying policy
	// descriptions and the ordered list of policies consulted.
	Reasons   []string `json:"reasons,omitempty"`
	Evaluated []string `json:"evaluated,omitempty"`

	Static   bool  `json:"static,omitempty"`
	CacheHit bool  `json:"cache_hit,omitempty"`
	Duration int64 `json:"duration_us,omitempty"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// DecisionEvent builds a decision audit record from the request context
// and its outcome.
func DecisionEvent(ectx *types.EvaluationContext, d *types.Decision, cacheHit bool, elapsed time.Duration) *Event {
	e := &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: EventTypeDecision,
		Entity:    ectx.Entity,
		Action:    ectx.Action,
		Outcome:   d.Kind,
		Reasons:   d.Reasons,
		Evaluated: d.Evaluated,
		Static:    d.Static,
		CacheHit:  cacheHit,
		Duration:  elapsed.Microseconds(),
	}
	if ectx.Actor != nil {
		e.ActorID = ectx.Actor.ID
	}
	return e
}

func lifecycleEvent(t EventType, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: t,
		Data:      data,
	}
}
