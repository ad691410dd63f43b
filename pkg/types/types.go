// Package types provides shared types for the authorization engine
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ActionType names the operation being authorized against an entity.
type ActionType string

const (
	ActionRead    ActionType = "read"
	ActionCreate  ActionType = "create"
	ActionUpdate  ActionType = "update"
	ActionDestroy ActionType = "destroy"
)

// Valid reports whether a is one of the four action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDestroy:
		return true
	}
	return false
}

// TruthValue is the result of evaluating a single fact. Unknown means the
// fact references record data that has not been materialized yet.
type TruthValue int8

const (
	False TruthValue = iota
	True
	Unknown
)

// Truth converts a Go bool to a definite TruthValue.
func Truth(b bool) TruthValue {
	if b {
		return True
	}
	return False
}

// Definite reports whether the value is True or False.
func (t TruthValue) Definite() bool {
	return t == True || t == False
}

// Not negates a truth value. Unknown stays Unknown.
func (t TruthValue) Not() TruthValue {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func (t TruthValue) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// CheckKind selects how a check's predicate resolves its policy.
type CheckKind string

const (
	AuthorizeIf     CheckKind = "authorize_if"
	AuthorizeUnless CheckKind = "authorize_unless"
	ForbidIf        CheckKind = "forbid_if"
	ForbidUnless    CheckKind = "forbid_unless"
)

// Valid reports whether k is one of the four check kinds.
func (k CheckKind) Valid() bool {
	switch k {
	case AuthorizeIf, AuthorizeUnless, ForbidIf, ForbidUnless:
		return true
	}
	return false
}

// Principal represents the actor on whose behalf an action is performed
type Principal struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Attribute returns a named actor attribute
func (p *Principal) Attribute(name string) (interface{}, bool) {
	if p == nil || p.Attributes == nil {
		return nil, false
	}
	v, ok := p.Attributes[name]
	return v, ok
}

// ToMap converts the principal to a map for CEL evaluation
func (p *Principal) ToMap() map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	attrs := p.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":         p.ID,
		"attributes": attrs,
		"attr":       attrs, // alias
	}
}

// Record is a materialized row of the protected entity.
type Record map[string]interface{}

// Key returns the record's primary key, by convention the "id" field.
func (r Record) Key() interface{} {
	return r["id"]
}

// EvaluationContext carries everything known at the point of evaluation.
// Queries evaluate with HasRecord = false at the filter stage, and with
// HasRecord = true per record at the strict stage.
type EvaluationContext struct {
	Actor     *Principal             `json:"actor,omitempty"`
	Entity    string                 `json:"entity"`
	Action    ActionType             `json:"action"`
	HasRecord bool                   `json:"hasRecord"`
	Record    Record                 `json:"record,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// WithRecord returns a copy of the context with the record materialized.
// The original context is not mutated.
func (c *EvaluationContext) WithRecord(rec Record) *EvaluationContext {
	out := *c
	out.HasRecord = true
	out.Record = rec
	return &out
}

// CacheKey generates a stable key for caching statically decidable
// decisions per (actor, action, entity, request context). Attribute and
// context maps are sorted so equivalent requests hash identically
// regardless of map iteration order. The request context participates
// because expression checks can resolve definitively from it.
func (c *EvaluationContext) CacheKey() string {
	actorID := "(anonymous)"
	var attrParts []string
	if c.Actor != nil {
		actorID = c.Actor.ID
		for k, v := range c.Actor.Attributes {
			attrParts = append(attrParts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(attrParts)
	}

	var ctxParts []string
	for k, v := range c.Context {
		ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(ctxParts)

	key := fmt.Sprintf("%s:%s:%s:%s:%s",
		c.Entity,
		c.Action,
		actorID,
		strings.Join(attrParts, ","),
		strings.Join(ctxParts, ","),
	)
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}
