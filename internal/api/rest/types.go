package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/policyflow/go-core/internal/cache"
	"github.com/policyflow/go-core/internal/fieldpolicy"
	"github.com/policyflow/go-core/internal/sat"
	"github.com/policyflow/go-core/pkg/types"
)

// ActorPayload identifies the requesting principal.
type ActorPayload struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// AuthorizeRequest asks for a decision on one entity and action.
type AuthorizeRequest struct {
	Actor   *ActorPayload          `json:"actor,omitempty"`
	Entity  string                 `json:"entity"`
	Action  types.ActionType       `json:"action"`
	Record  types.Record           `json:"record,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// DecisionResponse mirrors the engine's decision.
type DecisionResponse struct {
	Decision *types.Decision `json:"decision"`
}

// QueryRequest asks for the records the actor may read.
type QueryRequest struct {
	Actor   *ActorPayload          `json:"actor,omitempty"`
	Entity  string                 `json:"entity"`
	Context map[string]interface{} `json:"context,omitempty"`

	// RedactFields applies field policies to each returned record.
	RedactFields bool `json:"redactFields,omitempty"`
}

// QueryResponse carries the authorized records and the decision that
// produced them.
type QueryResponse struct {
	Decision *types.Decision `json:"decision"`
	Records  []types.Record  `json:"records"`
	Count    int             `json:"count"`
}

// RedactRequest asks for per-field visibility on a record.
type RedactRequest struct {
	Actor   *ActorPayload          `json:"actor,omitempty"`
	Entity  string                 `json:"entity"`
	Action  types.ActionType       `json:"action"`
	Record  types.Record           `json:"record,omitempty"`
	Fields  []string               `json:"fields"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// RedactResponse maps fields to visibility and, when a record was
// given, returns its redacted form.
type RedactResponse struct {
	Fields   map[string]fieldpolicy.Visibility `json:"fields"`
	Redacted types.Record                      `json:"redacted,omitempty"`
}

// AnalysisResponse exposes the compile-time satisfiability report and
// its decision graph.
type AnalysisResponse struct {
	Entity   string        `json:"entity"`
	Analysis *sat.Analysis `json:"analysis"`
	Graph    *sat.Graph    `json:"graph"`
}

// EntitiesResponse lists registered entities.
type EntitiesResponse struct {
	Entities []string `json:"entities"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks"`
}

// StatusResponse reports service status.
type StatusResponse struct {
	Version    string      `json:"version"`
	Uptime     string      `json:"uptime"`
	Entities   []string    `json:"entities"`
	CacheStats cache.Stats `json:"cacheStats"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Details: details})
}

func (a *ActorPayload) principal() *types.Principal {
	if a == nil {
		return nil
	}
	return &types.Principal{ID: a.ID, Attributes: a.Attributes}
}
