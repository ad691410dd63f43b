package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/policyflow/go-core/pkg/types"
)

// buildContext assembles the evaluation context. A request-body actor
// wins; otherwise the authenticated token actor is used.
func (s *Server) buildContext(r *http.Request, actor *ActorPayload, entity string, action types.ActionType, record types.Record, extra map[string]interface{}) *types.EvaluationContext {
	principal := actor.principal()
	if principal == nil {
		if tokenActor, ok := ActorFromContext(r.Context()); ok {
			principal = tokenActor
		}
	}
	return &types.EvaluationContext{
		Actor:     principal,
		Entity:    entity,
		Action:    action,
		HasRecord: record != nil,
		Record:    record,
		Context:   extra,
	}
}

func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Entity == "" {
		WriteError(w, http.StatusBadRequest, "entity is required", nil)
		return
	}
	if !req.Action.Valid() {
		WriteError(w, http.StatusBadRequest, "invalid action", map[string]interface{}{"action": req.Action})
		return
	}

	ectx := s.buildContext(r, req.Actor, req.Entity, req.Action, req.Record, req.Context)
	decision, err := s.engine.Authorize(r.Context(), ectx)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, DecisionResponse{Decision: decision})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		WriteError(w, http.StatusNotImplemented, "no record store configured", nil)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Entity == "" {
		WriteError(w, http.StatusBadRequest, "entity is required", nil)
		return
	}

	ectx := s.buildContext(r, req.Actor, req.Entity, types.ActionRead, nil, req.Context)
	records, decision, err := s.engine.AuthorizeQuery(r.Context(), ectx, s.store)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	if req.RedactFields {
		for i, record := range records {
			rctx := ectx.WithRecord(record)
			redacted, err := s.engine.RedactRecord(rctx, record)
			if err != nil {
				s.writeEngineError(w, err)
				return
			}
			records[i] = redacted
		}
	}

	WriteJSON(w, http.StatusOK, QueryResponse{
		Decision: decision,
		Records:  records,
		Count:    len(records),
	})
}

func (s *Server) redactHandler(w http.ResponseWriter, r *http.Request) {
	var req RedactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Entity == "" {
		WriteError(w, http.StatusBadRequest, "entity is required", nil)
		return
	}
	action := req.Action
	if action == "" {
		action = types.ActionRead
	}

	ectx := s.buildContext(r, req.Actor, req.Entity, action, req.Record, req.Context)

	fields := req.Fields
	if len(fields) == 0 && req.Record != nil {
		for f := range req.Record {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		WriteError(w, http.StatusBadRequest, "fields or record is required", nil)
		return
	}

	vis, err := s.engine.Redact(ectx, fields)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := RedactResponse{Fields: vis}
	if req.Record != nil {
		redacted, err := s.engine.RedactRecord(ectx, req.Record)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		resp.Redacted = redacted
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) entitiesHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, EntitiesResponse{Entities: s.engine.Entities()})
}

func (s *Server) analysisHandler(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]

	analysis, err := s.engine.Analysis(entity)
	if err != nil {
		WriteError(w, http.StatusNotFound, "unknown entity", map[string]interface{}{"entity": entity})
		return
	}
	WriteJSON(w, http.StatusOK, AnalysisResponse{
		Entity:   entity,
		Analysis: analysis,
		Graph:    analysis.Graph(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks: map[string]interface{}{
			"engine": "ok",
		},
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, StatusResponse{
		Version:    s.config.Version,
		Uptime:     time.Since(s.startTime).String(),
		Entities:   s.engine.Entities(),
		CacheStats: s.engine.CacheStats(),
		Timestamp:  time.Now(),
	})
}

// writeEngineError maps the engine's error taxonomy to status codes:
// configuration problems are the client's to see, faults are 500s.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case types.IsConfigError(err):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
