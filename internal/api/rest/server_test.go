package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/policyflow/go-core/internal/engine"
	"github.com/policyflow/go-core/internal/expr"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/internal/storage"
	"github.com/policyflow/go-core/pkg/types"
)

func testServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	def := policy.NewBuilder("document").
		Fields("id", "owner_id", "hidden", "secret").
		Bypass("admin").
		AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "admin")).Done().
		Policy("visibility").
		Describe("hidden documents are owner-only").
		ForbidIf(expr.And(
			expr.RecordField("hidden", filter.OpEQ, true),
			expr.Not(expr.RelatesToActor("owner_id")),
		)).
		AuthorizeIf(expr.Always()).Done().
		FieldPolicy("secret").
		AuthorizeIf(expr.ActorAttr("role", filter.OpEQ, "admin")).Done().
		FieldPolicy("*").
		AuthorizeIf(expr.Always()).Done().
		Definition()

	r := policy.NewRegistry(nil)
	if _, err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	eng := engine.New(engine.Config{}, r)

	store := storage.NewMemoryStore()
	store.Put("document", types.Record{"id": 1, "owner_id": "alice", "hidden": false, "secret": "s1"})
	store.Put("document", types.Record{"id": 2, "owner_id": "alice", "hidden": true, "secret": "s2"})
	store.Put("document", types.Record{"id": 3, "owner_id": "bob", "hidden": true, "secret": "s3"})

	srv, err := New(cfg, eng, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return out
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/authorize", AuthorizeRequest{
		Actor:  &ActorPayload{ID: "alice", Attributes: map[string]interface{}{"role": "user"}},
		Entity: "document",
		Action: types.ActionRead,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[DecisionResponse](t, rr)
	if resp.Decision.Kind != types.DecisionFiltered {
		t.Errorf("kind = %v, want filtered", resp.Decision.Kind)
	}
}

func TestAuthorizeWithRecordIsDefinite(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/authorize", AuthorizeRequest{
		Actor:  &ActorPayload{ID: "carol", Attributes: map[string]interface{}{"role": "user"}},
		Entity: "document",
		Action: types.ActionRead,
		Record: types.Record{"id": 3, "owner_id": "bob", "hidden": true},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[DecisionResponse](t, rr)
	if !resp.Decision.IsForbidden() {
		t.Errorf("kind = %v, want forbidden", resp.Decision.Kind)
	}
	if len(resp.Decision.Reasons) == 0 {
		t.Error("denial carries no reasons")
	}
}

func TestAuthorizeValidation(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	tests := []struct {
		name string
		req  AuthorizeRequest
	}{
		{"missing entity", AuthorizeRequest{Action: types.ActionRead}},
		{"invalid action", AuthorizeRequest{Entity: "document", Action: "browse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, srv, "POST", "/v1/authorize", tt.req, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestAuthorizeUnknownEntity(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/authorize", AuthorizeRequest{
		Actor:  &ActorPayload{ID: "alice"},
		Entity: "ghost",
		Action: types.ActionRead,
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rr.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/query", QueryRequest{
		Actor:  &ActorPayload{ID: "alice", Attributes: map[string]interface{}{"role": "user"}},
		Entity: "document",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[QueryResponse](t, rr)
	if resp.Count != 2 {
		t.Errorf("count = %d, want alice's 2 visible documents", resp.Count)
	}
}

func TestQueryWithRedaction(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/query", QueryRequest{
		Actor:        &ActorPayload{ID: "alice", Attributes: map[string]interface{}{"role": "user"}},
		Entity:       "document",
		RedactFields: true,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[QueryResponse](t, rr)
	for _, r := range resp.Records {
		if r["secret"] != "<forbidden>" {
			t.Errorf("secret = %v, want redacted", r["secret"])
		}
		if r["owner_id"] == "<forbidden>" {
			t.Error("owner_id should not be redacted")
		}
	}
}

func TestRedactEndpoint(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "POST", "/v1/redact", RedactRequest{
		Actor:  &ActorPayload{ID: "alice", Attributes: map[string]interface{}{"role": "user"}},
		Entity: "document",
		Record: types.Record{"id": 1, "owner_id": "alice", "secret": "s1"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[RedactResponse](t, rr)
	if resp.Fields["secret"] != "forbidden" {
		t.Errorf("secret visibility = %v", resp.Fields["secret"])
	}
	if resp.Redacted["secret"] != "<forbidden>" {
		t.Errorf("redacted secret = %v", resp.Redacted["secret"])
	}
	if resp.Redacted["owner_id"] != "alice" {
		t.Errorf("owner_id = %v", resp.Redacted["owner_id"])
	}
}

func TestEntitiesAndAnalysisEndpoints(t *testing.T) {
	srv := testServer(t, DefaultConfig())

	rr := doJSON(t, srv, "GET", "/v1/entities", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("entities status = %d", rr.Code)
	}
	entities := decode[EntitiesResponse](t, rr)
	if len(entities.Entities) != 1 || entities.Entities[0] != "document" {
		t.Errorf("entities = %v", entities.Entities)
	}

	rr = doJSON(t, srv, "GET", "/v1/entities/document/analysis", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("analysis status = %d: %s", rr.Code, rr.Body.String())
	}
	analysis := decode[AnalysisResponse](t, rr)
	if analysis.Entity != "document" || analysis.Analysis == nil || analysis.Graph == nil {
		t.Errorf("analysis response incomplete: %+v", analysis)
	}

	rr = doJSON(t, srv, "GET", "/v1/entities/ghost/analysis", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown entity status = %d, want 404", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, DefaultConfig())
	rr := doJSON(t, srv, "GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
}

func signToken(t *testing.T, secret, subject string, attrs map[string]interface{}) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Attributes: attrs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	auth, err := NewAuthenticator("test-secret", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Authenticator = auth
	srv := testServer(t, cfg)

	body := AuthorizeRequest{Entity: "document", Action: types.ActionRead}

	rr := doJSON(t, srv, "POST", "/v1/authorize", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = doJSON(t, srv, "POST", "/v1/authorize", body, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rr.Code)
	}

	wrong := signToken(t, "other-secret", "alice", nil)
	rr = doJSON(t, srv, "POST", "/v1/authorize", body, map[string]string{
		"Authorization": "Bearer " + wrong,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rr.Code)
	}

	// A valid token supplies the actor when the body has none.
	good := signToken(t, "test-secret", "alice", map[string]interface{}{"role": "user"})
	rr = doJSON(t, srv, "POST", "/v1/authorize", body, map[string]string{
		"Authorization": "Bearer " + good,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[DecisionResponse](t, rr)
	if resp.Decision.Kind != types.DecisionFiltered {
		t.Errorf("kind = %v, want filtered", resp.Decision.Kind)
	}

	// Health is outside /v1 and never requires a token.
	rr = doJSON(t, srv, "GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d", rr.Code)
	}
}

func TestNoAuthenticatorRejectsEmptySecret(t *testing.T) {
	if _, err := NewAuthenticator("", nil); err == nil {
		t.Error("empty secret should fail")
	}
}
