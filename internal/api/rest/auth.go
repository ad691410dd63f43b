package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/policyflow/go-core/pkg/types"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Claims is the token payload the server accepts: the subject becomes
// the actor ID, "attrs" its attribute map.
type Claims struct {
	Attributes map[string]interface{} `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens and injects the authenticated
// actor into the request context.
type Authenticator struct {
	secret    []byte
	skipPaths map[string]bool
}

// NewAuthenticator creates an HS256 authenticator. Requests to
// skipPaths pass through unauthenticated.
func NewAuthenticator(secret string, skipPaths []string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Authenticator{secret: []byte(secret), skipPaths: skip}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "missing or invalid authorization header", nil)
			return
		}

		claims, err := a.validate(token)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}

		actor := &types.Principal{ID: claims.Subject, Attributes: claims.Attributes}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a *Authenticator) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("no authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("malformed authorization header")
	}
	return parts[1], nil
}

func withActor(ctx context.Context, actor *types.Principal) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (*types.Principal, bool) {
	actor, ok := ctx.Value(actorContextKey).(*types.Principal)
	return actor, ok
}
