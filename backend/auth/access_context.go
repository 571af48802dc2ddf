package auth

import (
	"context"
	"fmt"
	"net/http"

	"formbase/backend/rls"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

// WorkspaceHeader optionally narrows the enforcement scope to one workspace.
// The middleware does not verify membership; invisible rows simply stay
// invisible to the scoped queries.
const WorkspaceHeader = "X-Workspace-Id"

type requestContextKey string

const identityRequestContextKey requestContextKey = "identity"

// AccessContextMiddleware authenticates the request and installs both the
// caller's identity and the enforcement scope on the request context. The
// scope lives for this request only.
func (m *JwtManager) AccessContextMiddleware(next http.Handler) http.Handler {
	handler := func(w http.ResponseWriter, r *http.Request) {
		tokenStr := jwtauth.TokenFromHeader(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		identity, err := m.DecodeAccessToken(tokenStr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		var workspaceId *uuid.UUID
		if header := r.Header.Get(WorkspaceHeader); header != "" {
			id, err := uuid.Parse(header)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %v header: %v", WorkspaceHeader, err), http.StatusBadRequest)
				return
			}
			workspaceId = &id
		}

		ctx := context.WithValue(r.Context(), identityRequestContextKey, identity)
		ctx = rls.NewContext(ctx, rls.UserScope(identity.UserId, workspaceId))

		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(handler)
}

func IdentityFromContext(r *http.Request) (Identity, error) {
	identityUntyped := r.Context().Value(identityRequestContextKey)
	if identityUntyped == nil {
		return Identity{}, fmt.Errorf("identity not found in request context")
	}
	identity, ok := identityUntyped.(Identity)
	if !ok {
		return Identity{}, fmt.Errorf("invalid value for identity field")
	}
	return identity, nil
}

// TryExtractIdentity decodes the bearer token if one is present and valid.
// It is best effort, for log enrichment on routes that run before the
// authenticating middleware. It must never fail a request.
func (m *JwtManager) TryExtractIdentity(r *http.Request) (Identity, bool) {
	if identity, err := IdentityFromContext(r); err == nil {
		return identity, true
	}

	tokenStr := jwtauth.TokenFromHeader(r)
	if tokenStr == "" {
		return Identity{}, false
	}
	identity, err := m.DecodeAccessToken(tokenStr)
	if err != nil {
		return Identity{}, false
	}
	return identity, true
}
