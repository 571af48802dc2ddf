package rls

import (
	"context"

	"github.com/google/uuid"
)

// Scope is the access context for a single unit of work. It is installed on
// the context at the start of each request and is never cached across
// requests. A scoped table touched without a scope on the context is denied.
type Scope struct {
	ActorId      *uuid.UUID
	WorkspaceId  *uuid.UUID
	Bypass       bool
	PublicInsert bool
}

type scopeContextKey struct{}

func NewContext(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}

// UserScope is the normal authenticated scope: rows reachable through the
// actor's memberships, optionally narrowed to a single workspace.
func UserScope(actorId uuid.UUID, workspaceId *uuid.UUID) Scope {
	return Scope{ActorId: &actorId, WorkspaceId: workspaceId}
}

// BypassScope disables enforcement. Used by migrations, seed tooling, and the
// registration flow that creates a user's first workspace.
func BypassScope() Scope {
	return Scope{Bypass: true}
}

// PublicSubmissionScope is the anonymous form-submission scope. It bypasses
// read enforcement for the duration of the insert transaction and marks the
// session as public-insert for the database-native policies.
func PublicSubmissionScope() Scope {
	return Scope{Bypass: true, PublicInsert: true}
}
