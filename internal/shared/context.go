package shared

import (
	"context"
	"strings"
)

// Role names recognised by the closure engine.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Headers set by the fronting gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
	HeaderClientID = "X-Client-ID"
)

// Actor is the authenticated caller as asserted by the fronting gateway.
type Actor struct {
	UserID   string
	UserName string
	Role     string
}

// IsAdmin reports whether the actor may perform closures.
func (a Actor) IsAdmin() bool {
	switch strings.ToLower(strings.TrimSpace(a.Role)) {
	case RoleAdmin, "administrateur", "administrator":
		return a.UserID != ""
	default:
		return false
	}
}

type actorContextKey struct{}

type clientContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithClientID stores the browsing client identifier in context.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientContextKey{}, clientID)
}

// ClientIDFromContext extracts the browsing client identifier.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientContextKey{}).(string)
	return id
}
