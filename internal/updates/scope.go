package updates

import (
	"context"
	"fmt"
	"strings"

	"moderator/api/internal/rbac"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeSystem Scope = "system"

	userScopePrefix = "user:"
)

func (s Scope) String() string {
	return string(s)
}

func UserScope(userID string) Scope {
	return Scope(userScopePrefix + userID)
}

// Kind is the message type clients dispatch on: global, system or user.
func (s Scope) Kind() string {
	if strings.HasPrefix(string(s), userScopePrefix) {
		return "user"
	}
	return string(s)
}

func (s Scope) UserID() (string, bool) {
	id, ok := strings.CutPrefix(string(s), userScopePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func ParseScope(raw string) (Scope, error) {
	scope := Scope(strings.TrimSpace(raw))
	switch scope {
	case ScopeGlobal, ScopeSystem:
		return scope, nil
	}
	if _, ok := scope.UserID(); ok {
		return scope, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID string
	Name   string
	Role   rbac.Role
}

func (id *Identity) IsAdministrator() bool {
	return id != nil && rbac.Can(id.Role, rbac.ActionAdminister)
}

// Classify returns the scopes an identity receives, in the order snapshots
// are sent. A nil identity, or one without a user id, gets no scopes.
func Classify(id *Identity) []Scope {
	if id == nil || id.UserID == "" {
		return nil
	}
	scopes := []Scope{ScopeGlobal}
	if id.IsAdministrator() {
		scopes = append(scopes, ScopeSystem)
	}
	return append(scopes, UserScope(id.UserID))
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
