package updates

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"moderator/api/internal/rbac"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		want     []Scope
	}{
		{name: "no identity", identity: nil, want: nil},
		{name: "missing user id", identity: &Identity{Role: rbac.RoleAdmin}, want: nil},
		{name: "general", identity: &Identity{UserID: "42", Role: rbac.RoleGeneral}, want: []Scope{ScopeGlobal, UserScope("42")}},
		{name: "service", identity: &Identity{UserID: "7", Role: rbac.RoleService}, want: []Scope{ScopeGlobal, UserScope("7")}},
		{name: "admin", identity: &Identity{UserID: "1", Role: rbac.RoleAdmin}, want: []Scope{ScopeGlobal, ScopeSystem, UserScope("1")}},
		{name: "unknown role", identity: &Identity{UserID: "3", Role: "root"}, want: []Scope{ScopeGlobal, UserScope("3")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.identity)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScopeKindAndUserID(t *testing.T) {
	if ScopeGlobal.Kind() != "global" || ScopeSystem.Kind() != "system" {
		t.Fatalf("unexpected kinds")
	}
	scope := UserScope("42")
	if scope.Kind() != "user" {
		t.Fatalf("Kind = %q", scope.Kind())
	}
	if id, ok := scope.UserID(); !ok || id != "42" {
		t.Fatalf("UserID = %q, %v", id, ok)
	}
	if _, ok := ScopeGlobal.UserID(); ok {
		t.Fatalf("global scope has a user id")
	}
}

func TestParseScope(t *testing.T) {
	for _, raw := range []string{"global", "system", "user:42", " user:a-b "} {
		if _, err := ParseScope(raw); err != nil {
			t.Fatalf("ParseScope(%q): %v", raw, err)
		}
	}
	for _, raw := range []string{"", "user:", "users:1", "GLOBAL"} {
		if _, err := ParseScope(raw); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("ParseScope(%q) = %v, want ErrInvalidScope", raw, err)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	if IdentityFromContext(context.Background()) != nil {
		t.Fatalf("expected no identity in empty context")
	}
	id := administrator("1")
	ctx := WithIdentity(context.Background(), id)
	if IdentityFromContext(ctx) != id {
		t.Fatalf("identity not carried by context")
	}
}
