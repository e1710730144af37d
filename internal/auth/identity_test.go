package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"moderator/api/internal/rbac"
	"moderator/api/internal/store"
)

type fakeUsers struct {
	getUserByIDFn func(context.Context, string) (store.User, error)
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	users := &fakeUsers{getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
		return store.User{ID: id, Name: "Avery", Group: "admin", IsActive: true}, nil
	}}
	authenticator := NewAuthenticator("secret", users)
	token, err := IssueToken([]byte("secret"), "42", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	identity, err := authenticator.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity.UserID != "42" || identity.Role != rbac.RoleAdmin {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	token, err := IssueToken([]byte("secret"), "42", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	cases := []struct {
		name  string
		token string
		users *fakeUsers
		want  error
	}{
		{name: "empty token", token: "", users: &fakeUsers{}, want: ErrInvalidToken},
		{name: "unknown user", token: token, users: &fakeUsers{}, want: ErrInvalidToken},
		{
			name:  "inactive user",
			token: token,
			users: &fakeUsers{getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
				return store.User{ID: id, Group: "general", IsActive: false}, nil
			}},
			want: ErrInactiveUser,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			identity, err := NewAuthenticator("secret", tc.users).Authenticate(context.Background(), tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tc.want)
			}
			if identity != nil {
				t.Fatalf("expected nil identity, got %+v", identity)
			}
		})
	}
}
