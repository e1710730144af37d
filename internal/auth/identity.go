package auth

import (
	"context"
	"errors"
	"fmt"

	"moderator/api/internal/rbac"
	"moderator/api/internal/store"
	"moderator/api/internal/updates"
)

var ErrInactiveUser = errors.New("user is not active")

type UserLookup interface {
	GetUserByID(context.Context, string) (store.User, error)
}

// Authenticator turns an access token into the identity the update
// broadcaster classifies.
type Authenticator struct {
	secret []byte
	users  UserLookup
}

func NewAuthenticator(secret string, users UserLookup) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (*updates.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := ParseToken(a.secret, token)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &updates.Identity{
		UserID: user.ID,
		Name:   user.Name,
		Role:   rbac.Normalize(user.Group),
	}, nil
}
