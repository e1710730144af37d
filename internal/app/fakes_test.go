package app

import (
	"context"
	"sync"

	"moderator/api/internal/auth"
	"moderator/api/internal/rbac"
	"moderator/api/internal/store"
	"moderator/api/internal/updates"
)

type fakeStore struct {
	pingFn                  func(context.Context) error
	setCategoryModeratorsFn func(context.Context, string, []string) ([]string, error)
	setArticleModeratorsFn  func(context.Context, string, []string) ([]string, error)
	assignCommentsFn        func(context.Context, string, []string) error
	insertTagFn             func(context.Context, store.Tag) error
	deleteTagFn             func(context.Context, string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) SetCategoryModerators(ctx context.Context, categoryID string, userIDs []string) ([]string, error) {
	if f.setCategoryModeratorsFn != nil {
		return f.setCategoryModeratorsFn(ctx, categoryID, userIDs)
	}
	return nil, nil
}

func (f *fakeStore) SetArticleModerators(ctx context.Context, articleID string, userIDs []string) ([]string, error) {
	if f.setArticleModeratorsFn != nil {
		return f.setArticleModeratorsFn(ctx, articleID, userIDs)
	}
	return nil, nil
}

func (f *fakeStore) AssignComments(ctx context.Context, userID string, commentIDs []string) error {
	if f.assignCommentsFn != nil {
		return f.assignCommentsFn(ctx, userID, commentIDs)
	}
	return nil
}

func (f *fakeStore) InsertTag(ctx context.Context, tag store.Tag) error {
	if f.insertTagFn != nil {
		return f.insertTagFn(ctx, tag)
	}
	return nil
}

func (f *fakeStore) DeleteTag(ctx context.Context, tagID string) error {
	if f.deleteTagFn != nil {
		return f.deleteTagFn(ctx, tagID)
	}
	return nil
}

type fakeUpdates struct {
	acceptFn       func(context.Context, *updates.Identity, updates.Transport) (*updates.Conn, error)
	refreshFn      func(context.Context, ...updates.Scope) error
	notifyChangeFn func(context.Context, updates.ChangeEvent) error

	mu        sync.Mutex
	refreshed [][]updates.Scope
	notified  []updates.ChangeEvent
}

func (f *fakeUpdates) Accept(ctx context.Context, identity *updates.Identity, transport updates.Transport) (*updates.Conn, error) {
	if f.acceptFn != nil {
		return f.acceptFn(ctx, identity, transport)
	}
	_ = transport.Close(updates.CloseUnauthenticated)
	return nil, updates.ErrUnauthenticated
}

func (f *fakeUpdates) Refresh(ctx context.Context, scopes ...updates.Scope) error {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, scopes)
	f.mu.Unlock()
	if f.refreshFn != nil {
		return f.refreshFn(ctx, scopes...)
	}
	return nil
}

func (f *fakeUpdates) NotifyChange(ctx context.Context, event updates.ChangeEvent) error {
	f.mu.Lock()
	f.notified = append(f.notified, event)
	f.mu.Unlock()
	if f.notifyChangeFn != nil {
		return f.notifyChangeFn(ctx, event)
	}
	return nil
}

// fakeAuth maps raw tokens to identities.
type fakeAuth struct {
	identities map[string]*updates.Identity
	err        error
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*updates.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if identity, ok := f.identities[token]; ok {
		return identity, nil
	}
	return nil, auth.ErrInvalidToken
}

var (
	adminIdentity     = &updates.Identity{UserID: "1", Name: "Admin", Role: rbac.RoleAdmin}
	moderatorIdentity = &updates.Identity{UserID: "42", Name: "Moderator", Role: rbac.RoleGeneral}
	serviceIdentity   = &updates.Identity{UserID: "7", Name: "Publisher", Role: rbac.RoleService}
)

func newTestAuth() *fakeAuth {
	return &fakeAuth{identities: map[string]*updates.Identity{
		"admin-token":     adminIdentity,
		"moderator-token": moderatorIdentity,
		"service-token":   serviceIdentity,
	}}
}
