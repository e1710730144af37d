package app

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"moderator/api/internal/rbac"
	"moderator/api/internal/store"
	"moderator/api/internal/updates"
	"moderator/api/internal/util"
)

// Store is the part of the moderation database the mutation hooks write to.
type Store interface {
	Ping(ctx context.Context) error
	SetCategoryModerators(ctx context.Context, categoryID string, userIDs []string) ([]string, error)
	SetArticleModerators(ctx context.Context, articleID string, userIDs []string) ([]string, error)
	AssignComments(ctx context.Context, userID string, commentIDs []string) error
	InsertTag(ctx context.Context, tag store.Tag) error
	DeleteTag(ctx context.Context, tagID string) error
}

// Updates is the update broadcaster as seen by the HTTP layer.
type Updates interface {
	Accept(ctx context.Context, identity *updates.Identity, transport updates.Transport) (*updates.Conn, error)
	Refresh(ctx context.Context, scopes ...updates.Scope) error
	NotifyChange(ctx context.Context, event updates.ChangeEvent) error
}

type Service struct {
	store   Store
	updates Updates
	logger  *zap.Logger
}

func New(dataStore Store, broadcaster Updates, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: dataStore, updates: broadcaster, logger: logger}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(identity *updates.Identity, action rbac.Action) bool {
	return identity != nil && rbac.Can(identity.Role, action)
}

func (s *Service) require(identity *updates.Identity, action rbac.Action) error {
	if !s.Can(identity, action) {
		return forbidden(action)
	}
	return nil
}

// SetCategoryModerators replaces the moderators of a category. Everyone sees
// the new assignment; every moderator gained or lost gets a fresh user
// summary.
func (s *Service) SetCategoryModerators(ctx context.Context, identity *updates.Identity, categoryID string, userIDs []string) error {
	if err := s.require(identity, rbac.ActionAdminister); err != nil {
		return err
	}
	userIDs, err := cleanIDs(userIDs)
	if err != nil {
		return err
	}
	previous, err := s.store.SetCategoryModerators(ctx, categoryID, userIDs)
	if err != nil {
		return err
	}
	s.refresh(ctx, moderatorScopes(previous, userIDs)...)
	return nil
}

func (s *Service) SetArticleModerators(ctx context.Context, identity *updates.Identity, articleID string, userIDs []string) error {
	if err := s.require(identity, rbac.ActionAdminister); err != nil {
		return err
	}
	userIDs, err := cleanIDs(userIDs)
	if err != nil {
		return err
	}
	previous, err := s.store.SetArticleModerators(ctx, articleID, userIDs)
	if err != nil {
		return err
	}
	s.refresh(ctx, moderatorScopes(previous, userIDs)...)
	return nil
}

// AssignComments hands comments to a moderator, who then gets a fresh
// assignment count.
func (s *Service) AssignComments(ctx context.Context, identity *updates.Identity, userID string, commentIDs []string) error {
	if err := s.require(identity, rbac.ActionAssign); err != nil {
		return err
	}
	commentIDs, err := cleanIDs(commentIDs)
	if err != nil {
		return err
	}
	if len(commentIDs) == 0 {
		return invalid("data must list at least one comment id")
	}
	if err := s.store.AssignComments(ctx, userID, commentIDs); err != nil {
		return err
	}
	s.refresh(ctx, updates.UserScope(userID))
	return nil
}

func (s *Service) CreateTag(ctx context.Context, identity *updates.Identity, tag store.Tag) (store.Tag, error) {
	if err := s.require(identity, rbac.ActionAdminister); err != nil {
		return store.Tag{}, err
	}
	tag.Key = strings.TrimSpace(tag.Key)
	tag.Label = strings.TrimSpace(tag.Label)
	if tag.Key == "" || tag.Label == "" {
		return store.Tag{}, invalid("key and label are required")
	}
	if tag.ID == "" {
		tag.ID = util.NewID("tag")
	}
	if err := s.store.InsertTag(ctx, tag); err != nil {
		return store.Tag{}, err
	}
	s.refresh(ctx, updates.ScopeSystem)
	return tag, nil
}

func (s *Service) DeleteTag(ctx context.Context, identity *updates.Identity, tagID string) error {
	if err := s.require(identity, rbac.ActionAdminister); err != nil {
		return err
	}
	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return err
	}
	s.refresh(ctx, updates.ScopeSystem)
	return nil
}

// Notify pushes a caller-built payload to scopes as is.
func (s *Service) Notify(ctx context.Context, identity *updates.Identity, scopes []string, payload json.RawMessage) error {
	if err := s.require(identity, rbac.ActionAssign); err != nil {
		return err
	}
	parsed := make([]updates.Scope, 0, len(scopes))
	for _, raw := range scopes {
		scope, err := updates.ParseScope(raw)
		if err != nil {
			return invalid(err.Error())
		}
		parsed = append(parsed, scope)
	}
	event, err := updates.NewRawChangeEvent(payload, parsed...)
	if err != nil {
		return invalid(err.Error())
	}
	return s.updates.NotifyChange(ctx, event)
}

// refresh failures are logged only; the write has already committed.
func (s *Service) refresh(ctx context.Context, scopes ...updates.Scope) {
	if err := s.updates.Refresh(ctx, scopes...); err != nil {
		s.logger.Warn("refresh update scopes", zap.Stringers("scopes", scopes), zap.Error(err))
	}
}

// moderatorScopes is global plus the user scope of everyone whose
// assignment changed or stayed.
func moderatorScopes(previous, current []string) []updates.Scope {
	ids := make(map[string]struct{}, len(previous)+len(current))
	for _, id := range previous {
		ids[id] = struct{}{}
	}
	for _, id := range current {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	scopes := []updates.Scope{updates.ScopeGlobal}
	for _, id := range sorted {
		scopes = append(scopes, updates.UserScope(id))
	}
	return scopes
}

func cleanIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, invalid("ids must not be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
