package updates

import (
	"context"
	"encoding/json"
	"fmt"

	"moderator/api/internal/store"
)

// SnapshotBuilder produces the full state of one scope as a wire frame.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, scope Scope) (json.RawMessage, error)
}

// SnapshotFunc adapts a plain function to SnapshotBuilder.
type SnapshotFunc func(ctx context.Context, scope Scope) (json.RawMessage, error)

func (f SnapshotFunc) BuildSnapshot(ctx context.Context, scope Scope) (json.RawMessage, error) {
	return f(ctx, scope)
}

type SummaryStore interface {
	GlobalSummary(ctx context.Context) (store.GlobalSummary, error)
	SystemSummary(ctx context.Context) (store.SystemSummary, error)
	UserSummary(ctx context.Context, userID string) (store.UserSummary, error)
}

// StoreSnapshots builds snapshots from the moderation read model.
type StoreSnapshots struct {
	store SummaryStore
}

func NewStoreSnapshots(summaries SummaryStore) *StoreSnapshots {
	return &StoreSnapshots{store: summaries}
}

func (s *StoreSnapshots) BuildSnapshot(ctx context.Context, scope Scope) (json.RawMessage, error) {
	var (
		data any
		err  error
	)
	switch scope.Kind() {
	case "global":
		data, err = s.store.GlobalSummary(ctx)
	case "system":
		data, err = s.store.SystemSummary(ctx)
	case "user":
		userID, ok := scope.UserID()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
		data, err = s.store.UserSummary(ctx, userID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s snapshot: %w", scope.Kind(), err)
	}
	return EncodeMessage(scope, data)
}
