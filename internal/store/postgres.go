package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email, ''), avatar_url, user_group, is_active, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.AvatarURL, &user.Group, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const countColumns = `all_count, unprocessed_count, unmoderated_count, moderated_count, deferred_count,
	approved_count, highlighted_count, rejected_count, flagged_count, batched_count, recommended_count`

func (c *Counts) scanTargets() []any {
	return []any{&c.All, &c.Unprocessed, &c.Unmoderated, &c.Moderated, &c.Deferred,
		&c.Approved, &c.Highlighted, &c.Rejected, &c.Flagged, &c.Batched, &c.Recommended}
}

func (s *PostgresStore) GlobalSummary(ctx context.Context) (GlobalSummary, error) {
	categories, err := s.listCategories(ctx)
	if err != nil {
		return GlobalSummary{}, err
	}
	articles, err := s.listArticles(ctx)
	if err != nil {
		return GlobalSummary{}, err
	}
	users, err := s.listActiveUsers(ctx)
	if err != nil {
		return GlobalSummary{}, err
	}

	var deferred int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE is_deferred`).Scan(&deferred); err != nil {
		return GlobalSummary{}, fmt.Errorf("count deferred: %w", err)
	}

	return GlobalSummary{
		Categories: categories,
		Articles:   articles,
		Users:      users,
		Deferred:   deferred,
	}, nil
}

func (s *PostgresStore) listCategories(ctx context.Context) ([]Category, error) {
	moderators, err := s.moderatorIndex(ctx, `SELECT category_id, user_id FROM category_moderators`)
	if err != nil {
		return nil, fmt.Errorf("list category moderators: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, is_active, updated_at, `+countColumns+`
		FROM categories
		WHERE is_active
		ORDER BY label
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		targets := append([]any{&item.ID, &item.Label, &item.IsActive, &item.UpdatedAt}, item.Counts.scanTargets()...)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		item.AssignedModerators = nonNil(moderators[item.ID])
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listArticles(ctx context.Context) ([]Article, error) {
	moderators, err := s.moderatorIndex(ctx, `SELECT article_id, user_id FROM article_moderators`)
	if err != nil {
		return nil, fmt.Errorf("list article moderators: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, title, url, category_id, is_commenting_enabled, is_auto_moderated, updated_at, `+countColumns+`
		FROM articles
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		var item Article
		var categoryID sql.NullString
		targets := append([]any{
			&item.ID, &item.SourceID, &item.Title, &item.URL, &categoryID,
			&item.IsCommentingEnabled, &item.IsAutoModerated, &item.UpdatedAt,
		}, item.Counts.scanTargets()...)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if categoryID.Valid {
			item.CategoryID = &categoryID.String
		}
		item.AssignedModerators = nonNil(moderators[item.ID])
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(email, ''), avatar_url, user_group, is_active, created_at
		FROM users
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.AvatarURL, &item.Group, &item.IsActive, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// moderatorIndex groups (owner_id, user_id) rows by owner.
func (s *PostgresStore) moderatorIndex(ctx context.Context, query string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[string][]string)
	for rows.Next() {
		var ownerID, userID string
		if err := rows.Scan(&ownerID, &userID); err != nil {
			return nil, err
		}
		index[ownerID] = append(index[ownerID], userID)
	}
	for _, ids := range index {
		sort.Strings(ids)
	}
	return index, rows.Err()
}

func (s *PostgresStore) SystemSummary(ctx context.Context) (SystemSummary, error) {
	tags, err := s.listTags(ctx)
	if err != nil {
		return SystemSummary{}, err
	}
	sensitivities, err := s.listTaggingSensitivities(ctx)
	if err != nil {
		return SystemSummary{}, err
	}
	rules, err := s.listRules(ctx)
	if err != nil {
		return SystemSummary{}, err
	}
	preselects, err := s.listPreselects(ctx)
	if err != nil {
		return SystemSummary{}, err
	}
	return SystemSummary{
		Tags:                 tags,
		TaggingSensitivities: sensitivities,
		Rules:                rules,
		Preselects:           preselects,
	}, nil
}

func (s *PostgresStore) listTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, label, color, description, is_in_batch_view, in_summary_score, is_taggable
		FROM tags
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Key, &item.Label, &item.Color, &item.Description, &item.IsInBatchView, &item.InSummaryScore, &item.IsTaggable); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listTaggingSensitivities(ctx context.Context) ([]TaggingSensitivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, tag_id, lower_threshold, upper_threshold
		FROM tagging_sensitivities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tagging sensitivities: %w", err)
	}
	defer rows.Close()

	items := make([]TaggingSensitivity, 0)
	for rows.Next() {
		var item TaggingSensitivity
		var categoryID, tagID sql.NullString
		if err := rows.Scan(&item.ID, &categoryID, &tagID, &item.LowerThreshold, &item.UpperThreshold); err != nil {
			return nil, fmt.Errorf("scan tagging sensitivity: %w", err)
		}
		item.CategoryID, item.TagID = nullable(categoryID), nullable(tagID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tagging sensitivities: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, tag_id, lower_threshold, upper_threshold, action
		FROM rules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	items := make([]Rule, 0)
	for rows.Next() {
		var item Rule
		var categoryID, tagID sql.NullString
		if err := rows.Scan(&item.ID, &categoryID, &tagID, &item.LowerThreshold, &item.UpperThreshold, &item.Action); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		item.CategoryID, item.TagID = nullable(categoryID), nullable(tagID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listPreselects(ctx context.Context) ([]Preselect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, tag_id, lower_threshold, upper_threshold
		FROM preselects
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list preselects: %w", err)
	}
	defer rows.Close()

	items := make([]Preselect, 0)
	for rows.Next() {
		var item Preselect
		var categoryID, tagID sql.NullString
		if err := rows.Scan(&item.ID, &categoryID, &tagID, &item.LowerThreshold, &item.UpperThreshold); err != nil {
			return nil, fmt.Errorf("scan preselect: %w", err)
		}
		item.CategoryID, item.TagID = nullable(categoryID), nullable(tagID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preselects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UserSummary(ctx context.Context, userID string) (UserSummary, error) {
	var summary UserSummary
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM moderator_assignments WHERE user_id=$1`, userID).Scan(&summary.Assignments)
	if err != nil {
		return UserSummary{}, fmt.Errorf("count assignments: %w", err)
	}
	return summary, nil
}

// SetCategoryModerators replaces the moderator set of a category and returns
// the ids that were assigned before the change.
func (s *PostgresStore) SetCategoryModerators(ctx context.Context, categoryID string, userIDs []string) ([]string, error) {
	return s.replaceModerators(ctx, "categories", "category_moderators", "category_id", categoryID, userIDs)
}

// SetArticleModerators is SetCategoryModerators for a single article.
func (s *PostgresStore) SetArticleModerators(ctx context.Context, articleID string, userIDs []string) ([]string, error) {
	return s.replaceModerators(ctx, "articles", "article_moderators", "article_id", articleID, userIDs)
}

func (s *PostgresStore) replaceModerators(ctx context.Context, ownerTable, table, ownerColumn, ownerID string, userIDs []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s tx: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+ownerTable+` WHERE id=$1)`, ownerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ownerTable, err)
	}
	if !exists {
		return nil, sql.ErrNoRows
	}

	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE `+ownerColumn+`=$1 ORDER BY user_id FOR UPDATE`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	previous := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		previous = append(previous, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+ownerColumn+`=$1`, ownerID); err != nil {
		return nil, fmt.Errorf("clear %s: %w", table, err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (`+ownerColumn+`, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ownerID, userID); err != nil {
			return nil, fmt.Errorf("assign %s: %w", table, translate(err))
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE `+ownerTable+` SET updated_at=NOW() WHERE id=$1`, ownerID); err != nil {
		return nil, fmt.Errorf("touch %s: %w", ownerTable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", table, err)
	}
	return previous, nil
}

// AssignComments adds comment assignments for a moderator. Existing
// assignments are kept.
func (s *PostgresStore) AssignComments(ctx context.Context, userID string, commentIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, commentID := range commentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO moderator_assignments (user_id, comment_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, comment_id) DO NOTHING
		`, userID, commentID); err != nil {
			return fmt.Errorf("assign comment %s: %w", commentID, translate(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTag(ctx context.Context, tag Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, key, label, color, description, is_in_batch_view, in_summary_score, is_taggable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tag.ID, tag.Key, tag.Label, tag.Color, tag.Description, tag.IsInBatchView, tag.InSummaryScore, tag.IsTaggable)
	if err != nil {
		return fmt.Errorf("insert tag: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, tagID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id=$1`, tagID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the addressed record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullable(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
