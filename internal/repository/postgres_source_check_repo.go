package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
)

// PostgresSourceCheckRepo はPostgreSQLを使用したチェック履歴リポジトリ。
type PostgresSourceCheckRepo struct {
	db *sql.DB
}

// NewPostgresSourceCheckRepo はPostgresSourceCheckRepoを生成する。
func NewPostgresSourceCheckRepo(db *sql.DB) *PostgresSourceCheckRepo {
	return &PostgresSourceCheckRepo{db: db}
}

// Create はチェック履歴を1件記録する。
func (r *PostgresSourceCheckRepo) Create(ctx context.Context, check *model.SourceCheck) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO source_checks (id, source_id, checked_at, ok, http_status, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		check.ID, check.SourceID, check.CheckedAt, check.OK, check.HTTPStatus, nullString(check.Error),
	)
	if err != nil {
		return fmt.Errorf("チェック履歴の記録に失敗しました: %w", err)
	}
	return nil
}

// ListBySourceID はソースのチェック履歴をchecked_at降順で最大limit件返す。
func (r *PostgresSourceCheckRepo) ListBySourceID(ctx context.Context, sourceID string, limit int) ([]*model.SourceCheck, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_id, checked_at, ok, http_status, error
		 FROM source_checks
		 WHERE source_id = $1
		 ORDER BY checked_at DESC
		 LIMIT $2`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("チェック履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var checks []*model.SourceCheck
	for rows.Next() {
		check := &model.SourceCheck{}
		var errMsg sql.NullString
		if err := rows.Scan(&check.ID, &check.SourceID, &check.CheckedAt, &check.OK, &check.HTTPStatus, &errMsg); err != nil {
			return nil, fmt.Errorf("チェック履歴の読み取りに失敗しました: %w", err)
		}
		check.Error = nullStringValue(errMsg)
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チェック履歴の走査に失敗しました: %w", err)
	}

	return checks, nil
}

// DeleteOlderThan は指定時刻より古いチェック履歴を削除し、削除件数を返す。
func (r *PostgresSourceCheckRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM source_checks WHERE checked_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("チェック履歴の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SourceCheckRepository = (*PostgresSourceCheckRepo)(nil)
