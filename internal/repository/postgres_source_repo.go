package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, user_id, name, url, product_id, feed_url,
	        favicon_data, favicon_mime, check_status, last_checked_at,
	        error_message, created_at, updated_at`

// scanSource は1行分のソースレコードを読み取る。
func scanSource(scan func(dest ...any) error) (*model.Source, error) {
	source := &model.Source{}
	var productID, feedURL, faviconMime, errorMessage sql.NullString
	var lastCheckedAt sql.NullTime

	if err := scan(
		&source.ID, &source.UserID, &source.Name, &source.URL,
		&productID, &feedURL,
		&source.FaviconData, &faviconMime, &source.CheckStatus, &lastCheckedAt,
		&errorMessage, &source.CreatedAt, &source.UpdatedAt,
	); err != nil {
		return nil, err
	}

	source.ProductID = nullStringPtr(productID)
	source.FeedURL = nullStringPtr(feedURL)
	source.FaviconMime = nullStringValue(faviconMime)
	source.ErrorMessage = nullStringValue(errorMessage)
	if lastCheckedAt.Valid {
		t := lastCheckedAt.Time
		source.LastCheckedAt = &t
	}

	return source, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`,
		id,
	)
	source, err := scanSource(row.Scan)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}

	return source, nil
}

// ListByUserID はユーザーのソース一覧をプロダクト概要付き・created_at降順で返す。
func (r *PostgresSourceRepo) ListByUserID(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.name, s.url, s.product_id, s.feed_url,
		        s.favicon_data, s.favicon_mime, s.check_status, s.last_checked_at,
		        s.error_message, s.created_at, s.updated_at,
		        p.name, p.link
		 FROM sources s
		 LEFT JOIN products p ON p.id = s.product_id
		 WHERE s.user_id = $1
		 ORDER BY s.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []model.SourceWithProduct
	for rows.Next() {
		var sp model.SourceWithProduct
		var productID, feedURL, faviconMime, errorMessage sql.NullString
		var productName, productLink sql.NullString
		var lastCheckedAt sql.NullTime

		if err := rows.Scan(
			&sp.ID, &sp.UserID, &sp.Name, &sp.URL, &productID, &feedURL,
			&sp.FaviconData, &faviconMime, &sp.CheckStatus, &lastCheckedAt,
			&errorMessage, &sp.CreatedAt, &sp.UpdatedAt,
			&productName, &productLink,
		); err != nil {
			return nil, fmt.Errorf("ソース一覧の読み取りに失敗しました: %w", err)
		}

		sp.ProductID = nullStringPtr(productID)
		sp.FeedURL = nullStringPtr(feedURL)
		sp.FaviconMime = nullStringValue(faviconMime)
		sp.ErrorMessage = nullStringValue(errorMessage)
		if lastCheckedAt.Valid {
			t := lastCheckedAt.Time
			sp.LastCheckedAt = &t
		}
		sp.ProductName = nullStringPtr(productName)
		sp.ProductLink = nullStringPtr(productLink)

		sources = append(sources, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}

	return sources, nil
}

// ListByProductID はプロダクトに紐付くソース一覧を返す。
func (r *PostgresSourceRepo) ListByProductID(ctx context.Context, productID string) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE product_id = $1 ORDER BY created_at DESC`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("プロダクト紐付けソースの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("プロダクト紐付けソースの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロダクト紐付けソースの走査に失敗しました: %w", err)
	}

	return sources, nil
}

// CountByUserID はユーザーのソース数を返す。
func (r *PostgresSourceRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ソース数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create はソースを作成する。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (id, user_id, name, url, product_id, feed_url,
		                      favicon_data, favicon_mime, check_status, last_checked_at,
		                      error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		source.ID, source.UserID, source.Name, source.URL,
		ptrNullString(source.ProductID), ptrNullString(source.FeedURL),
		source.FaviconData, nullString(source.FaviconMime),
		source.CheckStatus, source.LastCheckedAt,
		nullString(source.ErrorMessage), source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はソースのname, url, product_id, updated_atを更新する。
func (r *PostgresSourceRepo) Update(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET name = $2, url = $3, product_id = $4, updated_at = $5 WHERE id = $1`,
		source.ID, source.Name, source.URL, ptrNullString(source.ProductID), source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ソースの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateInspection は検査で取得したfeed_url、faviconデータを更新する。
func (r *PostgresSourceRepo) UpdateInspection(ctx context.Context, sourceID string, feedURL *string, faviconData []byte, faviconMime string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET feed_url = $2, favicon_data = $3, favicon_mime = $4, updated_at = now() WHERE id = $1`,
		sourceID, ptrNullString(feedURL), faviconData, nullString(faviconMime),
	)
	if err != nil {
		return fmt.Errorf("検査結果の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateCheckState はソースの可用性チェック状態を更新する。
func (r *PostgresSourceRepo) UpdateCheckState(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    check_status = $2,
		    last_checked_at = $3,
		    error_message = $4,
		    updated_at = now()
		 WHERE id = $1`,
		source.ID,
		source.CheckStatus,
		source.LastCheckedAt,
		nullString(source.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("チェック状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListDueForCheck はチェック対象のソースを取得する。
// last_checked_atがNULLまたはinterval以上前のソースを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresSourceRepo) ListDueForCheck(ctx context.Context, interval time.Duration) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+`
		 FROM sources
		 WHERE last_checked_at IS NULL
		    OR last_checked_at <= now() - $1::interval
		 ORDER BY last_checked_at ASC NULLS FIRST
		 FOR UPDATE SKIP LOCKED`,
		fmt.Sprintf("%d seconds", int(interval.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("チェック対象ソースの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("チェック対象ソースの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チェック対象ソースの走査に失敗しました: %w", err)
	}

	return sources, nil
}

// DeleteByID は指定IDのソースを削除する。
// 関連するsource_checksはCASCADE削除される。
func (r *PostgresSourceRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sources WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// DeleteByUserID はユーザーの全ソースを削除する。
func (r *PostgresSourceRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sources WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーのソース削除に失敗しました: %w", err)
	}
	return nil
}

// ListAllWithDetails は全ソースを所有者メール付きで取得する（管理画面向け）。
func (r *PostgresSourceRepo) ListAllWithDetails(ctx context.Context, limit, offset int) ([]model.SourceWithDetails, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.name, s.url, s.product_id, s.feed_url,
		        s.favicon_data, s.favicon_mime, s.check_status, s.last_checked_at,
		        s.error_message, s.created_at, s.updated_at,
		        u.email
		 FROM sources s
		 JOIN users u ON u.id = s.user_id
		 ORDER BY s.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧（管理）の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []model.SourceWithDetails
	for rows.Next() {
		var sd model.SourceWithDetails
		var productID, feedURL, faviconMime, errorMessage sql.NullString
		var lastCheckedAt sql.NullTime

		if err := rows.Scan(
			&sd.ID, &sd.UserID, &sd.Name, &sd.URL, &productID, &feedURL,
			&sd.FaviconData, &faviconMime, &sd.CheckStatus, &lastCheckedAt,
			&errorMessage, &sd.CreatedAt, &sd.UpdatedAt,
			&sd.OwnerEmail,
		); err != nil {
			return nil, fmt.Errorf("ソース一覧（管理）の読み取りに失敗しました: %w", err)
		}

		sd.ProductID = nullStringPtr(productID)
		sd.FeedURL = nullStringPtr(feedURL)
		sd.FaviconMime = nullStringValue(faviconMime)
		sd.ErrorMessage = nullStringValue(errorMessage)
		if lastCheckedAt.Valid {
			t := lastCheckedAt.Time
			sd.LastCheckedAt = &t
		}

		sources = append(sources, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧（管理）の走査に失敗しました: %w", err)
	}

	return sources, nil
}

// CountAll は全ソース数を返す。
func (r *PostgresSourceRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ソース総数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullStringPtr はsql.NullStringを*stringに変換する。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ptrNullString は*stringをsql.NullStringに変換する。
func ptrNullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
