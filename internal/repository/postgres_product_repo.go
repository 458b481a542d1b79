package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/prodsource/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用したプロダクトリポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindByID は指定IDのプロダクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	product := &model.Product{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, link, created_at, updated_at FROM products WHERE id = $1`,
		id,
	).Scan(&product.ID, &product.UserID, &product.Name, &product.Link, &product.CreatedAt, &product.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	return product, nil
}

// ListByUserID はユーザーのプロダクト一覧をcreated_at降順で返す。
func (r *PostgresProductRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, link, created_at, updated_at
		 FROM products
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		product := &model.Product{}
		if err := rows.Scan(&product.ID, &product.UserID, &product.Name, &product.Link, &product.CreatedAt, &product.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", err)
	}

	return products, nil
}

// CountByUserID はユーザーのプロダクト数を返す。
func (r *PostgresProductRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// Create はプロダクトを作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, product *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, user_id, name, link, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		product.ID, product.UserID, product.Name, product.Link, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// Update はプロダクトのname, link, updated_atを更新する。
func (r *PostgresProductRepo) Update(ctx context.Context, product *model.Product) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET name = $1, link = $2, updated_at = $3 WHERE id = $4`,
		product.Name, product.Link, product.UpdatedAt, product.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product not found: %s", product.ID)
	}
	return nil
}

// DeleteByID は指定IDのプロダクトを削除する。
// 紐付くソースのproduct_idはSET NULLされる。
func (r *PostgresProductRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM products WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product not found: %s", id)
	}
	return nil
}

// DeleteByUserID はユーザーの全プロダクトを削除する。
func (r *PostgresProductRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM products WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete products by user: %w", err)
	}
	return nil
}

// ListAllWithDetails は全プロダクトを所有者メールとソース数付きで取得する（管理画面向け）。
func (r *PostgresProductRepo) ListAllWithDetails(ctx context.Context, limit, offset int) ([]model.ProductWithDetails, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.name, p.link, p.created_at, p.updated_at,
		        u.email,
		        COALESCE(s.cnt, 0) AS source_count
		 FROM products p
		 JOIN users u ON u.id = p.user_id
		 LEFT JOIN (SELECT product_id, COUNT(*) AS cnt FROM sources WHERE product_id IS NOT NULL GROUP BY product_id) s ON s.product_id = p.id
		 ORDER BY p.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products with details: %w", err)
	}
	defer rows.Close()

	var products []model.ProductWithDetails
	for rows.Next() {
		var p model.ProductWithDetails
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Link, &p.CreatedAt, &p.UpdatedAt, &p.OwnerEmail, &p.SourceCount); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", err)
	}

	return products, nil
}

// CountAll は全プロダクト数を返す。
func (r *PostgresProductRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
