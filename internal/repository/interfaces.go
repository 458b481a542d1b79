// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// Update はユーザーのプロフィール（email, name）を更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、products、sourcesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// ListWithCounts は全ユーザーを所有データ件数付きで取得する（管理画面向け）。
	// created_at降順でoffsetベースページネーションを使用する。
	ListWithCounts(ctx context.Context, limit, offset int) ([]model.UserWithCounts, error)

	// CountAll は全ユーザー数を返す。
	CountAll(ctx context.Context) (int, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// ProductRepository はプロダクトデータの永続化インターフェース。
type ProductRepository interface {
	// FindByID は指定IDのプロダクトを取得する。見つからない場合はnilを返す。
	// 所有者チェックは行わない。呼び出し側のサービス層がUserIDを照合する。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// ListByUserID はユーザーのプロダクト一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Product, error)

	// CountByUserID はユーザーのプロダクト数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create はプロダクトを作成する。
	Create(ctx context.Context, product *model.Product) error

	// Update はプロダクトのname, link, updated_atを更新する。
	Update(ctx context.Context, product *model.Product) error

	// DeleteByID は指定IDのプロダクトを削除する。
	// 紐付くソースのproduct_idはSET NULLされる。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全プロダクトを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// ListAllWithDetails は全プロダクトを所有者メールとソース数付きで取得する（管理画面向け）。
	// created_at降順でoffsetベースページネーションを使用する。
	ListAllWithDetails(ctx context.Context, limit, offset int) ([]model.ProductWithDetails, error)

	// CountAll は全プロダクト数を返す。
	CountAll(ctx context.Context) (int, error)
}

// SourceRepository はソースデータの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	// 所有者チェックは行わない。呼び出し側のサービス層がUserIDを照合する。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// ListByUserID はユーザーのソース一覧をプロダクト概要付き・created_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.SourceWithProduct, error)

	// ListByProductID はプロダクトに紐付くソース一覧を返す。
	ListByProductID(ctx context.Context, productID string) ([]*model.Source, error)

	// CountByUserID はユーザーのソース数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.Source) error

	// Update はソースのname, url, product_id, updated_atを更新する。
	Update(ctx context.Context, source *model.Source) error

	// UpdateInspection は検査で取得したfeed_url、faviconデータを更新する。
	UpdateInspection(ctx context.Context, sourceID string, feedURL *string, faviconData []byte, faviconMime string) error

	// UpdateCheckState はソースの可用性チェック状態を更新する。
	// check_status、last_checked_at、error_messageを更新する。
	UpdateCheckState(ctx context.Context, source *model.Source) error

	// ListDueForCheck はチェック対象のソースを取得する。
	// last_checked_atがNULLまたはinterval以上前のソースを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForCheck(ctx context.Context, interval time.Duration) ([]*model.Source, error)

	// DeleteByID は指定IDのソースを削除する。
	// 関連するsource_checksはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全ソースを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// ListAllWithDetails は全ソースを所有者メール付きで取得する（管理画面向け）。
	// created_at降順でoffsetベースページネーションを使用する。
	ListAllWithDetails(ctx context.Context, limit, offset int) ([]model.SourceWithDetails, error)

	// CountAll は全ソース数を返す。
	CountAll(ctx context.Context) (int, error)
}

// SourceCheckRepository は可用性チェック履歴の永続化インターフェース。
type SourceCheckRepository interface {
	// Create はチェック履歴を1件記録する。
	Create(ctx context.Context, check *model.SourceCheck) error

	// ListBySourceID はソースのチェック履歴をchecked_at降順で最大limit件返す。
	ListBySourceID(ctx context.Context, sourceID string, limit int) ([]*model.SourceCheck, error)

	// DeleteOlderThan は指定時刻より古いチェック履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
