// Package admin は管理画面向けの横断参照・管理ロジックを提供する。
package admin

import (
	"context"
	"fmt"

	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
)

// pageSize は管理画面一覧の1ページあたりの件数。
const pageSize = 10

// Page はページネーション情報。
type Page struct {
	CurrentPage int
	TotalPages  int
	TotalCount  int
}

// Service は管理者専用のサービス層。
// 全ユーザーのデータを所有者スコープなしで一覧・参照・削除する。
// 呼び出し側のミドルウェアが管理者であることを保証している前提。
type Service struct {
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	sourceRepo  repository.SourceRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	sourceRepo repository.SourceRepository,
) *Service {
	return &Service{
		userRepo:    userRepo,
		productRepo: productRepo,
		sourceRepo:  sourceRepo,
	}
}

// ListUsers は全ユーザーを所有データ件数付きでページ単位に返す。
// pageは1始まり。範囲外のページは空リストを返す。
func (s *Service) ListUsers(ctx context.Context, page int) ([]model.UserWithCounts, *Page, error) {
	page = normalizePage(page)

	total, err := s.userRepo.CountAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザー総数の取得に失敗しました: %w", err)
	}

	users, err := s.userRepo.ListWithCounts(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	return users, buildPage(page, total), nil
}

// ListProducts は全プロダクトを所有者メール付きでページ単位に返す。
func (s *Service) ListProducts(ctx context.Context, page int) ([]model.ProductWithDetails, *Page, error) {
	page = normalizePage(page)

	total, err := s.productRepo.CountAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("プロダクト総数の取得に失敗しました: %w", err)
	}

	products, err := s.productRepo.ListAllWithDetails(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("プロダクト一覧の取得に失敗しました: %w", err)
	}

	return products, buildPage(page, total), nil
}

// ListSources は全ソースを所有者メール付きでページ単位に返す。
func (s *Service) ListSources(ctx context.Context, page int) ([]model.SourceWithDetails, *Page, error) {
	page = normalizePage(page)

	total, err := s.sourceRepo.CountAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ソース総数の取得に失敗しました: %w", err)
	}

	sources, err := s.sourceRepo.ListAllWithDetails(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}

	return sources, buildPage(page, total), nil
}

// UserDetails は管理画面のユーザー詳細。所有データの一覧を含む。
type UserDetails struct {
	User     *model.User
	Products []*model.Product
	Sources  []model.SourceWithProduct
}

// GetUser は指定ユーザーの詳細を所有プロダクト・ソース一覧付きで返す。
// 見つからない場合はUSER_NOT_FOUNDを返す。
func (s *Service) GetUser(ctx context.Context, userID string) (*UserDetails, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	products, err := s.productRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロダクト一覧の取得に失敗しました: %w", err)
	}

	sources, err := s.sourceRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}

	return &UserDetails{User: user, Products: products, Sources: sources}, nil
}

// DeleteUser は指定ユーザーを削除する。
// 関連するidentities、products、sourcesはCASCADE削除される。
// 見つからない場合はUSER_NOT_FOUNDを返す。
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteProduct は所有者スコープなしで指定プロダクトを削除する。
// 紐付くソースのproduct_idはSET NULLされる。
func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("プロダクトの取得に失敗しました: %w", err)
	}
	if product == nil {
		return model.NewProductNotFoundError(productID)
	}

	if err := s.productRepo.DeleteByID(ctx, productID); err != nil {
		return fmt.Errorf("プロダクトの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteSource は所有者スコープなしで指定ソースを削除する。
// 関連するチェック履歴はCASCADE削除される。
func (s *Service) DeleteSource(ctx context.Context, sourceID string) error {
	src, err := s.sourceRepo.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return model.NewSourceNotFoundError(sourceID)
	}

	if err := s.sourceRepo.DeleteByID(ctx, sourceID); err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	return nil
}

// normalizePage は不正なページ番号を1に丸める。
func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// buildPage はページネーション情報を構築する。
func buildPage(page, total int) *Page {
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return &Page{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
	}
}
