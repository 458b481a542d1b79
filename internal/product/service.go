// Package product はプロダクト管理のドメインロジックを提供する。
package product

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
	"github.com/hitoshi/prodsource/internal/security"
)

// maxNameLength はプロダクト名の最大長。
const maxNameLength = 200

// Service はプロダクト管理のサービス層。
// 一覧取得、作成、更新、削除のビジネスロジックを提供する。
// 全操作は呼び出しユーザーの所有データに限定される。
type Service struct {
	productRepo repository.ProductRepository
	sourceRepo  repository.SourceRepository
	sanitizer   security.TextSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	productRepo repository.ProductRepository,
	sourceRepo repository.SourceRepository,
	sanitizer security.TextSanitizerService,
) *Service {
	return &Service{
		productRepo: productRepo,
		sourceRepo:  sourceRepo,
		sanitizer:   sanitizer,
	}
}

// List はユーザーのプロダクト一覧をcreated_at降順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Product, error) {
	products, err := s.productRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロダクト一覧の取得に失敗しました: %w", err)
	}
	return products, nil
}

// Get は指定IDのプロダクトと紐付くソース一覧を返す。
// 他ユーザー所有のプロダクトは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, productID string) (*model.Product, []*model.Source, error) {
	product, err := s.findOwned(ctx, userID, productID)
	if err != nil {
		return nil, nil, err
	}

	sources, err := s.sourceRepo.ListByProductID(ctx, productID)
	if err != nil {
		return nil, nil, fmt.Errorf("紐付けソースの取得に失敗しました: %w", err)
	}

	return product, sources, nil
}

// Create はプロダクトを作成する。
// 名前は必須で、サニタイズ後に空になった場合もエラーとなる。
// linkは任意だが、指定する場合はhttp/httpsのURLでなければならない。
func (s *Service) Create(ctx context.Context, userID, name, link string) (*model.Product, error) {
	name, link, err := s.normalizeInput(name, link)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	product := &model.Product{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Link:      link,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("プロダクトの作成に失敗しました: %w", err)
	}

	return product, nil
}

// Update は指定IDのプロダクトの名前とリンクを更新する。
// 他ユーザー所有のプロダクトは存在しないものとして扱う。
func (s *Service) Update(ctx context.Context, userID, productID, name, link string) (*model.Product, error) {
	product, err := s.findOwned(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	name, link, err = s.normalizeInput(name, link)
	if err != nil {
		return nil, err
	}

	product.Name = name
	product.Link = link
	product.UpdatedAt = time.Now()

	if err := s.productRepo.Update(ctx, product); err != nil {
		return nil, fmt.Errorf("プロダクトの更新に失敗しました: %w", err)
	}

	return product, nil
}

// Delete は指定IDのプロダクトを削除する。
// 紐付くソースは削除されず、プロダクトとの関連のみが解除される。
func (s *Service) Delete(ctx context.Context, userID, productID string) error {
	if _, err := s.findOwned(ctx, userID, productID); err != nil {
		return err
	}

	if err := s.productRepo.DeleteByID(ctx, productID); err != nil {
		return fmt.Errorf("プロダクトの削除に失敗しました: %w", err)
	}

	return nil
}

// findOwned は指定IDのプロダクトを取得し、所有者を照合する。
// 存在しない場合と所有者が異なる場合は同一のNotFoundエラーを返す。
func (s *Service) findOwned(ctx context.Context, userID, productID string) (*model.Product, error) {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("プロダクトの取得に失敗しました: %w", err)
	}
	if product == nil {
		return nil, model.NewProductNotFoundError(productID)
	}
	if product.UserID != userID {
		return nil, model.NewProductNotFoundError(productID)
	}
	return product, nil
}

// normalizeInput は名前とリンクをサニタイズ・検証する。
func (s *Service) normalizeInput(name, link string) (string, string, error) {
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeText(name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", model.NewValidationError("プロダクト名は必須です")
	}
	if len([]rune(name)) > maxNameLength {
		return "", "", model.NewValidationError(fmt.Sprintf("プロダクト名は%d文字以内で入力してください", maxNameLength))
	}

	link = strings.TrimSpace(link)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", "", model.NewInvalidURLError("リンクはhttp/httpsのURLを指定してください")
		}
	}

	return name, link, nil
}
