package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
	"github.com/hitoshi/prodsource/internal/security"
)

// maxNameLength はソース名の最大長。
const maxNameLength = 200

// recentCheckLimit はソース詳細に含める直近チェック履歴の件数。
const recentCheckLimit = 20

// InspectorService はソースURL検査のインターフェース。
type InspectorService interface {
	Inspect(ctx context.Context, inputURL string) (*InspectionResult, error)
}

// CreateInput はソース作成の入力。
type CreateInput struct {
	Name      string
	URL       string
	ProductID *string
}

// UpdateInput はソース更新の入力。
type UpdateInput struct {
	Name      string
	URL       string
	ProductID *string
}

// Service はソース管理のサービス層。
// 登録、一覧取得、更新、削除、検査のビジネスロジックを提供する。
// 全操作は呼び出しユーザーの所有データに限定される。
type Service struct {
	sourceRepo  repository.SourceRepository
	productRepo repository.ProductRepository
	checkRepo   repository.SourceCheckRepository
	inspector   InspectorService
	ssrfGuard   security.SSRFGuardService
	sanitizer   security.TextSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	sourceRepo repository.SourceRepository,
	productRepo repository.ProductRepository,
	checkRepo repository.SourceCheckRepository,
	inspector InspectorService,
	ssrfGuard security.SSRFGuardService,
	sanitizer security.TextSanitizerService,
) *Service {
	return &Service{
		sourceRepo:  sourceRepo,
		productRepo: productRepo,
		checkRepo:   checkRepo,
		inspector:   inspector,
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
	}
}

// List はユーザーのソース一覧をプロダクト概要付きで返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
	sources, err := s.sourceRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	return sources, nil
}

// Get は指定IDのソースと直近のチェック履歴を返す。
// 他ユーザー所有のソースは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, sourceID string) (*model.Source, []*model.SourceCheck, error) {
	source, err := s.findOwned(ctx, userID, sourceID)
	if err != nil {
		return nil, nil, err
	}

	checks, err := s.checkRepo.ListBySourceID(ctx, sourceID, recentCheckLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("チェック履歴の取得に失敗しました: %w", err)
	}

	return source, checks, nil
}

// Create はソースを登録する。
// URLの検証（形式 + SSRF事前チェック）を行い、登録時に検査を実行して
// タイトル・フィードURL・faviconを自動取得する。
// 検査の失敗は登録自体を妨げない（後続の可用性チェックで状態が更新される）。
// 名前が未入力の場合は検査で取得したタイトルを採用する。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Source, error) {
	name, rawURL, err := s.normalizeInput(input.Name, input.URL, true)
	if err != nil {
		return nil, err
	}

	if input.ProductID != nil {
		if err := s.verifyProductOwnership(ctx, userID, *input.ProductID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	src := &model.Source{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		URL:         rawURL,
		ProductID:   input.ProductID,
		CheckStatus: model.CheckStatusUnchecked,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// 登録時の検査: タイトル・フィードURL・faviconを取得
	if s.inspector != nil {
		result, ierr := s.inspector.Inspect(ctx, rawURL)
		if ierr != nil {
			slog.Warn("source inspection failed at registration",
				slog.String("url", rawURL),
				slog.String("error", ierr.Error()),
			)
		} else {
			s.applyInspection(src, result)
		}
	}

	if src.Name == "" {
		return nil, model.NewValidationError("ソース名を入力するか、タイトルを取得できるURLを指定してください")
	}

	if err := s.sourceRepo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}

	return src, nil
}

// Inspect は指定IDのソースを再検査し、検出結果を保存して返す。
// 他ユーザー所有のソースは存在しないものとして扱う。
func (s *Service) Inspect(ctx context.Context, userID, sourceID string) (*model.Source, error) {
	src, err := s.findOwned(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	result, err := s.inspector.Inspect(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	s.applyInspection(src, result)

	if err := s.sourceRepo.UpdateInspection(ctx, src.ID, src.FeedURL, src.FaviconData, src.FaviconMime); err != nil {
		return nil, fmt.Errorf("検査結果の保存に失敗しました: %w", err)
	}

	return src, nil
}

// Update は指定IDのソースを更新する。
// URLが変更された場合はチェック状態をuncheckedに戻し、検出済みの
// フィードURLとfaviconをクリアする。
func (s *Service) Update(ctx context.Context, userID, sourceID string, input UpdateInput) (*model.Source, error) {
	src, err := s.findOwned(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	name, rawURL, err := s.normalizeInput(input.Name, input.URL, false)
	if err != nil {
		return nil, err
	}

	if input.ProductID != nil {
		if err := s.verifyProductOwnership(ctx, userID, *input.ProductID); err != nil {
			return nil, err
		}
	}

	urlChanged := rawURL != src.URL

	src.Name = name
	src.URL = rawURL
	src.ProductID = input.ProductID
	src.UpdatedAt = time.Now()

	if err := s.sourceRepo.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("ソースの更新に失敗しました: %w", err)
	}

	if urlChanged {
		src.CheckStatus = model.CheckStatusUnchecked
		src.LastCheckedAt = nil
		src.ErrorMessage = ""
		src.FeedURL = nil
		src.FaviconData = nil
		src.FaviconMime = ""

		if err := s.sourceRepo.UpdateCheckState(ctx, src); err != nil {
			return nil, fmt.Errorf("チェック状態のリセットに失敗しました: %w", err)
		}
		if err := s.sourceRepo.UpdateInspection(ctx, src.ID, nil, nil, ""); err != nil {
			return nil, fmt.Errorf("検出結果のクリアに失敗しました: %w", err)
		}
	}

	return src, nil
}

// Delete は指定IDのソースを削除する。
// 関連するチェック履歴はCASCADE削除される。
func (s *Service) Delete(ctx context.Context, userID, sourceID string) error {
	if _, err := s.findOwned(ctx, userID, sourceID); err != nil {
		return err
	}

	if err := s.sourceRepo.DeleteByID(ctx, sourceID); err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}

	return nil
}

// findOwned は指定IDのソースを取得し、所有者を照合する。
// 存在しない場合と所有者が異なる場合は同一のNotFoundエラーを返す。
func (s *Service) findOwned(ctx context.Context, userID, sourceID string) (*model.Source, error) {
	source, err := s.sourceRepo.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if source == nil {
		return nil, model.NewSourceNotFoundError(sourceID)
	}
	if source.UserID != userID {
		return nil, model.NewSourceNotFoundError(sourceID)
	}
	return source, nil
}

// verifyProductOwnership は紐付け先プロダクトの所有者を照合する。
func (s *Service) verifyProductOwnership(ctx context.Context, userID, productID string) error {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("プロダクトの取得に失敗しました: %w", err)
	}
	if product == nil || product.UserID != userID {
		return model.NewProductNotFoundError(productID)
	}
	return nil
}

// applyInspection は検査結果をソースに反映する。
// 名前が未設定の場合のみ検出タイトルを採用する。
func (s *Service) applyInspection(src *model.Source, result *InspectionResult) {
	if src.Name == "" && result.Title != "" {
		title := result.Title
		if s.sanitizer != nil {
			title = s.sanitizer.SanitizeText(title)
		}
		src.Name = truncateRunes(title, maxNameLength)
	}
	src.FeedURL = result.FeedURL
	src.FaviconData = result.FaviconData
	src.FaviconMime = result.FaviconMime
}

// normalizeInput は名前とURLをサニタイズ・検証する。
// allowEmptyNameがtrueの場合、名前の空入力を許容する（検査タイトルで補完される）。
func (s *Service) normalizeInput(name, rawURL string, allowEmptyName bool) (string, string, error) {
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeText(name)
	}
	name = strings.TrimSpace(name)
	if name == "" && !allowEmptyName {
		return "", "", model.NewValidationError("ソース名は必須です")
	}
	if len([]rune(name)) > maxNameLength {
		return "", "", model.NewValidationError(fmt.Sprintf("ソース名は%d文字以内で入力してください", maxNameLength))
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", model.NewInvalidURLError("URLは必須です")
	}
	if s.ssrfGuard != nil {
		if err := s.ssrfGuard.ValidateURL(rawURL); err != nil {
			var blockedErr *security.BlockedURLError
			if errors.As(err, &blockedErr) {
				return "", "", model.NewSSRFBlockedError()
			}
			return "", "", model.NewInvalidURLError(err.Error())
		}
	}

	return name, rawURL, nil
}

// truncateRunes は文字列をn文字以内に切り詰める。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
