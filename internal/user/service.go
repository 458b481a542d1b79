// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
)

// Profile はユーザープロフィールと所有データ件数を結合したドメインオブジェクト。
type Profile struct {
	User         *model.User
	ProductCount int
	SourceCount  int
}

// Service はユーザー管理のサービス層。
// プロフィール取得・更新と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	sourceRepo  repository.SourceRepository
	provider    auth.Provider
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	sourceRepo repository.SourceRepository,
	provider auth.Provider,
) *Service {
	return &Service{
		userRepo:    userRepo,
		productRepo: productRepo,
		sourceRepo:  sourceRepo,
		provider:    provider,
	}
}

// GetProfile はユーザープロフィールを所有データ件数付きで返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	productCount, err := s.productRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロダクト数の取得に失敗しました: %w", err)
	}

	sourceCount, err := s.sourceRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ソース数の取得に失敗しました: %w", err)
	}

	return &Profile{
		User:         user,
		ProductCount: productCount,
		SourceCount:  sourceCount,
	}, nil
}

// UpdateProfile はユーザーの表示名を更新する。
// プロバイダーの管理APIにPATCHを送信した後、ローカルのusersレコードにも
// 反映する。プロバイダー側の更新が失敗した場合はローカルも更新しない。
func (s *Service) UpdateProfile(ctx context.Context, userID, subject, accessToken, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("表示名は必須です")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	// プロバイダー側を先に更新する
	if s.provider != nil {
		if _, err := s.provider.UpdateUserProfile(ctx, accessToken, subject, map[string]any{"name": name}); err != nil {
			slog.Error("failed to update profile at provider",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewUpstreamAuthError()
		}
	}

	user.Name = name
	user.UpdatedAt = time.Now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sources → products → user（+ CASCADE: identities）
// チェック履歴はソースのCASCADE削除で消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. ソースを削除
	if err := s.sourceRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}

	// 2. プロダクトを削除
	if err := s.productRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("プロダクトの削除に失敗しました: %w", err)
	}

	// 3. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
