package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/prodsource/internal/metrics"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
)

// providerName はidentitiesテーブルに記録するIdP識別子。
const providerName = "auth0"

// InvalidStateError はOAuthコールバックのstateが発行済みnonceと一致しないことを表す。
// 認可コード自体が有効でもコールバックは拒否される。
type InvalidStateError struct{}

// Error はerrorインターフェースを実装する。
func (e *InvalidStateError) Error() string {
	return "oauth callback state does not match issued nonce"
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// RolesClaim はuserinfoクレーム内のロールリストのキー。
	// Auth0の場合はプロバイダー名前空間付きキー（https://{domain}/roles）。
	RolesClaim string
	// AdminRole はRolesClaimのリストに含まれていれば管理者とみなすロール名。
	AdminRole string
}

// Service は認証・セッションライフサイクルのビジネスロジックを提供する。
//
// セッションは4状態の遷移として扱う:
// 匿名 → 認証中（nonce発行済み） → 認証済み → 期限切れ/リフレッシュ中。
// 管理者フラグはログイン・リフレッシュ時にのみ計算してセッションに
// キャッシュし、リクエストごとには再導出しない。
type Service struct {
	provider  Provider
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	collector metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。collectorはnilでもよい。
func NewService(
	provider Provider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		provider:  provider,
		userRepo:  userRepo,
		identRepo: identRepo,
		collector: collector,
		config:    config,
	}
}

// BeginLogin はログインフローを開始する。
// ワンタイムnonceを生成し、それを保持する認証中セッションレコードと
// 認可エンドポイントへのリダイレクト先URLを返す。
func (s *Service) BeginLogin() (SessionRecord, string, error) {
	state, err := generateState()
	if err != nil {
		return SessionRecord{}, "", fmt.Errorf("failed to generate login state: %w", err)
	}

	record := SessionRecord{LoginState: state}
	return record, s.provider.AuthorizeURL(state), nil
}

// CompleteLogin はOAuthコールバックを処理する。
// stateが発行済みnonceと完全一致しない場合は*InvalidStateErrorを返す。
// 成功時は認可コードをトークンに交換し、userinfoでクレームを取得、
// 管理者フラグを計算し、ローカルユーザーを確保（未登録なら自動作成）した上で、
// nonceをクリアした新しいセッションレコードを返す。
func (s *Service) CompleteLogin(ctx context.Context, record SessionRecord, code, state string) (SessionRecord, *model.User, error) {
	if state == "" || record.LoginState == "" || state != record.LoginState {
		s.recordLoginFailure("invalid_state")
		return SessionRecord{}, nil, &InvalidStateError{}
	}

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.recordLoginFailure("code_exchange")
		return SessionRecord{}, nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	claims, err := s.provider.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		s.recordLoginFailure("userinfo")
		return SessionRecord{}, nil, fmt.Errorf("failed to verify user after login: %w", err)
	}

	user, err := s.ensureLocalUser(ctx, claims)
	if err != nil {
		s.recordLoginFailure("provision")
		return SessionRecord{}, nil, err
	}

	if s.collector != nil {
		s.collector.RecordLoginSuccess()
	}
	return s.buildRecord(ctx, tokens, claims), user, nil
}

// CurrentUser はセッションレコードのアクセストークンをuserinfoで検証し、
// 検証済みクレームを返す。トークンが存在しない、または検証に失敗した場合は
// nilを返す（エラーにはしない）。呼び出し側は匿名として扱う。
func (s *Service) CurrentUser(ctx context.Context, record SessionRecord) Claims {
	if record.IsAnonymous() {
		return nil
	}

	claims, err := s.provider.FetchUserInfo(ctx, record.AccessToken)
	if err != nil {
		var verr *TokenVerificationError
		if !errors.As(err, &verr) {
			slog.Error("unexpected error verifying access token", slog.String("error", err.Error()))
		}
		return nil
	}
	return claims
}

// UserAndAdminStatus は検証済みクレームとセッションにキャッシュされた
// 管理者フラグを返す。有効なアクセストークンがない場合は(nil, false)を返す。
// フラグはログイン・リフレッシュ時の値であり、ここでは再計算しない。
func (s *Service) UserAndAdminStatus(ctx context.Context, record SessionRecord) (Claims, bool) {
	claims := s.CurrentUser(ctx, record)
	if claims == nil {
		return nil, false
	}
	return claims, record.IsAdmin
}

// Refresh はリフレッシュトークンで新しいトークン一式を取得し、
// クレームの再検証と管理者フラグの再計算を行った新レコードを返す。
// リフレッシュトークンがない場合は(nil, nil)を返す。
// 交換や再検証に失敗した場合はエラーを返し、呼び出し側は完全ログアウトに
// フォールバックする（中途半端なセッションを残さない）。
func (s *Service) Refresh(ctx context.Context, record SessionRecord) (*SessionRecord, error) {
	if record.RefreshToken == "" {
		return nil, nil
	}

	tokens, err := s.provider.Refresh(ctx, record.RefreshToken)
	if err != nil {
		s.recordTokenRefresh(false)
		return nil, fmt.Errorf("failed to refresh tokens: %w", err)
	}

	claims, err := s.provider.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		s.recordTokenRefresh(false)
		return nil, fmt.Errorf("failed to verify user after token refresh: %w", err)
	}

	// リフレッシュ側がリフレッシュトークンを返さないプロバイダーでは既存値を引き継ぐ
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = record.RefreshToken
	}

	s.recordTokenRefresh(true)
	newRecord := s.buildRecord(ctx, tokens, claims)
	return &newRecord, nil
}

// recordLoginFailure はログイン失敗メトリクスを記録する。
func (s *Service) recordLoginFailure(reason string) {
	if s.collector != nil {
		s.collector.RecordLoginFailure(reason)
	}
}

// recordTokenRefresh はトークンリフレッシュの結果メトリクスを記録する。
func (s *Service) recordTokenRefresh(success bool) {
	if s.collector != nil {
		s.collector.RecordTokenRefresh(success)
	}
}

// LogoutURL はプロバイダーのログアウトエンドポイントのURLを返す。
func (s *Service) LogoutURL() string {
	return s.provider.LogoutURL()
}

// ResolveLocalUser はsubjectからidentities経由でローカルユーザーを解決する。
// 見つからない場合はnilを返す。
func (s *Service) ResolveLocalUser(ctx context.Context, subject string) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, providerName, subject)
	if err != nil {
		return nil, fmt.Errorf("identityの検索に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// IsAdmin は検証済みクレームのロールリストから管理者かどうかを判定する。
// RolesClaimのリストにAdminRoleが含まれる場合のみtrue。
// 特定メールアドレスによる特別扱いは行わない。
func (s *Service) IsAdmin(claims Claims) bool {
	roles := claims.StringList(s.config.RolesClaim)
	for _, role := range roles {
		if role == s.config.AdminRole {
			return true
		}
	}
	return false
}

// adminStatus はログイン・リフレッシュ時の管理者フラグを計算する。
// userinfoのクレームにロールクレームが含まれないテナント設定では
// 管理APIのロール一覧取得にフォールバックする。取得に失敗した場合は
// 非管理者として扱う（失敗を昇格方向に倒さない）。
func (s *Service) adminStatus(ctx context.Context, accessToken string, claims Claims) bool {
	if _, ok := claims[s.config.RolesClaim]; ok {
		return s.IsAdmin(claims)
	}

	roles, err := s.provider.FetchUserRoles(ctx, accessToken, claims.Subject())
	if err != nil {
		slog.Warn("failed to fetch roles from management API",
			slog.String("subject", claims.Subject()),
			slog.String("error", err.Error()),
		)
		return false
	}
	for _, role := range roles {
		if role == s.config.AdminRole {
			return true
		}
	}
	return false
}

// buildRecord はトークン一式と検証済みクレームからセッションレコードを構築する。
// nonceはクリアされた状態で返る。
func (s *Service) buildRecord(ctx context.Context, tokens *TokenSet, claims Claims) SessionRecord {
	return SessionRecord{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second).UnixMilli(),
		Subject:      claims.Subject(),
		IsAdmin:      s.adminStatus(ctx, tokens.AccessToken, claims),
	}
}

// ensureLocalUser はクレームに対応するローカルユーザーを確保する。
// identitiesテーブルで既存ユーザーを検索し、未登録の場合は
// usersレコードとidentitiesレコードを同一トランザクションで自動作成する。
func (s *Service) ensureLocalUser(ctx context.Context, claims Claims) (*model.User, error) {
	subject := claims.Subject()

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, providerName, subject)
	if err != nil {
		return nil, fmt.Errorf("identityの検索に失敗しました: %w", err)
	}

	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("subject", subject),
		)
		return user, nil
	}

	now := time.Now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     claims.Email(),
		Name:      claims.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       providerName,
		ProviderUserID: subject,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		return nil, fmt.Errorf("ユーザーとidentityの作成に失敗しました: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
		slog.String("subject", subject),
	)

	return newUser, nil
}

// generateState はCSRF対策用の暗号的に安全なワンタイムnonceを生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
