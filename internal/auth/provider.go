// Package auth はOAuth/OIDC認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"fmt"
)

// TokenSet は認可コードまたはリフレッシュトークンの交換で得られるトークン一式。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int // 秒
	TokenType    string
}

// Claims はuserinfoエンドポイントから取得したユーザークレーム。
// 標準クレーム（sub, name, email）に加えて、プロバイダー名前空間付きの
// 任意クレーム（ロール等）を保持する。
type Claims map[string]any

// Subject はsubクレーム（プロバイダー発行の安定ID）を返す。
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// Email はemailクレームを返す。未設定の場合は空文字列。
func (c Claims) Email() string {
	s, _ := c["email"].(string)
	return s
}

// Name はnameクレームを返す。未設定の場合は空文字列。
func (c Claims) Name() string {
	s, _ := c["name"].(string)
	return s
}

// StringList は指定キーのクレームを文字列リストとして返す。
// クレームが存在しない、またはリストでない場合はnilを返す。
func (c Claims) StringList(key string) []string {
	raw, ok := c[key].([]any)
	if !ok {
		return nil
	}
	var result []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// Provider は外部IdPのトークン・userinfoエンドポイントへのアクセスを抽象化する。
// 実装はローカル状態を持たず、すべての呼び出しはネットワーク往復となる。
type Provider interface {
	// AuthorizeURL は認可エンドポイントのURLを生成する。
	// stateはCSRF対策のワンタイムnonce。
	AuthorizeURL(state string) string

	// ExchangeCode は認可コードをトークン一式に交換する。
	// プロバイダーが非2xxを返した場合は*UpstreamAuthErrorを返す。
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)

	// Refresh はリフレッシュトークンを新しいトークン一式に交換する。
	// 失敗時は*UpstreamAuthErrorを返す。
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// FetchUserInfo はアクセストークンでuserinfoエンドポイントを呼び出す。
	// 非2xxまたは不正なペイロードの場合は*TokenVerificationErrorを返す。
	FetchUserInfo(ctx context.Context, accessToken string) (Claims, error)

	// FetchUserRoles はプロバイダーの管理APIからユーザーのロール名一覧を取得する。
	FetchUserRoles(ctx context.Context, accessToken, subject string) ([]string, error)

	// UpdateUserProfile はプロバイダーの管理APIでユーザープロフィールを更新する。
	UpdateUserProfile(ctx context.Context, accessToken, subject string, updates map[string]any) (Claims, error)

	// LogoutURL はプロバイダーのログアウトエンドポイントのURLを返す。
	LogoutURL() string
}

// UpstreamAuthError はプロバイダーのトークン交換・管理API呼び出しが失敗したことを表す。
// StatusCodeにはプロバイダーが返したHTTPステータスを保持する。
// レスポンスボディはログにのみ記録し、このエラーには含めない。
type UpstreamAuthError struct {
	Operation  string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("upstream auth %s failed with status %d", e.Operation, e.StatusCode)
}

// TokenVerificationError はアクセストークンのuserinfo検証が失敗したことを表す。
// 呼び出し側はこのエラーを「現在のユーザーなし（匿名）」として扱う。
type TokenVerificationError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *TokenVerificationError) Error() string {
	return fmt.Sprintf("token verification failed: %s", e.Reason)
}
