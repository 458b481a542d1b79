// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証情報を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal は認証済みリクエストの主体を表す。
// セッションミドルウェアがコンテキストに注入する。
type Principal struct {
	UserID      string
	Subject     string
	Email       string
	Name        string
	IsAdmin     bool
	AccessToken string
}

// SessionCodec はセッションCookieの読み書きインターフェース。
// auth.SessionCodecの部分集合として定義する。
type SessionCodec interface {
	ReadRecord(r *http.Request) auth.SessionRecord
	WriteCookie(record auth.SessionRecord) (*http.Cookie, error)
	ClearCookie() *http.Cookie
}

// SessionService はセッション検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionService interface {
	UserAndAdminStatus(ctx context.Context, record auth.SessionRecord) (auth.Claims, bool)
	Refresh(ctx context.Context, record auth.SessionRecord) (*auth.SessionRecord, error)
	ResolveLocalUser(ctx context.Context, subject string) (*model.User, error)
}

// NewSessionMiddleware は署名付きCookieからセッションレコードを読み取り、
// アクセストークンを検証して認証情報をコンテキストに注入するミドルウェアを返す。
//
// このミドルウェア自体はリクエストを拒否しない。検証に失敗したリクエストは
// 匿名として後続に渡し、拒否の判断はRequireUser / RequireAdminが行う。
//
// アクセストークンが期限切れの場合はリフレッシュトークンで更新を試み、
// 成功時は新しいCookieを発行する。リフレッシュに失敗した場合はCookieを
// クリアして完全ログアウトにフォールバックする（中途半端なセッションを残さない）。
func NewSessionMiddleware(codec SessionCodec, sessions SessionService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			record := codec.ReadRecord(r)
			if record.IsAnonymous() {
				next.ServeHTTP(w, r)
				return
			}

			claims, isAdmin := sessions.UserAndAdminStatus(r.Context(), record)
			if claims == nil {
				// トークンが無効: リフレッシュを1回だけ試みる
				newRecord, err := sessions.Refresh(r.Context(), record)
				if err != nil || newRecord == nil {
					if err != nil {
						slog.Info("token refresh failed, logging out",
							slog.String("error", err.Error()),
						)
					}
					http.SetCookie(w, codec.ClearCookie())
					next.ServeHTTP(w, r)
					return
				}

				record = *newRecord
				claims, isAdmin = sessions.UserAndAdminStatus(r.Context(), record)
				if claims == nil {
					http.SetCookie(w, codec.ClearCookie())
					next.ServeHTTP(w, r)
					return
				}

				cookie, cerr := codec.WriteCookie(record)
				if cerr != nil {
					slog.Error("failed to encode refreshed session", slog.String("error", cerr.Error()))
					http.SetCookie(w, codec.ClearCookie())
					next.ServeHTTP(w, r)
					return
				}
				http.SetCookie(w, cookie)
			}

			user, err := sessions.ResolveLocalUser(r.Context(), claims.Subject())
			if err != nil {
				slog.Error("failed to resolve local user",
					slog.String("subject", claims.Subject()),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if user == nil {
				// identityが存在しない: ログインフローを経ていないトークン
				next.ServeHTTP(w, r)
				return
			}

			principal := &Principal{
				UserID:      user.ID,
				Subject:     claims.Subject(),
				Email:       user.Email,
				Name:        user.Name,
				IsAdmin:     isAdmin,
				AccessToken: record.AccessToken,
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser は認証済みユーザーを必須とするミドルウェアを返す。
// 未認証リクエストには401と統一エラーフォーマットを返す。
func RequireUser() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := PrincipalFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin は管理者を必須とするミドルウェアを返す。
// 未認証には401、認証済みだが管理者でない場合は403と統一エラーフォーマットを返す。
// 判定にはセッションにキャッシュされた管理者フラグを使用する。
func RequireAdmin() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !principal.IsAdmin {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証情報を取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || principal == nil || principal.UserID == "" {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	principal, err := PrincipalFromContext(ctx)
	if err != nil {
		return "", err
	}
	return principal.UserID, nil
}

// ContextWithPrincipal はコンテキストに認証情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
