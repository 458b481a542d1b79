// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// BeginLogin はnonce入りの認証中レコードと認可エンドポイントURLを返す。
	BeginLogin() (auth.SessionRecord, string, error)
	// CompleteLogin はOAuthコールバックを処理し、新しいセッションレコードを返す。
	CompleteLogin(ctx context.Context, record auth.SessionRecord, code, state string) (auth.SessionRecord, *model.User, error)
	// Refresh はリフレッシュトークンで新しいセッションレコードを取得する。
	// リフレッシュトークンがない場合は(nil, nil)を返す。
	Refresh(ctx context.Context, record auth.SessionRecord) (*auth.SessionRecord, error)
	// LogoutURL はプロバイダーのログアウトエンドポイントURLを返す。
	LogoutURL() string
}

// SessionCookieCodec はセッションCookieの読み書きインターフェース。
type SessionCookieCodec interface {
	ReadRecord(r *http.Request) auth.SessionRecord
	WriteCookie(record auth.SessionRecord) (*http.Cookie, error)
	ClearCookie() *http.Cookie
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はログイン成功後のリダイレクト先。
	BaseURL string
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
// セッション状態はすべて署名付きCookieに保持し、サーバー側には何も残さない。
type AuthHandler struct {
	service AuthServiceInterface
	codec   SessionCookieCodec
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, codec SessionCookieCodec, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		codec:   codec,
		config:  config,
	}
}

// Login はOAuthログインフローを開始する。
// ワンタイムnonceを認証中レコードとしてCookieに保存し、
// 認可エンドポイントへリダイレクトする。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	record, authorizeURL, err := h.service.BeginLogin()
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}

	cookie, err := h.codec.WriteCookie(record)
	if err != nil {
		slog.Error("failed to encode login session", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}
	http.SetCookie(w, cookie)

	http.Redirect(w, r, authorizeURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// stateが発行済みnonceと一致しない場合は認可コードが有効でも403で拒否する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "認可コードがありません。",
			Category: "auth",
			Action:   "最初からログインをやり直してください。",
		})
		return
	}

	record := h.codec.ReadRecord(r)

	newRecord, user, err := h.service.CompleteLogin(r.Context(), record, code, state)
	if err != nil {
		var stateErr *auth.InvalidStateError
		if errors.As(err, &stateErr) {
			slog.Warn("oauth state mismatch")
			http.SetCookie(w, h.codec.ClearCookie())
			writeAPIErrorResponse(w, http.StatusForbidden, model.NewInvalidStateError())
			return
		}

		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.SetCookie(w, h.codec.ClearCookie())
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamAuthError())
		return
	}

	cookie, err := h.codec.WriteCookie(newRecord)
	if err != nil {
		slog.Error("failed to encode session", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}
	http.SetCookie(w, cookie)

	slog.Info("user logged in", slog.String("user_id", user.ID))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションCookieを破棄し、プロバイダーのログアウト
// エンドポイントへリダイレクトする。サーバー側にセッションは
// 存在しないため、破棄はCookieのクリアで完結する。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.codec.ClearCookie())
	http.Redirect(w, r, h.service.LogoutURL(), http.StatusTemporaryRedirect)
}

// Refresh はセッションを明示的にリフレッシュする。
// セッションミドルウェアの暗黙リフレッシュとは別に、フロントエンドが
// 期限切れ前に能動的にトークンを更新するためのエンドポイント。
// リフレッシュトークンがない、または交換に失敗した場合は
// Cookieをクリアして401を返す（中途半端なセッションを残さない）。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	record := h.codec.ReadRecord(r)
	if record.IsAnonymous() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	newRecord, err := h.service.Refresh(r.Context(), record)
	if err != nil || newRecord == nil {
		if err != nil {
			slog.Info("explicit token refresh failed, logging out", slog.String("error", err.Error()))
		}
		http.SetCookie(w, h.codec.ClearCookie())
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	cookie, err := h.codec.WriteCookie(*newRecord)
	if err != nil {
		slog.Error("failed to encode refreshed session", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}
	http.SetCookie(w, cookie)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"expires_at": newRecord.ExpiresAt,
		"is_admin":   newRecord.IsAdmin,
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       principal.UserID,
		"email":    principal.Email,
		"name":     principal.Name,
		"is_admin": principal.IsAdmin,
	})
}
