package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetProfile はプロフィールを所有データ件数付きで返す。
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	// UpdateProfile は表示名をプロバイダーとローカルの両方で更新する。
	UpdateProfile(ctx context.Context, userID, subject, accessToken, name string) (*model.User, error)
	// Withdraw は退会処理を実行する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	codec   SessionCookieCodec
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, codec SessionCookieCodec) *UserHandler {
	return &UserHandler{
		service: service,
		codec:   codec,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
type updateProfileRequest struct {
	Name string `json:"name"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ProductCount int       `json:"product_count"`
	SourceCount  int       `json:"source_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// GetProfile は現在のユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profileResponse{
		ID:           profile.User.ID,
		Email:        profile.User.Email,
		Name:         profile.User.Name,
		ProductCount: profile.ProductCount,
		SourceCount:  profile.SourceCount,
		CreatedAt:    profile.User.CreatedAt,
	})
}

// UpdateProfile は現在のユーザーの表示名を更新する。
// プロバイダー側の更新にはセッションのアクセストークンを使用する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), principal.UserID, principal.Subject, principal.AccessToken, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    updated.ID,
		"email": updated.Email,
		"name":  updated.Name,
	})
}

// Withdraw は現在のユーザーの退会処理を実行する。
// 所有データをすべて削除した上でセッションCookieをクリアする。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.codec.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}
