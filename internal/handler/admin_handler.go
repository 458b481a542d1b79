package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/prodsource/internal/admin"
	"github.com/hitoshi/prodsource/internal/model"
)

// AdminServiceInterface は管理画面ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	// ListUsers は全ユーザーを所有データ件数付きでページ単位に返す。
	ListUsers(ctx context.Context, page int) ([]model.UserWithCounts, *admin.Page, error)
	// GetUser は指定ユーザーの詳細を所有データ一覧付きで返す。
	GetUser(ctx context.Context, userID string) (*admin.UserDetails, error)
	// DeleteUser は指定ユーザーを削除する。関連データはCASCADE削除される。
	DeleteUser(ctx context.Context, userID string) error
	// ListProducts は全プロダクトを所有者メール付きでページ単位に返す。
	ListProducts(ctx context.Context, page int) ([]model.ProductWithDetails, *admin.Page, error)
	// DeleteProduct は所有者スコープなしで指定プロダクトを削除する。
	DeleteProduct(ctx context.Context, productID string) error
	// ListSources は全ソースを所有者メール付きでページ単位に返す。
	ListSources(ctx context.Context, page int) ([]model.SourceWithDetails, *admin.Page, error)
	// DeleteSource は所有者スコープなしで指定ソースを削除する。
	DeleteSource(ctx context.Context, sourceID string) error
}

// AdminHandler は管理画面のHTTPハンドラー。
// 管理者であることはミドルウェアで保証されている前提。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// pageResponse はページネーション情報のAPIレスポンス。
type pageResponse struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

// adminUserResponse は管理画面向けユーザー情報のAPIレスポンス。
type adminUserResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ProductCount int       `json:"product_count"`
	SourceCount  int       `json:"source_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// adminProductResponse は管理画面向けプロダクト情報のAPIレスポンス。
type adminProductResponse struct {
	productResponse
	OwnerEmail  string `json:"owner_email"`
	SourceCount int    `json:"source_count"`
}

// adminSourceResponse は管理画面向けソース情報のAPIレスポンス。
type adminSourceResponse struct {
	sourceResponse
	OwnerEmail string `json:"owner_email"`
}

// ListUsers は全ユーザーの一覧をページ単位で返す。
// GET /api/admin/users?page=1
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	users, pagination, err := h.service.ListUsers(r.Context(), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]adminUserResponse, len(users))
	for i, u := range users {
		results[i] = adminUserResponse{
			ID:           u.ID,
			Email:        u.Email,
			Name:         u.Name,
			ProductCount: u.ProductCount,
			SourceCount:  u.SourceCount,
			CreatedAt:    u.CreatedAt,
		}
	}

	writeAdminListResponse(w, "users", results, pagination)
}

// ListProducts は全プロダクトの一覧をページ単位で返す。
// GET /api/admin/products?page=1
func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	products, pagination, err := h.service.ListProducts(r.Context(), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]adminProductResponse, len(products))
	for i, p := range products {
		results[i] = adminProductResponse{
			productResponse: toProductResponse(&p.Product),
			OwnerEmail:      p.OwnerEmail,
			SourceCount:     p.SourceCount,
		}
	}

	writeAdminListResponse(w, "products", results, pagination)
}

// ListSources は全ソースの一覧をページ単位で返す。
// GET /api/admin/sources?page=1
func (h *AdminHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	sources, pagination, err := h.service.ListSources(r.Context(), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]adminSourceResponse, len(sources))
	for i, src := range sources {
		results[i] = adminSourceResponse{
			sourceResponse: toSourceResponse(&src.Source),
			OwnerEmail:     src.OwnerEmail,
		}
	}

	writeAdminListResponse(w, "sources", results, pagination)
}

// adminUserDetailResponse は管理画面向けユーザー詳細のAPIレスポンス。
// 所有プロダクト・ソースの一覧を含む。
type adminUserDetailResponse struct {
	ID        string                   `json:"id"`
	Email     string                   `json:"email"`
	Name      string                   `json:"name"`
	CreatedAt time.Time                `json:"created_at"`
	Products  []productResponse        `json:"products"`
	Sources   []sourceListItemResponse `json:"sources"`
}

// GetUser は指定ユーザーの詳細を所有データ一覧付きで返す。
// GET /api/admin/users/:id
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	details, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	products := make([]productResponse, len(details.Products))
	for i, p := range details.Products {
		products[i] = toProductResponse(p)
	}
	sources := make([]sourceListItemResponse, len(details.Sources))
	for i, src := range details.Sources {
		sources[i] = sourceListItemResponse{
			sourceResponse: toSourceResponse(&src.Source),
			ProductName:    src.ProductName,
			ProductLink:    src.ProductLink,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adminUserDetailResponse{
		ID:        details.User.ID,
		Email:     details.User.Email,
		Name:      details.User.Name,
		CreatedAt: details.User.CreatedAt,
		Products:  products,
		Sources:   sources,
	})
}

// DeleteUser は指定ユーザーを削除する。関連データはCASCADE削除される。
// DELETE /api/admin/users/:id
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	if err := h.service.DeleteUser(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteProduct は所有者スコープなしで指定プロダクトを削除する。
// DELETE /api/admin/products/:id
func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	if err := h.service.DeleteProduct(r.Context(), productID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteSource は所有者スコープなしで指定ソースを削除する。
// DELETE /api/admin/sources/:id
func (h *AdminHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	if err := h.service.DeleteSource(r.Context(), sourceID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parsePage はクエリパラメータからページ番号を取得する。
// 不正な値は1として扱う。
func parsePage(r *http.Request) int {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// writeAdminListResponse は一覧とページネーション情報をJSONで書き込む。
func writeAdminListResponse(w http.ResponseWriter, key string, items interface{}, pagination *admin.Page) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		key: items,
		"pagination": pageResponse{
			CurrentPage: pagination.CurrentPage,
			TotalPages:  pagination.TotalPages,
			TotalCount:  pagination.TotalCount,
		},
	})
}
