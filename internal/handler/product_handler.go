package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/model"
)

// ProductServiceInterface はプロダクトハンドラーが必要とするサービスインターフェース。
type ProductServiceInterface interface {
	// List はユーザーのプロダクト一覧を返す。
	List(ctx context.Context, userID string) ([]*model.Product, error)
	// Get はプロダクトと紐付くソース一覧を返す。
	Get(ctx context.Context, userID, productID string) (*model.Product, []*model.Source, error)
	// Create はプロダクトを作成する。
	Create(ctx context.Context, userID, name, link string) (*model.Product, error)
	// Update はプロダクトを更新する。
	Update(ctx context.Context, userID, productID, name, link string) (*model.Product, error)
	// Delete はプロダクトを削除する。
	Delete(ctx context.Context, userID, productID string) error
}

// ProductHandler はプロダクト管理のHTTPハンドラー。
type ProductHandler struct {
	service ProductServiceInterface
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(service ProductServiceInterface) *ProductHandler {
	return &ProductHandler{service: service}
}

// productRequest はプロダクト作成・更新リクエストのボディ。
type productRequest struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// productResponse はプロダクト情報のAPIレスポンス。
type productResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// productDetailResponse はプロダクト詳細のAPIレスポンス（紐付くソース付き）。
type productDetailResponse struct {
	productResponse
	Sources []sourceResponse `json:"sources"`
}

// ListProducts はユーザーのプロダクト一覧を返す。
// GET /api/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	products, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]productResponse, len(products))
	for i, p := range products {
		results[i] = toProductResponse(p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"products": results,
	})
}

// GetProduct はプロダクト詳細を紐付くソース一覧付きで返す。
// GET /api/products/:id
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	productID := chi.URLParam(r, "id")

	product, sources, err := h.service.Get(r.Context(), userID, productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	srcs := make([]sourceResponse, len(sources))
	for i, src := range sources {
		srcs[i] = toSourceResponse(src)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(productDetailResponse{
		productResponse: toProductResponse(product),
		Sources:         srcs,
	})
}

// CreateProduct はプロダクト作成を処理する。
// POST /api/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	product, err := h.service.Create(r.Context(), userID, req.Name, req.Link)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toProductResponse(product))
}

// UpdateProduct はプロダクトを更新する。
// PATCH /api/products/:id
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	productID := chi.URLParam(r, "id")

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	product, err := h.service.Update(r.Context(), userID, productID, req.Name, req.Link)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toProductResponse(product))
}

// DeleteProduct はプロダクトを削除する。
// 紐付くソースは削除されず、プロダクトとの関連のみが解除される。
// DELETE /api/products/:id
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	productID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, productID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toProductResponse はmodel.ProductからAPIレスポンスに変換する。
func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Link:      p.Link,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
