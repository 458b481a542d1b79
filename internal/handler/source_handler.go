package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/source"
)

// SourceServiceInterface はソースハンドラーが必要とするサービスインターフェース。
type SourceServiceInterface interface {
	// List はユーザーのソース一覧をプロダクト概要付きで返す。
	List(ctx context.Context, userID string) ([]model.SourceWithProduct, error)
	// Get はソースと直近のチェック履歴を返す。
	Get(ctx context.Context, userID, sourceID string) (*model.Source, []*model.SourceCheck, error)
	// Create はソースを登録し、登録時検査を実行する。
	Create(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error)
	// Inspect はソースを再検査する。
	Inspect(ctx context.Context, userID, sourceID string) (*model.Source, error)
	// Update はソースを更新する。
	Update(ctx context.Context, userID, sourceID string, input source.UpdateInput) (*model.Source, error)
	// Delete はソースを削除する。
	Delete(ctx context.Context, userID, sourceID string) error
}

// SourceHandler はソース管理のHTTPハンドラー。
type SourceHandler struct {
	service SourceServiceInterface
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(service SourceServiceInterface) *SourceHandler {
	return &SourceHandler{service: service}
}

// sourceRequest はソース登録・更新リクエストのボディ。
type sourceRequest struct {
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	ProductID *string `json:"product_id"`
}

// sourceResponse はソース情報のAPIレスポンス。
// faviconはdata URL形式で返す。
type sourceResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	ProductID     *string    `json:"product_id"`
	FeedURL       *string    `json:"feed_url"`
	FaviconURL    string     `json:"favicon_url,omitempty"`
	CheckStatus   string     `json:"check_status"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// sourceListItemResponse はソース一覧のAPIレスポンス（プロダクト概要付き）。
type sourceListItemResponse struct {
	sourceResponse
	ProductName *string `json:"product_name"`
	ProductLink *string `json:"product_link"`
}

// sourceCheckResponse はチェック履歴1件のAPIレスポンス。
type sourceCheckResponse struct {
	CheckedAt  time.Time `json:"checked_at"`
	OK         bool      `json:"ok"`
	HTTPStatus int       `json:"http_status"`
	Error      string    `json:"error,omitempty"`
}

// sourceDetailResponse はソース詳細のAPIレスポンス（チェック履歴付き）。
type sourceDetailResponse struct {
	sourceResponse
	RecentChecks []sourceCheckResponse `json:"recent_checks"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListSources はユーザーのソース一覧を返す。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sources, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]sourceListItemResponse, len(sources))
	for i, src := range sources {
		results[i] = sourceListItemResponse{
			sourceResponse: toSourceResponse(&src.Source),
			ProductName:    src.ProductName,
			ProductLink:    src.ProductLink,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sources": results,
	})
}

// GetSource はソース詳細を直近のチェック履歴付きで返す。
// GET /api/sources/:id
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sourceID := chi.URLParam(r, "id")

	src, checks, err := h.service.Get(r.Context(), userID, sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recent := make([]sourceCheckResponse, len(checks))
	for i, check := range checks {
		recent[i] = sourceCheckResponse{
			CheckedAt:  check.CheckedAt,
			OK:         check.OK,
			HTTPStatus: check.HTTPStatus,
			Error:      check.Error,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sourceDetailResponse{
		sourceResponse: toSourceResponse(src),
		RecentChecks:   recent,
	})
}

// RegisterSource はソース登録を処理する。
// POST /api/sources
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	src, err := h.service.Create(r.Context(), userID, source.CreateInput{
		Name:      req.Name,
		URL:       req.URL,
		ProductID: req.ProductID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// InspectSource はソースの再検査を実行する。
// POST /api/sources/:id/inspect
func (h *SourceHandler) InspectSource(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sourceID := chi.URLParam(r, "id")

	src, err := h.service.Inspect(r.Context(), userID, sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// UpdateSource はソースを更新する。
// PATCH /api/sources/:id
func (h *SourceHandler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sourceID := chi.URLParam(r, "id")

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	src, err := h.service.Update(r.Context(), userID, sourceID, source.UpdateInput{
		Name:      req.Name,
		URL:       req.URL,
		ProductID: req.ProductID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// DeleteSource はソースを削除する。
// DELETE /api/sources/:id
func (h *SourceHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sourceID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, sourceID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toSourceResponse はmodel.SourceからAPIレスポンスに変換する。
func toSourceResponse(src *model.Source) sourceResponse {
	return sourceResponse{
		ID:            src.ID,
		Name:          src.Name,
		URL:           src.URL,
		ProductID:     src.ProductID,
		FeedURL:       src.FeedURL,
		FaviconURL:    faviconDataURL(src.FaviconData, src.FaviconMime),
		CheckStatus:   string(src.CheckStatus),
		LastCheckedAt: src.LastCheckedAt,
		ErrorMessage:  src.ErrorMessage,
		CreatedAt:     src.CreatedAt,
		UpdatedAt:     src.UpdatedAt,
	}
}

// faviconDataURL はfaviconのバイナリをdata URL形式に変換する。
// faviconが未取得の場合は空文字列を返す。
func faviconDataURL(data []byte, mime string) string {
	if len(data) == 0 || mime == "" {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// invalidRequestBodyError はリクエストボディ解析失敗のエラーを生成する。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// internalError は内部サーバーエラーを生成する。
func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeInvalidState, model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeProductNotFound, model.ErrCodeSourceNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidRequest, model.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case model.ErrCodeFetchFailed, model.ErrCodeUpstreamAuth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
