package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/source"
)

// --- モック定義 ---

type mockSourceService struct {
	listFn    func(ctx context.Context, userID string) ([]model.SourceWithProduct, error)
	getFn     func(ctx context.Context, userID, sourceID string) (*model.Source, []*model.SourceCheck, error)
	createFn  func(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error)
	inspectFn func(ctx context.Context, userID, sourceID string) (*model.Source, error)
	updateFn  func(ctx context.Context, userID, sourceID string, input source.UpdateInput) (*model.Source, error)
	deleteFn  func(ctx context.Context, userID, sourceID string) error
}

func (m *mockSourceService) List(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSourceService) Get(ctx context.Context, userID, sourceID string) (*model.Source, []*model.SourceCheck, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, sourceID)
	}
	return &model.Source{ID: sourceID}, nil, nil
}

func (m *mockSourceService) Create(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return &model.Source{ID: "source-1", Name: input.Name, URL: input.URL}, nil
}

func (m *mockSourceService) Inspect(ctx context.Context, userID, sourceID string) (*model.Source, error) {
	if m.inspectFn != nil {
		return m.inspectFn(ctx, userID, sourceID)
	}
	return &model.Source{ID: sourceID}, nil
}

func (m *mockSourceService) Update(ctx context.Context, userID, sourceID string, input source.UpdateInput) (*model.Source, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, sourceID, input)
	}
	return &model.Source{ID: sourceID, Name: input.Name, URL: input.URL}, nil
}

func (m *mockSourceService) Delete(ctx context.Context, userID, sourceID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, sourceID)
	}
	return nil
}

var _ SourceServiceInterface = (*mockSourceService)(nil)

func newSourceTestRouter(service SourceServiceInterface) http.Handler {
	h := NewSourceHandler(service)
	r := chi.NewRouter()
	r.Get("/api/sources", h.ListSources)
	r.Post("/api/sources", h.RegisterSource)
	r.Get("/api/sources/{id}", h.GetSource)
	r.Post("/api/sources/{id}/inspect", h.InspectSource)
	r.Patch("/api/sources/{id}", h.UpdateSource)
	r.Delete("/api/sources/{id}", h.DeleteSource)
	return r
}

// --- テスト ---

func TestListSources_IncludesProductSummary(t *testing.T) {
	productName := "Product 1"
	service := &mockSourceService{
		listFn: func(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
			return []model.SourceWithProduct{
				{
					Source:      model.Source{ID: "s1", Name: "S1", URL: "https://example.com"},
					ProductName: &productName,
				},
			}, nil
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodGet, "/api/sources", "", "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Sources []sourceListItemResponse `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Sources) != 1 {
		t.Fatalf("sources count = %d, want 1", len(body.Sources))
	}
	if body.Sources[0].ProductName == nil || *body.Sources[0].ProductName != "Product 1" {
		t.Errorf("product name = %v, want %q", body.Sources[0].ProductName, "Product 1")
	}
}

func TestGetSource_IncludesRecentChecks(t *testing.T) {
	service := &mockSourceService{
		getFn: func(ctx context.Context, userID, sourceID string) (*model.Source, []*model.SourceCheck, error) {
			return &model.Source{ID: sourceID, Name: "S1", URL: "https://example.com", CheckStatus: model.CheckStatusOK},
				[]*model.SourceCheck{
					{CheckedAt: time.Now(), OK: true, HTTPStatus: 200},
					{CheckedAt: time.Now().Add(-time.Hour), OK: false, HTTPStatus: 503, Error: "service unavailable"},
				}, nil
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodGet, "/api/sources/source-1", "", "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body sourceDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.CheckStatus != "ok" {
		t.Errorf("check status = %q, want %q", body.CheckStatus, "ok")
	}
	if len(body.RecentChecks) != 2 {
		t.Fatalf("recent checks count = %d, want 2", len(body.RecentChecks))
	}
	if body.RecentChecks[1].HTTPStatus != 503 {
		t.Errorf("http status = %d, want 503", body.RecentChecks[1].HTTPStatus)
	}
}

func TestRegisterSource_Returns201WithFaviconDataURL(t *testing.T) {
	service := &mockSourceService{
		createFn: func(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error) {
			return &model.Source{
				ID:          "source-1",
				Name:        input.Name,
				URL:         input.URL,
				FaviconData: []byte{0x01, 0x02},
				FaviconMime: "image/png",
			}, nil
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodPost, "/api/sources",
		`{"name":"My Source","url":"https://example.com"}`, "user-1"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var body sourceResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(body.FaviconURL, "data:image/png;base64,") {
		t.Errorf("favicon URL = %q, want data URL", body.FaviconURL)
	}
}

func TestRegisterSource_SSRFBlocked_Returns403(t *testing.T) {
	service := &mockSourceService{
		createFn: func(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error) {
			return nil, model.NewSSRFBlockedError()
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodPost, "/api/sources",
		`{"url":"http://169.254.169.254/meta"}`, "user-1"))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	var body apiErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeSSRFBlocked {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeSSRFBlocked)
	}
}

func TestRegisterSource_ProductIDForwarded(t *testing.T) {
	service := &mockSourceService{
		createFn: func(ctx context.Context, userID string, input source.CreateInput) (*model.Source, error) {
			if input.ProductID == nil || *input.ProductID != "product-1" {
				t.Errorf("product ID = %v, want %q", input.ProductID, "product-1")
			}
			return &model.Source{ID: "source-1"}, nil
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodPost, "/api/sources",
		`{"name":"S","url":"https://example.com","product_id":"product-1"}`, "user-1"))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestInspectSource_FetchFailed_Returns502(t *testing.T) {
	service := &mockSourceService{
		inspectFn: func(ctx context.Context, userID, sourceID string) (*model.Source, error) {
			return nil, model.NewFetchFailedError("HTTPステータス 503 Service Unavailable")
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodPost, "/api/sources/source-1/inspect", "", "user-1"))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestUpdateSource_NotFound_Returns404(t *testing.T) {
	service := &mockSourceService{
		updateFn: func(ctx context.Context, userID, sourceID string, input source.UpdateInput) (*model.Source, error) {
			return nil, model.NewSourceNotFoundError(sourceID)
		},
	}

	router := newSourceTestRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodPatch, "/api/sources/missing",
		`{"name":"S","url":"https://example.com"}`, "user-1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeleteSource_Returns204(t *testing.T) {
	router := newSourceTestRouter(&mockSourceService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedJSONRequest(http.MethodDelete, "/api/sources/source-1", "", "user-1"))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestFaviconDataURL(t *testing.T) {
	if got := faviconDataURL(nil, "image/png"); got != "" {
		t.Errorf("empty data: got %q, want empty", got)
	}
	if got := faviconDataURL([]byte{0x01}, ""); got != "" {
		t.Errorf("empty mime: got %q, want empty", got)
	}
	got := faviconDataURL([]byte("icon"), "image/x-icon")
	if !strings.HasPrefix(got, "data:image/x-icon;base64,") {
		t.Errorf("data URL = %q, want base64 data URL", got)
	}
}
