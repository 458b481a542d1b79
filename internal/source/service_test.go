package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
	"github.com/hitoshi/prodsource/internal/security"
)

// --- モック定義 ---

type mockSourceRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.Source, error)
	listByUserIDFn     func(ctx context.Context, userID string) ([]model.SourceWithProduct, error)
	createFn           func(ctx context.Context, source *model.Source) error
	updateFn           func(ctx context.Context, source *model.Source) error
	updateInspectionFn func(ctx context.Context, sourceID string, feedURL *string, faviconData []byte, faviconMime string) error
	updateCheckStateFn func(ctx context.Context, source *model.Source) error
	deleteByIDFn       func(ctx context.Context, id string) error
}

func (m *mockSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSourceRepo) ListByUserID(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSourceRepo) ListByProductID(_ context.Context, _ string) ([]*model.Source, error) {
	return nil, nil
}

func (m *mockSourceRepo) CountByUserID(_ context.Context, _ string) (int, error) { return 0, nil }

func (m *mockSourceRepo) Create(ctx context.Context, source *model.Source) error {
	if m.createFn != nil {
		return m.createFn(ctx, source)
	}
	return nil
}

func (m *mockSourceRepo) Update(ctx context.Context, source *model.Source) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, source)
	}
	return nil
}

func (m *mockSourceRepo) UpdateInspection(ctx context.Context, sourceID string, feedURL *string, faviconData []byte, faviconMime string) error {
	if m.updateInspectionFn != nil {
		return m.updateInspectionFn(ctx, sourceID, feedURL, faviconData, faviconMime)
	}
	return nil
}

func (m *mockSourceRepo) UpdateCheckState(ctx context.Context, source *model.Source) error {
	if m.updateCheckStateFn != nil {
		return m.updateCheckStateFn(ctx, source)
	}
	return nil
}

func (m *mockSourceRepo) ListDueForCheck(_ context.Context, _ time.Duration) ([]*model.Source, error) {
	return nil, nil
}

func (m *mockSourceRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSourceRepo) DeleteByUserID(_ context.Context, _ string) error { return nil }

func (m *mockSourceRepo) ListAllWithDetails(_ context.Context, _, _ int) ([]model.SourceWithDetails, error) {
	return nil, nil
}

func (m *mockSourceRepo) CountAll(_ context.Context) (int, error) { return 0, nil }

type mockProductRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Product, error)
}

func (m *mockProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockProductRepo) ListByUserID(_ context.Context, _ string) ([]*model.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) CountByUserID(_ context.Context, _ string) (int, error) { return 0, nil }

func (m *mockProductRepo) Create(_ context.Context, _ *model.Product) error { return nil }

func (m *mockProductRepo) Update(_ context.Context, _ *model.Product) error { return nil }

func (m *mockProductRepo) DeleteByID(_ context.Context, _ string) error { return nil }

func (m *mockProductRepo) DeleteByUserID(_ context.Context, _ string) error { return nil }

func (m *mockProductRepo) ListAllWithDetails(_ context.Context, _, _ int) ([]model.ProductWithDetails, error) {
	return nil, nil
}

func (m *mockProductRepo) CountAll(_ context.Context) (int, error) { return 0, nil }

type mockCheckRepo struct {
	listBySourceIDFn func(ctx context.Context, sourceID string, limit int) ([]*model.SourceCheck, error)
}

func (m *mockCheckRepo) Create(_ context.Context, _ *model.SourceCheck) error { return nil }

func (m *mockCheckRepo) ListBySourceID(ctx context.Context, sourceID string, limit int) ([]*model.SourceCheck, error) {
	if m.listBySourceIDFn != nil {
		return m.listBySourceIDFn(ctx, sourceID, limit)
	}
	return nil, nil
}

func (m *mockCheckRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockInspector struct {
	inspectFn func(ctx context.Context, inputURL string) (*InspectionResult, error)
}

func (m *mockInspector) Inspect(ctx context.Context, inputURL string) (*InspectionResult, error) {
	if m.inspectFn != nil {
		return m.inspectFn(ctx, inputURL)
	}
	return &InspectionResult{}, nil
}

type mockSSRFGuard struct {
	validateURLFn func(rawURL string) error
}

func (m *mockSSRFGuard) NewSafeClient(_ time.Duration, _ int64) *http.Client {
	return http.DefaultClient
}

func (m *mockSSRFGuard) ValidateURL(rawURL string) error {
	if m.validateURLFn != nil {
		return m.validateURLFn(rawURL)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.SourceRepository = (*mockSourceRepo)(nil)
var _ repository.ProductRepository = (*mockProductRepo)(nil)
var _ repository.SourceCheckRepository = (*mockCheckRepo)(nil)
var _ InspectorService = (*mockInspector)(nil)
var _ security.SSRFGuardService = (*mockSSRFGuard)(nil)

type testDeps struct {
	sourceRepo  *mockSourceRepo
	productRepo *mockProductRepo
	checkRepo   *mockCheckRepo
	inspector   *mockInspector
	ssrfGuard   *mockSSRFGuard
}

func newTestDeps() *testDeps {
	return &testDeps{
		sourceRepo:  &mockSourceRepo{},
		productRepo: &mockProductRepo{},
		checkRepo:   &mockCheckRepo{},
		inspector:   &mockInspector{},
		ssrfGuard:   &mockSSRFGuard{},
	}
}

func (d *testDeps) newService() *Service {
	return NewService(
		d.sourceRepo, d.productRepo, d.checkRepo,
		d.inspector, d.ssrfGuard, security.NewTextSanitizer(),
	)
}

// --- テスト ---

func TestCreate_WithName_CreatesSource(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	var created *model.Source
	deps.sourceRepo.createFn = func(ctx context.Context, source *model.Source) error {
		created = source
		return nil
	}

	svc := deps.newService()

	src, err := svc.Create(ctx, "user-1", CreateInput{Name: "My Source", URL: "https://example.com/blog"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if src.ID == "" {
		t.Error("expected non-empty source ID")
	}
	if created == nil {
		t.Fatal("expected source to be persisted")
	}
	if created.Name != "My Source" {
		t.Errorf("name = %q, want %q", created.Name, "My Source")
	}
	if created.CheckStatus != model.CheckStatusUnchecked {
		t.Errorf("check status = %q, want %q", created.CheckStatus, model.CheckStatusUnchecked)
	}
}

func TestCreate_EmptyName_UsesInspectedTitle(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	feedURL := "https://example.com/feed.xml"
	deps.inspector.inspectFn = func(ctx context.Context, inputURL string) (*InspectionResult, error) {
		return &InspectionResult{
			Title:       "Example Blog",
			FeedURL:     &feedURL,
			FaviconData: []byte{0x00, 0x01},
			FaviconMime: "image/png",
		}, nil
	}

	svc := deps.newService()

	src, err := svc.Create(ctx, "user-1", CreateInput{URL: "https://example.com/blog"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if src.Name != "Example Blog" {
		t.Errorf("name = %q, want inspected title %q", src.Name, "Example Blog")
	}
	if src.FeedURL == nil || *src.FeedURL != feedURL {
		t.Errorf("feed URL = %v, want %q", src.FeedURL, feedURL)
	}
	if src.FaviconMime != "image/png" {
		t.Errorf("favicon mime = %q, want %q", src.FaviconMime, "image/png")
	}
}

func TestCreate_InspectionFailure_DoesNotBlockRegistration(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.inspector.inspectFn = func(ctx context.Context, inputURL string) (*InspectionResult, error) {
		return nil, errors.New("connection refused")
	}

	svc := deps.newService()

	src, err := svc.Create(ctx, "user-1", CreateInput{Name: "Manual Name", URL: "https://down.example.com"})
	if err != nil {
		t.Fatalf("Create() should succeed when inspection fails, got %v", err)
	}
	if src.Name != "Manual Name" {
		t.Errorf("name = %q, want %q", src.Name, "Manual Name")
	}
}

func TestCreate_EmptyNameAndInspectionFailure_ReturnsValidationError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.inspector.inspectFn = func(ctx context.Context, inputURL string) (*InspectionResult, error) {
		return nil, errors.New("connection refused")
	}

	svc := deps.newService()

	_, err := svc.Create(ctx, "user-1", CreateInput{URL: "https://down.example.com"})
	if err == nil {
		t.Fatal("expected error when name is empty and no title could be inspected")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("expected VALIDATION_FAILED, got %v", err)
	}
}

func TestCreate_BlockedURL_ReturnsSSRFBlockedError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.ssrfGuard.validateURLFn = func(rawURL string) error {
		return &security.BlockedURLError{Reason: "IP address 192.168.1.1"}
	}

	svc := deps.newService()

	_, err := svc.Create(ctx, "user-1", CreateInput{Name: "X", URL: "http://192.168.1.1/admin"})
	if err == nil {
		t.Fatal("expected error for blocked URL")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSSRFBlocked {
		t.Errorf("expected SSRF_BLOCKED, got %v", err)
	}
}

// ラップされたブロックエラーもSSRFブロックとして判別されることを検証
func TestCreate_WrappedBlockedURL_ReturnsSSRFBlockedError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.ssrfGuard.validateURLFn = func(rawURL string) error {
		return fmt.Errorf("事前検証に失敗しました: %w", &security.BlockedURLError{Reason: "host localhost"})
	}

	svc := deps.newService()

	_, err := svc.Create(ctx, "user-1", CreateInput{Name: "X", URL: "http://localhost/admin"})
	if err == nil {
		t.Fatal("expected error for blocked URL")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSSRFBlocked {
		t.Errorf("expected SSRF_BLOCKED, got %v", err)
	}
}

// ブロック以外の検証エラーはINVALID_URLとして扱われることを検証
func TestCreate_NonBlockedValidationError_ReturnsInvalidURLError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.ssrfGuard.validateURLFn = func(rawURL string) error {
		return errors.New("disallowed scheme: ftp")
	}

	svc := deps.newService()

	_, err := svc.Create(ctx, "user-1", CreateInput{Name: "X", URL: "ftp://example.com/archive"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidURL {
		t.Errorf("expected INVALID_URL, got %v", err)
	}
}

func TestCreate_EmptyURL_ReturnsInvalidURLError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	svc := deps.newService()

	_, err := svc.Create(ctx, "user-1", CreateInput{Name: "X", URL: "  "})
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidURL {
		t.Errorf("expected INVALID_URL, got %v", err)
	}
}

func TestCreate_OtherUsersProduct_ReturnsProductNotFound(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.productRepo.findByIDFn = func(ctx context.Context, id string) (*model.Product, error) {
		return &model.Product{ID: id, UserID: "other-user"}, nil
	}

	svc := deps.newService()

	productID := "product-1"
	_, err := svc.Create(ctx, "user-1", CreateInput{Name: "X", URL: "https://example.com", ProductID: &productID})
	if err == nil {
		t.Fatal("expected error when linking another user's product")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProductNotFound {
		t.Errorf("expected PRODUCT_NOT_FOUND, got %v", err)
	}
}

func TestGet_ReturnsSourceWithRecentChecks(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "user-1", Name: "S1"}, nil
	}
	deps.checkRepo.listBySourceIDFn = func(ctx context.Context, sourceID string, limit int) ([]*model.SourceCheck, error) {
		if limit != recentCheckLimit {
			t.Errorf("limit = %d, want %d", limit, recentCheckLimit)
		}
		return []*model.SourceCheck{{ID: "check-1", SourceID: sourceID}}, nil
	}

	svc := deps.newService()

	src, checks, err := svc.Get(ctx, "user-1", "source-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if src.Name != "S1" {
		t.Errorf("name = %q, want %q", src.Name, "S1")
	}
	if len(checks) != 1 {
		t.Errorf("checks count = %d, want 1", len(checks))
	}
}

func TestGet_OtherUsersSource_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "other-user"}, nil
	}

	svc := deps.newService()

	_, _, err := svc.Get(ctx, "user-1", "source-1")
	if err == nil {
		t.Fatal("expected error for other user's source")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSourceNotFound {
		t.Errorf("expected SOURCE_NOT_FOUND, got %v", err)
	}
}

func TestUpdate_URLChanged_ResetsCheckStateAndInspection(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	lastChecked := time.Now().Add(-time.Hour)
	feedURL := "https://old.example.com/feed.xml"
	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{
			ID:            id,
			UserID:        "user-1",
			Name:          "S1",
			URL:           "https://old.example.com",
			CheckStatus:   model.CheckStatusOK,
			LastCheckedAt: &lastChecked,
			FeedURL:       &feedURL,
			FaviconData:   []byte{0x01},
			FaviconMime:   "image/png",
		}, nil
	}

	var checkStateUpdated bool
	deps.sourceRepo.updateCheckStateFn = func(ctx context.Context, source *model.Source) error {
		checkStateUpdated = true
		if source.CheckStatus != model.CheckStatusUnchecked {
			t.Errorf("check status = %q, want %q", source.CheckStatus, model.CheckStatusUnchecked)
		}
		if source.LastCheckedAt != nil {
			t.Error("last checked at should be reset to nil")
		}
		return nil
	}

	var inspectionCleared bool
	deps.sourceRepo.updateInspectionFn = func(ctx context.Context, sourceID string, feedURL *string, faviconData []byte, faviconMime string) error {
		inspectionCleared = true
		if feedURL != nil || faviconData != nil || faviconMime != "" {
			t.Error("inspection data should be cleared on URL change")
		}
		return nil
	}

	svc := deps.newService()

	src, err := svc.Update(ctx, "user-1", "source-1", UpdateInput{Name: "S1", URL: "https://new.example.com"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !checkStateUpdated {
		t.Error("expected check state to be reset")
	}
	if !inspectionCleared {
		t.Error("expected inspection data to be cleared")
	}
	if src.CheckStatus != model.CheckStatusUnchecked {
		t.Errorf("check status = %q, want %q", src.CheckStatus, model.CheckStatusUnchecked)
	}
}

func TestUpdate_URLUnchanged_KeepsCheckState(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{
			ID:          id,
			UserID:      "user-1",
			Name:        "Old Name",
			URL:         "https://example.com",
			CheckStatus: model.CheckStatusOK,
		}, nil
	}
	deps.sourceRepo.updateCheckStateFn = func(ctx context.Context, source *model.Source) error {
		t.Error("check state should not be touched when URL is unchanged")
		return nil
	}

	svc := deps.newService()

	src, err := svc.Update(ctx, "user-1", "source-1", UpdateInput{Name: "New Name", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if src.Name != "New Name" {
		t.Errorf("name = %q, want %q", src.Name, "New Name")
	}
	if src.CheckStatus != model.CheckStatusOK {
		t.Errorf("check status = %q, want %q", src.CheckStatus, model.CheckStatusOK)
	}
}

func TestUpdate_EmptyName_ReturnsValidationError(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "user-1", URL: "https://example.com"}, nil
	}

	svc := deps.newService()

	_, err := svc.Update(ctx, "user-1", "source-1", UpdateInput{Name: "", URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected validation error for empty name on update")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("expected VALIDATION_FAILED, got %v", err)
	}
}

func TestInspect_SavesDetectedData(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "user-1", Name: "S1", URL: "https://example.com"}, nil
	}

	feedURL := "https://example.com/feed.xml"
	deps.inspector.inspectFn = func(ctx context.Context, inputURL string) (*InspectionResult, error) {
		if inputURL != "https://example.com" {
			t.Errorf("inspect URL = %q, want %q", inputURL, "https://example.com")
		}
		return &InspectionResult{FeedURL: &feedURL, FaviconData: []byte{0x01}, FaviconMime: "image/x-icon"}, nil
	}

	var saved bool
	deps.sourceRepo.updateInspectionFn = func(ctx context.Context, sourceID string, gotFeedURL *string, faviconData []byte, faviconMime string) error {
		saved = true
		if gotFeedURL == nil || *gotFeedURL != feedURL {
			t.Errorf("feed URL = %v, want %q", gotFeedURL, feedURL)
		}
		return nil
	}

	svc := deps.newService()

	src, err := svc.Inspect(ctx, "user-1", "source-1")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !saved {
		t.Error("expected inspection result to be saved")
	}
	if src.FaviconMime != "image/x-icon" {
		t.Errorf("favicon mime = %q, want %q", src.FaviconMime, "image/x-icon")
	}
}

func TestInspect_InspectorError_Propagates(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "user-1", URL: "https://example.com"}, nil
	}
	deps.inspector.inspectFn = func(ctx context.Context, inputURL string) (*InspectionResult, error) {
		return nil, model.NewFetchFailedError("取得に失敗しました")
	}

	svc := deps.newService()

	_, err := svc.Inspect(ctx, "user-1", "source-1")
	if err == nil {
		t.Fatal("expected inspection error to propagate")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFetchFailed {
		t.Errorf("expected FETCH_FAILED, got %v", err)
	}
}

func TestDelete_OwnSource_Deletes(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.findByIDFn = func(ctx context.Context, id string) (*model.Source, error) {
		return &model.Source{ID: id, UserID: "user-1"}, nil
	}

	var deletedID string
	deps.sourceRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		deletedID = id
		return nil
	}

	svc := deps.newService()

	if err := svc.Delete(ctx, "user-1", "source-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deletedID != "source-1" {
		t.Errorf("deleted ID = %q, want %q", deletedID, "source-1")
	}
}

func TestDelete_MissingSource_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	svc := deps.newService()

	err := svc.Delete(ctx, "user-1", "missing")
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSourceNotFound {
		t.Errorf("expected SOURCE_NOT_FOUND, got %v", err)
	}
}

func TestList_ReturnsUserSources(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()

	deps.sourceRepo.listByUserIDFn = func(ctx context.Context, userID string) ([]model.SourceWithProduct, error) {
		if userID != "user-1" {
			t.Errorf("userID = %q, want %q", userID, "user-1")
		}
		return []model.SourceWithProduct{
			{Source: model.Source{ID: "s1"}},
			{Source: model.Source{ID: "s2"}},
		}, nil
	}

	svc := deps.newService()

	sources, err := svc.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("sources count = %d, want 2", len(sources))
	}
}
