package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
)

// PostgresSourceRepoはSourceRepositoryインターフェースを満たすことを検証
func TestPostgresSourceRepo_ImplementsInterface(t *testing.T) {
	var _ SourceRepository = (*PostgresSourceRepo)(nil)
}

// PostgresSourceCheckRepoはSourceCheckRepositoryインターフェースを満たすことを検証
func TestPostgresSourceCheckRepo_ImplementsInterface(t *testing.T) {
	var _ SourceCheckRepository = (*PostgresSourceCheckRepo)(nil)
}

// NewPostgresSourceRepoが正しく初期化されることを検証
func TestNewPostgresSourceRepo_Initializes(t *testing.T) {
	repo := NewPostgresSourceRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSourceCheckRepoが正しく初期化されることを検証
func TestNewPostgresSourceCheckRepo_Initializes(t *testing.T) {
	repo := NewPostgresSourceCheckRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Sourceモデルのフィールドが正しく構築されることを検証
func TestPostgresSourceRepo_SourceModel_Fields(t *testing.T) {
	now := time.Now()
	productID := "product-1"
	source := &model.Source{
		ID:          "source-id-1",
		UserID:      "user-1",
		Name:        "テストソース",
		URL:         "https://example.com",
		ProductID:   &productID,
		CheckStatus: model.CheckStatusUnchecked,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if source.ID != "source-id-1" {
		t.Errorf("source.ID = %q, want %q", source.ID, "source-id-1")
	}
	if source.CheckStatus != model.CheckStatusUnchecked {
		t.Errorf("source.CheckStatus = %q, want %q", source.CheckStatus, model.CheckStatusUnchecked)
	}
	if source.ProductID == nil || *source.ProductID != "product-1" {
		t.Errorf("source.ProductID = %v, want %q", source.ProductID, "product-1")
	}
}

// Sourceの検査系フィールドがnil許容であることを検証
func TestPostgresSourceRepo_SourceModel_NilInspectionFields(t *testing.T) {
	source := &model.Source{
		ID:   "source-id-2",
		URL:  "https://example.com",
		Name: "テストソース",
	}

	if source.FeedURL != nil {
		t.Error("feed_url should be nil by default")
	}
	if source.FaviconData != nil {
		t.Error("favicon_data should be nil by default")
	}
	if source.FaviconMime != "" {
		t.Error("favicon_mime should be empty by default")
	}
	if source.LastCheckedAt != nil {
		t.Error("last_checked_at should be nil by default")
	}
}

// SourceCheckモデルのフィールドが正しく構築されることを検証
func TestPostgresSourceCheckRepo_CheckModel_Fields(t *testing.T) {
	now := time.Now()
	check := &model.SourceCheck{
		ID:         "check-1",
		SourceID:   "source-1",
		CheckedAt:  now,
		OK:         false,
		HTTPStatus: 503,
		Error:      "HTTPステータス 503",
	}

	if check.SourceID != "source-1" {
		t.Errorf("check.SourceID = %q, want %q", check.SourceID, "source-1")
	}
	if check.OK {
		t.Error("check.OK = true, want false")
	}
	if check.HTTPStatus != 503 {
		t.Errorf("check.HTTPStatus = %d, want 503", check.HTTPStatus)
	}
}
