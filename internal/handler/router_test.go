package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/model"

	"golang.org/x/time/rate"
)

// --- モック定義 ---

type mockSessionVerifier struct {
	userAndAdminStatusFn func(ctx context.Context, record auth.SessionRecord) (auth.Claims, bool)
	resolveLocalUserFn   func(ctx context.Context, subject string) (*model.User, error)
}

func (m *mockSessionVerifier) UserAndAdminStatus(ctx context.Context, record auth.SessionRecord) (auth.Claims, bool) {
	if m.userAndAdminStatusFn != nil {
		return m.userAndAdminStatusFn(ctx, record)
	}
	return nil, false
}

func (m *mockSessionVerifier) Refresh(_ context.Context, _ auth.SessionRecord) (*auth.SessionRecord, error) {
	return nil, errors.New("no refresh in tests")
}

func (m *mockSessionVerifier) ResolveLocalUser(ctx context.Context, subject string) (*model.User, error) {
	if m.resolveLocalUserFn != nil {
		return m.resolveLocalUserFn(ctx, subject)
	}
	return nil, nil
}

var _ middleware.SessionService = (*mockSessionVerifier)(nil)

type mockDBPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockDBPinger) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// newTestRouterDeps は未認証状態のルーター依存一式を生成する。
func newTestRouterDeps(t *testing.T) (*RouterDeps, *middleware.RateLimiter) {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(100),
		GeneralBurst:    100,
		SourceRegRate:   rate.Limit(100),
		SourceRegBurst:  100,
		CleanupInterval: time.Hour,
	})

	return &RouterDeps{
		Logger:            slog.Default(),
		SessionCodec:      &mockCookieCodec{},
		SessionService:    &mockSessionVerifier{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:8080"},
		ProductService:    &mockProductService{},
		SourceService:     &mockSourceService{},
		UserService:       &mockUserService{},
		AdminService:      &mockAdminService{},
		DB:                &mockDBPinger{},
	}, rl
}

// withSession はセッション検証が成功するよう依存を差し替える。
func withSession(deps *RouterDeps, isAdmin bool) {
	deps.SessionCodec = &mockCookieCodec{
		readRecordFn: func(r *http.Request) auth.SessionRecord {
			return auth.SessionRecord{AccessToken: "access-1", Subject: "auth0|user-1", IsAdmin: isAdmin}
		},
	}
	deps.SessionService = &mockSessionVerifier{
		userAndAdminStatusFn: func(ctx context.Context, record auth.SessionRecord) (auth.Claims, bool) {
			return auth.Claims{"sub": "auth0|user-1"}, isAdmin
		},
		resolveLocalUserFn: func(ctx context.Context, subject string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: "user@example.com"}, nil
		},
	}
}

// --- テスト ---

func TestRouter_Health_ReturnsOK(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestRouter_Health_DBDown_Returns503(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	deps.DB = &mockDBPinger{
		pingFn: func(ctx context.Context) error { return errors.New("connection refused") },
	}

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_CSRFTokenEndpoint_ReturnsToken(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["token"] == "" {
		t.Error("expected non-empty CSRF token")
	}
}

func TestRouter_LoginRoute_RedirectsToProvider(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}

func TestRouter_ProtectedRoute_Unauthenticated_Returns401(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	for _, target := range []string{"/api/products", "/api/sources", "/api/users/me"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: status = %d, want %d", target, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRouter_ProtectedRoute_Authenticated_Passes(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, false)

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AdminRoute_NonAdmin_Returns403(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, false)

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_AdminRoute_Admin_Passes(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, true)

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AdminRoute_Unauthenticated_Returns401(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_StateChangingRequest_WithoutCSRFToken_Returns403(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, false)

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/products", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_SecurityHeaders_AppliedToAllResponses(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

// attachCSRFToken は状態変更リクエストにdouble-submitトークンを付与する。
func attachCSRFToken(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-token"})
	req.Header.Set("X-CSRF-Token", "test-token")
}

func TestRouter_AdminUserDetailRoute_Admin_Returns200(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, true)

	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/users/user-2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body adminUserDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "user-2" {
		t.Errorf("id = %q, want %q", body.ID, "user-2")
	}
}

func TestRouter_AdminDeleteRoutes_Admin_Return204(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, true)

	router := NewRouter(deps)

	for _, target := range []string{
		"/api/admin/users/user-2",
		"/api/admin/products/p1",
		"/api/admin/sources/s1",
	} {
		req := httptest.NewRequest(http.MethodDelete, target, nil)
		attachCSRFToken(req)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("DELETE %s: status = %d, want %d", target, w.Code, http.StatusNoContent)
		}
	}
}

func TestRouter_AdminDeleteRoute_NonAdmin_Returns403(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()
	withSession(deps, false)

	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/products/p1", nil)
	attachCSRFToken(req)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_AuthRefreshRoute_Anonymous_Returns401(t *testing.T) {
	deps, rl := newTestRouterDeps(t)
	defer rl.Stop()

	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	attachCSRFToken(req)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 404/405ではなく401が返ればルートは配線されている
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
