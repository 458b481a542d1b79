package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"

	prodmetrics "github.com/hitoshi/prodsource/internal/metrics"
)

// DBPinger はヘルスチェックでのDB疎通確認インターフェース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionCodec      SessionCookieCodec
	SessionService    middleware.SessionService
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメインサービス
	ProductService ProductServiceInterface
	SourceService  SourceServiceInterface
	UserService    UserServiceInterface
	AdminService   AdminServiceInterface

	// 運用
	DB       DBPinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → CSRF → Session
//
// セッションミドルウェアは拒否せず、拒否はRequireUser / RequireAdminが行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
	r.Use(middleware.NewSessionMiddleware(deps.SessionCodec, deps.SessionService))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCodec, deps.AuthConfig)
	productHandler := NewProductHandler(deps.ProductService)
	sourceHandler := NewSourceHandler(deps.SourceService)
	userHandler := NewUserHandler(deps.UserService, deps.SessionCodec)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.DB))
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", prodmetrics.Handler(deps.Gatherer))
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
		r.Post("/refresh", authHandler.Refresh)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireUser → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロダクト管理
		r.Route("/api/products", func(r chi.Router) {
			r.Get("/", productHandler.ListProducts)
			r.Post("/", productHandler.CreateProduct)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", productHandler.GetProduct)
				r.Patch("/", productHandler.UpdateProduct)
				r.Delete("/", productHandler.DeleteProduct)
			})
		})

		// ソース管理
		r.Route("/api/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)

			// POST /api/sources - ソース登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.SourceRegistrationMiddleware()).Post("/", sourceHandler.RegisterSource)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetSource)
				r.Patch("/", sourceHandler.UpdateSource)
				r.Delete("/", sourceHandler.DeleteSource)

				// 再検査も外部URLへのアクセスを伴うため登録専用レート制限を適用する
				r.With(deps.RateLimiter.SourceRegistrationMiddleware()).Post("/inspect", sourceHandler.InspectSource)
			})
		})

		// ユーザー管理
		r.Route("/api/users/me", func(r chi.Router) {
			r.Get("/", userHandler.GetProfile)
			r.Patch("/", userHandler.UpdateProfile)
			r.Delete("/", userHandler.Withdraw)
		})
	})

	// --- 管理者専用ルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/users", adminHandler.ListUsers)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", adminHandler.GetUser)
				r.Delete("/", adminHandler.DeleteUser)
			})

			r.Get("/products", adminHandler.ListProducts)
			r.Delete("/products/{id}", adminHandler.DeleteProduct)

			r.Get("/sources", adminHandler.ListSources)
			r.Delete("/sources/{id}", adminHandler.DeleteSource)
		})
	})

	return r
}

// newHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// DBが設定されている場合は疎通確認も行う。
func newHealthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unavailable",
				})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
		})
	}
}
