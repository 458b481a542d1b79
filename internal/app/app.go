// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/prodsource/internal/admin"
	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/config"
	"github.com/hitoshi/prodsource/internal/database"
	"github.com/hitoshi/prodsource/internal/handler"
	"github.com/hitoshi/prodsource/internal/logger"
	"github.com/hitoshi/prodsource/internal/metrics"
	"github.com/hitoshi/prodsource/internal/middleware"
	"github.com/hitoshi/prodsource/internal/product"
	"github.com/hitoshi/prodsource/internal/repository"
	"github.com/hitoshi/prodsource/internal/security"
	"github.com/hitoshi/prodsource/internal/source"
	"github.com/hitoshi/prodsource/internal/user"
	"github.com/hitoshi/prodsource/internal/worker/check"
	"github.com/hitoshi/prodsource/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	productRepo := repository.NewPostgresProductRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db)
	checkRepo := repository.NewPostgresSourceCheckRepo(db)

	// 3. セキュリティ・メトリクスサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 認証サービスの初期化
	provider := auth.NewAuth0Provider(auth.Auth0Config{
		Domain:         cfg.AuthDomain,
		ClientID:       cfg.AuthClientID,
		ClientSecret:   cfg.AuthClientSecret,
		Audience:       cfg.AuthAudience,
		CallbackURL:    cfg.AuthCallbackURL,
		LogoutReturnTo: cfg.AuthLogoutReturnTo,
	})
	authService := auth.NewService(
		provider, userRepo, identRepo, collector,
		auth.ServiceConfig{
			RolesClaim: cfg.AdminRolesClaim,
			AdminRole:  cfg.AdminRoleName,
		},
	)

	sessionCodec, err := auth.NewSessionCodec(auth.SessionCodecConfig{
		Secret:       cfg.SessionSecret,
		MaxAge:       cfg.SessionMaxAge,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session codec: %w", err)
	}

	// 5. ドメインサービスの初期化
	faviconFetcher := source.NewFaviconFetcher(ssrfGuard)
	inspector := source.NewInspector(ssrfGuard, faviconFetcher, cfg.CheckTimeout)

	productService := product.NewService(productRepo, sourceRepo, sanitizer)
	sourceService := source.NewService(sourceRepo, productRepo, checkRepo, inspector, ssrfGuard, sanitizer)
	userService := user.NewService(userRepo, productRepo, sourceRepo, provider)
	adminService := admin.NewService(userRepo, productRepo, sourceRepo)

	// 6. レート制限の初期化（設定値はreq/min単位、リミッターはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SourceRegRate = rate.Limit(float64(cfg.RateLimitSourceReg) / 60.0)
	rateLimiterCfg.SourceRegBurst = cfg.RateLimitSourceReg

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionCodec:      sessionCodec,
		SessionService:    authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: middleware.NewRateLimiter(rateLimiterCfg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL: cfg.BaseURL,
		},

		ProductService: productService,
		SourceService:  sourceService,
		UserService:    userService,
		AdminService:   adminService,

		DB:       db,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、可用性チェックスケジューラとクリーンアップジョブを起動する。
// メトリクスは専用のHTTPエンドポイントで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	sourceRepo := repository.NewPostgresSourceRepo(db)
	checkRepo := repository.NewPostgresSourceCheckRepo(db)

	// 3. セキュリティ・メトリクスサービスの初期化
	ssrfGuard := security.NewSSRFGuard()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. チェッカーの初期化
	checker := check.NewChecker(
		sourceRepo, checkRepo, ssrfGuard, collector,
		check.CheckerConfig{
			Timeout: cfg.CheckTimeout,
			MaxSize: cfg.CheckMaxSize,
		},
	)

	// 5. スケジューラの初期化
	scheduler := check.NewScheduler(
		sourceRepo, checker, slog.Default(), cfg.CheckInterval, cfg.CheckMaxConcurrent,
	)

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(checkRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.CheckRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("check_interval", cfg.CheckInterval),
		slog.Int("max_concurrent", cfg.CheckMaxConcurrent),
		slog.Int("retention_days", cfg.CheckRetentionDays),
	)

	// メトリクスエンドポイントをバックグラウンドで公開
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// チェックスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.CheckInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
