package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity Provider (Auth0互換)
	AuthDomain         string
	AuthClientID       string
	AuthClientSecret   string
	AuthAudience       string
	AuthCallbackURL    string
	AuthLogoutReturnTo string

	// Admin判定
	// AdminRolesClaim はuserinfoレスポンス内のロールクレームのキー。
	// 未指定の場合は "https://{AuthDomain}/roles" を使用する。
	AdminRolesClaim string
	// AdminRoleName はクレーム内で管理者とみなすロール名。
	AdminRoleName string

	// Session
	SessionSecret string
	SessionMaxAge int // 秒。デフォルトは30日。

	// Source Check (worker)
	CheckTimeout       time.Duration
	CheckMaxSize       int64
	CheckMaxConcurrent int
	CheckInterval      time.Duration
	CheckRetentionDays int

	// Rate Limit
	RateLimitGeneral   int
	RateLimitSourceReg int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	if cfg.AuthDomain == "" {
		missing = append(missing, "AUTH_DOMAIN")
	}

	cfg.AuthClientID = os.Getenv("AUTH_CLIENT_ID")
	if cfg.AuthClientID == "" {
		missing = append(missing, "AUTH_CLIENT_ID")
	}

	cfg.AuthClientSecret = os.Getenv("AUTH_CLIENT_SECRET")
	if cfg.AuthClientSecret == "" {
		missing = append(missing, "AUTH_CLIENT_SECRET")
	}

	cfg.AuthCallbackURL = os.Getenv("AUTH_CALLBACK_URL")
	if cfg.AuthCallbackURL == "" {
		missing = append(missing, "AUTH_CALLBACK_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthAudience = getEnvString("AUTH_AUDIENCE", "")
	cfg.AuthLogoutReturnTo = getEnvString("AUTH_LOGOUT_RETURN_TO", cfg.BaseURL)
	cfg.AdminRolesClaim = getEnvString("ADMIN_ROLES_CLAIM", fmt.Sprintf("https://%s/roles", cfg.AuthDomain))
	cfg.AdminRoleName = getEnvString("ADMIN_ROLE_NAME", "admin")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 60*60*24*30)
	cfg.CheckTimeout = getEnvDuration("CHECK_TIMEOUT", 10*time.Second)
	cfg.CheckMaxSize = getEnvInt64("CHECK_MAX_SIZE", 5242880)
	cfg.CheckMaxConcurrent = getEnvInt("CHECK_MAX_CONCURRENT", 10)
	cfg.CheckInterval = getEnvDuration("CHECK_INTERVAL", 15*time.Minute)
	cfg.CheckRetentionDays = getEnvInt("CHECK_RETENTION_DAYS", 90)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSourceReg = getEnvInt("RATE_LIMIT_SOURCE_REG", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
