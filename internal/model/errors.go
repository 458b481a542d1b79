// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, source, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeUpstreamAuth     = "UPSTREAM_AUTH_ERROR"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeProductNotFound  = "PRODUCT_NOT_FOUND"
	ErrCodeSourceNotFound   = "SOURCE_NOT_FOUND"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "管理者権限が必要な操作です。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProductNotFoundError はプロダクトが見つからない場合のエラーを生成する。
// 他ユーザー所有のプロダクトへのアクセスも同一のエラーとして扱う。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定されたプロダクトが見つかりません: %s", productID),
		Category: "validation",
		Action:   "プロダクトIDを確認してください。",
	}
}

// NewSourceNotFoundError はソースが見つからない場合のエラーを生成する。
// 他ユーザー所有のソースへのアクセスも同一のエラーとして扱う。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "validation",
		Action:   "ソースIDを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewFetchFailedError はソースURLの取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "source",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamAuthError は認証プロバイダー呼び出し失敗エラーを生成する。
// プロバイダーからのレスポンス詳細はログにのみ記録し、ここには含めない。
func NewUpstreamAuthError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  "認証プロバイダーとの通信に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewInvalidStateError はOAuthコールバックのstate不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "ログイン要求の検証に失敗しました。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}
