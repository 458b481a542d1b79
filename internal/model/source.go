// Package model はドメインモデルを定義する。
package model

import "time"

// CheckStatus はソースURLの可用性チェック状態を表す。
type CheckStatus string

const (
	// CheckStatusUnchecked は未チェック状態。登録直後のソースが持つ。
	CheckStatusUnchecked CheckStatus = "unchecked"
	// CheckStatusOK は直近のチェックが成功した状態。
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusError は直近のチェックが失敗した状態。
	CheckStatusError CheckStatus = "error"
)

// Source はユーザーが追跡するソース（URL）を表す。
// プロダクトへの紐付けは任意。favicon・フィードURLは検査時に自動取得される。
type Source struct {
	ID            string
	UserID        string
	Name          string
	URL           string
	ProductID     *string
	FeedURL       *string
	FaviconData   []byte
	FaviconMime   string
	CheckStatus   CheckStatus
	LastCheckedAt *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceWithProduct はソース情報に紐付くプロダクトの概要を含めたもの。
type SourceWithProduct struct {
	Source
	ProductName *string
	ProductLink *string
}

// SourceWithDetails は管理画面向けのソース情報（所有者メール付き）。
type SourceWithDetails struct {
	Source
	OwnerEmail string
}

// SourceCheck はソースの可用性チェック履歴1件を表す。
// 保持期間を超過した履歴はクリーンアップジョブが削除する。
type SourceCheck struct {
	ID         string
	SourceID   string
	CheckedAt  time.Time
	OK         bool
	HTTPStatus int
	Error      string
}
