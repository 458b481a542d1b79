// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 認証は外部IdP（Auth0互換エンドポイント）に委譲し、
// ローカルにはプロフィールと所有データの紐付けのみを保持する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// provider + provider_user_id（subject）からローカルユーザーを解決する。
// subject文字列のパースには頼らず、このテーブル経由でユーザーIDを引く。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// UserWithCounts は管理画面向けのユーザー情報（所有データ件数付き）。
type UserWithCounts struct {
	User
	ProductCount int
	SourceCount  int
}
