// Package model はドメインモデルを定義する。
package model

import "time"

// Product はユーザーが管理するプロダクトを表す。
// 1ユーザーが複数のプロダクトを所有し、プロダクトには複数のソースを紐付けられる。
type Product struct {
	ID        string
	UserID    string
	Name      string
	Link      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductWithDetails は管理画面向けのプロダクト情報。
// 所有ユーザーのメールアドレスと紐付くソース数を含む。
type ProductWithDetails struct {
	Product
	OwnerEmail  string
	SourceCount int
}
