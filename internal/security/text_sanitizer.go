package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はユーザー入力・外部取得テキストのサニタイズ機能の
// インターフェースを定義する。プロダクト名・ソース名の保存前と、
// 検査で外部ページから取得したタイトルの保存前に使用される。
type TextSanitizerService interface {
	// SanitizeText はテキストから全てのHTMLタグを除去したプレーンテキストを返す。
	// エンティティ参照はデコードし、前後の空白を取り除く。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを持たないため、scriptタグやon*イベント属性を含む
// あらゆるマークアップが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はテキストから全てのHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyはテキストをエスケープ済みで返すため、表示用にデコードする
	return strings.TrimSpace(html.UnescapeString(stripped))
}
