package security

import (
	"strings"
	"testing"
)

// TestSanitizeText_StripsAllTags はあらゆるHTMLタグが除去されることを検証する。
func TestSanitizeText_StripsAllTags(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pタグが除去される",
			input: "<p>プロダクト名</p>",
			want:  "プロダクト名",
		},
		{
			name:  "strongタグが除去される",
			input: "名前<strong>強調</strong>",
			want:  "名前強調",
		},
		{
			name:  "aタグが除去されテキストのみ残る",
			input: `<a href="https://example.com">サイト名</a>`,
			want:  "サイト名",
		},
		{
			name:  "ネストしたタグが除去される",
			input: "<div><span>タイトル</span></div>",
			want:  "タイトル",
		},
		{
			name:  "imgタグが除去される",
			input: `名前<img src="https://example.com/x.png">`,
			want:  "名前",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_RemovesScriptContent はscriptタグとその内容が除去されることを検証する。
func TestSanitizeText_RemovesScriptContent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "scriptタグが除去される",
			input:      `タイトル<script>alert('xss')</script>`,
			wantAbsent: []string{"<script", "alert"},
		},
		{
			name:       "styleタグが除去される",
			input:      `タイトル<style>body{display:none}</style>`,
			wantAbsent: []string{"<style", "display:none"},
		},
		{
			name:       "iframeタグが除去される",
			input:      `タイトル<iframe src="https://evil.com"></iframe>`,
			wantAbsent: []string{"<iframe", "evil.com"},
		},
		{
			name:       "on*イベント属性が除去される",
			input:      `<p onclick="steal()">タイトル</p>`,
			wantAbsent: []string{"onclick", "steal"},
		},
		{
			name:       "SVG onloadが除去される",
			input:      `<svg onload="alert('xss')">タイトル</svg>`,
			wantAbsent: []string{"<svg", "onload", "alert"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeText(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("SanitizeText(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitizeText_DecodesEntities はエンティティ参照がデコードされることを検証する。
// 外部ページのtitle要素は &amp; 等を含むことがあり、保存前にプレーンテキスト化する。
func TestSanitizeText_DecodesEntities(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "ampがデコードされる",
			input: "Tools &amp; Utilities",
			want:  "Tools & Utilities",
		},
		{
			name:  "ltとgtがデコードされる",
			input: "A &lt;B&gt; C",
			want:  "A <B> C",
		},
		{
			name:  "数値参照がデコードされる",
			input: "&#169; 2026 Example",
			want:  "© 2026 Example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_TrimsWhitespace は前後の空白が除去されることを検証する。
func TestSanitizeText_TrimsWhitespace(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.SanitizeText("  \n\tページタイトル \n ")
	if got != "ページタイトル" {
		t.Errorf("SanitizeText = %q, want %q", got, "ページタイトル")
	}
}

// TestSanitizeText_EmptyInput は空文字列の入力を安全に処理できることを検証する。
func TestSanitizeText_EmptyInput(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.SanitizeText("")
	if got != "" {
		t.Errorf("SanitizeText(\"\") = %q, expected empty string", got)
	}
}

// TestSanitizeText_PlainText はプレーンテキストがそのまま通過することを検証する。
func TestSanitizeText_PlainText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := "これはプレーンテキストです。HTMLタグを含みません。"
	got := sanitizer.SanitizeText(input)
	if got != input {
		t.Errorf("SanitizeText(%q) = %q, expected unchanged", input, got)
	}
}

// TestSanitizeText_Idempotent は同一入力に対して常に同一出力（冪等性）を検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := `<p>タイトル<strong>太字</strong></p> &amp; <a href="https://example.com">リンク</a>`

	result1 := sanitizer.SanitizeText(input)
	result2 := sanitizer.SanitizeText(input)

	if result1 != result2 {
		t.Errorf("冪等性違反: 1回目=%q, 2回目=%q", result1, result2)
	}
}

// TestTextSanitizerInterface はTextSanitizerServiceインターフェースの適合を検証する。
func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizerService = NewTextSanitizer()
}
