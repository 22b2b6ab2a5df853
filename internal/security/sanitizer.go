// Package security はユーザー入力の無害化とSSRF防止を提供する。
//
// レビュー本文やプロフィール項目のような平文はタグを全て除去し、
// 管理者が登録する目的地の説明文は許可リストのHTMLだけを残す。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力を保存前に無害化する。
type Sanitizer interface {
	// Text は全てのHTMLタグを除去し、前後の空白を取り除いた平文を返す。
	Text(raw string) string

	// HTML は許可タグ（p, br, a, ul, ol, li, blockquote, strong, em, img）のみを残したHTMLを返す。
	HTML(raw string) string
}

// contentSanitizer はSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type contentSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
// リッチテキスト用ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, strong, em, img
//   - script, iframe, style および全てのon*イベント属性は除去
//   - aとimgのURLはhttpsのみ。aにはtarget="_blank"とrel="noopener noreferrer"を付与
func NewSanitizer() Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "blockquote", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowAttrs("src", "alt").OnElements("img")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })

	return &contentSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// Text は全てのHTMLタグを除去した平文を返す。
// StrictPolicyはエンティティをエスケープするため、JSONで返す平文に戻す。
func (s *contentSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// HTML は許可リストのタグだけを残したHTMLを返す。
func (s *contentSanitizer) HTML(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.rich.Sanitize(raw))
}
