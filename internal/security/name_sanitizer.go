// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はプロフィールに保存する表示名からHTMLを除去する。
// OutboundGuard はIdP等の外部エンドポイントへの通信をSSRFから保護する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数（rune単位）。
const MaxNameLength = 100

// NameSanitizer は表示名のサニタイズ機能のインターフェース。
type NameSanitizer interface {
	// Sanitize はタグを全て除去し、空白を正規化した表示名を返す。
	// MaxNameLengthを超える部分は切り捨てる。
	Sanitize(name string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに使える。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを全て除去し、空白を正規化した表示名を返す。
func (s *nameSanitizer) Sanitize(name string) string {
	// StrictPolicyは&等をエスケープするため、保存用に元に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(name))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return cleaned
}
