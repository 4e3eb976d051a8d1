package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はフィード本文をプレーンテキストへ変換するインターフェース。
// 変換結果はキーワード照合とメッセージ本文の両方に使われる。
type ContentSanitizerService interface {
	// Sanitize は全てのタグを除去し、空白を1つに畳んだテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// ContentSanitizer はbluemondayのStrictPolicyによるContentSanitizerServiceの実装。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	return &ContentSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた文字参照を元の文字へ戻す。
func (s *ContentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

var _ ContentSanitizerService = (*ContentSanitizer)(nil)
