// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はプロファイルの表示名や既定地点などユーザーが入力する
// プレーンテキストから、HTMLタグと制御文字を除去する。
// 値はフロントエンドでそのまま表示されるため、保存前に無害化する。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// 入力値の最大文字数（ルーン数）
const (
	MaxNameLength     = 255
	MaxLocationLength = 255
)

// TextSanitizerService はプレーンテキスト入力のサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// Sanitize はHTMLタグと制御文字を除去し、前後の空白を取り除いた上で
	// maxRunes文字に切り詰めた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string, maxRunes int) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はプレーンテキストをサニタイズする。
func (s *textSanitizer) Sanitize(raw string, maxRunes int) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはタグを除去し、残ったテキストをエスケープするため元に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != ' ') {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes])
		text = strings.TrimSpace(text)
	}
	return text
}
