// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はLLMが生成したテキストをサニタイズし、
// モバイルクライアントへHTMLやスクリプト断片が流れるのを防ぐ。
// 生成結果はプレーンテキストとして扱うため、許可タグなしの
// 厳格なポリシーで全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は生成テキストのサニタイズ機能のインターフェースを定義する。
// LLM出力のAPI応答前に使用される。
type ContentSanitizerService interface {
	// Sanitize はテキストから全てのHTMLタグを除去し、
	// エスケープされたエンティティを元の文字へ戻したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayの厳格ポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグと属性を除去する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストをサニタイズしてプレーンテキストを返す。
// bluemondayはタグ除去後に残るテキストをHTMLエスケープするため、
// クライアントにそのまま表示できるようエンティティを復元する。
func (s *contentSanitizer) Sanitize(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
