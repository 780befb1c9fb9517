// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, trial, generation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidProviderToken  = "INVALID_PROVIDER_TOKEN"
	ErrCodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	ErrCodeMissingField          = "MISSING_FIELD"
	ErrCodeInvalidSession        = "INVALID_SESSION"
	ErrCodeTrialUnavailable      = "TRIAL_UNAVAILABLE"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodeLLMNotConfigured      = "LLM_NOT_CONFIGURED"
)

// NewInvalidProviderTokenError はIdPトークンの検証失敗エラーを生成する。
func NewInvalidProviderTokenError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProviderToken,
		Message:  fmt.Sprintf("%sのトークンを検証できませんでした。", provider),
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewProviderNotConfiguredError はIdP未設定エラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("%sサインインは現在利用できません。", provider),
		Category: "auth",
		Action:   "別のサインイン方法をお試しください。",
	}
}

// NewMissingFieldError は必須フィールド欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須フィールドがありません: %s", field),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidSessionError はセッショントークン不正エラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewTrialUnavailableError はtrial操作の失敗エラーを生成する。
func NewTrialUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeTrialUnavailable,
		Message:  "トライアル情報を取得できませんでした。",
		Category: "trial",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewGenerationFailedError はスクリプト生成の失敗エラーを生成する。
func NewGenerationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  "スクリプトの生成に失敗しました。",
		Category: "generation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLLMNotConfiguredError はLLM未設定エラーを生成する。
func NewLLMNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeLLMNotConfigured,
		Message:  "スクリプト生成バックエンドが設定されていません。",
		Category: "system",
		Action:   "OPENAI_API_KEY または OLLAMA_BASE_URL を設定してください。",
	}
}
