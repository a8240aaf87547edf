package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// Statusはレスポンスのステータスコード、Codeはフロントエンド向けの機械可読コード。
type APIError struct {
	Status  int    // HTTPステータスコード
	Code    string // エラーコード（レスポンスのdetailsに入る）
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeInvalidUnit        = "INVALID_UNIT"
	ErrCodeMissingParameter   = "MISSING_PARAMETER"
	ErrCodeInvalidDays        = "INVALID_DAYS"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeOIDCNotConfigured  = "OIDC_NOT_CONFIGURED"
	ErrCodeLoginUnavailable   = "LOGIN_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeProfileStoreFailed = "PROFILE_STORE_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidJSONError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidJSONError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidJSON,
		Message: "Invalid JSON",
	}
}

// NewInvalidUnitError は単位の値が不正な場合のエラーを生成する。
func NewInvalidUnitError(reason string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidUnit,
		Message: fmt.Sprintf("Invalid profile value: %s", reason),
	}
}

// NewMissingParameterError は必須パラメータ欠落エラーを生成する。
func NewMissingParameterError(name string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeMissingParameter,
		Message: fmt.Sprintf("Missing required parameter: %s", name),
	}
}

// NewInvalidDaysError は予報日数が範囲外の場合のエラーを生成する。
func NewInvalidDaysError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidDays,
		Message: "Invalid days parameter (must be 1-14)",
	}
}

// NewInvalidStateError は未知または期限切れのstateでコールバックされた場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeInvalidState,
		Message: "Invalid state",
	}
}

// NewUnauthorizedError は未ログイン時のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    ErrCodeUnauthorized,
		Message: "Not logged in",
	}
}

// NewOIDCNotConfiguredError はOIDC未設定時のエラーを生成する。
func NewOIDCNotConfiguredError() *APIError {
	return &APIError{
		Status:  http.StatusNotImplemented,
		Code:    ErrCodeOIDCNotConfigured,
		Message: "OIDC authentication is not configured",
	}
}

// NewLoginUnavailableError は進行中ログインが上限に達した場合のエラーを生成する。
func NewLoginUnavailableError() *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    ErrCodeLoginUnavailable,
		Message: "Too many logins in progress, try again later",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Status:  http.StatusTooManyRequests,
		Code:    ErrCodeRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}
}

// NewUpstreamError は天気サービス呼び出し失敗エラーを生成する。
func NewUpstreamError(what string) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Code:    ErrCodeUpstreamFailed,
		Message: fmt.Sprintf("Failed to fetch %s", what),
	}
}

// NewAccessDeniedError はパストラバーサル検出時のエラーを生成する。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    ErrCodeAccessDenied,
		Message: "Access denied",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NewMethodNotAllowedError は未対応メソッドのエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{
		Status:  http.StatusMethodNotAllowed,
		Code:    ErrCodeMethodNotAllowed,
		Message: "Method not allowed",
	}
}

// NewProfileStoreError はプロファイル保存失敗エラーを生成する。
func NewProfileStoreError() *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeProfileStoreFailed,
		Message: "Failed to save profile",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
