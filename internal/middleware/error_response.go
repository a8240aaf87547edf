package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hbjoroy/Weather-Service/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail はエラーレスポンスの本体。
// CodeはHTTPステータス、Detailsは機械可読なエラーコード。
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// WriteAPIError は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Error: ErrorDetail{
			Code:    apiErr.Status,
			Message: apiErr.Message,
			Details: apiErr.Code,
		},
	})
	if err != nil {
		slog.Warn("failed to write error response",
			slog.Int("status", apiErr.Status),
			slog.String("error", err.Error()),
		)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
