package middleware

import (
	"net/http"
	"strings"
)

// DefaultContentSecurityPolicy はダッシュボードのSPAが必要とする最小限のポリシー。
// 天気アイコンは外部CDNから読み込むためimg-srcのみhttpsを許可する。
const DefaultContentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// cspが空の場合はDefaultContentSecurityPolicyを使用する。
// /api配下のレスポンスはプロファイルやセッション状態を含むためキャッシュを禁止する。
func NewSecurityHeadersMiddleware(csp string) func(next http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultContentSecurityPolicy
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			// 現在地の天気表示に位置情報だけは自オリジンで使う
			h.Set("Permissions-Policy", "geolocation=(self), camera=(), microphone=(), payment=()")
			if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
