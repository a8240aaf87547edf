package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hbjoroy/Weather-Service/internal/metrics"
	"github.com/hbjoroy/Weather-Service/internal/middleware"
	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	RateLimiter           *middleware.RateLimiter // 天気API
	LoginLimiter          *middleware.RateLimiter // ログイン開始（保留中認証テーブルの占有を防ぐ）
	ContentSecurityPolicy string                  // 空ならデフォルトのCSP
	CORSEnabled           bool
	CORSAllowedOrigin     string
	TrustProxyHeaders     bool
	Logger                *slog.Logger
	Metrics               metrics.MetricsCollector
	MetricsHandler        http.Handler // nilの場合/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロファイル
	ProfileService ProfileServiceInterface
	Sanitizer      security.TextSanitizerService

	// 天気
	WeatherClient WeatherClientInterface

	// 静的ファイルとヘルスチェック
	StaticPath string
	HealthDB   Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RealIP(任意) → Metrics → SecurityHeaders → CORS(任意) → Session → Logging
//
// 天気APIとログイン開始にはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.ContentSecurityPolicy))
	if deps.CORSEnabled {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}
	r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Sanitizer, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Sanitizer, deps.AuthConfig)
	weatherHandler := NewWeatherHandler(deps.WeatherClient)
	staticHandler := NewStaticHandler(deps.StaticPath)

	r.Route("/api", func(r chi.Router) {
		// プロファイル
		r.Get("/profile", profileHandler.GetProfile)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSessionMiddleware())
			r.Put("/profile", profileHandler.UpdateProfile)
			r.Post("/profile", profileHandler.UpdateProfile)
			r.Delete("/profile", profileHandler.DeleteProfile)
		})

		// 認証
		r.Group(func(r chi.Router) {
			if deps.LoginLimiter != nil {
				r.Use(deps.LoginLimiter.Middleware("login"))
			}
			r.Get("/auth/login", authHandler.Login)
			r.Post("/login", authHandler.LegacyLogin)
		})
		r.Get("/auth/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)

		// 天気（レート制限付き）
		r.Route("/weather", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware("weather"))
			}
			r.Get("/current", weatherHandler.Current)
			r.Get("/forecast", weatherHandler.Forecast)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeAPIErrorResponse(w, model.NewNotFoundError("API endpoint not found"))
		})
		r.MethodNotAllowed(methodNotAllowed)
	})

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthDB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// それ以外のパスは静的ファイルとして扱う
	r.NotFound(staticHandler.ServeHTTP)
	r.MethodNotAllowed(methodNotAllowed)

	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorResponse(w, model.NewMethodNotAllowedError())
}
