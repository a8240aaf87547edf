package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hbjoroy/Weather-Service/internal/auth"
	"github.com/hbjoroy/Weather-Service/internal/middleware"
	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/security"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, params auth.CallbackParams) (*model.Session, error)
	LegacyLogin(ctx context.Context, userID, name string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）。0の場合はブラウザセッション限り
	// LoginSuccessURL はログイン成功後のリダイレクト先
	LoginSuccessURL string
	// LoginErrorURL はログイン失敗時のリダイレクト先。errorパラメータを付与する
	LoginErrorURL string
}

// DefaultAuthHandlerConfig はフロントエンドのハッシュルーティングに合わせた既定値を返す。
func DefaultAuthHandlerConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		CookieSecure:    true,
		LoginSuccessURL: "/",
		LoginErrorURL:   "/#/login",
	}
}

// AuthHandler はOIDCログインとセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	sanitizer security.TextSanitizerService
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sanitizer security.TextSanitizerService, config AuthHandlerConfig) *AuthHandler {
	if config.LoginSuccessURL == "" {
		config.LoginSuccessURL = "/"
	}
	if config.LoginErrorURL == "" {
		config.LoginErrorURL = "/#/login"
	}
	return &AuthHandler{
		service:   service,
		sanitizer: sanitizer,
		config:    config,
	}
}

type loginResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

type legacyLoginRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type legacyLoginResponse struct {
	Success   bool   `json:"success"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

type logoutResponse struct {
	Success   bool   `json:"success"`
	LogoutURL string `json:"logoutUrl,omitempty"`
}

// Login はOIDCログインを開始し、IdPの認可URLを返す。
// GET /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirectURL, err := h.service.BeginLogin(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrOIDCNotConfigured):
			writeAPIErrorResponse(w, model.NewOIDCNotConfiguredError())
		case errors.Is(err, auth.ErrPendingAuthCapacity):
			writeAPIErrorResponse(w, model.NewLoginUnavailableError())
		default:
			handleServiceError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{RedirectURL: redirectURL})
}

// Callback はIdPからのリダイレクトを処理する。
// GET /api/auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	// IdPがエラーを返した場合はcode/stateの有無に関わらずログイン画面へ戻す
	if params.Error == "" {
		if params.Code == "" {
			writeAPIErrorResponse(w, model.NewMissingParameterError("code"))
			return
		}
		if params.State == "" {
			writeAPIErrorResponse(w, model.NewMissingParameterError("state"))
			return
		}
	}

	session, err := h.service.HandleCallback(r.Context(), params)
	if err != nil {
		var cbErr *auth.CallbackError
		switch {
		case errors.Is(err, auth.ErrOIDCNotConfigured):
			writeAPIErrorResponse(w, model.NewOIDCNotConfiguredError())
		case errors.As(err, &cbErr) && cbErr.Reason == auth.ReasonInvalidState:
			writeAPIErrorResponse(w, model.NewInvalidStateError())
		case errors.As(err, &cbErr):
			http.Redirect(w, r, h.loginErrorURL(cbErr.Reason), http.StatusFound)
		default:
			handleServiceError(w, r, err)
		}
		return
	}

	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, h.config.LoginSuccessURL, http.StatusFound)
}

// LegacyLogin はユーザーIDによる簡易ログインを処理する（非推奨）。
// POST /api/login
func (h *AuthHandler) LegacyLogin(w http.ResponseWriter, r *http.Request) {
	var req legacyLoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeAPIErrorResponse(w, model.NewInvalidJSONError())
		return
	}

	name := req.Name
	if h.sanitizer != nil {
		name = h.sanitizer.Sanitize(name, security.MaxNameLength)
	}

	session, err := h.service.LegacyLogin(r.Context(), req.UserID, name)
	if err != nil {
		if errors.Is(err, auth.ErrUserIDRequired) {
			writeAPIErrorResponse(w, model.NewMissingParameterError("userId"))
			return
		}
		handleServiceError(w, r, err)
		return
	}

	slog.WarnContext(r.Context(), "deprecated login endpoint used", slog.String("user_id", session.UserID))

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, legacyLoginResponse{
		Success:   true,
		UserID:    session.UserID,
		Name:      session.DisplayName,
		SessionID: session.ID,
	})
}

// Logout はセッションを破棄し、IdPのログアウトURLがあれば返す。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	logoutURL := h.service.Logout(r.Context(), middleware.SessionIDFromRequest(r))

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, logoutResponse{
		Success:   true,
		LogoutURL: logoutURL,
	})
}

func (h *AuthHandler) loginErrorURL(reason string) string {
	return h.config.LoginErrorURL + "?error=" + url.QueryEscape(reason)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	clearSessionCookie(w, h.config)
}

// clearSessionCookie はセッションCookieを削除する。
func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
