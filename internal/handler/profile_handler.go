package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hbjoroy/Weather-Service/internal/middleware"
	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/profile"
	"github.com/hbjoroy/Weather-Service/internal/security"
)

// ProfileServiceInterface はプロファイルハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Default() model.Profile
	ResolveForSession(ctx context.Context, userID, displayName string) model.Profile
	ApplyUpdate(ctx context.Context, userID, displayName string, update model.ProfileUpdate) (model.Profile, error)
	Withdraw(ctx context.Context, userID string) error
}

// ProfileHandler はプロファイル管理のHTTPハンドラー。
type ProfileHandler struct {
	service      ProfileServiceInterface
	sanitizer    security.TextSanitizerService
	cookieConfig AuthHandlerConfig
}

// NewProfileHandler はProfileHandlerを生成する。
// cookieConfigは退会時のセッションCookie削除に使用する。
func NewProfileHandler(service ProfileServiceInterface, sanitizer security.TextSanitizerService, cookieConfig AuthHandlerConfig) *ProfileHandler {
	return &ProfileHandler{
		service:      service,
		sanitizer:    sanitizer,
		cookieConfig: cookieConfig,
	}
}

// GetProfile は現在のプロファイルを返す。未ログインの場合はゲストプロファイル。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeJSON(w, http.StatusOK, h.service.Default())
		return
	}

	writeJSON(w, http.StatusOK, h.service.ResolveForSession(r.Context(), session.UserID, session.DisplayName))
}

// UpdateProfile はプロファイルを部分更新する。
// PUT /api/profile, POST /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeAPIErrorResponse(w, model.NewUnauthorizedError())
		return
	}

	var update model.ProfileUpdate
	if err := decodeJSONBody(w, r, &update); err != nil {
		writeAPIErrorResponse(w, model.NewInvalidJSONError())
		return
	}
	h.sanitizeUpdate(&update)

	updated, err := h.service.ApplyUpdate(r.Context(), session.UserID, session.DisplayName, update)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrInvalidProfile):
			writeAPIErrorResponse(w, model.NewInvalidUnitError(err.Error()))
		case errors.Is(err, profile.ErrDefaultProfileReadOnly):
			writeAPIErrorResponse(w, model.NewUnauthorizedError())
		default:
			slog.ErrorContext(r.Context(), "failed to update profile",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, model.NewProfileStoreError())
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteProfile は保存済みプロファイルを削除し、ユーザーの全セッションを破棄する。
// DELETE /api/profile
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeAPIErrorResponse(w, model.NewUnauthorizedError())
		return
	}

	err := h.service.Withdraw(r.Context(), session.UserID)
	// セッションは破棄済みのためCookieは常に削除する
	clearSessionCookie(w, h.cookieConfig)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to delete profile",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, model.NewProfileStoreError())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sanitizeUpdate は自由入力のフィールドからHTMLと制御文字を除去する。
// 除去後に空になったフィールドは更新対象から外す。
func (h *ProfileHandler) sanitizeUpdate(update *model.ProfileUpdate) {
	if h.sanitizer == nil {
		return
	}
	if update.Name != nil {
		name := h.sanitizer.Sanitize(*update.Name, security.MaxNameLength)
		update.Name = nonEmpty(name)
	}
	if update.DefaultLocation != nil {
		loc := h.sanitizer.Sanitize(*update.DefaultLocation, security.MaxLocationLength)
		update.DefaultLocation = nonEmpty(loc)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
