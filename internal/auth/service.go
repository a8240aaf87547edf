// Package auth はOIDC認可コードフロー（PKCE）、進行中ログインとセッションの管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hbjoroy/Weather-Service/internal/metrics"
	"github.com/hbjoroy/Weather-Service/internal/model"
)

var (
	// ErrOIDCNotConfigured はOIDCクライアントが構成されていない場合に返る。
	ErrOIDCNotConfigured = errors.New("auth: oidc is not configured")
	// ErrUserIDRequired はユーザーIDが空の場合に返る。
	ErrUserIDRequired = errors.New("auth: user ID is required")
)

// コールバック失敗の理由。フロントエンドへのリダイレクトのerrorパラメータに使用する。
const (
	ReasonInvalidState        = "invalid_state"
	ReasonAuthFailed          = "auth_failed"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonUserInfoFailed      = "userinfo_failed"
	ReasonSessionFailed       = "session_failed"
)

// CallbackError はOIDCコールバック処理の失敗を表す。
type CallbackError struct {
	Reason string
	Err    error
}

func (e *CallbackError) Error() string {
	if e.Err == nil {
		return "auth callback failed: " + e.Reason
	}
	return fmt.Sprintf("auth callback failed: %s: %v", e.Reason, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// OIDCProvider はIdPとの通信のインターフェース。
type OIDCProvider interface {
	// AuthorizationURL は認可エンドポイントへのリダイレクトURLを生成する。
	AuthorizationURL(state, codeChallenge string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error)
	// FetchUserInfo はアクセストークンでユーザー情報を取得する。
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
	// LogoutURL はIdPのログアウトURLを生成する。
	LogoutURL(idTokenHint, postLogoutRedirect string) string
}

// ProfileEnsurer はログイン時にユーザーのプロファイルを用意する。
type ProfileEnsurer interface {
	EnsureForLogin(ctx context.Context, userID, displayName string) error
}

// CallbackParams はコールバックのクエリパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string // IdPが返したerrorパラメータ
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	PostLogoutRedirectURI string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oidc     OIDCProvider
	pending  *PendingAuthRegistry
	sessions *SessionStore
	profiles ProfileEnsurer
	metrics  metrics.MetricsCollector
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
// oidcがnilの場合、OIDCログインはErrOIDCNotConfiguredを返す。
func NewService(
	oidc OIDCProvider,
	pending *PendingAuthRegistry,
	sessions *SessionStore,
	profiles ProfileEnsurer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		oidc:     oidc,
		pending:  pending,
		sessions: sessions,
		profiles: profiles,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// OIDCConfigured はOIDCログインが利用可能かを返す。
func (s *Service) OIDCConfigured() bool {
	return s.oidc != nil
}

// BeginLogin は進行中ログインを登録し、IdPの認可URLを返す。
func (s *Service) BeginLogin(ctx context.Context) (string, error) {
	if s.oidc == nil {
		return "", ErrOIDCNotConfigured
	}

	state, verifier, err := s.pending.Begin()
	if err != nil {
		return "", err
	}

	slog.DebugContext(ctx, "login started", slog.Int("pending", s.pending.Len()))
	return s.oidc.AuthorizationURL(state, PKCEChallenge(verifier)), nil
}

// HandleCallback はOIDCコールバックを処理し、セッションを発行する。
// 失敗時は理由を持つ*CallbackErrorを返す。
func (s *Service) HandleCallback(ctx context.Context, params CallbackParams) (*model.Session, error) {
	if s.oidc == nil {
		return nil, ErrOIDCNotConfigured
	}

	// 1. IdPがエラーを返した場合はstateを破棄して失敗とする
	if params.Error != "" {
		if params.State != "" {
			_, _ = s.pending.Consume(params.State)
		}
		return nil, s.callbackFailed(ctx, ReasonAuthFailed, fmt.Errorf("provider returned error: %s", params.Error))
	}

	// 2. stateを消費してverifierを取り出す（1回限り）
	verifier, err := s.pending.Consume(params.State)
	if err != nil {
		return nil, s.callbackFailed(ctx, ReasonInvalidState, err)
	}

	// 3. 認可コードをトークンに交換
	tokens, err := s.oidc.ExchangeCode(ctx, params.Code, verifier)
	if err != nil {
		return nil, s.callbackFailed(ctx, ReasonTokenExchangeFailed, err)
	}

	// 4. ユーザー情報を取得
	info, err := s.oidc.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, s.callbackFailed(ctx, ReasonUserInfoFailed, err)
	}

	// 5. セッションを発行しトークンを保存
	session, err := s.createSession(ctx, info.Subject, info.DisplayName())
	if err != nil {
		return nil, s.callbackFailed(ctx, ReasonSessionFailed, err)
	}
	if err := s.sessions.StoreTokens(session.ID, tokens); err != nil {
		return nil, s.callbackFailed(ctx, ReasonSessionFailed, err)
	}

	s.metrics.RecordLogin("success")
	slog.InfoContext(ctx, "user logged in",
		slog.String("user_id", session.UserID),
		slog.String("method", "oidc"),
	)

	if current := s.sessions.Get(session.ID); current != nil {
		return current, nil
	}
	return session, nil
}

// LegacyLogin はIdPを介さずにユーザーIDでセッションを発行する（非推奨）。
// 名前が空の場合はユーザーIDを表示名とする。
func (s *Service) LegacyLogin(ctx context.Context, userID, name string) (*model.Session, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if name == "" {
		name = userID
	}

	session, err := s.createSession(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("legacy")
	slog.InfoContext(ctx, "user logged in",
		slog.String("user_id", userID),
		slog.String("method", "legacy"),
	)
	return session, nil
}

// Logout はセッションを破棄し、IdPのログアウトURLを返す。
// OIDC以外のセッションやOIDC未設定の場合は空文字を返す。
func (s *Service) Logout(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}

	session := s.sessions.Get(sessionID)
	s.sessions.Destroy(sessionID)
	if session == nil {
		return ""
	}

	slog.InfoContext(ctx, "user logged out", slog.String("user_id", session.UserID))

	if s.oidc == nil || session.Tokens == nil {
		return ""
	}
	return s.oidc.LogoutURL(session.Tokens.IDToken, s.config.PostLogoutRedirectURI)
}

// ResolveSession はセッションIDから有効なセッションを返す。
// OIDCトークンが期限切れの場合はリフレッシュを試み、失敗してもセッションは維持する。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) *model.Session {
	session := s.sessions.Get(sessionID)
	if session == nil {
		return nil
	}

	if session.TokensExpired(s.now()) {
		ok := s.sessions.RefreshTokens(ctx, sessionID)
		s.metrics.RecordTokenRefresh(ok)
		if !ok {
			slog.WarnContext(ctx, "token refresh unsuccessful, keeping session",
				slog.String("user_id", session.UserID),
			)
			return session
		}
		if refreshed := s.sessions.Get(sessionID); refreshed != nil {
			return refreshed
		}
	}

	return session
}

// createSession はセッションを作成し、ユーザーのプロファイルを用意する。
// プロファイル保存の失敗はログに記録するのみでログインは継続する。
func (s *Service) createSession(ctx context.Context, userID, displayName string) (*model.Session, error) {
	session, err := s.sessions.Create(userID, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.profiles != nil {
		if err := s.profiles.EnsureForLogin(ctx, userID, displayName); err != nil {
			slog.ErrorContext(ctx, "failed to ensure profile on login",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	return session, nil
}

func (s *Service) callbackFailed(ctx context.Context, reason string, err error) error {
	s.metrics.RecordLogin(reason)
	slog.WarnContext(ctx, "oidc callback failed",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return &CallbackError{Reason: reason, Err: err}
}
