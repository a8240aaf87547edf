package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig はOIDCクライアントの設定。
type OIDCConfig struct {
	Issuer                string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	PostLogoutRedirectURI string
	Timeout               time.Duration // IdPへの各リクエストのタイムアウト
}

// UserInfo はuserinfoエンドポイントから取得したユーザー情報を表す。
type UserInfo struct {
	Subject           string
	Name              string
	PreferredUsername string
	Email             string
}

// DisplayName は表示名を返す。name、preferred_username、email、subの順で採用する。
func (u *UserInfo) DisplayName() string {
	for _, v := range []string{u.Name, u.PreferredUsername, u.Email} {
		if v != "" {
			return v
		}
	}
	return u.Subject
}

// OIDCEndpoints はディスカバリまたは規約から決定したエンドポイント群。
type OIDCEndpoints struct {
	Authorization string
	Token         string
	UserInfo      string
	EndSession    string
}

// OIDCClient はOIDC認可コードフロー（PKCE）のIdP通信を行う。
type OIDCClient struct {
	config     OIDCConfig
	endpoints  OIDCEndpoints
	provider   *oidc.Provider
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewOIDCClient はディスカバリを行いOIDCClientを生成する。
// ディスカバリに失敗した場合は {issuer}/authorize 等の規約上のパスを使用する。
// 認可・トークン・userinfoのいずれかが決定できない場合はエラーを返す。
func NewOIDCClient(ctx context.Context, cfg OIDCConfig) (*OIDCClient, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc: issuer and client ID are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	issuer := strings.TrimRight(cfg.Issuer, "/")

	c := &OIDCClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	provider, err := oidc.NewProvider(c.clientContext(ctx), issuer)
	if err == nil {
		var claims struct {
			EndSession string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&claims); err != nil {
			slog.Warn("failed to read discovery claims", slog.String("error", err.Error()))
		}
		ep := provider.Endpoint()
		c.endpoints = OIDCEndpoints{
			Authorization: ep.AuthURL,
			Token:         ep.TokenURL,
			UserInfo:      provider.UserInfoEndpoint(),
			EndSession:    claims.EndSession,
		}
		slog.Info("oidc discovery succeeded", slog.String("issuer", issuer))
	} else {
		slog.Warn("oidc discovery failed, using conventional endpoints",
			slog.String("issuer", issuer),
			slog.String("error", err.Error()),
		)
	}

	// ディスカバリで得られなかった項目は規約上のパスで補う
	if c.endpoints.Authorization == "" {
		c.endpoints.Authorization = issuer + "/authorize"
	}
	if c.endpoints.Token == "" {
		c.endpoints.Token = issuer + "/token"
	}
	if c.endpoints.UserInfo == "" {
		c.endpoints.UserInfo = issuer + "/userinfo"
	}
	if c.endpoints.EndSession == "" {
		c.endpoints.EndSession = issuer + "/end-session"
	}

	if err := validateEndpoint(c.endpoints.Authorization); err != nil {
		return nil, fmt.Errorf("oidc: invalid authorization endpoint: %w", err)
	}
	if err := validateEndpoint(c.endpoints.Token); err != nil {
		return nil, fmt.Errorf("oidc: invalid token endpoint: %w", err)
	}
	if err := validateEndpoint(c.endpoints.UserInfo); err != nil {
		return nil, fmt.Errorf("oidc: invalid userinfo endpoint: %w", err)
	}

	// userinfo取得はディスカバリ結果の有無に関わらず確定したエンドポイントで行う
	c.provider = (&oidc.ProviderConfig{
		IssuerURL:   issuer,
		AuthURL:     c.endpoints.Authorization,
		TokenURL:    c.endpoints.Token,
		UserInfoURL: c.endpoints.UserInfo,
	}).NewProvider(c.clientContext(ctx))

	c.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoints.Authorization,
			TokenURL:  c.endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return c, nil
}

// Endpoints は使用中のエンドポイントを返す。
func (c *OIDCClient) Endpoints() OIDCEndpoints {
	return c.endpoints
}

// AuthorizationURL はブラウザをリダイレクトさせる認可URLを生成する。
func (c *OIDCClient) AuthorizationURL(state, codeChallenge string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode は認可コードとPKCE verifierをトークンに交換する。
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	tok, err := c.oauth.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oidc: token exchange failed: %w", err)
	}
	return tokenSetFrom(tok)
}

// RefreshToken はリフレッシュトークンで新しいトークンを取得する。
func (c *OIDCClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, errors.New("oidc: refresh token is empty")
	}
	// アクセストークンを持たないトークンは常に無効と判定され、更新が行われる
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oidc: token refresh failed: %w", err)
	}
	return tokenSetFrom(tok)
}

// FetchUserInfo はアクセストークンでuserinfoエンドポイントを呼び出す。
// subを含まない応答はエラーとする。
func (c *OIDCClient) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := c.provider.UserInfo(c.clientContext(ctx), src)
	if err != nil {
		return nil, fmt.Errorf("oidc: userinfo request failed: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("oidc: userinfo response has no subject")
	}

	var claims struct {
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: failed to decode userinfo claims: %w", err)
	}

	return &UserInfo{
		Subject:           info.Subject,
		Name:              claims.Name,
		PreferredUsername: claims.PreferredUsername,
		Email:             info.Email,
	}, nil
}

// LogoutURL はIdPのエンドセッションURLを生成する。
// id_token_hintとリダイレクト先の両方がある場合のみクエリに付与する。
func (c *OIDCClient) LogoutURL(idTokenHint, postLogoutRedirect string) string {
	if idTokenHint == "" || postLogoutRedirect == "" {
		return c.endpoints.EndSession
	}
	u, err := url.Parse(c.endpoints.EndSession)
	if err != nil {
		return c.endpoints.EndSession
	}
	q := u.Query()
	q.Set("id_token_hint", idTokenHint)
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	u.RawQuery = q.Encode()
	return u.String()
}

// PostLogoutRedirectURI は設定されたログアウト後のリダイレクト先を返す。
func (c *OIDCClient) PostLogoutRedirectURI() string {
	return c.config.PostLogoutRedirectURI
}

func (c *OIDCClient) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

func tokenSetFrom(tok *oauth2.Token) (*TokenSet, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("oidc: token response has no access token")
	}
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	if set.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		set.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return set, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// compile-time interface check
var _ TokenRefresher = (*OIDCClient)(nil)
