package model

import "time"

// OIDCTokens はIdPから発行されたトークン一式を表す。
// ExpiresAtはアクセストークンの有効期限から安全マージンを引いた時刻。
type OIDCTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// Tokensがnilの場合はOIDC以外（レガシーログイン）で作成されたセッション。
type Session struct {
	ID             string
	UserID         string
	DisplayName    string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	Tokens         *OIDCTokens
}

// Expired はnow時点でセッションが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TokensExpired はOIDCトークンが更新対象かを返す。
// トークンを持たないセッションはfalse。
func (s *Session) TokensExpired(now time.Time) bool {
	if s.Tokens == nil || s.Tokens.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.Tokens.ExpiresAt)
}

// Clone はトークンを含めたディープコピーを返す。
func (s *Session) Clone() *Session {
	c := *s
	if s.Tokens != nil {
		t := *s.Tokens
		c.Tokens = &t
	}
	return &c
}
