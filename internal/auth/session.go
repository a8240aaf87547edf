package auth

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hbjoroy/Weather-Service/internal/model"
)

// ErrSessionNotFound はセッションが存在しないか失効している場合に返る。
var ErrSessionNotFound = errors.New("auth: session not found or expired")

// TokenSet はトークンエンドポイントの応答を表す。
// ExpiresInはアクセストークンの残り有効秒数（0は不明）。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
}

// TokenRefresher はリフレッシュトークンで新しいトークンを取得する。
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// SessionStoreConfig はセッション表の設定。
type SessionStoreConfig struct {
	Capacity    int           // 同時に保持するセッションの上限
	TTL         time.Duration // 最終アクセスからの有効期間
	TokenLeeway time.Duration // トークン有効期限から差し引く安全マージン
}

// DefaultSessionStoreConfig は既定値（100件、1時間、60秒）を返す。
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{Capacity: 100, TTL: time.Hour, TokenLeeway: 60 * time.Second}
}

// SessionStore はメモリ上でセッションを管理する。
// 上限に達した場合は最終アクセスが最も古いセッションを追い出す。
type SessionStore struct {
	mu        sync.Mutex
	entries   map[string]*list.Element
	lru       *list.List // 先頭が最近アクセスされたセッション
	config    SessionStoreConfig
	refresher TokenRefresher
	now       func() time.Time
}

// NewSessionStore はSessionStoreを生成する。
// refresherがnilの場合、RefreshTokensは常にfalseを返す。
func NewSessionStore(cfg SessionStoreConfig, refresher TokenRefresher) *SessionStore {
	def := DefaultSessionStoreConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.TokenLeeway < 0 {
		cfg.TokenLeeway = def.TokenLeeway
	}
	return &SessionStore{
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
		config:    cfg,
		refresher: refresher,
		now:       time.Now,
	}
}

// Create は新しいセッションを作成し、そのコピーを返す。
func (s *SessionStore) Create(userID, displayName string) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return nil, errors.New("auth: session ID collision")
	}

	now := s.now()
	if s.lru.Len() >= s.config.Capacity {
		s.sweepLocked(now)
	}
	for s.lru.Len() >= s.config.Capacity {
		oldest := s.lru.Back()
		evicted := s.removeLocked(oldest)
		slog.Info("session evicted",
			slog.String("user_id", evicted.UserID),
			slog.Int("capacity", s.config.Capacity),
		)
	}

	session := &model.Session{
		ID:             id,
		UserID:         userID,
		DisplayName:    displayName,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.config.TTL),
	}
	s.entries[id] = s.lru.PushFront(session)

	return session.Clone(), nil
}

// Get はセッションを取得し、有効期限を延長する。
// 存在しないか失効している場合はnilを返す（失効したものは削除する）。
func (s *SessionStore) Get(id string) *model.Session {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[id]
	if !ok {
		return nil
	}
	session := elem.Value.(*model.Session)

	now := s.now()
	if session.Expired(now) {
		s.removeLocked(elem)
		return nil
	}

	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(s.config.TTL)
	s.lru.MoveToFront(elem)

	return session.Clone()
}

// Destroy はセッションを削除する。存在しない場合は何もしない。
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[id]; ok {
		s.removeLocked(elem)
	}
}

// DestroyByUserID は指定ユーザーの全セッションを削除し、削除件数を返す。
func (s *SessionStore) DestroyByUserID(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.lru.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*model.Session).UserID == userID {
			s.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// StoreTokens はセッションにOIDCトークンを保存する。
// トークンの有効期限は expiresIn から安全マージンを引いた時刻とする。
// expiresInが0以下の場合は期限なしとし、リフレッシュ対象にしない。
func (s *SessionStore) StoreTokens(id string, tokens *TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	session := elem.Value.(*model.Session)
	session.Tokens = &model.OIDCTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		ExpiresAt:    s.tokenExpiry(tokens.ExpiresIn),
	}
	return nil
}

// RefreshTokens はリフレッシュトークンでセッションのトークンを更新する。
// セッション・リフレッシュトークン・refresherのいずれかが無い場合はfalse。
// IdPへの問い合わせ中はロックを保持しない。
func (s *SessionStore) RefreshTokens(ctx context.Context, id string) bool {
	if s.refresher == nil {
		return false
	}

	s.mu.Lock()
	elem, ok := s.entries[id]
	var refreshToken string
	if ok {
		if t := elem.Value.(*model.Session).Tokens; t != nil {
			refreshToken = t.RefreshToken
		}
	}
	s.mu.Unlock()

	if refreshToken == "" {
		return false
	}

	tokens, err := s.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		slog.Warn("token refresh failed", slog.String("error", err.Error()))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 問い合わせ中に破棄された場合は結果を捨てる
	elem, ok = s.entries[id]
	if !ok {
		return false
	}
	session := elem.Value.(*model.Session)
	updated := &model.OIDCTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		ExpiresAt:    s.tokenExpiry(tokens.ExpiresIn),
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = refreshToken
	}
	if updated.IDToken == "" && session.Tokens != nil {
		updated.IDToken = session.Tokens.IDToken
	}
	session.Tokens = updated
	return true
}

// Sweep は失効したセッションを削除し、削除件数を返す。
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Len は保持しているセッション数を返す。
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// tokenExpiry はトークンの更新期限を返す。
// expires_inが無いトークンは期限を持たないものとしてゼロ値を返す。
func (s *SessionStore) tokenExpiry(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return s.now().Add(time.Duration(expiresIn)*time.Second - s.config.TokenLeeway)
}

func (s *SessionStore) sweepLocked(now time.Time) int {
	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*model.Session).Expired(now) {
			s.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (s *SessionStore) removeLocked(elem *list.Element) *model.Session {
	session := s.lru.Remove(elem).(*model.Session)
	delete(s.entries, session.ID)
	return session
}
