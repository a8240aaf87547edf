package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrStateNotFound はstateが未知・使用済み・期限切れの場合に返る。
	ErrStateNotFound = errors.New("auth: state not found or expired")
	// ErrPendingAuthCapacity は進行中ログインの上限に達した場合に返る。
	ErrPendingAuthCapacity = errors.New("auth: too many pending logins")
)

// PendingAuthConfig は進行中ログイン表の設定。
type PendingAuthConfig struct {
	Capacity int           // 同時に保持する進行中ログインの上限
	TTL      time.Duration // stateの有効期間
}

// DefaultPendingAuthConfig は既定値（100件、10分）を返す。
func DefaultPendingAuthConfig() PendingAuthConfig {
	return PendingAuthConfig{Capacity: 100, TTL: 10 * time.Minute}
}

type pendingAuth struct {
	verifier  string
	createdAt time.Time
}

// PendingAuthRegistry はOIDCリダイレクト中のstateとPKCE verifierを保持する。
// 各stateは1回だけ消費できる。
type PendingAuthRegistry struct {
	mu      sync.Mutex
	entries map[string]pendingAuth
	config  PendingAuthConfig
	now     func() time.Time
}

// NewPendingAuthRegistry はPendingAuthRegistryを生成する。
func NewPendingAuthRegistry(cfg PendingAuthConfig) *PendingAuthRegistry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultPendingAuthConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPendingAuthConfig().TTL
	}
	return &PendingAuthRegistry{
		entries: make(map[string]pendingAuth),
		config:  cfg,
		now:     time.Now,
	}
}

// Begin は新しいstateとverifierを生成して登録する。
// 上限に達している場合は期限切れを掃除してから再判定する。
func (r *PendingAuthRegistry) Begin() (state, verifier string, err error) {
	state, err = generateStateToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	verifier, err = generatePKCEVerifier()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.entries) >= r.config.Capacity {
		r.sweepLocked(now)
		if len(r.entries) >= r.config.Capacity {
			return "", "", ErrPendingAuthCapacity
		}
	}
	if _, exists := r.entries[state]; exists {
		return "", "", errors.New("auth: state collision")
	}

	r.entries[state] = pendingAuth{verifier: verifier, createdAt: now}
	return state, verifier, nil
}

// Consume はstateに対応するverifierを返し、エントリを削除する。
// 未知・使用済み・期限切れのstateはErrStateNotFound。
func (r *PendingAuthRegistry) Consume(state string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[state]
	if !ok {
		return "", ErrStateNotFound
	}
	delete(r.entries, state)

	if r.expired(entry, r.now()) {
		return "", ErrStateNotFound
	}
	return entry.verifier, nil
}

// Sweep は期限切れのエントリを削除し、削除件数を返す。
func (r *PendingAuthRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

// Len は保持しているエントリ数を返す。期限切れで未掃除のものも含む。
func (r *PendingAuthRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *PendingAuthRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for state, entry := range r.entries {
		if r.expired(entry, now) {
			delete(r.entries, state)
			removed++
		}
	}
	return removed
}

func (r *PendingAuthRegistry) expired(entry pendingAuth, now time.Time) bool {
	return now.Sub(entry.createdAt) > r.config.TTL
}
