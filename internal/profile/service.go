// Package profile はユーザープロファイル（表示設定）のドメインロジックを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/repository"
)

var (
	// ErrDefaultProfileReadOnly はゲストプロファイルを更新しようとした場合に返る。
	ErrDefaultProfileReadOnly = errors.New("profile: default profile cannot be modified")
	// ErrProfileStoreUnavailable はプロファイルストアが構成されていない場合に返る。
	ErrProfileStoreUnavailable = errors.New("profile: profile store is not available")
	// ErrInvalidProfile は更新内容が不正な場合に返る。
	ErrInvalidProfile = errors.New("profile: invalid profile value")
)

// SessionRevoker はユーザーの全セッションを破棄する。
type SessionRevoker interface {
	DestroyByUserID(userID string) int
}

// Service はプロファイル管理のサービス層。
// repoがnilの場合はDB無効として扱い、読み取りはゲストプロファイルに縮退する。
type Service struct {
	repo     repository.ProfileRepository
	sessions SessionRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProfileRepository, sessions SessionRevoker) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
	}
}

// Default はゲストプロファイルを返す。
func (s *Service) Default() model.Profile {
	return model.DefaultProfile()
}

// StoreEnabled はプロファイルストアが構成されているかを返す。
func (s *Service) StoreEnabled() bool {
	return s.repo != nil
}

// Ping はプロファイルストアの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	if s.repo == nil {
		return ErrProfileStoreUnavailable
	}
	return s.repo.Ping(ctx)
}

// GetForUser は保存済みプロファイルを返す。
// ユーザーIDが空、未登録、ストア障害のいずれの場合もゲストプロファイルを返す。
func (s *Service) GetForUser(ctx context.Context, userID string) model.Profile {
	if p, ok := s.load(ctx, userID); ok {
		return p
	}
	return model.DefaultProfile()
}

// ResolveForSession はログイン中ユーザーのプロファイルを返す。
// 保存済みプロファイルが取得できない場合は、ゲストの既定値にユーザーIDと表示名を
// 重ねたものを返す（永続化はしない）。
func (s *Service) ResolveForSession(ctx context.Context, userID, displayName string) model.Profile {
	if userID == "" {
		return model.DefaultProfile()
	}
	if p, ok := s.load(ctx, userID); ok {
		return p
	}
	return newUserProfile(userID, displayName)
}

// UpdateForUser はプロファイルを保存する。ゲスト（ユーザーIDが空）は更新できない。
func (s *Service) UpdateForUser(ctx context.Context, userID string, p model.Profile) error {
	if userID == "" {
		return ErrDefaultProfileReadOnly
	}
	if s.repo == nil {
		return ErrProfileStoreUnavailable
	}

	p.UserID = userID
	if err := s.repo.Save(ctx, &p); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// ApplyUpdate は部分更新を現在のプロファイルに適用して保存し、更新後のプロファイルを返す。
func (s *Service) ApplyUpdate(ctx context.Context, userID, displayName string, update model.ProfileUpdate) (model.Profile, error) {
	if userID == "" {
		return model.Profile{}, ErrDefaultProfileReadOnly
	}

	current := s.ResolveForSession(ctx, userID, displayName)
	next, err := update.Apply(current)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	next.IsAuthenticated = true

	if err := s.UpdateForUser(ctx, userID, next); err != nil {
		return model.Profile{}, err
	}

	slog.InfoContext(ctx, "profile updated", slog.String("user_id", userID))
	return next, nil
}

// EnsureForLogin はログイン時にプロファイルを用意する。
// 未登録の場合はゲストの既定値で作成し、IdPの表示名が保存済みの名前と異なる場合は更新する。
func (s *Service) EnsureForLogin(ctx context.Context, userID, displayName string) error {
	if userID == "" {
		return ErrDefaultProfileReadOnly
	}
	if s.repo == nil {
		return ErrProfileStoreUnavailable
	}

	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	if existing == nil {
		p := newUserProfile(userID, displayName)
		if err := s.repo.Save(ctx, &p); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		slog.InfoContext(ctx, "profile created", slog.String("user_id", userID))
		return nil
	}

	if (displayName == "" || existing.Name == displayName) && existing.IsAuthenticated {
		return nil
	}
	if displayName != "" {
		existing.Name = displayName
	}
	existing.IsAuthenticated = true
	if err := s.repo.Save(ctx, existing); err != nil {
		return fmt.Errorf("failed to update profile name: %w", err)
	}
	slog.InfoContext(ctx, "profile name synchronized", slog.String("user_id", userID))
	return nil
}

// Withdraw はユーザーのプロファイルを削除し、全セッションを破棄する。
// ストア削除に失敗してもセッションは破棄する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrDefaultProfileReadOnly
	}

	slog.InfoContext(ctx, "profile withdrawal started", slog.String("user_id", userID))

	var storeErr error
	if s.repo == nil {
		storeErr = ErrProfileStoreUnavailable
	} else if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		storeErr = fmt.Errorf("failed to delete profile: %w", err)
	}

	if s.sessions != nil {
		n := s.sessions.DestroyByUserID(userID)
		slog.InfoContext(ctx, "sessions revoked",
			slog.String("user_id", userID),
			slog.Int("count", n),
		)
	}

	return storeErr
}

// load は保存済みプロファイルを取得する。取得できなかった場合はfalse。
func (s *Service) load(ctx context.Context, userID string) (model.Profile, bool) {
	if userID == "" || s.repo == nil {
		return model.Profile{}, false
	}

	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "profile lookup failed, using default",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.Profile{}, false
	}
	if p == nil {
		return model.Profile{}, false
	}
	return *p, true
}

// newUserProfile はゲストの既定値を引き継いだログインユーザー用プロファイルを生成する。
func newUserProfile(userID, displayName string) model.Profile {
	p := model.DefaultProfile()
	p.UserID = userID
	p.IsAuthenticated = true
	if displayName != "" {
		p.Name = displayName
	}
	return p
}
