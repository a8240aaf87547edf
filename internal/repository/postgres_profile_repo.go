package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hbjoroy/Weather-Service/internal/model"
)

// profileData はuser_profiles.profile_data（jsonb）に保存する形式。
// user_idはカラム側に持つためJSONには含めない。
type profileData struct {
	Name            string `json:"name"`
	TempUnit        string `json:"tempUnit"`
	WindUnit        string `json:"windUnit"`
	DefaultLocation string `json:"defaultLocation"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// PostgresProfileRepo はPostgreSQLを使用したプロファイルリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT profile_data FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}

	return decodeProfile(userID, raw)
}

// Save はプロファイルをupsertする。
func (r *PostgresProfileRepo) Save(ctx context.Context, profile *model.Profile) error {
	if profile.UserID == "" {
		return errors.New("cannot save profile without user ID")
	}

	raw, err := encodeProfile(profile)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, profile_data, created_at, updated_at)
		 VALUES ($1, $2::jsonb, now(), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET profile_data = EXCLUDED.profile_data, updated_at = now()`,
		profile.UserID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーのプロファイルを削除する。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_profiles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Ping はDBへの疎通を確認する。
func (r *PostgresProfileRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func encodeProfile(p *model.Profile) ([]byte, error) {
	raw, err := json.Marshal(profileData{
		Name:            p.Name,
		TempUnit:        string(p.TempUnit),
		WindUnit:        string(p.WindUnit),
		DefaultLocation: p.DefaultLocation,
		IsAuthenticated: p.IsAuthenticated,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return raw, nil
}

// decodeProfile は保存済みJSONをプロファイルに変換する。
// 欠けている項目や不正な単位はゲストプロファイルの既定値で補う。
func decodeProfile(userID string, raw []byte) (*model.Profile, error) {
	var d profileData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode profile data: %w", err)
	}

	p := model.DefaultProfile()
	p.UserID = userID
	p.IsAuthenticated = d.IsAuthenticated
	if d.Name != "" {
		p.Name = d.Name
	}
	if u, err := model.ParseTemperatureUnit(d.TempUnit); err == nil {
		p.TempUnit = u
	}
	if u, err := model.ParseWindUnit(d.WindUnit); err == nil {
		p.WindUnit = u
	}
	if d.DefaultLocation != "" {
		p.DefaultLocation = d.DefaultLocation
	}
	return &p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
