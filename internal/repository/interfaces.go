// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hbjoroy/Weather-Service/internal/model"
)

// ProfileRepository はユーザープロファイルの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Save はプロファイルを保存する。既存の場合は上書きする。
	Save(ctx context.Context, profile *model.Profile) error

	// DeleteByUserID は指定ユーザーのプロファイルを削除する。存在しない場合もエラーにしない。
	DeleteByUserID(ctx context.Context, userID string) error

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
