// Package model はドメインモデルを定義する。
package model

import "fmt"

// TemperatureUnit は気温の表示単位。
type TemperatureUnit string

const (
	TempCelsius    TemperatureUnit = "celsius"
	TempFahrenheit TemperatureUnit = "fahrenheit"
)

// WindUnit は風速の表示単位。
type WindUnit string

const (
	WindKmh   WindUnit = "kmh"
	WindKnots WindUnit = "knots"
	WindMs    WindUnit = "ms"
)

// ゲストプロファイルの既定値
const (
	DefaultProfileName     = "Guest"
	DefaultProfileLocation = "Paros"
)

// ParseTemperatureUnit は文字列を気温単位に変換する。
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch u := TemperatureUnit(s); u {
	case TempCelsius, TempFahrenheit:
		return u, nil
	}
	return "", fmt.Errorf("invalid temperature unit: %q", s)
}

// ParseWindUnit は文字列を風速単位に変換する。
func ParseWindUnit(s string) (WindUnit, error) {
	switch u := WindUnit(s); u {
	case WindKmh, WindKnots, WindMs:
		return u, nil
	}
	return "", fmt.Errorf("invalid wind unit: %q", s)
}

// Profile はユーザーの表示設定を表す。
// UserIDが空のプロファイルはゲスト用で永続化されない。
type Profile struct {
	UserID          string          `json:"userId"`
	Name            string          `json:"name"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	TempUnit        TemperatureUnit `json:"tempUnit"`
	WindUnit        WindUnit        `json:"windUnit"`
	DefaultLocation string          `json:"defaultLocation"`
}

// DefaultProfile はゲストプロファイルを返す。
func DefaultProfile() Profile {
	return Profile{
		UserID:          "",
		Name:            DefaultProfileName,
		IsAuthenticated: false,
		TempUnit:        TempCelsius,
		WindUnit:        WindMs,
		DefaultLocation: DefaultProfileLocation,
	}
}

// IsGuest はゲストプロファイルかどうかを返す。
func (p Profile) IsGuest() bool {
	return p.UserID == ""
}

// ProfileUpdate はプロファイルの部分更新リクエスト。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name            *string `json:"name,omitempty"`
	TempUnit        *string `json:"tempUnit,omitempty"`
	WindUnit        *string `json:"windUnit,omitempty"`
	DefaultLocation *string `json:"defaultLocation,omitempty"`
}

// Apply は更新内容をプロファイルに適用した結果を返す。
// 単位の値が不正な場合はエラーを返し、元のプロファイルは変更しない。
func (u ProfileUpdate) Apply(p Profile) (Profile, error) {
	if u.TempUnit != nil {
		unit, err := ParseTemperatureUnit(*u.TempUnit)
		if err != nil {
			return p, err
		}
		p.TempUnit = unit
	}
	if u.WindUnit != nil {
		unit, err := ParseWindUnit(*u.WindUnit)
		if err != nil {
			return p, err
		}
		p.WindUnit = unit
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.DefaultLocation != nil {
		p.DefaultLocation = *u.DefaultLocation
	}
	return p, nil
}
