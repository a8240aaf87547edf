package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/hbjoroy/Weather-Service/internal/auth"
	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/weather"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn     func(ctx context.Context) (string, error)
	handleCallbackFn func(ctx context.Context, params auth.CallbackParams) (*model.Session, error)
	legacyLoginFn    func(ctx context.Context, userID, name string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) string
}

func (m *mockAuthService) BeginLogin(ctx context.Context) (string, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx)
	}
	return "", errors.New("not implemented")
}

func (m *mockAuthService) HandleCallback(ctx context.Context, params auth.CallbackParams) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) LegacyLogin(ctx context.Context, userID, name string) (*model.Session, error) {
	if m.legacyLoginFn != nil {
		return m.legacyLoginFn(ctx, userID, name)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) string {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return ""
}

type mockProfileService struct {
	resolveFn     func(ctx context.Context, userID, displayName string) model.Profile
	applyUpdateFn func(ctx context.Context, userID, displayName string, update model.ProfileUpdate) (model.Profile, error)
	withdrawFn    func(ctx context.Context, userID string) error
}

func (m *mockProfileService) Default() model.Profile {
	return model.DefaultProfile()
}

func (m *mockProfileService) ResolveForSession(ctx context.Context, userID, displayName string) model.Profile {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, userID, displayName)
	}
	p := model.DefaultProfile()
	p.UserID = userID
	p.Name = displayName
	p.IsAuthenticated = true
	return p
}

func (m *mockProfileService) ApplyUpdate(ctx context.Context, userID, displayName string, update model.ProfileUpdate) (model.Profile, error) {
	if m.applyUpdateFn != nil {
		return m.applyUpdateFn(ctx, userID, displayName, update)
	}
	return model.Profile{}, errors.New("not implemented")
}

func (m *mockProfileService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockWeatherClient struct {
	currentFn  func(ctx context.Context, location string, includeAQI bool) ([]byte, error)
	forecastFn func(ctx context.Context, req weather.ForecastRequest) ([]byte, error)
	calls      int
}

func (m *mockWeatherClient) Current(ctx context.Context, location string, includeAQI bool) ([]byte, error) {
	m.calls++
	if m.currentFn != nil {
		return m.currentFn(ctx, location, includeAQI)
	}
	return []byte(`{}`), nil
}

func (m *mockWeatherClient) Forecast(ctx context.Context, req weather.ForecastRequest) ([]byte, error) {
	m.calls++
	if m.forecastFn != nil {
		return m.forecastFn(ctx, req)
	}
	return []byte(`{}`), nil
}

// stubSanitizer はテスト用のサニタイザー。タグ記号を除去する。
type stubSanitizer struct{}

func (stubSanitizer) Sanitize(raw string, maxRunes int) string {
	s := strings.NewReplacer("<", "", ">", "").Replace(raw)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxRunes {
		s = string(r[:maxRunes])
	}
	return s
}
