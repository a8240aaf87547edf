package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hbjoroy/Weather-Service/internal/middleware"
	"github.com/hbjoroy/Weather-Service/internal/model"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockResolver struct {
	sessions map[string]*model.Session
}

func (m *mockResolver) ResolveSession(_ context.Context, id string) *model.Session {
	return m.sessions[id]
}

func newTestRouter(t *testing.T, mutate func(*RouterDeps)) http.Handler {
	t.Helper()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), nil)
	t.Cleanup(rl.Stop)
	login := middleware.NewBurstLimiter(middleware.NewBurstLimiterConfig(3, time.Minute), nil)
	t.Cleanup(login.Stop)

	deps := &RouterDeps{
		SessionResolver: &mockResolver{sessions: map[string]*model.Session{
			"valid": {ID: "valid", UserID: "u123", DisplayName: "Alice"},
		}},
		RateLimiter:       rl,
		LoginLimiter:      login,
		CORSEnabled:       true,
		CORSAllowedOrigin: "http://localhost:5173",
		AuthService:       &mockAuthService{},
		AuthConfig:        DefaultAuthHandlerConfig(),
		ProfileService:    &mockProfileService{},
		Sanitizer:         stubSanitizer{},
		WeatherClient:     &mockWeatherClient{},
		StaticPath:        root,
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps)
}

func TestRouter_UnknownAPIPathIsJSON404(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, "/api/does-not-exist", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", method, w.Code)
		}
		if got := decodeErrorBody(t, w); got.Message != "API endpoint not found" {
			t.Errorf("%s: message = %q", method, got.Message)
		}
	}
}

func TestRouter_ServesStaticIndex(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<html>app</html>") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRouter_NonGETOutsideAPIIs405(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/index.html", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestRouter_WrongMethodOnAPIRouteIs405(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/logout", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestRouter_OptionsPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/profile", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_CORSDisabled(t *testing.T) {
	router := newTestRouter(t, func(d *RouterDeps) { d.CORSEnabled = false })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestRouter_ProfileRequiresSessionForWrites(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, method := range []string{http.MethodPut, http.MethodPost, http.MethodDelete} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, "/api/profile", strings.NewReader(`{}`)))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s /api/profile: status = %d, want 401", method, w.Code)
		}
	}
}

func TestRouter_ProfileWithSessionCookie(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	got := decodeProfile(t, w)
	if got.UserID != "u123" || got.Name != "Alice" {
		t.Errorf("profile = %+v", got)
	}
}

// TestRouter_WeatherRateLimit は同一IPからの31件目の天気リクエストが429になることを検証する。
func TestRouter_WeatherRateLimit(t *testing.T) {
	router := newTestRouter(t, nil)

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/weather/current?location=Paros", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 30; i++ {
		if code := send("203.0.113.9:40000"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, code)
		}
	}
	if code := send("203.0.113.9:40001"); code != http.StatusTooManyRequests {
		t.Errorf("31st request: status = %d, want 429", code)
	}
	if code := send("203.0.113.10:40000"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", code)
	}

	// プロファイルAPIはレート制限の対象外
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.RemoteAddr = "203.0.113.9:40002"
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("profile status = %d, want 200", w.Code)
	}
}

func TestRouter_TrustProxyHeadersUsesForwardedIP(t *testing.T) {
	router := newTestRouter(t, func(d *RouterDeps) { d.TrustProxyHeaders = true })

	for i := 0; i < 30; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/weather/current?location=Paros", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	// プロキシは同じでも転送元IPが異なれば別クライアント
	req := httptest.NewRequest(http.MethodGet, "/api/weather/current?location=Paros", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name         string
		db           Pinger
		wantStatus   string
		wantDatabase string
	}{
		{"disabled", nil, "ok", "disabled"},
		{"up", &mockPinger{}, "ok", "up"},
		{"down", &mockPinger{err: errors.New("refused")}, "degraded", "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, func(d *RouterDeps) { d.HealthDB = tt.db })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var body healthResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Status != tt.wantStatus || body.Database != tt.wantDatabase {
				t.Errorf("health = %+v", body)
			}
		})
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	router := newTestRouter(t, func(d *RouterDeps) { d.MetricsHandler = metricsHandler })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Body.String() != "# metrics" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRouter_SecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}
	if w.Header().Get("Content-Security-Policy") != middleware.DefaultContentSecurityPolicy {
		t.Errorf("Content-Security-Policy = %q", w.Header().Get("Content-Security-Policy"))
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("API Cache-Control = %q, want no-store", w.Header().Get("Cache-Control"))
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("X-Request-ID should be set")
	}

	// 静的ファイルはキャッシュ可能なまま
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Cache-Control") == "no-store" {
		t.Error("static files should not be marked no-store")
	}
}

func TestRouter_CustomContentSecurityPolicy(t *testing.T) {
	const csp = "default-src 'self'; img-src 'self'"
	router := newTestRouter(t, func(d *RouterDeps) { d.ContentSecurityPolicy = csp })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("Content-Security-Policy"); got != csp {
		t.Errorf("Content-Security-Policy = %q, want %q", got, csp)
	}
}

// TestRouter_LoginThrottle はログイン開始の連打が429になり、コールバックは制限されないことを検証する。
func TestRouter_LoginThrottle(t *testing.T) {
	router := newTestRouter(t, func(d *RouterDeps) {
		d.AuthService = &mockAuthService{
			beginLoginFn: func(context.Context) (string, error) {
				return "https://idp.example.com/authorize?state=s", nil
			},
		}
	})

	send := func(method, path, remote string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		if code := send(http.MethodGet, "/api/auth/login", "203.0.113.20:1000"); code != http.StatusOK {
			t.Fatalf("login %d: status = %d, want 200", i+1, code)
		}
	}
	if code := send(http.MethodGet, "/api/auth/login", "203.0.113.20:1000"); code != http.StatusTooManyRequests {
		t.Errorf("4th login: status = %d, want 429", code)
	}
	// 非推奨ログインも同じ制限を共有する
	if code := send(http.MethodPost, "/api/login", "203.0.113.20:1000"); code != http.StatusTooManyRequests {
		t.Errorf("legacy login: status = %d, want 429", code)
	}
	if code := send(http.MethodGet, "/api/auth/callback?code=c&state=s", "203.0.113.20:1000"); code == http.StatusTooManyRequests {
		t.Error("callback should not be throttled")
	}
	if code := send(http.MethodGet, "/api/auth/login", "203.0.113.21:1000"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", code)
	}
	// 天気APIの制限とは独立している
	if code := send(http.MethodGet, "/api/weather/current?location=Paros", "203.0.113.20:1000"); code != http.StatusOK {
		t.Errorf("weather after login throttle: status = %d, want 200", code)
	}
}
